package identity

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "whsec_MfKQ9r8GKYqrTwjUPD8ILPZIo2LaLaSw"

func sign(t *testing.T, secret, id, timestamp string, payload []byte) string {
	t.Helper()
	key, err := base64.StdEncoding.DecodeString(secret[len("whsec_"):])
	require.NoError(t, err)
	mac := hmac.New(sha256.New, key)
	fmt.Fprintf(mac, "%s.%s.%s", id, timestamp, payload)
	return "v1," + base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func signedHeaders(t *testing.T, payload []byte, now time.Time) http.Header {
	t.Helper()
	ts := fmt.Sprintf("%d", now.Unix())
	h := http.Header{}
	h.Set("svix-id", "msg_1")
	h.Set("svix-timestamp", ts)
	h.Set("svix-signature", sign(t, testSecret, "msg_1", ts, payload))
	return h
}

func TestVerifyWebhookSignatureValid(t *testing.T) {
	now := time.Now()
	payload := []byte(`{"type":"user.created"}`)
	h := signedHeaders(t, payload, now)

	assert.NoError(t, VerifyWebhookSignature(testSecret, h, payload, now))
}

func TestVerifyWebhookSignatureMultipleEntries(t *testing.T) {
	now := time.Now()
	payload := []byte(`{}`)
	h := signedHeaders(t, payload, now)
	h.Set("svix-signature", "v1,Zm9yZ2VkCg== "+h.Get("svix-signature"))

	assert.NoError(t, VerifyWebhookSignature(testSecret, h, payload, now))
}

func TestVerifyWebhookSignatureTampered(t *testing.T) {
	now := time.Now()
	payload := []byte(`{"type":"user.created"}`)
	h := signedHeaders(t, payload, now)

	err := VerifyWebhookSignature(testSecret, h, []byte(`{"type":"user.deleted"}`), now)
	assert.Error(t, err)
}

func TestVerifyWebhookSignatureWrongSecret(t *testing.T) {
	now := time.Now()
	payload := []byte(`{}`)
	h := signedHeaders(t, payload, now)

	err := VerifyWebhookSignature("whsec_c29tZW90aGVyc2VjcmV0", h, payload, now)
	assert.Error(t, err)
}

func TestVerifyWebhookSignatureStaleTimestamp(t *testing.T) {
	now := time.Now()
	payload := []byte(`{}`)
	h := signedHeaders(t, payload, now.Add(-10*time.Minute))

	err := VerifyWebhookSignature(testSecret, h, payload, now)
	assert.Error(t, err)
}

func TestVerifyWebhookSignatureMissingHeaders(t *testing.T) {
	err := VerifyWebhookSignature(testSecret, http.Header{}, []byte(`{}`), time.Now())
	assert.Error(t, err)
}

func TestPrimaryEmail(t *testing.T) {
	tests := []struct {
		name string
		data UserEventData
		want string
	}{
		{
			name: "primary wins",
			data: UserEventData{
				PrimaryEmailAddressID: "em_2",
				EmailAddresses: []EmailAddress{
					{ID: "em_1", EmailAddress: "first@x.com"},
					{ID: "em_2", EmailAddress: "primary@x.com"},
				},
			},
			want: "primary@x.com",
		},
		{
			name: "falls back to first",
			data: UserEventData{
				PrimaryEmailAddressID: "em_missing",
				EmailAddresses: []EmailAddress{
					{ID: "em_1", EmailAddress: "first@x.com"},
				},
			},
			want: "first@x.com",
		},
		{
			name: "empty when none",
			data: UserEventData{},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.data.PrimaryEmail())
		})
	}
}
