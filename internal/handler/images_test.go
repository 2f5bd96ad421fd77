package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/pixelforge/internal/archive"
	"github.com/dukerupert/pixelforge/internal/model"
	"github.com/dukerupert/pixelforge/internal/store"
)

func newImages(e *env) *ImagesHandler {
	return NewImagesHandler(e.accounts, e.images, archive.New(archive.Config{}), e.logger)
}

func seedImages(t *testing.T, e *env, clerkID string, n int, imageType model.ImageType) (*model.Account, []string) {
	t.Helper()
	account, err := e.accounts.Ensure(clerkID, "")
	require.NoError(t, err)

	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		img, err := e.images.Create(store.CreateParams{
			AccountID:   account.ID,
			FileName:    fmt.Sprintf("img-%d.webp", i),
			OriginalURL: "data:image/webp;base64,AA==",
			ImageType:   imageType,
			Status:      model.ImageStatusCompleted,
			FileSize:    100,
			Format:      "webp",
		})
		require.NoError(t, err)
		ids = append(ids, img.ID)
	}
	return account, ids
}

func TestListImagesPagination(t *testing.T) {
	e := newEnv(t)
	h := newImages(e)
	seedImages(t, e, "user_list", 7, model.ImageTypeGenerated)

	req := httptest.NewRequest(http.MethodGet, "/api/images?page=2&limit=3", nil)
	req = authed(req, "user_list", "")
	w := httptest.NewRecorder()
	h.List(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Images     []json.RawMessage `json:"images"`
		Count      int               `json:"count"`
		Pagination struct {
			Page       int `json:"page"`
			Limit      int `json:"limit"`
			Total      int `json:"total"`
			TotalPages int `json:"totalPages"`
		} `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Count)
	assert.Equal(t, 2, resp.Pagination.Page)
	assert.Equal(t, 3, resp.Pagination.Limit)
	assert.Equal(t, 7, resp.Pagination.Total)
	assert.Equal(t, 3, resp.Pagination.TotalPages)
}

func TestListImagesFiltersByType(t *testing.T) {
	e := newEnv(t)
	h := newImages(e)
	account, _ := seedImages(t, e, "user_filter", 2, model.ImageTypeGenerated)
	_, err := e.images.Create(store.CreateParams{
		AccountID:   account.ID,
		FileName:    "photo.png",
		OriginalURL: "photo.png",
		ImageType:   model.ImageTypeBackgroundRemoval,
		Status:      model.ImageStatusCompleted,
		FileSize:    100,
		Format:      "png",
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/images?type=BACKGROUND_REMOVAL", nil)
	req = authed(req, "user_filter", "")
	w := httptest.NewRecorder()
	h.List(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
}

func TestGetImageScopedToOwner(t *testing.T) {
	e := newEnv(t)
	h := newImages(e)
	_, ids := seedImages(t, e, "user_owner", 1, model.ImageTypeGenerated)

	req := httptest.NewRequest(http.MethodGet, "/api/images/"+ids[0], nil)
	req.SetPathValue("id", ids[0])
	req = authed(req, "user_owner", "")
	w := httptest.NewRecorder()
	h.Get(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	// someone else's image looks absent
	req = httptest.NewRequest(http.MethodGet, "/api/images/"+ids[0], nil)
	req.SetPathValue("id", ids[0])
	req = authed(req, "user_other", "")
	w = httptest.NewRecorder()
	h.Get(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteImage(t *testing.T) {
	e := newEnv(t)
	h := newImages(e)
	account, ids := seedImages(t, e, "user_del_img", 1, model.ImageTypeGenerated)

	req := httptest.NewRequest(http.MethodDelete, "/api/images/"+ids[0], nil)
	req.SetPathValue("id", ids[0])
	req = authed(req, "user_del_img", "")
	w := httptest.NewRecorder()
	h.Delete(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	img, err := e.images.GetByID(ids[0], account.ID)
	require.NoError(t, err)
	assert.Nil(t, img)

	// deleting again is a 404
	req = httptest.NewRequest(http.MethodDelete, "/api/images/"+ids[0], nil)
	req.SetPathValue("id", ids[0])
	req = authed(req, "user_del_img", "")
	w = httptest.NewRecorder()
	h.Delete(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
