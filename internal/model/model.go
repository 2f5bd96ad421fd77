package model

import "time"

// Tier is a subscription plan level. The tier determines the monthly credit
// allotment granted when the plan activates.
type Tier string

const (
	TierFree       Tier = "FREE"
	TierStarter    Tier = "STARTER"
	TierPro        Tier = "PRO"
	TierEnterprise Tier = "ENTERPRISE"
)

// FreeCredits is the allotment granted to new and downgraded accounts.
const FreeCredits = 5

type Account struct {
	ID                 int64     `json:"id"`
	ClerkID            string    `json:"clerk_id"`
	Email              string    `json:"email"`
	Credits            int64     `json:"credits"`
	SubscriptionStatus Tier      `json:"subscription_status"`
	StripeCustomerID   *string   `json:"stripe_customer_id"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

type Subscription struct {
	ID                   int64     `json:"id"`
	AccountID            int64     `json:"account_id"`
	StripeSubscriptionID string    `json:"stripe_subscription_id"`
	StripePriceID        string    `json:"stripe_price_id"`
	CurrentPeriodEnd     time.Time `json:"current_period_end"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// ImageType identifies which tool produced an image record.
type ImageType string

const (
	ImageTypeGenerated         ImageType = "AI_GENERATED"
	ImageTypeBackgroundRemoval ImageType = "BACKGROUND_REMOVAL"
	ImageTypeCompression       ImageType = "IMAGE_COMPRESSION"
)

// ImageStatus tracks the processing lifecycle of an image record.
type ImageStatus string

const (
	ImageStatusProcessing ImageStatus = "PROCESSING"
	ImageStatusCompleted  ImageStatus = "COMPLETED"
	ImageStatusFailed     ImageStatus = "FAILED"
)

type Image struct {
	ID           string      `json:"id"`
	AccountID    int64       `json:"account_id"`
	FileName     string      `json:"file_name"`
	OriginalURL  string      `json:"original_url"`
	ProcessedURL *string     `json:"processed_url,omitempty"`
	ImageType    ImageType   `json:"image_type"`
	Status       ImageStatus `json:"status"`
	FileSize     int64       `json:"file_size"`
	Width        *int64      `json:"width,omitempty"`
	Height       *int64      `json:"height,omitempty"`
	Format       string      `json:"format"`
	Prompt       *string     `json:"prompt,omitempty"`
	Settings     *string     `json:"settings,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}
