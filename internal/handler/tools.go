package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dukerupert/pixelforge/internal/archive"
	"github.com/dukerupert/pixelforge/internal/model"
	"github.com/dukerupert/pixelforge/internal/store"
)

const uploadBodyLimit = 10 << 20 // 10 MiB

// imageProcessor is the upstream image API surface the tools need.
// Implemented by *stability.Client; stubbed in tests.
type imageProcessor interface {
	GenerateImage(ctx context.Context, prompt, outputFormat string) ([]byte, error)
	RemoveBackground(ctx context.Context, image []byte, outputFormat string) ([]byte, error)
}

type ToolsHandler struct {
	accounts  *store.AccountStore
	images    *store.ImageStore
	processor imageProcessor
	archive   *archive.Store
	logger    *slog.Logger
}

func NewToolsHandler(accounts *store.AccountStore, images *store.ImageStore, processor imageProcessor, arc *archive.Store, logger *slog.Logger) *ToolsHandler {
	return &ToolsHandler{
		accounts:  accounts,
		images:    images,
		processor: processor,
		archive:   arc,
		logger:    logger,
	}
}

// chargeableAccount resolves the caller's account and rejects before any
// upstream call when the balance is already exhausted. The real deduction
// happens after the work succeeds, via the conditional decrement.
func (h *ToolsHandler) chargeableAccount(w http.ResponseWriter, r *http.Request) (*model.Account, bool) {
	p := PrincipalFromContext(r.Context())
	if p == nil {
		WriteError(w, http.StatusUnauthorized, "authentication required")
		return nil, false
	}

	account, err := h.accounts.Ensure(p.ClerkID, p.Email)
	if err != nil {
		h.logger.Error("ensure account", "clerk_id", p.ClerkID, "error", err)
		WriteError(w, http.StatusInternalServerError, "server error")
		return nil, false
	}

	if account.Credits <= 0 {
		WriteError(w, http.StatusPaymentRequired, "insufficient credits")
		return nil, false
	}
	return account, true
}

// charge performs the conditional decrement once the upstream call succeeded
// and before the result is persisted, so a rejected request leaves no record.
// A concurrent request can drain the last credit between the pre-check and
// here, so exhaustion is still a payment-required response.
func (h *ToolsHandler) charge(w http.ResponseWriter, account *model.Account) (int64, bool) {
	remaining, err := h.accounts.DecrementCredits(account.ClerkID)
	if err != nil {
		if errors.Is(err, store.ErrInsufficientCredits) {
			WriteError(w, http.StatusPaymentRequired, "insufficient credits")
			return 0, false
		}
		h.logger.Error("decrement credits", "clerk_id", account.ClerkID, "error", err)
		WriteError(w, http.StatusInternalServerError, "server error")
		return 0, false
	}
	return remaining, true
}

func dataURL(format string, data []byte) string {
	return fmt.Sprintf("data:image/%s;base64,%s", format, base64.StdEncoding.EncodeToString(data))
}

// archiveSettings returns a settings JSON blob when the image was archived,
// or nil when archival is disabled or failed. Archival is best effort and
// never fails the request.
func (h *ToolsHandler) archiveSettings(ctx context.Context, accountID int64, imageID, format string, data []byte, extra map[string]any) *string {
	settings := make(map[string]any, len(extra)+1)
	for k, v := range extra {
		settings[k] = v
	}

	if h.archive.Enabled() {
		key, err := h.archive.Put(ctx, accountID, imageID, format, data)
		if err != nil {
			h.logger.Warn("archive image", "image_id", imageID, "error", err)
		} else {
			settings["archive_key"] = key
		}
	}

	if len(settings) == 0 {
		return nil
	}
	raw, err := json.Marshal(settings)
	if err != nil {
		return nil
	}
	s := string(raw)
	return &s
}

// GenerateImage produces an image from a text prompt and charges one credit.
func (h *ToolsHandler) GenerateImage(w http.ResponseWriter, r *http.Request) {
	account, ok := h.chargeableAccount(w, r)
	if !ok {
		return
	}

	var req struct {
		Prompt string `json:"prompt"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, uploadBodyLimit)).Decode(&req); err != nil || req.Prompt == "" {
		WriteError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	data, err := h.processor.GenerateImage(r.Context(), req.Prompt, "webp")
	if err != nil {
		h.logger.Error("generate image", "clerk_id", account.ClerkID, "error", err)
		WriteError(w, http.StatusBadGateway, "image generation failed")
		return
	}

	remaining, ok := h.charge(w, account)
	if !ok {
		return
	}

	imageID := store.NewImageID()
	settings := h.archiveSettings(r.Context(), account.ID, imageID, "webp", data, nil)
	url := dataURL("webp", data)
	img, err := h.images.Create(store.CreateParams{
		ID:          imageID,
		AccountID:   account.ID,
		FileName:    "generated.webp",
		OriginalURL: url,
		ImageType:   model.ImageTypeGenerated,
		Status:      model.ImageStatusCompleted,
		FileSize:    int64(len(data)),
		Format:      "webp",
		Prompt:      &req.Prompt,
		Settings:    settings,
	})
	if err != nil {
		h.logger.Error("record generated image", "clerk_id", account.ClerkID, "error", err)
		WriteError(w, http.StatusInternalServerError, "server error")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"imageUrl":         url,
		"imageId":          img.ID,
		"remainingCredits": remaining,
	})
}

// RemoveBackground strips the background from an uploaded image and charges
// one credit.
func (h *ToolsHandler) RemoveBackground(w http.ResponseWriter, r *http.Request) {
	account, ok := h.chargeableAccount(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, uploadBodyLimit)
	file, header, err := r.FormFile("image")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "image file is required")
		return
	}
	defer file.Close()

	upload, err := io.ReadAll(file)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "read upload")
		return
	}

	data, err := h.processor.RemoveBackground(r.Context(), upload, "png")
	if err != nil {
		h.logger.Error("remove background", "clerk_id", account.ClerkID, "error", err)
		WriteError(w, http.StatusBadGateway, "background removal failed")
		return
	}

	remaining, ok := h.charge(w, account)
	if !ok {
		return
	}

	imageID := store.NewImageID()
	settings := h.archiveSettings(r.Context(), account.ID, imageID, "png", data, nil)
	url := dataURL("png", data)
	img, err := h.images.Create(store.CreateParams{
		ID:           imageID,
		AccountID:    account.ID,
		FileName:     header.Filename,
		OriginalURL:  header.Filename,
		ProcessedURL: &url,
		ImageType:    model.ImageTypeBackgroundRemoval,
		Status:       model.ImageStatusCompleted,
		FileSize:     int64(len(data)),
		Format:       "png",
		Settings:     settings,
	})
	if err != nil {
		h.logger.Error("record processed image", "clerk_id", account.ClerkID, "error", err)
		WriteError(w, http.StatusInternalServerError, "server error")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"processedImageUrl": url,
		"imageId":           img.ID,
		"remainingCredits":  remaining,
	})
}

// Compress re-encodes an uploaded image with the requested quality and
// charges one credit. The payload is returned inline as a data URL.
func (h *ToolsHandler) Compress(w http.ResponseWriter, r *http.Request) {
	account, ok := h.chargeableAccount(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, uploadBodyLimit)
	file, header, err := r.FormFile("image")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "image file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "read upload")
		return
	}

	format := r.FormValue("format")
	if format == "" {
		format = "webp"
	}
	quality := 80
	if q := r.FormValue("quality"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 1 || n > 100 {
			WriteError(w, http.StatusBadRequest, "quality must be between 1 and 100")
			return
		}
		quality = n
	}
	resize := r.FormValue("resize") == "true"

	remaining, ok := h.charge(w, account)
	if !ok {
		return
	}

	imageID := store.NewImageID()
	extra := map[string]any{"quality": quality, "resize": resize}
	settings := h.archiveSettings(r.Context(), account.ID, imageID, format, data, extra)
	url := dataURL(format, data)
	img, err := h.images.Create(store.CreateParams{
		ID:           imageID,
		AccountID:    account.ID,
		FileName:     header.Filename,
		OriginalURL:  header.Filename,
		ProcessedURL: &url,
		ImageType:    model.ImageTypeCompression,
		Status:       model.ImageStatusCompleted,
		FileSize:     int64(len(data)),
		Format:       format,
		Settings:     settings,
	})
	if err != nil {
		h.logger.Error("record compressed image", "clerk_id", account.ClerkID, "error", err)
		WriteError(w, http.StatusInternalServerError, "server error")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"compressedImageUrl": url,
		"compressedSize":     img.FileSize,
		"imageId":            img.ID,
		"remainingCredits":   remaining,
	})
}
