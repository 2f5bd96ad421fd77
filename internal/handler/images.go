package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dukerupert/pixelforge/internal/archive"
	"github.com/dukerupert/pixelforge/internal/model"
	"github.com/dukerupert/pixelforge/internal/store"
)

type ImagesHandler struct {
	accounts *store.AccountStore
	images   *store.ImageStore
	archive  *archive.Store
	logger   *slog.Logger
}

func NewImagesHandler(accounts *store.AccountStore, images *store.ImageStore, arc *archive.Store, logger *slog.Logger) *ImagesHandler {
	return &ImagesHandler{accounts: accounts, images: images, archive: arc, logger: logger}
}

func (h *ImagesHandler) account(w http.ResponseWriter, r *http.Request) (*model.Account, bool) {
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
	return account, true
}

// List returns the caller's images, newest first, with optional type and
// status filters.
func (h *ImagesHandler) List(w http.ResponseWriter, r *http.Request) {
	account, ok := h.account(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	filter := store.ListFilter{
		ImageType: model.ImageType(q.Get("type")),
		Status:    model.ImageStatus(q.Get("status")),
	}
	if page, err := strconv.Atoi(q.Get("page")); err == nil && page > 0 {
		filter.Page = page
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil && limit > 0 {
		filter.Limit = limit
	}

	images, total, err := h.images.List(account.ID, filter)
	if err != nil {
		h.logger.Error("list images", "account_id", account.ID, "error", err)
		WriteError(w, http.StatusInternalServerError, "server error")
		return
	}

	page, limit := filter.Page, filter.Limit
	if page == 0 {
		page = 1
	}
	if limit == 0 {
		limit = store.DefaultListLimit
	}
	totalPages := (total + limit - 1) / limit

	WriteJSON(w, http.StatusOK, map[string]any{
		"images": images,
		"count":  len(images),
		"pagination": map[string]any{
			"page":       page,
			"limit":      limit,
			"total":      total,
			"totalPages": totalPages,
		},
	})
}

// Get returns a single image; images owned by other accounts look absent.
func (h *ImagesHandler) Get(w http.ResponseWriter, r *http.Request) {
	account, ok := h.account(w, r)
	if !ok {
		return
	}

	img, err := h.images.GetByID(r.PathValue("id"), account.ID)
	if err != nil {
		h.logger.Error("get image", "account_id", account.ID, "error", err)
		WriteError(w, http.StatusInternalServerError, "server error")
		return
	}
	if img == nil {
		WriteError(w, http.StatusNotFound, "image not found")
		return
	}
	WriteJSON(w, http.StatusOK, img)
}

// Delete removes an image record and, best effort, its archived copy.
func (h *ImagesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	account, ok := h.account(w, r)
	if !ok {
		return
	}

	id := r.PathValue("id")
	img, err := h.images.GetByID(id, account.ID)
	if err != nil {
		h.logger.Error("get image", "account_id", account.ID, "error", err)
		WriteError(w, http.StatusInternalServerError, "server error")
		return
	}
	if img == nil {
		WriteError(w, http.StatusNotFound, "image not found")
		return
	}

	deleted, err := h.images.Delete(id, account.ID)
	if err != nil {
		h.logger.Error("delete image", "account_id", account.ID, "error", err)
		WriteError(w, http.StatusInternalServerError, "server error")
		return
	}
	if !deleted {
		WriteError(w, http.StatusNotFound, "image not found")
		return
	}

	if key := archiveKey(img); key != "" {
		if err := h.archive.Delete(r.Context(), key); err != nil {
			h.logger.Warn("delete archived image", "image_id", id, "error", err)
		}
	}

	WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func archiveKey(img *model.Image) string {
	if img.Settings == nil {
		return ""
	}
	var settings struct {
		ArchiveKey string `json:"archive_key"`
	}
	if err := json.Unmarshal([]byte(*img.Settings), &settings); err != nil {
		return ""
	}
	return settings.ArchiveKey
}
