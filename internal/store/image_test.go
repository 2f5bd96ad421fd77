package store

import (
	"testing"

	"github.com/dukerupert/pixelforge/internal/database"
	"github.com/dukerupert/pixelforge/internal/model"
)

func setupImageTestDB(t *testing.T) (*ImageStore, *AccountStore) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewImageStore(db), NewAccountStore(db)
}

func strPtr(s string) *string { return &s }

func TestImageCreate(t *testing.T) {
	is, as := setupImageTestDB(t)
	a, _ := as.Ensure("u_1", "a@x.com")

	img, err := is.Create(CreateParams{
		AccountID:   a.ID,
		FileName:    "cat.webp",
		OriginalURL: "data:image/webp;base64,AAAA",
		ImageType:   model.ImageTypeGenerated,
		Status:      model.ImageStatusCompleted,
		FileSize:    1234,
		Format:      "webp",
		Prompt:      strPtr("a cat"),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if img.ID == "" {
		t.Error("expected generated id")
	}
	if img.Status != model.ImageStatusCompleted {
		t.Errorf("status = %q, want COMPLETED", img.Status)
	}
	if img.Prompt == nil || *img.Prompt != "a cat" {
		t.Errorf("prompt = %v, want %q", img.Prompt, "a cat")
	}
}

func TestImageGetByIDScopedToAccount(t *testing.T) {
	is, as := setupImageTestDB(t)
	a, _ := as.Ensure("u_1", "a@x.com")
	b, _ := as.Ensure("u_2", "b@x.com")

	img, _ := is.Create(CreateParams{
		AccountID:   a.ID,
		FileName:    "cat.webp",
		OriginalURL: "data:image/webp;base64,AAAA",
		ImageType:   model.ImageTypeGenerated,
		FileSize:    1,
		Format:      "webp",
	})

	got, err := is.GetByID(img.ID, b.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Error("image visible to another account")
	}
}

func TestImageListFilterAndPagination(t *testing.T) {
	is, as := setupImageTestDB(t)
	a, _ := as.Ensure("u_1", "a@x.com")

	for i := 0; i < 3; i++ {
		is.Create(CreateParams{
			AccountID:   a.ID,
			FileName:    "gen.webp",
			OriginalURL: "data:image/webp;base64,AAAA",
			ImageType:   model.ImageTypeGenerated,
			Status:      model.ImageStatusCompleted,
			FileSize:    1,
			Format:      "webp",
		})
	}
	is.Create(CreateParams{
		AccountID:   a.ID,
		FileName:    "nobg.png",
		OriginalURL: "data:image/png;base64,AAAA",
		ImageType:   model.ImageTypeBackgroundRemoval,
		Status:      model.ImageStatusCompleted,
		FileSize:    1,
		Format:      "png",
	})

	images, total, err := is.List(a.ID, ListFilter{ImageType: model.ImageTypeGenerated, Page: 1, Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 3 {
		t.Errorf("total = %d, want 3", total)
	}
	if len(images) != 2 {
		t.Errorf("len = %d, want 2", len(images))
	}

	images, _, err = is.List(a.ID, ListFilter{ImageType: model.ImageTypeGenerated, Page: 2, Limit: 2})
	if err != nil {
		t.Fatalf("list page 2: %v", err)
	}
	if len(images) != 1 {
		t.Errorf("page 2 len = %d, want 1", len(images))
	}

	all, total, err := is.List(a.ID, ListFilter{})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if total != 4 || len(all) != 4 {
		t.Errorf("all = %d/%d, want 4/4", len(all), total)
	}
}

func TestImageDelete(t *testing.T) {
	is, as := setupImageTestDB(t)
	a, _ := as.Ensure("u_1", "a@x.com")
	b, _ := as.Ensure("u_2", "b@x.com")

	img, _ := is.Create(CreateParams{
		AccountID:   a.ID,
		FileName:    "cat.webp",
		OriginalURL: "data:image/webp;base64,AAAA",
		ImageType:   model.ImageTypeGenerated,
		FileSize:    1,
		Format:      "webp",
	})

	// Another account cannot delete it.
	ok, err := is.Delete(img.ID, b.ID)
	if err != nil {
		t.Fatalf("delete by other: %v", err)
	}
	if ok {
		t.Error("delete succeeded for non-owner")
	}

	ok, err = is.Delete(img.ID, a.ID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !ok {
		t.Error("delete reported not found for owner")
	}

	if got, _ := is.GetByID(img.ID, a.ID); got != nil {
		t.Error("image still exists after delete")
	}
}
