package store

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/dukerupert/pixelforge/internal/model"
)

type ImageStore struct {
	db *sql.DB
}

func NewImageStore(db *sql.DB) *ImageStore {
	return &ImageStore{db: db}
}

func scanImage(scanner interface{ Scan(...any) error }) (*model.Image, error) {
	var img model.Image
	var processedURL, prompt, settings sql.NullString
	var width, height sql.NullInt64
	err := scanner.Scan(
		&img.ID, &img.AccountID, &img.FileName, &img.OriginalURL, &processedURL,
		&img.ImageType, &img.Status, &img.FileSize, &width, &height,
		&img.Format, &prompt, &settings, &img.CreatedAt, &img.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if processedURL.Valid {
		img.ProcessedURL = &processedURL.String
	}
	if width.Valid {
		img.Width = &width.Int64
	}
	if height.Valid {
		img.Height = &height.Int64
	}
	if prompt.Valid {
		img.Prompt = &prompt.String
	}
	if settings.Valid {
		img.Settings = &settings.String
	}
	return &img, nil
}

const imageCols = `id, account_id, file_name, original_url, processed_url, image_type, status, file_size, width, height, format, prompt, settings, created_at, updated_at`

// NewImageID returns a fresh image identifier. Callers that need the id
// before the row exists (archive keys) generate it up front and pass it in
// CreateParams.
func NewImageID() string {
	return uuid.NewString()
}

// CreateParams holds the fields for a new image record. Optional fields are
// pointers; nil is stored as NULL.
type CreateParams struct {
	ID           string
	AccountID    int64
	FileName     string
	OriginalURL  string
	ProcessedURL *string
	ImageType    model.ImageType
	Status       model.ImageStatus
	FileSize     int64
	Width        *int64
	Height       *int64
	Format       string
	Prompt       *string
	Settings     *string
}

func (s *ImageStore) Create(p CreateParams) (*model.Image, error) {
	id := p.ID
	if id == "" {
		id = NewImageID()
	}
	if p.Status == "" {
		p.Status = model.ImageStatusProcessing
	}
	_, err := s.db.Exec(
		`INSERT INTO images (id, account_id, file_name, original_url, processed_url, image_type, status, file_size, width, height, format, prompt, settings)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, p.AccountID, p.FileName, p.OriginalURL, p.ProcessedURL, p.ImageType,
		p.Status, p.FileSize, p.Width, p.Height, p.Format, p.Prompt, p.Settings,
	)
	if err != nil {
		return nil, fmt.Errorf("insert image: %w", err)
	}
	return s.GetByID(id, p.AccountID)
}

// GetByID returns the image only when it belongs to the account.
func (s *ImageStore) GetByID(id string, accountID int64) (*model.Image, error) {
	row := s.db.QueryRow(
		`SELECT `+imageCols+` FROM images WHERE id = ? AND account_id = ?`,
		id, accountID,
	)
	img, err := scanImage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get image: %w", err)
	}
	return img, nil
}

// DefaultListLimit is the page size used when the caller does not set one.
const DefaultListLimit = 10

// ListFilter narrows List results. Zero values mean "no filter".
type ListFilter struct {
	ImageType model.ImageType
	Status    model.ImageStatus
	Page      int
	Limit     int
}

// List returns the account's images newest first, plus the total count for the
// filter (for pagination).
func (s *ImageStore) List(accountID int64, f ListFilter) ([]*model.Image, int, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = DefaultListLimit
	}

	where := `account_id = ?`
	args := []any{accountID}
	if f.ImageType != "" {
		where += ` AND image_type = ?`
		args = append(args, f.ImageType)
	}
	if f.Status != "" {
		where += ` AND status = ?`
		args = append(args, f.Status)
	}

	var total int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM images WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count images: %w", err)
	}

	query := `SELECT ` + imageCols + ` FROM images WHERE ` + where +
		` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, f.Limit, (f.Page-1)*f.Limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list images: %w", err)
	}
	defer rows.Close()

	var images []*model.Image
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan image: %w", err)
		}
		images = append(images, img)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate images: %w", err)
	}
	return images, total, nil
}

// Delete removes the image when it belongs to the account. Returns false when
// no such image exists.
func (s *ImageStore) Delete(id string, accountID int64) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM images WHERE id = ? AND account_id = ?`, id, accountID)
	if err != nil {
		return false, fmt.Errorf("delete image: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}
