package models

import "time"

// Resource is a downloadable file, optionally attached to a course.
type Resource struct {
	ID          string    `db:"id" json:"id"`
	CourseID    *string   `db:"course_id" json:"course_id,omitempty"`
	Title       string    `db:"title" json:"title"`
	Description string    `db:"description" json:"description"`
	StorageURI  string    `db:"storage_uri" json:"storage_uri"`
	FileName    string    `db:"file_name" json:"file_name"`
	ContentType string    `db:"content_type" json:"content_type"`
	SizeBytes   int64     `db:"size_bytes" json:"size_bytes"`
	CreatedBy   string    `db:"created_by" json:"created_by"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// ResourceFilter narrows resource listings.
type ResourceFilter struct {
	CourseID string
	Search   string
	Page     int
	PageSize int
}

// ResourceDownload is a resolved download link.
type ResourceDownload struct {
	ResourceID string `json:"resource_id"`
	URL        string `json:"url"`
	FileName   string `json:"file_name"`
}

// CreateResourceRequest describes an uploaded file.
type CreateResourceRequest struct {
	CourseID    *string `form:"course_id" json:"course_id"`
	Title       string  `form:"title" json:"title" validate:"required,max=200"`
	Description string  `form:"description" json:"description"`
}

// UpdateResourceRequest edits resource metadata. The stored file is immutable.
type UpdateResourceRequest struct {
	CourseID    *string `json:"course_id"`
	Title       *string `json:"title" validate:"omitempty,min=1,max=200"`
	Description *string `json:"description"`
}
