package model

import "time"

// AssetStatus is the lifecycle state of an image asset.
// Valid transitions: PROCESSING -> READY, PROCESSING -> FAILED, any -> DELETED.
type AssetStatus string

const (
	StatusProcessing AssetStatus = "PROCESSING"
	StatusReady      AssetStatus = "READY"
	StatusFailed     AssetStatus = "FAILED"
	StatusDeleted    AssetStatus = "DELETED"
)

// Valid reports whether s is one of the known statuses.
func (s AssetStatus) Valid() bool {
	switch s {
	case StatusProcessing, StatusReady, StatusFailed, StatusDeleted:
		return true
	}
	return false
}

// Asset represents one uploaded image blob within a project.
// This is a pure domain model with no database-specific dependencies or tags.
// It can be used across layers (HTTP, service, storage) without coupling to persistence.
type Asset struct {
	ID               int64       `json:"id"`
	ProjectID        int64       `json:"project_id"`
	OriginalFilename string      `json:"original_filename"`
	ContentType      string      `json:"content_type"`
	SizeBytes        int64       `json:"size_bytes"`
	Fingerprint      string      `json:"fingerprint"`
	ObjectKey        string      `json:"object_key"`
	ThumbnailKey     *string     `json:"thumbnail_key,omitempty"`
	Status           AssetStatus `json:"status"`
	SoftDeleted      bool        `json:"soft_deleted"`
	Tags             string      `json:"tags"`
	Memo             string      `json:"memo"`
	Version          int64       `json:"version"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}
