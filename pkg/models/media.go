package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// MediaRecord is a file produced by the camera or the stitcher
type MediaRecord struct {
	ID        string      `json:"id" db:"id"`
	Kind      string      `json:"kind" db:"kind"`
	Mode      CaptureMode `json:"mode,omitempty" db:"mode"`
	Path      string      `json:"path" db:"path"`
	Metadata  Metadata    `json:"metadata,omitempty" db:"metadata"`
	CreatedAt time.Time   `json:"created_at" db:"created_at"`
}

// MediaKind constants
const (
	MediaKindPhoto       = "photo"
	MediaKindRecording   = "recording"
	MediaKindLiveSegment = "live_segment"
	MediaKindStitched    = "stitched"
)

// Metadata holds additional media metadata
type Metadata map[string]interface{}

// Value implements driver.Valuer for database storage
func (m Metadata) Value() (driver.Value, error) {
	return json.Marshal(m)
}

// Scan implements sql.Scanner for database retrieval
func (m *Metadata) Scan(value interface{}) error {
	if value == nil {
		*m = make(Metadata)
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	}
	return nil
}
