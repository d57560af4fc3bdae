package models

import "time"

// SessionRecord journals one streaming session: what was requested, how it
// was classified, and how it ended. Source identity is stored redacted.
type SessionRecord struct {
	ID ULID `gorm:"primaryKey;type:text" json:"id"`

	SourceKind     string `gorm:"index" json:"sourceKind"`
	SourceRedacted string `json:"source"`
	Title          string `json:"title,omitempty"`

	Mode           string `json:"mode"` // remux or transcode
	Classification string `json:"classification,omitempty"`

	Status     string `gorm:"index" json:"status"`
	Diagnostic string `json:"diagnostic,omitempty"`

	SourceBytes    int64   `json:"sourceBytes"`
	OutputBytes    int64   `json:"outputBytes"`
	SegmentCount   int     `json:"segmentCount"`
	OutputDuration float64 `json:"outputDuration"` // seconds

	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// TableName keeps the table name stable.
func (SessionRecord) TableName() string {
	return "session_records"
}
