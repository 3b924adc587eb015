package model

import "time"

// ContentEntry is one editable section of a public page, keyed uniquely by
// (PageName, SectionKey).
type ContentEntry struct {
	ID          string    `json:"id"`
	PageName    string    `json:"page_name"`
	SectionKey  string    `json:"section_key"`
	ContentType string    `json:"content_type"`
	Value       string    `json:"value"`
	Order       int       `json:"order"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
