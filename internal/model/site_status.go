package model

import "time"

// DefaultMaintenanceMessage is shown to visitors when the site is
// unavailable and no message was set.
const DefaultMaintenanceMessage = "Our site is undergoing maintenance. Please check back shortly."

// MaxMaintenanceMessageLen bounds the maintenance message in runes.
const MaxMaintenanceMessageLen = 2000

// SiteStatus is the singleton availability row. Version increases by one
// on every committed write, in commit order.
type SiteStatus struct {
	ID          string    `json:"id"`
	Unavailable bool      `json:"unavailable"`
	Message     *string   `json:"message"`
	Version     int64     `json:"version"`
	LastUpdated time.Time `json:"last_updated"`
}

// Availability is the client-facing projection of SiteStatus.
type Availability struct {
	Unavailable bool      `json:"unavailable"`
	Message     *string   `json:"message"`
	Version     int64     `json:"version,omitempty"`
	LastUpdated time.Time `json:"last_updated,omitempty"`
}

// Availability projects the row into its client-facing form.
func (s *SiteStatus) Availability() Availability {
	return Availability{
		Unavailable: s.Unavailable,
		Message:     CloneString(s.Message),
		Version:     s.Version,
		LastUpdated: s.LastUpdated,
	}
}

// NoticeText returns the message to show on the maintenance notice.
func (a Availability) NoticeText() string {
	if a.Message == nil || *a.Message == "" {
		return DefaultMaintenanceMessage
	}
	return *a.Message
}

// OlderThan reports whether a was committed before b. Versions decide
// when both carry one; timestamps are the fallback for rows without.
func (a Availability) OlderThan(b Availability) bool {
	if a.Version != 0 && b.Version != 0 {
		return a.Version < b.Version
	}
	return !a.LastUpdated.IsZero() && a.LastUpdated.Before(b.LastUpdated)
}

// SameValue reports whether a and b carry the same visible state,
// ignoring Version and LastUpdated.
func (a Availability) SameValue(b Availability) bool {
	if a.Unavailable != b.Unavailable {
		return false
	}
	switch {
	case a.Message == nil && b.Message == nil:
		return true
	case a.Message == nil || b.Message == nil:
		return false
	}
	return *a.Message == *b.Message
}

// StatusFields is the partial update applied to the singleton.
type StatusFields struct {
	Unavailable bool
	Message     *string
}

// CloneString copies a string pointer so callers cannot alias internal state.
func CloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// StringPtr returns nil for "" and a pointer to s otherwise.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
