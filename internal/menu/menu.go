// Package menu filters the admin navigation down to the entries the
// current privilege record may open.
package menu

import (
	"github.com/alfredjeanlab/sitegate/internal/model"
	"github.com/alfredjeanlab/sitegate/internal/privilege"
)

// Icon identifies the glyph shown next to a menu entry.
type Icon int

const (
	IconDashboard Icon = iota + 1
	IconServices
	IconDocuments
	IconPages
	IconMessages
)

// String returns the icon's stable name, used by templates and the API.
func (i Icon) String() string {
	switch i {
	case IconDashboard:
		return "dashboard"
	case IconServices:
		return "services"
	case IconDocuments:
		return "documents"
	case IconPages:
		return "pages"
	case IconMessages:
		return "messages"
	}
	return ""
}

// MarshalText encodes the icon by name.
func (i Icon) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// Entry is one navigation link.
type Entry struct {
	Label    string     `json:"label"`
	Path     string     `json:"path"`
	Icon     Icon       `json:"icon"`
	Required model.Tier `json:"required"`
}

// Default returns the admin sidebar.
func Default() []Entry {
	return []Entry{
		{Label: "Dashboard Home", Path: "/admin/dashboard", Icon: IconDashboard, Required: model.TierViewer},
		{Label: "Manage Services", Path: "/admin/services", Icon: IconServices, Required: model.TierEditor},
		{Label: "Manage Documents", Path: "/admin/documents", Icon: IconDocuments, Required: model.TierEditor},
		{Label: "Manage Pages", Path: "/admin/pages", Icon: IconPages, Required: model.TierEditor},
		{Label: "View Messages", Path: "/admin/messages", Icon: IconMessages, Required: model.TierAdmin},
	}
}

// Filter returns the entries rec may open, in their original order. A nil
// record yields an empty list.
func Filter(entries []Entry, rec *model.PrivilegeRecord) []Entry {
	tier := privilege.Of(rec)
	out := make([]Entry, 0, len(entries))
	if tier == model.TierNone {
		return out
	}
	for _, e := range entries {
		if privilege.Satisfies(tier, e.Required) {
			out = append(out, e)
		}
	}
	return out
}
