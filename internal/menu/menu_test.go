package menu

import (
	"encoding/json"
	"testing"

	"github.com/alfredjeanlab/sitegate/internal/model"
)

func labels(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Label
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestFilter(t *testing.T) {
	tests := []struct {
		name string
		rec  *model.PrivilegeRecord
		want []string
	}{
		{"none", nil, []string{}},
		{"viewer", &model.PrivilegeRecord{Tier: model.TierViewer}, []string{"Dashboard Home"}},
		{"editor", &model.PrivilegeRecord{Tier: model.TierEditor}, []string{
			"Dashboard Home", "Manage Services", "Manage Documents", "Manage Pages",
		}},
		{"admin", &model.PrivilegeRecord{Tier: model.TierAdmin}, []string{
			"Dashboard Home", "Manage Services", "Manage Documents", "Manage Pages", "View Messages",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := labels(Filter(Default(), tt.rec))
			if !equal(got, tt.want) {
				t.Fatalf("Filter = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFilter_PreservesOrder(t *testing.T) {
	entries := []Entry{
		{Label: "c", Required: model.TierAdmin},
		{Label: "a", Required: model.TierViewer},
		{Label: "b", Required: model.TierEditor},
	}
	got := labels(Filter(entries, &model.PrivilegeRecord{Tier: model.TierEditor}))
	if !equal(got, []string{"a", "b"}) {
		t.Fatalf("Filter = %v", got)
	}
}

func TestFilter_EmptyInput(t *testing.T) {
	got := Filter(nil, &model.PrivilegeRecord{Tier: model.TierAdmin})
	if got == nil || len(got) != 0 {
		t.Fatalf("Filter(nil) = %#v, want empty non-nil slice", got)
	}
}

func TestEntry_JSONUsesIconName(t *testing.T) {
	data, err := json.Marshal(Default()[0])
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"label":"Dashboard Home","path":"/admin/dashboard","icon":"dashboard","required":"viewer"}`
	if string(data) != want {
		t.Fatalf("got %s, want %s", data, want)
	}
}
