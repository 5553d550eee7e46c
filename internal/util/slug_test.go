package util

import "testing"

func TestSlug(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"MIN-42", "min-42"},
		{"  PROJ/Issue 7  ", "proj-issue-7"},
		{"already-slugged", "already-slugged"},
		{"Ünïcode!!", "n-code"},
		{"trailing---", "trailing"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Slug(tt.in); got != tt.want {
			t.Errorf("Slug(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
