package util

import "testing"

func TestSlug(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "Acme", want: "acme"},
		{in: "Blue Bottle Co.", want: "blue-bottle-co-"},
		{in: "Café 42", want: "caf--42"},
		{in: "", want: ""},
	}
	for _, tt := range tests {
		if got := Slug(tt.in); got != tt.want {
			t.Fatalf("Slug(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSanitizeFileNameRejectsTraversal(t *testing.T) {
	if _, err := SanitizeFileName("../etc/passwd"); err == nil {
		t.Fatalf("expected error for traversal")
	}
	got, err := SanitizeFileName(" brief/v2.pdf ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "brief_v2.pdf" {
		t.Fatalf("unexpected name %q", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("a  b\n c", 10); got != "a b c" {
		t.Fatalf("unexpected collapse %q", got)
	}
	if got := Truncate("abcdef", 3); got != "abc" {
		t.Fatalf("unexpected truncate %q", got)
	}
}
