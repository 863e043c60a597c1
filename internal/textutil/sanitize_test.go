package textutil

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSanitizeFileName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Attention Is All You Need", "Attention Is All You Need"},
		{"  spaced\t\tout\ntitle  ", "spaced out title"},
		{`a/b\c:d*e?f"g<h>i|j`, "a_b_c_d_e_f_g_h_i_j"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := SanitizeFileName(tt.in); got != tt.want {
			t.Errorf("SanitizeFileName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSanitizeFileNameNormalizesToNFC(t *testing.T) {
	decomposed := "Cafe\u0301"
	composed := "Café"
	if SanitizeFileName(decomposed) != SanitizeFileName(composed) {
		t.Fatalf("expected NFC normalization to unify %q and %q", decomposed, composed)
	}
}

func TestSlugKeepsKeyWhenTitleIsLong(t *testing.T) {
	title := strings.Repeat("Very long title ", 40)
	slug := Slug(title, "2501.00001")
	if len(slug) > MaxFileNameBytes {
		t.Fatalf("slug exceeds limit: %d bytes", len(slug))
	}
	if !strings.HasSuffix(slug, " 2501.00001") {
		t.Fatalf("expected key suffix to survive truncation, got %q", slug)
	}
}

func TestSlugFallbacks(t *testing.T) {
	if got := Slug("", "2501.00001"); got != "2501.00001" {
		t.Fatalf("empty title slug = %q", got)
	}
	if got := Slug("Only Title", ""); got != "Only Title" {
		t.Fatalf("empty key slug = %q", got)
	}
	if got := Slug("A: B", "https://x/y"); got != "A_ B https___x_y" {
		t.Fatalf("unsafe key slug = %q", got)
	}
}

func TestTruncateBytesRespectsRuneBoundaries(t *testing.T) {
	s := strings.Repeat("é", 10)
	got := TruncateBytes(s, 5)
	if !utf8.ValidString(got) {
		t.Fatalf("truncation produced invalid UTF-8: %q", got)
	}
	if len(got) != 4 {
		t.Fatalf("expected 4 bytes, got %d", len(got))
	}
}

func TestNormalizeText(t *testing.T) {
	raw := "ok\x00 text \xff end"
	got := NormalizeText(raw)
	if !utf8.ValidString(got) {
		t.Fatalf("expected valid UTF-8, got %q", got)
	}
	if strings.Contains(got, "\x00") {
		t.Fatalf("expected NUL bytes to be dropped, got %q", got)
	}
	if !strings.Contains(got, "�") {
		t.Fatalf("expected replacement rune for invalid byte, got %q", got)
	}
}
