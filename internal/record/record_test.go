package record

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestDeriveIdentityKey(t *testing.T) {
	tests := []struct {
		name          string
		primary       string
		fallback      string
		want          string
		wantCanonical bool
	}{
		{"abs url", "https://arxiv.org/abs/2501.00001", "", "2501.00001", true},
		{"abs url with version", "https://arxiv.org/abs/2501.00001v3", "", "2501.00001", true},
		{"pdf fallback", "", "https://arxiv.org/pdf/2501.00002v1", "2501.00002", true},
		{"primary without id uses fallback", "https://example.org/listing", "https://arxiv.org/pdf/2501.00003.pdf", "2501.00003", true},
		{"degraded to primary", "https://example.org/item/x", "https://example.org/file/x", "https://example.org/item/x", false},
		{"degraded to fallback", "", "https://example.org/file/x", "https://example.org/file/x", false},
		{"nothing", "", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, canonical := DeriveIdentityKey(tt.primary, tt.fallback)
			if got != tt.want || canonical != tt.wantCanonical {
				t.Fatalf("DeriveIdentityKey(%q, %q) = (%q, %v), want (%q, %v)",
					tt.primary, tt.fallback, got, canonical, tt.want, tt.wantCanonical)
			}
		})
	}
}

func TestDeriveIdentityKeyDeterministicAcrossVersions(t *testing.T) {
	base, _ := DeriveIdentityKey("https://arxiv.org/abs/2501.12345", "")
	for _, v := range []string{"v1", "v2", "v10"} {
		got, _ := DeriveIdentityKey("https://arxiv.org/abs/2501.12345"+v, "https://arxiv.org/pdf/2501.12345"+v)
		if got != base {
			t.Fatalf("version %s changed key: %q != %q", v, got, base)
		}
	}
	again, _ := DeriveIdentityKey("https://arxiv.org/abs/2501.12345", "")
	if again != base {
		t.Fatalf("derivation not deterministic: %q != %q", again, base)
	}
}

func TestNewDerivesKeyAndTrims(t *testing.T) {
	authors := []string{"Ada", "Grace"}
	r := New("  A Title ", " https://arxiv.org/abs/2501.00001v2 ", "https://arxiv.org/pdf/2501.00001v2", authors, " abstract ", " Submitted 1 Jan 2025 ")
	if r.IdentityKey != "2501.00001" {
		t.Fatalf("identity key = %q", r.IdentityKey)
	}
	if r.Title != "A Title" || r.Abstract != "abstract" || r.SubmittedDateRaw != "Submitted 1 Jan 2025" {
		t.Fatalf("fields not trimmed: %+v", r)
	}
	authors[0] = "mutated"
	if r.Authors[0] != "Ada" {
		t.Fatal("record must not alias the caller's author slice")
	}
	if !r.HasCanonicalKey() {
		t.Fatal("expected canonical key")
	}
}

func TestRecordJSONFieldNames(t *testing.T) {
	r := New("T", "https://arxiv.org/abs/2501.00001", "", nil, "", "")
	data, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, field := range []string{`"title"`, `"abs_url"`, `"pdf_url"`, `"authors"`, `"abstract"`, `"submitted_date_raw"`, `"identity_key"`} {
		if !strings.Contains(string(data), field) {
			t.Fatalf("expected %s in %s", field, data)
		}
	}
}

func TestSlug(t *testing.T) {
	r := New("Deep: Learning?", "https://arxiv.org/abs/2501.00001", "", nil, "", "")
	if got := r.Slug(); got != "Deep_ Learning_ 2501.00001" {
		t.Fatalf("slug = %q", got)
	}
}

func TestAbsToPDF(t *testing.T) {
	tests := map[string]string{
		"https://arxiv.org/abs/2501.12345v2": "https://arxiv.org/pdf/2501.12345.pdf",
		"https://arxiv.org/abs/2501.12345":   "https://arxiv.org/pdf/2501.12345.pdf",
		"https://example.org/page":           "",
		"":                                   "",
	}
	for in, want := range tests {
		if got := AbsToPDF(in); got != want {
			t.Fatalf("AbsToPDF(%q) = %q, want %q", in, got, want)
		}
	}
}
