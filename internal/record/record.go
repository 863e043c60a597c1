package record

import (
	"regexp"
	"strings"

	"paperpipe/internal/textutil"
)

var (
	identityPattern  = regexp.MustCompile(`/(?:abs|pdf)/(\d+\.\d+)`)
	canonicalKey     = regexp.MustCompile(`^\d+\.\d+$`)
	absToPDFPattern  = regexp.MustCompile(`/abs/(\d+\.\d+)(v\d+)?$`)
	defaultPDFPrefix = "https://arxiv.org/pdf/"
)

// Record is a normalized listing entry. Values are treated as immutable once
// built; use New so IdentityKey is always derived the same way.
type Record struct {
	Title            string   `json:"title"`
	AbsURL           string   `json:"abs_url"`
	PDFURL           string   `json:"pdf_url"`
	Authors          []string `json:"authors"`
	Abstract         string   `json:"abstract"`
	SubmittedDateRaw string   `json:"submitted_date_raw"`
	IdentityKey      string   `json:"identity_key"`
}

// New builds a Record and derives its identity key from the abs URL, falling
// back to the PDF URL.
func New(title, absURL, pdfURL string, authors []string, abstract, submitted string) Record {
	absURL = strings.TrimSpace(absURL)
	pdfURL = strings.TrimSpace(pdfURL)
	key, _ := DeriveIdentityKey(absURL, pdfURL)
	return Record{
		Title:            strings.TrimSpace(title),
		AbsURL:           absURL,
		PDFURL:           pdfURL,
		Authors:          append([]string{}, authors...),
		Abstract:         strings.TrimSpace(abstract),
		SubmittedDateRaw: strings.TrimSpace(submitted),
		IdentityKey:      key,
	}
}

// DeriveIdentityKey extracts the numeric item id from primaryURL, then from
// fallbackURL. Version suffixes are not part of the id. When neither URL
// carries an id the raw URL is returned with canonical=false; callers must
// surface that case because it weakens deduplication.
func DeriveIdentityKey(primaryURL, fallbackURL string) (key string, canonical bool) {
	for _, u := range []string{primaryURL, fallbackURL} {
		if m := identityPattern.FindStringSubmatch(u); m != nil {
			return m[1], true
		}
	}
	if primaryURL != "" {
		return primaryURL, false
	}
	return fallbackURL, false
}

// HasCanonicalKey reports whether the record key is a numeric item id rather
// than a raw URL fallback.
func (r Record) HasCanonicalKey() bool {
	return canonicalKey.MatchString(r.IdentityKey)
}

// Slug is the deterministic file name stem shared by the record's artifact
// and text files.
func (r Record) Slug() string {
	return textutil.Slug(r.Title, r.IdentityKey)
}

// AbsToPDF derives the PDF URL for an abs page URL such as
// https://arxiv.org/abs/2501.12345v2. It returns "" when absURL does not
// look like an abs page.
func AbsToPDF(absURL string) string {
	m := absToPDFPattern.FindStringSubmatch(strings.TrimSpace(absURL))
	if m == nil {
		return ""
	}
	return defaultPDFPrefix + m[1] + ".pdf"
}
