package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"paperpipe/internal/logging"
	"paperpipe/internal/record"
	"paperpipe/internal/stage"
)

var (
	spaceRun      = regexp.MustCompile(`\s+`)
	abstractTrail = regexp.MustCompile(`\s*△\s*Less\s*$`)
)

// ArxivAdapter parses an arXiv search results page.
type ArxivAdapter struct {
	Client Getter
	Logger *slog.Logger
	OnSkip SkipFunc
}

// Name identifies the adapter in logs and config.
func (a *ArxivAdapter) Name() string { return "arxiv" }

// Fetch downloads endpoint and parses every li.arxiv-result entry.
func (a *ArxivAdapter) Fetch(ctx context.Context, endpoint string) ([]record.Record, error) {
	if a.Client == nil {
		return nil, errors.New("arxiv adapter: no http client")
	}
	body, err := a.Client.GetBytes(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	return a.Parse(body, endpoint)
}

// Parse extracts records from a search results page. base resolves relative
// links.
func (a *ArxivAdapter) Parse(page []byte, base string) ([]record.Record, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil, stage.Wrap(stage.ErrParse, stage.NameSource, "parse listing", base, err)
	}
	baseURL, _ := url.Parse(base)
	logger := logging.NewComponentLogger(a.Logger, "source")

	items := doc.Find("li.arxiv-result")
	logger.Debug("listing parsed", logging.Int("entries", items.Length()))

	records := make([]record.Record, 0, items.Length())
	items.Each(func(i int, item *goquery.Selection) {
		rec, err := parseEntry(item, baseURL)
		if err != nil {
			logging.WarnWithContext(logger, "listing entry skipped", "listing_entry_skipped",
				logging.Int("position", i+1),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "the listing markup may have changed"),
				logging.String(logging.FieldImpact, "entry is not processed this run"),
			)
			skip(a.OnSkip, stage.Result{
				Path:    fmt.Sprintf("%s#%d", base, i+1),
				Outcome: stage.OutcomeFailed,
				Reason:  "malformed listing entry",
				Err:     err,
			})
			return
		}
		records = append(records, rec)
	})
	return records, nil
}

func parseEntry(item *goquery.Selection, base *url.URL) (record.Record, error) {
	title := collapse(item.Find("p.title").First().Text())

	listTitle := item.Find("p.list-title").First()
	absHref, _ := listTitle.Find("a").First().Attr("href")
	absURL := resolve(base, absHref)

	var pdfURL string
	listTitle.Find("a").EachWithBreak(func(_ int, link *goquery.Selection) bool {
		if strings.EqualFold(strings.TrimSpace(link.Text()), "pdf") {
			href, _ := link.Attr("href")
			pdfURL = resolve(base, href)
			return false
		}
		return true
	})
	if pdfURL == "" {
		pdfURL = record.AbsToPDF(absURL)
	}
	if absURL == "" && pdfURL == "" {
		return record.Record{}, stage.Wrap(stage.ErrParse, stage.NameSource, "parse entry", "no item link", nil)
	}

	var authors []string
	item.Find("p.authors a").Each(func(_ int, a *goquery.Selection) {
		if name := collapse(a.Text()); name != "" {
			authors = append(authors, name)
		}
	})

	abstract := collapse(item.Find("span.abstract-full").First().Text())
	abstract = abstractTrail.ReplaceAllString(abstract, "")
	submitted := collapse(item.Find("p.is-size-7").First().Text())

	return record.New(title, absURL, pdfURL, authors, abstract, submitted), nil
}

func collapse(s string) string {
	return strings.TrimSpace(spaceRun.ReplaceAllString(s, " "))
}

func resolve(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base == nil || ref.IsAbs() {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}
