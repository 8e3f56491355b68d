// Package opds reads book entries from OPDS (Atom) catalogs.
package opds

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/booksage/bookshelf/internal/domain/repository"
	"github.com/mmcdole/gofeed/atom"
	"go.uber.org/zap"
)

var _ repository.CatalogSource = (*Source)(nil)

const (
	maxDepth = 3
	maxPages = 50

	unknownAuthor = "Unknown"
)

const (
	relNext        = "next"
	relAcquisition = "http://opds-spec.org/acquisition"
	relSubsection  = "subsection"
	relCatalog     = "http://opds-spec.org/catalog"
)

// Source crawls a catalog starting at its root feed, following "next"
// pages and subsection links.
type Source struct {
	catalogURL string
	username   string
	password   string
	client     *http.Client
	logger     *zap.Logger
	now        func() time.Time
}

// NewSource returns a Source for catalogURL. A bare host gets the
// conventional /feed.xml path.
func NewSource(catalogURL, username, password string, logger *zap.Logger) *Source {
	if u, err := url.Parse(catalogURL); err == nil && u.Scheme != "" {
		if u.Path == "" || u.Path == "/" {
			u.Path = "/feed.xml"
			catalogURL = u.String()
		}
	}

	logger = logger.Named("opds")
	return &Source{
		catalogURL: catalogURL,
		username:   username,
		password:   password,
		client: &http.Client{
			Transport: &LoggingTransport{Logger: logger},
			Timeout:   time.Minute,
		},
		logger: logger,
		now:    time.Now,
	}
}

// URL is the resolved catalog root.
func (s *Source) URL() string { return s.catalogURL }

type pageRef struct {
	url   string
	depth int
}

// FetchEntries returns every acquirable entry updated after since. Pages
// that cannot be fetched or parsed are logged and skipped.
func (s *Source) FetchEntries(ctx context.Context, since int64) ([]repository.CatalogEntry, error) {
	if s.catalogURL == "" {
		return nil, errors.New("OPDS URL is not configured")
	}

	var entries []repository.CatalogEntry
	visited := make(map[string]bool)
	queue := []pageRef{{s.catalogURL, 0}}
	pages := 0

	for len(queue) > 0 && pages < maxPages {
		current := queue[0]
		queue = queue[1:]

		if visited[current.url] {
			continue
		}
		visited[current.url] = true
		pages++

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		found, next, subsections, err := s.fetchPage(ctx, current.url, since)
		if err != nil {
			s.logger.Warn("Skipping catalog page", zap.String("url", current.url), zap.Error(err))
			continue
		}
		entries = append(entries, found...)

		// Pagination stays at the same depth.
		if next != "" && !visited[next] {
			queue = append(queue, pageRef{next, current.depth})
		}
		if current.depth < maxDepth {
			for _, sub := range subsections {
				if !visited[sub] {
					queue = append(queue, pageRef{sub, current.depth + 1})
				}
			}
		}
	}

	s.logger.Info("Catalog crawled",
		zap.String("url", s.catalogURL),
		zap.Int("pages", pages),
		zap.Int("entries", len(entries)))
	return entries, nil
}

func (s *Source) fetchPage(ctx context.Context, target string, since int64) ([]repository.CatalogEntry, string, []string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, "", nil, err
	}
	if s.username != "" {
		req.SetBasicAuth(s.username, s.password)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, "", nil, fmt.Errorf("failed to fetch OPDS feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", nil, fmt.Errorf("OPDS feed returned status: %d", resp.StatusCode)
	}

	feed, err := (&atom.Parser{}).Parse(resp.Body)
	if err != nil {
		return nil, "", nil, fmt.Errorf("failed to parse OPDS feed as Atom: %w", err)
	}

	base, err := url.Parse(target)
	if err != nil {
		return nil, "", nil, err
	}

	var (
		entries     []repository.CatalogEntry
		subsections []string
		next        string
	)

	for _, entry := range feed.Entries {
		acquirable := false
		for _, link := range entry.Links {
			switch {
			case isNavigation(link.Rel):
				if ref := resolve(base, link.Href); ref != "" {
					subsections = append(subsections, ref)
				}
			case strings.HasPrefix(link.Rel, relAcquisition):
				acquirable = true
			}
		}
		if !acquirable {
			continue
		}

		updated := entryTime(entry)
		if !updated.IsZero() && updated.Unix() <= since {
			continue
		}
		if updated.IsZero() {
			updated = s.now()
		}

		title := strings.TrimSpace(entry.Title)
		if title == "" {
			s.logger.Debug("Skipping untitled entry", zap.String("entry_id", entry.ID))
			continue
		}

		ce := repository.CatalogEntry{
			ID:        entry.ID,
			Title:     title,
			Author:    unknownAuthor,
			Year:      issuedYear(entry),
			UpdatedAt: updated,
		}
		if ce.ID == "" {
			ce.ID = title
		}
		if len(entry.Authors) > 0 {
			if name := strings.TrimSpace(entry.Authors[0].Name); name != "" {
				ce.Author = name
			}
		}
		entries = append(entries, ce)
	}

	for _, link := range feed.Links {
		switch {
		case isNavigation(link.Rel):
			if ref := resolve(base, link.Href); ref != "" {
				subsections = append(subsections, ref)
			}
		case link.Rel == relNext && next == "":
			next = resolve(base, link.Href)
		}
	}

	return entries, next, subsections, nil
}

func isNavigation(rel string) bool {
	return rel == relSubsection || rel == relCatalog
}

func resolve(base *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

func entryTime(entry *atom.Entry) time.Time {
	switch {
	case entry.UpdatedParsed != nil:
		return *entry.UpdatedParsed
	case entry.PublishedParsed != nil:
		return *entry.PublishedParsed
	}
	return time.Time{}
}

// issuedYear reads the publication year from Dublin Core extensions,
// e.g. <dcterms:issued>1965</dcterms:issued>.
func issuedYear(entry *atom.Entry) *int {
	for _, ns := range []string{"dcterms", "dc"} {
		for _, name := range []string{"issued", "date"} {
			for _, e := range entry.Extensions[ns][name] {
				v := strings.TrimSpace(e.Value)
				if len(v) < 4 {
					continue
				}
				year, err := strconv.Atoi(v[:4])
				if err != nil || year < 0 || year > 9999 {
					continue
				}
				return &year
			}
		}
	}
	return nil
}
