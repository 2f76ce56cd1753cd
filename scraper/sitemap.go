package scraper

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"regexp"

	"github.com/pithecene-io/prospect/cache"
	"github.com/pithecene-io/prospect/types"
)

// maxSitemapSize caps a single sitemap document. Sitemaps over the
// protocol's own 50 MB limit are rejected rather than parsed.
const maxSitemapSize = 50 << 20

// urlSet is the <urlset> document shape.
type urlSet struct {
	URLs []struct {
		Loc string `xml:"loc"`
	} `xml:"url"`
}

// sitemapIndexDoc is the <sitemapindex> document shape.
type sitemapIndexDoc struct {
	Sitemaps []struct {
		Loc string `xml:"loc"`
	} `xml:"sitemap"`
}

// parseXML decodes untrusted sitemap XML. DOCTYPE declarations are
// rejected outright (entity expansion), external entities are never
// resolved, and oversized documents fail before decoding.
func parseXML(data []byte, v any) error {
	if len(data) > maxSitemapSize {
		return fmt.Errorf("sitemap exceeds %d bytes", maxSitemapSize)
	}
	if bytes.Contains(data, []byte("<!DOCTYPE")) || bytes.Contains(data, []byte("<!doctype")) {
		return fmt.Errorf("sitemap contains a DOCTYPE declaration")
	}
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Entity = map[string]string{}
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("parse sitemap xml: %w", err)
	}
	return nil
}

// filterLocs keeps <loc> values matching the retailer's url_pattern.
// An empty pattern keeps everything.
func filterLocs(locs []string, pattern string) ([]string, error) {
	if pattern == "" {
		return locs, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid url_pattern %q: %w", pattern, err)
	}
	var out []string
	for _, loc := range locs {
		if re.MatchString(loc) {
			out = append(out, loc)
		}
	}
	return out, nil
}

// extractLocs pulls <loc> values from a urlset document.
func extractLocs(data []byte) ([]string, error) {
	var set urlSet
	if err := parseXML(data, &set); err != nil {
		return nil, err
	}
	locs := make([]string, 0, len(set.URLs))
	for _, u := range set.URLs {
		if u.Loc != "" {
			locs = append(locs, u.Loc)
		}
	}
	return locs, nil
}

// sitemapKind discovers store pages from a single plain-XML sitemap.
type sitemapKind struct{}

func (k *sitemapKind) Name() string { return string(types.DiscoverySitemap) }

func (k *sitemapKind) Discover(ctx context.Context, s *Session) ([]string, error) {
	resp, err := s.Pipeline.Get(ctx, s.Config.SitemapURL)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sitemap fetch returned %d", resp.StatusCode)
	}
	locs, err := extractLocs(resp.Content)
	if err != nil {
		return nil, err
	}
	return filterLocs(locs, s.Config.URLPattern)
}

func (k *sitemapKind) Extract(ctx context.Context, s *Session, url string) ([]types.Store, error) {
	return extractPage(ctx, s, url)
}

// extractPage is the shared page-oriented extraction: serve the body
// from the response cache when possible, otherwise fetch (treating 404
// as a removed store), then hand the body to the parser.
func extractPage(ctx context.Context, s *Session, url string) ([]types.Store, error) {
	if s.Parser == nil {
		return nil, fmt.Errorf("no parser registered for retailer %q", s.Config.Name)
	}

	key := cache.Key("response:" + url)
	if s.Responses != nil {
		if body, ok := s.Responses.Get(key); ok {
			s.Collector.IncCacheHit()
			return s.Parser.Parse(url, body)
		}
	}

	resp, err := s.Pipeline.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		// Store removed between discovery and extraction.
		return nil, ErrSkip
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("page fetch returned %d", resp.StatusCode)
	}

	if s.Responses != nil {
		if err := s.Responses.Put(key, resp.Content); err != nil {
			s.Logger.Warn("response cache write failed", map[string]any{"error": err.Error()})
		}
	}
	return s.Parser.Parse(url, resp.Content)
}
