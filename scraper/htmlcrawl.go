package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/pithecene-io/prospect/types"
)

// htmlCrawlKind discovers store pages by following listing links level
// by level from a seed page (typically state index -> city index ->
// store page). Each level's frontier is checkpointed so a killed run
// resumes mid-crawl instead of restarting from the seed.
type htmlCrawlKind struct{}

func (k *htmlCrawlKind) Name() string { return string(types.DiscoveryHTMLCrawl) }

func (k *htmlCrawlKind) Discover(ctx context.Context, s *Session) ([]string, error) {
	cfg := s.Config

	storeRe, err := regexp.Compile(cfg.URLPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid url_pattern %q: %w", cfg.URLPattern, err)
	}
	var followRe *regexp.Regexp
	if cfg.CrawlLinkPattern != "" {
		followRe, err = regexp.Compile(cfg.CrawlLinkPattern)
		if err != nil {
			return nil, fmt.Errorf("invalid crawl_link_pattern %q: %w", cfg.CrawlLinkPattern, err)
		}
	}

	seed, err := url.Parse(cfg.CrawlSeedURL)
	if err != nil {
		return nil, fmt.Errorf("invalid crawl_seed_url %q: %w", cfg.CrawlSeedURL, err)
	}

	visited := map[string]struct{}{}
	for _, u := range s.CrawlState("visited") {
		visited[u] = struct{}{}
	}
	storeURLs := append([]string(nil), s.CrawlState("store_urls")...)

	frontier := []string{cfg.CrawlSeedURL}
	startDepth := 1
	for depth := cfg.CrawlDepth; depth >= 1; depth-- {
		key := fmt.Sprintf("frontier_%d", depth)
		if saved := s.CrawlState(key); saved != nil {
			frontier = saved
			startDepth = depth
			break
		}
	}

	for depth := startDepth; depth <= cfg.CrawlDepth && len(frontier) > 0; depth++ {
		phase := fmt.Sprintf("crawl_depth_%d", depth)
		var next []string

		for i, pageURL := range frontier {
			if _, done := visited[pageURL]; done {
				continue
			}
			s.Tracker.AdvancePhase(phase, types.PhaseProgress{
				Total: len(frontier), Completed: i, Status: "running",
			})

			resp, err := s.Pipeline.Get(ctx, pageURL)
			if err != nil {
				return nil, err
			}
			if resp.StatusCode != http.StatusOK {
				s.Logger.Warn("crawl page skipped", map[string]any{
					"url": pageURL, "status": resp.StatusCode,
				})
				visited[pageURL] = struct{}{}
				continue
			}

			stores, follows, err := crawlLinks(resp.Content, seed, storeRe, followRe)
			if err != nil {
				return nil, fmt.Errorf("crawl %s: %w", pageURL, err)
			}
			storeURLs = append(storeURLs, stores...)
			next = append(next, follows...)
			visited[pageURL] = struct{}{}

			s.SetCrawlState("visited", setToSlice(visited))
			s.SetCrawlState("store_urls", storeURLs)
			s.SetCrawlState(fmt.Sprintf("frontier_%d", depth), frontier[i+1:])
			s.checkpointDiscovery()
		}

		s.Tracker.AdvancePhase(phase, types.PhaseProgress{
			Total: len(frontier), Completed: len(frontier), Status: "complete",
		})
		frontier = dedupe(next)
		s.SetCrawlState(fmt.Sprintf("frontier_%d", depth+1), frontier)
	}

	return dedupe(storeURLs), nil
}

func (k *htmlCrawlKind) Extract(ctx context.Context, s *Session, url string) ([]types.Store, error) {
	return extractPage(ctx, s, url)
}

// crawlLinks classifies every same-host link on a page: store pages
// (url_pattern) to collect, listing pages (crawl_link_pattern) to
// follow next level.
func crawlLinks(body []byte, seed *url.URL, storeRe, followRe *regexp.Regexp) (stores, follows []string, err error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, nil, fmt.Errorf("parse html: %w", err)
	}

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		abs := resolveURL(seed, href)
		if abs == "" {
			return
		}
		switch {
		case storeRe.MatchString(abs):
			stores = append(stores, abs)
		case followRe != nil && followRe.MatchString(abs):
			follows = append(follows, abs)
		}
	})
	return stores, follows, nil
}

// resolveURL absolutizes href against the seed and drops off-host and
// non-HTTP links.
func resolveURL(seed *url.URL, href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	abs := seed.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return ""
	}
	if abs.Host != seed.Host {
		return ""
	}
	abs.Fragment = ""
	return abs.String()
}

func setToSlice(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}
