package scraper

import (
	"context"
	"fmt"
	"net/http"

	"github.com/pithecene-io/prospect/types"
)

// crawlStateDiscovered is the checkpoint key for URLs accumulated
// across child sitemaps.
const crawlStateDiscovered = "discovered"

// sitemapPaginatedKind walks a <sitemapindex> and every child sitemap
// it references. Child progress is recorded in the checkpoint so a
// resumed run continues from the first unfetched child instead of
// refetching the whole index.
type sitemapPaginatedKind struct{}

func (k *sitemapPaginatedKind) Name() string { return string(types.DiscoverySitemapPaginated) }

func (k *sitemapPaginatedKind) Discover(ctx context.Context, s *Session) ([]string, error) {
	resp, err := s.Pipeline.Get(ctx, s.Config.SitemapURL)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sitemap index fetch returned %d", resp.StatusCode)
	}

	var index sitemapIndexDoc
	if err := parseXML(resp.Content, &index); err != nil {
		return nil, err
	}
	children := make([]string, 0, len(index.Sitemaps))
	for _, sm := range index.Sitemaps {
		if sm.Loc != "" {
			children = append(children, sm.Loc)
		}
	}

	start := s.SitemapIndex()
	if start > len(children) {
		start = len(children)
	}
	urls := append([]string(nil), s.CrawlState(crawlStateDiscovered)...)

	s.Tracker.AdvancePhase("sitemap_index", types.PhaseProgress{
		Total: len(children), Completed: start, Status: "running",
	})

	for i := start; i < len(children); i++ {
		child, err := s.Pipeline.Get(ctx, children[i])
		if err != nil {
			return nil, err
		}
		if child.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("child sitemap %s returned %d", children[i], child.StatusCode)
		}

		data, err := gunzip(child.Content)
		if err != nil {
			return nil, err
		}
		locs, err := extractLocs(data)
		if err != nil {
			return nil, fmt.Errorf("child sitemap %s: %w", children[i], err)
		}
		filtered, err := filterLocs(locs, s.Config.URLPattern)
		if err != nil {
			return nil, err
		}
		urls = append(urls, filtered...)

		s.SetSitemapIndex(i + 1)
		s.SetCrawlState(crawlStateDiscovered, urls)
		s.checkpointDiscovery()
		s.Tracker.AdvancePhase("sitemap_index", types.PhaseProgress{
			Total: len(children), Completed: i + 1, Status: "running",
		})
	}

	s.Tracker.AdvancePhase("sitemap_index", types.PhaseProgress{
		Total: len(children), Completed: len(children), Status: "complete",
	})
	return dedupe(urls), nil
}

func (k *sitemapPaginatedKind) Extract(ctx context.Context, s *Session, url string) ([]types.Store, error) {
	return extractPage(ctx, s, url)
}

// dedupe removes duplicate URLs preserving first-seen order. Index
// files routinely list a page in more than one child.
func dedupe(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := urls[:0:0]
	for _, u := range urls {
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
