package scraper

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/pithecene-io/prospect/types"
)

// gzipMagic is the two-byte gzip file header.
var gzipMagic = []byte{0x1f, 0x8b}

// sitemapGzipKind handles retailers whose sitemap is served as a
// gzip-compressed file (.xml.gz), which arrives as content rather than
// a transfer encoding.
type sitemapGzipKind struct{}

func (k *sitemapGzipKind) Name() string { return string(types.DiscoverySitemapGzip) }

func (k *sitemapGzipKind) Discover(ctx context.Context, s *Session) ([]string, error) {
	resp, err := s.Pipeline.Get(ctx, s.Config.SitemapURL)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sitemap fetch returned %d", resp.StatusCode)
	}

	data, err := gunzip(resp.Content)
	if err != nil {
		return nil, err
	}
	locs, err := extractLocs(data)
	if err != nil {
		return nil, err
	}
	return filterLocs(locs, s.Config.URLPattern)
}

func (k *sitemapGzipKind) Extract(ctx context.Context, s *Session, url string) ([]types.Store, error) {
	return extractPage(ctx, s, url)
}

// gunzip decompresses gzip content, passing through bodies a middlebox
// already decompressed. The output is size-capped like any sitemap.
func gunzip(data []byte) ([]byte, error) {
	if !bytes.HasPrefix(data, gzipMagic) {
		return data, nil
	}
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open gzip sitemap: %w", err)
	}
	defer func() { _ = gz.Close() }()

	out, err := io.ReadAll(io.LimitReader(gz, maxSitemapSize+1))
	if err != nil {
		return nil, fmt.Errorf("decompress sitemap: %w", err)
	}
	if len(out) > maxSitemapSize {
		return nil, fmt.Errorf("decompressed sitemap exceeds %d bytes", maxSitemapSize)
	}
	return out, nil
}
