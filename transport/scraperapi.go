package transport

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// scraperAPIRequest is the POST body sent to the managed scraping API.
// The API fetches the target on our behalf; the upstream response comes
// back wrapped in a JSON envelope.
type scraperAPIRequest struct {
	URL             string            `json:"url"`
	RenderJS        bool              `json:"render_js,omitempty"`
	Country         string            `json:"country,omitempty"`
	HTTPMethod      string            `json:"http_method,omitempty"`
	HeadersOverride map[string]string `json:"headers_override,omitempty"`
	// Body carries a POST body to forward, base64-encoded.
	Body string `json:"body,omitempty"`
}

// scraperAPIEnvelope is the managed API response wrapper.
type scraperAPIEnvelope struct {
	Results []scraperAPIResult `json:"results"`
}

type scraperAPIResult struct {
	Content    string `json:"content"`
	StatusCode int    `json:"status_code"`
	URL        string `json:"url"`
}

// scraperAPIFetch asks the managed endpoint to fetch target and unwraps
// the envelope into a unified Response.
func (t *Transport) scraperAPIFetch(ctx context.Context, target, method string, headers map[string]string, body []byte) (*Response, error) {
	apiReq := scraperAPIRequest{
		URL:      target,
		RenderJS: t.config.RenderJS,
		Country:  t.config.Country,
	}
	if method != http.MethodGet {
		apiReq.HTTPMethod = method
	}
	if len(headers) > 0 {
		apiReq.HeadersOverride = headers
	}
	if len(body) > 0 {
		apiReq.Body = base64.StdEncoding.EncodeToString(body)
	}

	payload, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("marshal scraper API request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.config.APIEndpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build scraper API request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(t.config.Username, t.config.Password)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scraper API call for %s: %w", Redact(target), err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read scraper API response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		// Surface the API's own status (auth failure, quota, ...) as the
		// response status so the pipeline's decision table applies.
		return &Response{
			StatusCode: resp.StatusCode,
			Content:    raw,
			Headers:    resp.Header,
			FinalURL:   target,
		}, nil
	}

	var envelope scraperAPIEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("unwrap scraper API envelope: %w", err)
	}
	if len(envelope.Results) == 0 {
		return nil, fmt.Errorf("scraper API returned empty results for %s", Redact(target))
	}

	result := envelope.Results[0]
	finalURL := result.URL
	if finalURL == "" {
		finalURL = target
	}
	return &Response{
		StatusCode: result.StatusCode,
		Content:    []byte(result.Content),
		Headers:    resp.Header,
		FinalURL:   finalURL,
	}, nil
}
