package upstream

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/linkscanner/linkscanner/internal/core"
	"github.com/linkscanner/linkscanner/internal/metrics"
)

// DefaultBaseURL is the VirusTotal v3 REST root.
const DefaultBaseURL = "https://www.virustotal.com/api/v3"

const (
	opLookupURL     = "lookup_url"
	opSubmitURL     = "submit_url"
	opGetAnalysis   = "get_analysis"
	opDomainReport  = "domain_report"
	opRelationships = "relationships"

	maxErrorBody = 4096
)

// Client talks to the VirusTotal v3 API.
type Client struct {
	APIKey    string
	BaseURL   string
	HTTP      *http.Client
	Breaker   *gobreaker.CircuitBreaker
	UserAgent string
}

// URLIdentifier returns the upstream object id for rawURL: unpadded
// URL-safe base64 of the raw string.
func URLIdentifier(rawURL string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(rawURL))
}

// Configured reports whether the client can make authenticated calls.
func (c *Client) Configured() error {
	if c == nil || strings.TrimSpace(c.APIKey) == "" {
		return ErrMissingAPIKey
	}
	return nil
}

// LookupURL fetches the existing report for rawURL. It returns nil without
// error when the upstream has never seen the URL.
func (c *Client) LookupURL(ctx context.Context, rawURL string) (*core.URLReport, error) {
	var payload objectEnvelope[urlAttributes]
	err := c.do(ctx, opLookupURL, http.MethodGet, "/urls/"+URLIdentifier(rawURL), nil, &payload)
	if err != nil {
		if IsStatus(err, http.StatusNotFound) {
			return nil, nil
		}
		return nil, err
	}

	attrs := payload.Data.Attributes
	return &core.URLReport{
		ID:         payload.Data.ID,
		URL:        attrs.URL,
		Stats:      attrs.LastAnalysisStats,
		Reputation: attrs.Reputation,
		Categories: attrs.Categories,
	}, nil
}

// SubmitURL queues rawURL for analysis and returns the analysis id.
func (c *Client) SubmitURL(ctx context.Context, rawURL string) (string, error) {
	form := url.Values{}
	form.Set("url", rawURL)

	var payload objectEnvelope[json.RawMessage]
	if err := c.do(ctx, opSubmitURL, http.MethodPost, "/urls", form, &payload); err != nil {
		return "", err
	}
	if strings.TrimSpace(payload.Data.ID) == "" {
		return "", fmt.Errorf("virustotal %s: response has no analysis id", opSubmitURL)
	}
	return payload.Data.ID, nil
}

// GetAnalysis fetches the status of a submitted analysis.
func (c *Client) GetAnalysis(ctx context.Context, analysisID string) (*core.Analysis, error) {
	var payload objectEnvelope[analysisAttributes]
	if err := c.do(ctx, opGetAnalysis, http.MethodGet, "/analyses/"+url.PathEscape(analysisID), nil, &payload); err != nil {
		return nil, err
	}
	return &core.Analysis{
		ID:     payload.Data.ID,
		Status: payload.Data.Attributes.Status,
		Stats:  payload.Data.Attributes.Stats,
	}, nil
}

// DomainReport fetches reputation data for a domain.
func (c *Client) DomainReport(ctx context.Context, domain string) (*core.DomainReport, error) {
	var payload objectEnvelope[domainAttributes]
	if err := c.do(ctx, opDomainReport, http.MethodGet, "/domains/"+url.PathEscape(domain), nil, &payload); err != nil {
		return nil, err
	}

	attrs := payload.Data.Attributes
	return &core.DomainReport{
		Domain:       payload.Data.ID,
		Reputation:   attrs.Reputation,
		Categories:   attrs.Categories,
		Stats:        attrs.LastAnalysisStats,
		Registrar:    attrs.Registrar,
		CreationDate: attrs.CreationDate,
		Tags:         attrs.Tags,
	}, nil
}

// Relationships lists object descriptors related to a domain, such as
// "resolutions" or "subdomains".
func (c *Client) Relationships(ctx context.Context, domain, relationship string, limit int) ([]core.RelatedObject, error) {
	path := fmt.Sprintf("/domains/%s/relationships/%s", url.PathEscape(domain), url.PathEscape(relationship))
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}

	var payload listEnvelope
	if err := c.do(ctx, opRelationships, http.MethodGet, path, nil, &payload); err != nil {
		return nil, err
	}

	related := make([]core.RelatedObject, 0, len(payload.Data))
	for _, item := range payload.Data {
		related = append(related, core.RelatedObject{ID: item.ID, Type: item.Type})
	}
	return related, nil
}

func (c *Client) do(ctx context.Context, operation, method, path string, form url.Values, out any) error {
	if err := c.Configured(); err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	call := func() (any, error) {
		return nil, c.roundTrip(ctx, operation, method, path, form, out)
	}

	if c.Breaker == nil {
		_, err := call()
		return err
	}

	_, err := c.Breaker.Execute(call)
	if isBreakerRejection(err) {
		return fmt.Errorf("%w: %v", ErrCircuitOpen, err)
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, operation, method, path string, form url.Values, out any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL()+path, body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", operation, err)
	}
	req.Header.Set("x-apikey", c.APIKey)
	req.Header.Set("Accept", "application/json")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		metrics.RecordUpstreamRequest(operation, 0)
		return fmt.Errorf("virustotal %s: %w", operation, err)
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup on HTTP response body

	metrics.RecordUpstreamRequest(operation, resp.StatusCode)

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			Operation:  operation,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
			RetryAfter: retryAfterHeader(resp),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}

func (c *Client) baseURL() string {
	if c != nil && strings.TrimSpace(c.BaseURL) != "" {
		return strings.TrimRight(c.BaseURL, "/")
	}
	return DefaultBaseURL
}

func (c *Client) httpClient() *http.Client {
	if c != nil && c.HTTP != nil {
		return c.HTTP
	}
	return &http.Client{Timeout: 30 * time.Second}
}

type objectEnvelope[T any] struct {
	Data struct {
		ID         string `json:"id"`
		Type       string `json:"type"`
		Attributes T      `json:"attributes"`
	} `json:"data"`
}

type listEnvelope struct {
	Data []struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	} `json:"data"`
}

type urlAttributes struct {
	URL               string             `json:"url"`
	LastAnalysisStats core.AnalysisStats `json:"last_analysis_stats"`
	Reputation        int                `json:"reputation"`
	Categories        map[string]string  `json:"categories"`
}

type analysisAttributes struct {
	Status string             `json:"status"`
	Stats  core.AnalysisStats `json:"stats"`
}

type domainAttributes struct {
	Reputation        int                `json:"reputation"`
	Categories        map[string]string  `json:"categories"`
	LastAnalysisStats core.AnalysisStats `json:"last_analysis_stats"`
	Registrar         string             `json:"registrar"`
	CreationDate      int64              `json:"creation_date"`
	Tags              []string           `json:"tags"`
}
