package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dunamismax/imageq/internal/domain"
)

type HTTPConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// HTTPStore talks to a catalog collection endpoint that accepts a JSON
// filter query and bearer-token auth.
type HTTPStore struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// queryResponse is the catalog's list envelope. Its count field is not
// always present, so only results decide whether a record exists.
type queryResponse struct {
	Results []domain.CatalogRecord `json:"results"`
}

func NewHTTPStore(cfg HTTPConfig) (*HTTPStore, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		return nil, fmt.Errorf("catalog base url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("parse catalog base url: %w", err)
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &HTTPStore{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    base,
		token:      cfg.Token,
	}, nil
}

func (s *HTTPStore) FindByBag(ctx context.Context, bag string) (domain.CatalogRecord, bool, error) {
	query, err := json.Marshal(map[string]any{
		"filter": map[string]string{"bag": bag},
	})
	if err != nil {
		return domain.CatalogRecord{}, false, fmt.Errorf("marshal catalog query: %w", err)
	}

	params := url.Values{}
	params.Set("query", string(query))
	params.Set("format", "json")

	var resp queryResponse
	if err := s.do(ctx, http.MethodGet, s.baseURL+"?"+params.Encode(), nil, &resp); err != nil {
		return domain.CatalogRecord{}, false, err
	}
	if len(resp.Results) == 0 {
		return domain.CatalogRecord{}, false, nil
	}
	return resp.Results[0], true, nil
}

func (s *HTTPStore) Create(ctx context.Context, record domain.CatalogRecord) error {
	return s.do(ctx, http.MethodPost, s.baseURL+"?format=json", record, nil)
}

func (s *HTTPStore) Update(ctx context.Context, record domain.CatalogRecord) error {
	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("catalog record for %s has no id", record.Bag)
	}
	endpoint := s.baseURL + url.PathEscape(record.ID) + "/?format=json"
	return s.do(ctx, http.MethodPut, endpoint, record, nil)
}

func (s *HTTPStore) do(ctx context.Context, method, endpoint string, body, into any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal catalog body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build catalog request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("catalog %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("catalog %s returned status=%d: %s", method, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if into == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		return fmt.Errorf("decode catalog response: %w", err)
	}
	return nil
}
