// Package nocodb is a crawler.RecordStore backed by a NocoDB table REST
// endpoint.
package nocodb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/mofcom-crawler/internal/crawler"
)

// TokenHeader carries the API token on every request.
const TokenHeader = "xc-token"

const maxErrorBody = 512

// Config locates the table.
type Config struct {
	// BaseURL is the table data endpoint, e.g.
	// https://noco.example.com/api/v1/db/data/v1/<project>/<table>.
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client talks to one NocoDB table.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New validates cfg. A nil httpClient gets a client with cfg.Timeout.
func New(cfg Config, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(cfg.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("parse store url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("store url %q must be absolute", cfg.BaseURL)
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{baseURL: u.String(), token: cfg.Token, http: httpClient}, nil
}

type listResponse struct {
	List     []crawler.Record `json:"list"`
	PageInfo struct {
		TotalRows int `json:"totalRows"`
	} `json:"pageInfo"`
}

// Find lists the rows matching query.
func (c *Client) Find(ctx context.Context, query crawler.Query) (crawler.RecordPage, error) {
	endpoint := c.baseURL
	if params := EncodeQuery(query).Encode(); params != "" {
		endpoint += "?" + params
	}
	body, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return crawler.RecordPage{}, err
	}
	var resp listResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return crawler.RecordPage{}, fmt.Errorf("decode list response: %w", err)
	}
	total := resp.PageInfo.TotalRows
	if total == 0 {
		total = len(resp.List)
	}
	return crawler.RecordPage{Records: resp.List, TotalRows: total}, nil
}

// Create inserts record. A conflict on a unique column is reported as
// crawler.ErrAlreadyExists.
func (c *Client) Create(ctx context.Context, record crawler.Record) (crawler.Record, error) {
	record.ID = 0
	body, err := c.do(ctx, http.MethodPost, c.baseURL, record)
	if err != nil {
		return crawler.Record{}, err
	}
	return mergeResponse(record, body), nil
}

// Update patches the row identified by record.ID.
func (c *Client) Update(ctx context.Context, record crawler.Record) (crawler.Record, error) {
	if record.ID == 0 {
		return crawler.Record{}, errors.New("update requires a record id")
	}
	body, err := c.do(ctx, http.MethodPatch, c.baseURL, record)
	if err != nil {
		return crawler.Record{}, err
	}
	return mergeResponse(record, body), nil
}

// mergeResponse prefers the row echoed by the server and falls back to what
// was sent.
func mergeResponse(sent crawler.Record, body []byte) crawler.Record {
	var echoed crawler.Record
	if err := json.Unmarshal(body, &echoed); err != nil || echoed.ID == 0 {
		return sent
	}
	if echoed.ArticleURL == "" {
		sent.ID = echoed.ID
		return sent
	}
	return echoed
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload any) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set(TokenHeader, c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, redact(endpoint), err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		statusErr := &crawler.HTTPStatusError{
			URL:        redact(endpoint),
			StatusCode: resp.StatusCode,
			Body:       truncate(string(body)),
		}
		if isConflict(resp.StatusCode, body) {
			return nil, fmt.Errorf("%w: %w", crawler.ErrAlreadyExists, statusErr)
		}
		return nil, statusErr
	}
	return body, nil
}

// isConflict recognizes both an explicit 409 and the 400 NocoDB answers
// with when a unique constraint fails.
func isConflict(status int, body []byte) bool {
	if status == http.StatusConflict {
		return true
	}
	if status != http.StatusBadRequest && status != http.StatusUnprocessableEntity {
		return false
	}
	text := strings.ToLower(string(body))
	return strings.Contains(text, "duplicate") || strings.Contains(text, "unique constraint")
}

// EncodeQuery renders query as NocoDB list parameters.
func EncodeQuery(query crawler.Query) url.Values {
	params := url.Values{}
	if where := RenderFilter(query.Where); where != "" {
		params.Set("where", where)
	}
	if len(query.Fields) > 0 {
		params.Set("fields", strings.Join(query.Fields, ","))
	}
	if query.Sort != "" {
		params.Set("sort", query.Sort)
	}
	if query.Limit > 0 {
		params.Set("limit", strconv.Itoa(query.Limit))
	}
	return params
}

// RenderFilter renders f as (field,op[,sub],value) terms joined by ~and.
func RenderFilter(f crawler.Filter) string {
	parts := make([]string, 0, len(f))
	for _, cond := range f {
		terms := []string{cond.Field, string(cond.Op)}
		if cond.Sub != "" {
			terms = append(terms, cond.Sub)
		}
		terms = append(terms, cond.Value)
		parts = append(parts, "("+strings.Join(terms, ",")+")")
	}
	return strings.Join(parts, "~and")
}

func redact(endpoint string) string {
	if idx := strings.IndexByte(endpoint, '?'); idx >= 0 {
		return endpoint[:idx]
	}
	return endpoint
}

func truncate(s string) string {
	if len(s) <= maxErrorBody {
		return s
	}
	return s[:maxErrorBody]
}

var _ crawler.RecordStore = (*Client)(nil)
