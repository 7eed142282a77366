// Package nvd fetches recently modified vulnerability records from the NVD
// CVE API 2.0 and remembers which identifiers it has already delivered.
package nvd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL      = "https://services.nvd.nist.gov/rest/json/cves/2.0"
	DefaultPageSize     = 100
	DefaultRequestDelay = 600 * time.Millisecond
	DefaultTimeout      = 30 * time.Second
	DefaultSeenCapacity = 50000

	// timeLayout is the only timestamp form the API accepts for lastMod*.
	timeLayout = "2006-01-02T15:04:05.000Z"
)

// Options configures a Client. Zero values select the defaults above.
type Options struct {
	BaseURL      string
	APIKey       string
	PageSize     int
	RequestDelay time.Duration
	Timeout      time.Duration
	SeenCapacity int
}

// Client queries the feed. Overlapping FetchLatest calls may both deliver the
// same record; the driver loop never overlaps them.
type Client struct {
	baseURL    string
	apiKey     string
	pageSize   int
	httpClient *http.Client
	limiter    *rate.Limiter
	seen       *lru.Cache[string, struct{}]
	now        func() time.Time
}

// New creates a Client from opts.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.RequestDelay <= 0 {
		opts.RequestDelay = DefaultRequestDelay
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.SeenCapacity <= 0 {
		opts.SeenCapacity = DefaultSeenCapacity
	}

	seen, err := lru.New[string, struct{}](opts.SeenCapacity)
	if err != nil {
		return nil, fmt.Errorf("creating seen-set: %w", err)
	}

	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		pageSize:   opts.PageSize,
		httpClient: &http.Client{Timeout: opts.Timeout},
		limiter:    rate.NewLimiter(rate.Every(opts.RequestDelay), 1),
		seen:       seen,
		now:        time.Now,
	}, nil
}

// FetchLatest returns records modified within the last lookback that were not
// delivered by an earlier call. All pages of the window are requested. New
// identifiers are remembered only when the whole call succeeds, so a failed
// call can be retried without losing records. Callers log a returned error and
// treat the call as having produced no records.
func (c *Client) FetchLatest(ctx context.Context, lookback time.Duration) ([]Record, error) {
	end := c.now().UTC()
	start := end.Add(-lookback)

	var (
		records []Record
		fresh   = make(map[string]struct{})
	)
	for startIndex := 0; ; {
		page, err := c.fetchPage(ctx, start, end, startIndex)
		if err != nil {
			return nil, err
		}

		for _, v := range page.Vulnerabilities {
			rec, err := decodeRecord(v.CVE)
			if err != nil {
				return nil, err
			}
			if rec.ID == "" || c.seen.Contains(rec.ID) {
				continue
			}
			if _, dup := fresh[rec.ID]; dup {
				continue
			}
			fresh[rec.ID] = struct{}{}
			records = append(records, rec)
		}

		startIndex += len(page.Vulnerabilities)
		if len(page.Vulnerabilities) == 0 || startIndex >= page.TotalResults {
			break
		}
	}

	for id := range fresh {
		c.seen.Add(id, struct{}{})
	}

	slog.Info("nvd: fetched records", "new", len(records), "window_start", start.Format(timeLayout))
	return records, nil
}

// Seen reports whether id was delivered by an earlier successful fetch.
func (c *Client) Seen(id string) bool {
	return c.seen.Contains(id)
}

func (c *Client) fetchPage(ctx context.Context, start, end time.Time, startIndex int) (*cvePage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for rate limiter: %w", err)
	}

	q := url.Values{}
	q.Set("lastModStartDate", start.Format(timeLayout))
	q.Set("lastModEndDate", end.Format(timeLayout))
	q.Set("resultsPerPage", strconv.Itoa(c.pageSize))
	q.Set("startIndex", strconv.Itoa(startIndex))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("apiKey", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting cves: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var page cvePage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decoding cves: %w", err)
	}
	return &page, nil
}

func decodeRecord(raw json.RawMessage) (Record, error) {
	if len(raw) == 0 {
		return Record{}, nil
	}
	var item cveItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return Record{}, fmt.Errorf("decoding cve: %w", err)
	}
	return Record{
		ID:           item.ID,
		Description:  description(item.Descriptions),
		Severity:     item.Metrics.baseScore(),
		Published:    item.Published,
		LastModified: item.LastModified,
		References:   item.References,
		Raw:          raw,
	}, nil
}
