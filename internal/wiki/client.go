package wiki

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sopdesk/backend/pkg/circuitbreaker"
	"github.com/sopdesk/backend/pkg/logger"
)

var (
	ErrSourceUnavailable = errors.New("wiki source unavailable")
	ErrPageNotFound      = errors.New("page not found")
)

type Client struct {
	baseURL    string
	username   string
	apiToken   string
	pageSize   int
	httpClient *http.Client
	limiter    *rate.Limiter
	cb         *circuitbreaker.CircuitBreaker
}

func NewClient(baseURL, username, apiToken string, pageSize int, timeout time.Duration, requestsPerSec float64) *Client {
	if pageSize <= 0 {
		pageSize = 25
	}
	if requestsPerSec <= 0 {
		requestsPerSec = 5
	}

	cb := circuitbreaker.NewCircuitBreaker("wiki", circuitbreaker.Config{
		MaxRequests:      3,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	logger.Info("Wiki client initialized",
		zap.String("base_url", baseURL),
		zap.Int("page_size", pageSize),
	)

	return &Client{
		baseURL:    baseURL,
		username:   username,
		apiToken:   apiToken,
		pageSize:   pageSize,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSec), 1),
		cb:         cb,
	}
}

// ListPages walks the space page by page until the source returns a short
// batch. The whole listing is returned; callers filter by modification time.
func (c *Client) ListPages(ctx context.Context, spaceKey string) ([]Page, error) {
	var pages []Page
	start := 0

	for {
		endpoint := fmt.Sprintf("%s/rest/api/space/%s/content?start=%d&limit=%d&expand=body.storage,version,metadata.labels",
			c.baseURL, url.PathEscape(spaceKey), start, c.pageSize)

		var payload listPayload
		if err := c.getJSON(ctx, endpoint, &payload); err != nil {
			return nil, fmt.Errorf("failed to list pages for space %s: %w", spaceKey, err)
		}

		for _, raw := range payload.Results {
			pages = append(pages, raw.toPage())
		}

		if len(payload.Results) < c.pageSize {
			break
		}
		start += c.pageSize
	}

	logger.Debug("Listed wiki pages",
		zap.String("space_key", spaceKey),
		zap.Int("count", len(pages)),
	)

	return pages, nil
}

func (c *Client) GetPageByID(ctx context.Context, id string) (*Page, error) {
	endpoint := fmt.Sprintf("%s/rest/api/content/%s?expand=body.storage,version,metadata.labels",
		c.baseURL, url.PathEscape(id))

	var payload pagePayload
	if err := c.getJSON(ctx, endpoint, &payload); err != nil {
		return nil, fmt.Errorf("failed to get page %s: %w", id, err)
	}

	page := payload.toPage()
	if page.ID == "" {
		page.ID = id
	}

	return &page, nil
}

func (c *Client) SearchPagesByText(ctx context.Context, query string) ([]Page, error) {
	endpoint := fmt.Sprintf("%s/rest/api/content/search?cql=text~%s&expand=body.storage,version,metadata.labels",
		c.baseURL, url.QueryEscape(fmt.Sprintf("%q", query)))

	var payload listPayload
	if err := c.getJSON(ctx, endpoint, &payload); err != nil {
		return nil, fmt.Errorf("failed to search pages: %w", err)
	}

	pages := make([]Page, 0, len(payload.Results))
	for _, raw := range payload.Results {
		pages = append(pages, raw.toPage())
	}

	return pages, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	return c.cb.Execute(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}
		if c.username != "" {
			req.SetBasicAuth(c.username, c.apiToken)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return ErrPageNotFound
		case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
			return fmt.Errorf("%w: auth rejected with status %d", ErrSourceUnavailable, resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			return fmt.Errorf("%w: unexpected status %d", ErrSourceUnavailable, resp.StatusCode)
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return nil
	})
}
