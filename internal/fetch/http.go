package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// HTTPFetcher reads an account's latest items from a scrape-service feed
// endpoint: GET {base}/api/accounts/{username}/items?limit=N returning a
// JSON array, most recent first.
type HTTPFetcher struct {
	base   string
	apiKey string
	client *http.Client
}

func NewHTTPFetcher(baseURL, apiKey string) (*HTTPFetcher, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return nil, errors.New("fetch base url is empty")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("fetch base url: %w", err)
	}
	return &HTTPFetcher{
		base:   base,
		apiKey: apiKey,
		// Per-attempt deadlines come from the orchestrator's context; this
		// is only a hard backstop.
		client: &http.Client{Timeout: 2 * time.Minute},
	}, nil
}

type feedItem struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Views       int64  `json:"views"`
	Likes       int64  `json:"likes"`
	Comments    int64  `json:"comments"`
	Shares      int64  `json:"shares"`
	CreatedAt   string `json:"created_at"`
}

func (h *HTTPFetcher) FetchLatest(ctx context.Context, username string, limit int) ([]Item, error) {
	u := h.base + "/api/accounts/" + url.PathEscape(username) + "/items"
	if limit > 0 {
		u += "?limit=" + strconv.Itoa(limit)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, Transient(err)
	}
	req.Header.Set("Accept", "application/json")
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, Timeout(err)
		}
		return nil, Transient(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return nil, NotFound(fmt.Errorf("account %s not found", username))
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout:
		return nil, Timeout(fmt.Errorf("feed returned %d", resp.StatusCode))
	case resp.StatusCode == http.StatusNotImplemented:
		return nil, CapabilityUnavailable(fmt.Errorf("feed returned %d", resp.StatusCode))
	default:
		return nil, Transient(fmt.Errorf("feed returned %d", resp.StatusCode))
	}

	var feed []feedItem
	if err := json.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, Transient(fmt.Errorf("decode feed: %w", err))
	}

	items := make([]Item, 0, len(feed))
	for _, f := range feed {
		if strings.TrimSpace(f.ID) == "" {
			continue
		}
		items = append(items, Item{
			ID:          f.ID,
			Description: f.Description,
			Views:       f.Views,
			Likes:       f.Likes,
			Comments:    f.Comments,
			Shares:      f.Shares,
			CreatedAt:   f.CreatedAt,
		})
		if limit > 0 && len(items) >= limit {
			break
		}
	}
	return items, nil
}
