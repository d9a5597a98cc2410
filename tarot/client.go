package tarot

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/hashicorp/go-retryablehttp"
)

// Card is one tarot card as returned by the card source
type Card struct {
	NameShort  string `json:"name_short"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	MeaningUp  string `json:"meaning_up"`
	MeaningRev string `json:"meaning_rev"`
	Desc       string `json:"desc"`
}

// Client draws random cards from a tarotapi.dev compatible endpoint
type Client struct {
	url    string
	client *retryablehttp.Client
}

// NewClient creates a card source client for endpoint
func NewClient(endpoint string) *Client {
	client := retryablehttp.NewClient()
	client.Logger = nil
	client.RetryMax = 1
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = time.Second
	client.HTTPClient.Timeout = 5 * time.Second

	return &Client{url: endpoint, client: client}
}

// Draw returns at most n random cards
func (c *Client) Draw(ctx context.Context, n int) ([]Card, error) {
	u, err := url.Parse(c.url)
	if err != nil {
		return nil, fmt.Errorf("invalid card source url: %w", err)
	}
	q := u.Query()
	q.Set("n", strconv.Itoa(n))
	u.RawQuery = q.Encode()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}

	res, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("card source request failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, fmt.Errorf("card source returned %s", res.Status)
	}

	data, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read card source response: %w", err)
	}

	var body struct {
		NHits int    `json:"nhits"`
		Cards []Card `json:"cards"`
	}
	if err := sonic.Unmarshal(data, &body); err != nil {
		return nil, fmt.Errorf("decode card source response: %w", err)
	}

	if len(body.Cards) > n {
		body.Cards = body.Cards[:n]
	}
	return body.Cards, nil
}
