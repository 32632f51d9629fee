package currency

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Rates is a provider snapshot: one unit of Base buys Rates[code] of code.
type Rates struct {
	Base  string                     `json:"base"`
	Date  string                     `json:"date"`
	Rates map[string]decimal.Decimal `json:"rates"`
}

// RatesProvider fetches the latest rates for a base currency.
type RatesProvider interface {
	Latest(ctx context.Context, base string) (Rates, error)
}

// RatesClient calls GET {baseURL}/latest/{base}.
type RatesClient struct {
	baseURL string
	http    *http.Client
}

var _ RatesProvider = (*RatesClient)(nil)

func NewRatesClient(baseURL string, timeout time.Duration) *RatesClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RatesClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *RatesClient) Latest(ctx context.Context, base string) (Rates, error) {
	endpoint := c.baseURL + "/latest/" + url.PathEscape(base)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Rates{}, fmt.Errorf("build rates request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Rates{}, fmt.Errorf("fetch rates: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Rates{}, fmt.Errorf("rates provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out Rates
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return Rates{}, fmt.Errorf("decode rates: %w", err)
	}
	if len(out.Rates) == 0 {
		return Rates{}, fmt.Errorf("rates provider returned no rates for %s", base)
	}
	return out, nil
}
