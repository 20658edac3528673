package bitget

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"volume_miner/internal/domain"
)

// Client is the Bitget V2 public REST client used as a price source.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a REST price source. An empty baseURL selects mainnet.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultRESTURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		logger: slog.Default().With("module", "bitget_client"),
	}
}

// FetchLastPrice returns the last traded spot price for symbol.
func (c *Client) FetchLastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	sym := NormalizeSymbol(symbol)
	if sym == "" {
		return decimal.Zero, fmt.Errorf("%w: empty symbol", domain.ErrPriceUnavailable)
	}

	var tickers []restTicker
	if err := c.get(ctx, tickersPath, url.Values{"symbol": {sym}}, &tickers); err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s: %w", domain.ErrPriceUnavailable, sym, err)
	}

	for _, t := range tickers {
		if t.Symbol != "" && t.Symbol != sym {
			continue
		}
		price, err := decimal.NewFromString(t.LastPr)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: %s: bad lastPr %q: %w", domain.ErrPriceUnavailable, sym, t.LastPr, err)
		}
		if !price.IsPositive() {
			return decimal.Zero, fmt.Errorf("%w: %s: non-positive price %s", domain.ErrPriceUnavailable, sym, price)
		}
		c.logger.Debug("PRICE_FETCHED", slog.String("symbol", sym), slog.String("price", price.String()))
		return price, nil
	}
	return decimal.Zero, fmt.Errorf("%w: %s: symbol not in response", domain.ErrPriceUnavailable, sym)
}

// get performs a public GET and decodes the envelope's data into out.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("locale", "en-US")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.NewNetworkError("tickers", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.NewNetworkError("tickers", err)
	}
	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		return domain.NewNetworkError("tickers", fmt.Errorf("status=%d body=%s", resp.StatusCode, body))
	}

	var apiResp apiResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		if resp.StatusCode != http.StatusOK {
			return domain.NewFatalNetworkError("tickers", fmt.Errorf("status=%d body=%s", resp.StatusCode, body))
		}
		return fmt.Errorf("failed to parse response: %w", err)
	}
	if apiResp.Code != successCode {
		return domain.NewFatalNetworkError("tickers", fmt.Errorf("bitget business error: code=%s msg=%s", apiResp.Code, apiResp.Msg))
	}
	if len(apiResp.Data) == 0 {
		return errors.New("empty data")
	}
	if err := json.Unmarshal(apiResp.Data, out); err != nil {
		return fmt.Errorf("failed to parse data: %w", err)
	}
	return nil
}
