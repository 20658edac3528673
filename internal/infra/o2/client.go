// Package o2 is the REST client for the O2 order book on Fuel.
package o2

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"volume_miner/internal/domain"
	"volume_miner/internal/infra/wallet"
)

var (
	errNotFound      = errors.New("not found")
	errNonceMismatch = errors.New("nonce mismatch")
)

type session struct {
	owner          domain.Signer
	key            *wallet.FuelSigner
	tradeAccountID string
	contractID     string
	chainID        uint64
	nonce          uint64
	// stale is set after a failed submission; the venue may have consumed
	// the nonce even though no response arrived.
	stale bool
}

// Client implements domain.TradingVenue against the O2 REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time

	// mu serializes session setup and every nonce-consuming submission.
	mu      sync.Mutex
	session *session
}

// NewClient creates a venue client for baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		logger: slog.Default().With("module", "o2_client"),
		now:    time.Now,
	}
}

// InitSession resolves the trade account and registers a fresh session key
// signed by the owner wallet. Calling it again after success is a no-op.
func (c *Client) InitSession(ctx context.Context, params domain.SessionParams) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil {
		return nil
	}
	if params.Signer == nil {
		return fmt.Errorf("init session: no signer")
	}

	chainID, err := c.fetchChainID(ctx, params.NetworkURL)
	if err != nil {
		return fmt.Errorf("init session: chain id: %w", err)
	}

	owner := params.Signer.Address()
	tradeAccountID, err := c.tradeAccount(ctx, owner)
	if err != nil {
		return fmt.Errorf("init session: trade account: %w", err)
	}

	key, err := wallet.GenerateSessionSigner()
	if err != nil {
		return fmt.Errorf("init session: %w", err)
	}

	payload := sessionPayload{
		ContractID:     params.TradingContract,
		ChainID:        chainID,
		TradeAccountID: tradeAccountID,
		SessionID:      key.Address(),
		Expiry:         c.now().Add(sessionExpiry).Unix(),
	}
	msg, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	sig, err := params.Signer.Sign(msg)
	if err != nil {
		return fmt.Errorf("init session: sign: %w", err)
	}

	var resp sessionResponse
	req := sessionRequest{Owner: owner, sessionPayload: payload, Signature: hexutil.Encode(sig)}
	if err := c.doJSON(ctx, http.MethodPut, sessionPath, nil, tradeAccountID, req, &resp); err != nil {
		return fmt.Errorf("init session: %w", err)
	}

	c.session = &session{
		owner:          params.Signer,
		key:            key,
		tradeAccountID: tradeAccountID,
		contractID:     params.TradingContract,
		chainID:        chainID,
		nonce:          resp.Nonce,
	}
	c.logger.Info("O2 session ready",
		slog.String("owner", owner),
		slog.String("trade_account", tradeAccountID),
		slog.String("session_id", key.Address()),
		slog.Uint64("chain_id", chainID),
	)
	return nil
}

// ResolveMarket fetches the current market list and picks the configured pair.
func (c *Client) ResolveMarket(ctx context.Context, cfg domain.MarketConfig) (*domain.Market, error) {
	if !c.ready() {
		return nil, domain.ErrNotInitialized
	}

	markets, err := c.ListMarkets(ctx)
	if err != nil {
		return nil, err
	}

	m, ok := domain.MatchMarket(markets, cfg)
	if !ok {
		return nil, fmt.Errorf("%w: %s (%s/%s)", domain.ErrMarketNotFound, cfg.ID, cfg.BaseSymbol, cfg.QuoteSymbol)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("market %s: %w", m.ID, err)
	}
	out := *m
	return &out, nil
}

// ListMarkets returns the venue's market list. It needs no session.
func (c *Client) ListMarkets(ctx context.Context) ([]domain.Market, error) {
	var resp marketsResponse
	if err := c.doJSON(ctx, http.MethodGet, marketsPath, nil, "", nil, &resp); err != nil {
		return nil, fmt.Errorf("list markets: %w", err)
	}
	return resp.Markets, nil
}

// SubmitOrder signs and sends a single create-order action.
func (c *Client) SubmitOrder(ctx context.Context, market *domain.Market, order domain.Order) (*domain.OrderResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.session
	if s == nil {
		return nil, domain.ErrNotInitialized
	}

	if s.stale {
		if err := c.resyncNonce(ctx, s); err != nil {
			return nil, err
		}
	}

	contractID := market.ContractID
	if contractID == "" {
		contractID = s.contractID
	}
	payload := actionsPayload{
		ChainID:    s.chainID,
		ContractID: contractID,
		MarketID:   market.ID,
		Nonce:      s.nonce,
		Actions: []action{{CreateOrder: &createOrder{
			Side:      sideName(order.Side),
			OrderType: string(order.Type),
			Price:     order.Price,
			Quantity:  order.Quantity,
		}}},
	}
	msg, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	sig, err := s.key.Sign(msg)
	if err != nil {
		return nil, fmt.Errorf("sign actions: %w", err)
	}

	var resp actionsResponse
	req := actionsRequest{
		TradeAccountID: s.tradeAccountID,
		SessionID:      s.key.Address(),
		actionsPayload: payload,
		Signature:      hexutil.Encode(sig),
	}
	if err := c.doJSON(ctx, http.MethodPost, sessionActionsPath, nil, s.tradeAccountID, req, &resp); err != nil {
		s.stale = true
		return nil, err
	}

	// the nonce is consumed once the venue accepted the transaction
	s.nonce++
	if resp.Nonce != "" {
		if n, err := strconv.ParseUint(resp.Nonce, 10, 64); err == nil {
			s.nonce = n
		}
	}

	result := &domain.OrderResult{TxID: resp.TxID}
	for _, o := range resp.Orders {
		if o.OrderID != "" {
			result.OrderIDs = append(result.OrderIDs, o.OrderID)
		}
	}
	c.logger.Debug("O2 actions submitted",
		slog.String("market", market.ID),
		slog.String("side", string(order.Side)),
		slog.String("tx_id", resp.TxID),
		slog.Int("orders", len(result.OrderIDs)),
	)
	return result, nil
}

func (c *Client) ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session != nil
}

// resyncNonce reads the session nonce back from the venue. Callers hold c.mu.
func (c *Client) resyncNonce(ctx context.Context, s *session) error {
	var resp accountResponse
	query := url.Values{"owner": {s.owner.Address()}}
	if err := c.doJSON(ctx, http.MethodGet, accountsPath, query, "", nil, &resp); err != nil {
		return fmt.Errorf("resync nonce: %w", err)
	}
	s.stale = false
	if resp.Nonce == "" {
		c.logger.Warn("NONCE_RESYNC_UNAVAILABLE", slog.Uint64("local", s.nonce))
		return nil
	}
	n, err := strconv.ParseUint(resp.Nonce, 10, 64)
	if err != nil {
		s.stale = true
		return fmt.Errorf("resync nonce: parse %q: %w", resp.Nonce, err)
	}
	if n != s.nonce {
		c.logger.Warn("NONCE_RESYNCED", slog.Uint64("local", s.nonce), slog.Uint64("venue", n))
	}
	s.nonce = n
	return nil
}

func (c *Client) tradeAccount(ctx context.Context, owner string) (string, error) {
	var resp accountResponse
	err := c.doJSON(ctx, http.MethodGet, accountsPath, url.Values{"owner": {owner}}, "", nil, &resp)
	if errors.Is(err, errNotFound) {
		c.logger.Info("O2 trade account not found, creating", slog.String("owner", owner))
		err = c.doJSON(ctx, http.MethodPost, accountsPath, nil, "", createAccountRequest{Owner: owner}, &resp)
	}
	if err != nil {
		return "", err
	}
	if resp.TradeAccountID == "" {
		return "", fmt.Errorf("empty trade_account_id for owner %s", owner)
	}
	return resp.TradeAccountID, nil
}

func (c *Client) fetchChainID(ctx context.Context, networkURL string) (uint64, error) {
	if networkURL == "" {
		return 0, fmt.Errorf("network url is empty")
	}
	body, err := json.Marshal(graphQLRequest{Query: chainIDQuery})
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, networkURL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, domain.NewNetworkError("chain_id", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, domain.NewNetworkError("chain_id", err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, statusError("chain_id", resp.StatusCode, raw)
	}

	var out chainIDResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return 0, fmt.Errorf("parse chain id response: %w", err)
	}
	if len(out.Errors) > 0 {
		return 0, fmt.Errorf("graphql: %s", out.Errors[0].Message)
	}
	id, err := strconv.ParseUint(unquote(out.Data.Chain.ConsensusParameters.ChainID), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse chain id: %w", err)
	}
	return id, nil
}

// doJSON sends body as JSON and decodes a 2xx response into out.
func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, ownerID string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if ownerID != "" {
		req.Header.Set(ownerHeader, ownerID)
	}

	op := strings.ToLower(method) + " " + path
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.NewNetworkError(op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.NewNetworkError(op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(op, resp.StatusCode, raw)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: parse response: %w", op, err)
	}
	return nil
}

// statusError maps HTTP failures: 5xx and 429 are retriable, other 4xx are
// not, except a nonce rejection which the next submission repairs.
func statusError(op string, status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	var er errorResponse
	if json.Unmarshal(body, &er) == nil && er.text() != "" {
		msg = er.text()
	}
	err := fmt.Errorf("status=%d: %s", status, msg)

	switch {
	case status == http.StatusNotFound:
		return domain.NewFatalNetworkError(op, fmt.Errorf("%w: %w", errNotFound, err))
	case status >= 500 || status == http.StatusTooManyRequests:
		return domain.NewNetworkError(op, err)
	case strings.Contains(strings.ToLower(msg), "nonce"):
		return domain.NewNetworkError(op, fmt.Errorf("%w: %w", errNonceMismatch, err))
	default:
		return domain.NewFatalNetworkError(op, err)
	}
}
