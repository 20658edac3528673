package o2

import (
	"encoding/json"
	"strings"
	"time"

	"volume_miner/internal/domain"
)

const (
	marketsPath        = "/v1/markets"
	accountsPath       = "/v1/accounts"
	sessionPath        = "/v1/session"
	sessionActionsPath = "/v1/session/actions"

	ownerHeader   = "O2-Owner-Id"
	sessionExpiry = 30 * 24 * time.Hour
	chainIDQuery  = `{ chain { consensusParameters { chainId } } }`
)

type marketsResponse struct {
	Markets []domain.Market `json:"markets"`
}

type accountResponse struct {
	TradeAccountID string `json:"trade_account_id"`
	Nonce          string `json:"nonce,omitempty"`
}

type createAccountRequest struct {
	Owner string `json:"owner"`
}

// sessionPayload is the message the owner signs to delegate trading to the
// session key. Field order is part of the signed bytes.
type sessionPayload struct {
	ContractID     string `json:"contract_id"`
	ChainID        uint64 `json:"chain_id,string"`
	TradeAccountID string `json:"trade_account_id"`
	SessionID      string `json:"session_id"`
	Expiry         int64  `json:"expiry"`
}

type sessionRequest struct {
	Owner string `json:"owner"`
	sessionPayload
	Signature string `json:"signature"`
}

type sessionResponse struct {
	Nonce uint64 `json:"nonce,string"`
}

type createOrder struct {
	Side      string `json:"side"`
	OrderType string `json:"order_type"`
	Price     string `json:"price"`
	Quantity  string `json:"quantity"`
}

type action struct {
	CreateOrder *createOrder `json:"create_order,omitempty"`
}

// actionsPayload is signed by the session key for every submission.
type actionsPayload struct {
	ChainID    uint64   `json:"chain_id,string"`
	ContractID string   `json:"contract_id"`
	MarketID   string   `json:"market_id"`
	Nonce      uint64   `json:"nonce,string"`
	Actions    []action `json:"actions"`
}

type actionsRequest struct {
	TradeAccountID string `json:"trade_account_id"`
	SessionID      string `json:"session_id"`
	actionsPayload
	Signature string `json:"signature"`
}

type actionsResponse struct {
	TxID   string `json:"tx_id"`
	Orders []struct {
		OrderID string `json:"order_id"`
	} `json:"orders"`
	Nonce   string `json:"nonce,omitempty"`
	Message string `json:"message,omitempty"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (e errorResponse) text() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Error != "":
		return e.Error
	}
	return e.Code
}

type graphQLRequest struct {
	Query string `json:"query"`
}

type chainIDResponse struct {
	Data struct {
		Chain struct {
			ConsensusParameters struct {
				ChainID json.RawMessage `json:"chainId"`
			} `json:"consensusParameters"`
		} `json:"chain"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func sideName(s domain.Side) string {
	return string(s)
}

func unquote(raw json.RawMessage) string {
	return strings.Trim(strings.TrimSpace(string(raw)), `"`)
}
