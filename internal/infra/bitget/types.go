package bitget

import (
	"encoding/json"
	"strings"
	"time"
)

const (
	DefaultRESTURL = "https://api.bitget.com"
	DefaultWSURL   = "wss://ws.bitget.com/v2/ws/public"

	tickersPath  = "/api/v2/spot/market/tickers"
	successCode  = "00000"
	pingInterval = 30 * time.Second
	readTimeout  = 60 * time.Second
)

// apiResponse is the common REST envelope.
type apiResponse struct {
	Code        string          `json:"code"`
	Msg         string          `json:"msg"`
	RequestTime int64           `json:"requestTime"`
	Data        json.RawMessage `json:"data"`
}

// restTicker is one entry of the spot tickers endpoint.
type restTicker struct {
	Symbol    string `json:"symbol"`
	LastPr    string `json:"lastPr"`
	BidPr     string `json:"bidPr"`
	AskPr     string `json:"askPr"`
	BaseVol   string `json:"baseVolume"`
	Timestamp string `json:"ts"`
}

// subscribeRequest Structure
type subscribeRequest struct {
	Op   string         `json:"op"`
	Args []subscribeArg `json:"args"`
}

type subscribeArg struct {
	InstType string `json:"instType"`
	Channel  string `json:"channel"`
	InstId   string `json:"instId"`
}

// tickerResponse Structure
type tickerResponse struct {
	Action string          `json:"action"`
	Event  string          `json:"event"`
	Code   json.RawMessage `json:"code"`
	Msg    string          `json:"msg"`
	Arg    subscribeArg    `json:"arg"`
	Data   []tickerData    `json:"data"`
	Ts     int64           `json:"ts"`
}

type tickerData struct {
	InstId     string `json:"instId"`
	LastPr     string `json:"lastPr"`
	BaseVolume string `json:"baseVolume"`
	Ts         string `json:"ts"`
}

// NormalizeSymbol turns "eth/usdt" or "ETH-USDT" into "ETHUSDT".
func NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	return strings.NewReplacer("/", "", "-", "", "_", "").Replace(s)
}
