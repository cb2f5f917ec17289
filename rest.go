package kstock

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gookit/goutil/strutil"
	"go.uber.org/zap"
)

// DefaultHTTPTimeout transport timeout for REST calls
const DefaultHTTPTimeout = 30 * time.Second

// RestClient typed client for the backend REST API. It is the snapshot
// side of the sync model: bootstrap loads and commands go through REST,
// continuous updates arrive on the push channels.
type RestClient struct {
	baseURL string
	tokens  TokenProvider
	httpc   *http.Client
	logger  *zap.Logger
}

// NewRestClient creates a client rooted at baseURL (e.g. "http://localhost:8000").
func NewRestClient(baseURL string, tokens TokenProvider, logger *zap.Logger) *RestClient {
	if logger == nil {
		logger = NewDefaultLogger()
	}
	return &RestClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		httpc:   &http.Client{Timeout: DefaultHTTPTimeout},
		logger:  logger,
	}
}

// do runs one request with bearer auth and decodes the JSON response
// into out when out is non-nil.
func (rc *RestClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return NewError("rest."+method+" "+path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, rc.baseURL+path, reader)
	if err != nil {
		return NewError("rest."+method+" "+path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if rc.tokens != nil {
		token, err := rc.tokens.Token(ctx)
		if err != nil {
			return NewError("rest."+method+" "+path, err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := rc.httpc.Do(req)
	if err != nil {
		return NewError("rest."+method+" "+path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		rc.logger.Warn("request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", payload))
		return NewError("rest."+method+" "+path,
			fmt.Errorf("%w: status %d", ErrRequestFailed, resp.StatusCode))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return NewError("rest."+method+" "+path, err)
	}
	return nil
}

func (rc *RestClient) get(ctx context.Context, path string, out interface{}) error {
	return rc.do(ctx, http.MethodGet, path, nil, out)
}

func (rc *RestClient) post(ctx context.Context, path string, body, out interface{}) error {
	return rc.do(ctx, http.MethodPost, path, body, out)
}

// ListStocks fetches the tracked instrument list.
func (rc *RestClient) ListStocks(ctx context.Context) ([]StockQuote, error) {
	var stocks []StockQuote
	if err := rc.get(ctx, "/api/market/stocks", &stocks); err != nil {
		return nil, err
	}
	return stocks, nil
}

// StockPrice fetches the rich quote for one instrument.
func (rc *RestClient) StockPrice(ctx context.Context, code string) (*SelectedPrice, error) {
	if strutil.IsBlank(code) {
		return nil, NewError("rest.stock_price", ErrInvalidStockCode)
	}
	var sp SelectedPrice
	if err := rc.get(ctx, "/api/market/price/"+url.PathEscape(code), &sp); err != nil {
		return nil, err
	}
	if sp.Code == "" {
		sp.Code = code
	}
	return &sp, nil
}

// Indices fetches the market index quotes.
func (rc *RestClient) Indices(ctx context.Context) ([]StockQuote, error) {
	var indices []StockQuote
	if err := rc.get(ctx, "/api/market/indices", &indices); err != nil {
		return nil, err
	}
	return indices, nil
}

// Status fetches the market open/closed state.
func (rc *RestClient) Status(ctx context.Context) (*MarketStatus, error) {
	var ms MarketStatus
	if err := rc.get(ctx, "/api/market/status", &ms); err != nil {
		return nil, err
	}
	return &ms, nil
}

// Candles fetches bar history for one instrument.
func (rc *RestClient) Candles(ctx context.Context, code, period string) ([]Candle, error) {
	if strutil.IsBlank(code) {
		return nil, NewError("rest.candles", ErrInvalidStockCode)
	}
	path := "/api/market/candles/" + url.PathEscape(code)
	if period != "" {
		path += "?period=" + url.QueryEscape(period)
	}
	var candles []Candle
	if err := rc.get(ctx, path, &candles); err != nil {
		return nil, err
	}
	return candles, nil
}

// Account fetches the simulated account, creating one server-side on
// first use.
func (rc *RestClient) Account(ctx context.Context) (*AccountSnapshot, error) {
	var acc AccountSnapshot
	if err := rc.get(ctx, "/api/account", &acc); err != nil {
		return nil, err
	}
	return &acc, nil
}

// CreateAccount creates a fresh simulated account. A zero
// initialCapital uses the backend default.
func (rc *RestClient) CreateAccount(ctx context.Context, initialCapital int64) (*AccountSnapshot, error) {
	body := map[string]interface{}{}
	if initialCapital > 0 {
		body["initial_capital"] = initialCapital
	}
	var acc AccountSnapshot
	if err := rc.post(ctx, "/api/account", body, &acc); err != nil {
		return nil, err
	}
	return &acc, nil
}

// PortfolioResponse account plus holdings as returned by the backend.
type PortfolioResponse struct {
	Account  AccountSnapshot `json:"account"`
	Holdings []Holding       `json:"holdings"`
}

// Portfolio fetches the account snapshot and its holdings.
func (rc *RestClient) Portfolio(ctx context.Context, accountID string) (*PortfolioResponse, error) {
	if strutil.IsBlank(accountID) {
		return nil, NewError("rest.portfolio", ErrInvalidConfig)
	}
	var pf PortfolioResponse
	if err := rc.get(ctx, "/api/account/portfolio/"+url.PathEscape(accountID), &pf); err != nil {
		return nil, err
	}
	return &pf, nil
}

// PlaceOrder submits an order. The price is gated client-side by the
// tick rules; business validity (balance, quantity) stays with the
// backend. A missing RequestID is filled with a fresh uuid so retries
// are idempotent.
func (rc *RestClient) PlaceOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	if strutil.IsBlank(req.Code) {
		return nil, NewError("rest.place_order", ErrInvalidStockCode)
	}
	if !ValidTickPrice(req.Price) {
		return nil, NewError("rest.place_order", ErrTickMismatch)
	}
	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}
	var order Order
	if err := rc.post(ctx, "/api/orders", req, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// Orders lists the orders of an account.
func (rc *RestClient) Orders(ctx context.Context, accountID string) ([]Order, error) {
	path := "/api/orders"
	if accountID != "" {
		path += "?account_id=" + url.QueryEscape(accountID)
	}
	var orders []Order
	if err := rc.get(ctx, path, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// CancelOrder cancels a pending order.
func (rc *RestClient) CancelOrder(ctx context.Context, orderID string) error {
	if strutil.IsBlank(orderID) {
		return NewError("rest.cancel_order", ErrInvalidConfig)
	}
	return rc.do(ctx, http.MethodDelete, "/api/orders/"+url.PathEscape(orderID), nil, nil)
}

// ConversationRecord a persisted conversation summary from the backend.
type ConversationRecord struct {
	ConversationID string `json:"conversation_id"`
	InitiatorAgent string `json:"initiator_agent"`
	TargetAgent    string `json:"target_agent"`
	Topic          string `json:"topic"`
	Conclusion     string `json:"conclusion"`
	TriggerEvent   string `json:"trigger_event,omitempty"`
}

// WorldState fetches the agent world layout. The payload shape is
// owned by the backend; callers decode what they need.
func (rc *RestClient) WorldState(ctx context.Context) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := rc.get(ctx, "/api/agents/world", &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// AskAgent sends a direct question to one agent.
func (rc *RestClient) AskAgent(ctx context.Context, agentType, question string) (json.RawMessage, error) {
	var raw json.RawMessage
	body := map[string]string{"agent_type": agentType, "question": question}
	if err := rc.post(ctx, "/api/agents/ask", body, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// TriggerMeeting asks the backend to convene a meeting; the meeting
// itself streams in over the agent channel.
func (rc *RestClient) TriggerMeeting(ctx context.Context, meetingType string) error {
	body := map[string]string{"meeting_type": meetingType}
	return rc.post(ctx, "/api/agents/meeting", body, nil)
}

// StartDebate asks the backend to start a debate on topic.
func (rc *RestClient) StartDebate(ctx context.Context, topic string) error {
	body := map[string]string{"topic": topic}
	return rc.post(ctx, "/api/agents/debate", body, nil)
}

// AgentOpinions fetches agent opinions on one instrument.
func (rc *RestClient) AgentOpinions(ctx context.Context, code string) (json.RawMessage, error) {
	if strutil.IsBlank(code) {
		return nil, NewError("rest.opinions", ErrInvalidStockCode)
	}
	var raw json.RawMessage
	if err := rc.get(ctx, "/api/agents/opinions/"+url.PathEscape(code), &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// RecentConversations fetches persisted conversation summaries.
func (rc *RestClient) RecentConversations(ctx context.Context, limit int) ([]ConversationRecord, error) {
	path := "/api/agents/conversations"
	if limit > 0 {
		path += fmt.Sprintf("?limit=%d", limit)
	}
	var records []ConversationRecord
	if err := rc.get(ctx, path, &records); err != nil {
		return nil, err
	}
	return records, nil
}
