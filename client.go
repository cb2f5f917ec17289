package kstock

import (
	"context"
	"time"

	"github.com/gookit/goutil/strutil"
	"go.uber.org/zap"
)

const (
	// DefaultAPIBaseURL local backend for development
	DefaultAPIBaseURL = "http://localhost:8000"

	marketWSPath = "/ws/realtime"
	agentWSPath  = "/ws/agents"
)

// ClientConfig client configuration
type ClientConfig struct {
	APIBaseURL  string // REST base, also the origin websocket URLs derive from
	MarketWSURL string // explicit market channel override
	AgentWSURL  string // explicit agent channel override
	AccountID   string // simulated account; fetched from the backend when empty

	Log    LogConfig
	Logger *zap.Logger // takes precedence over Log when set

	MarketChannel ChannelConfig
	AgentChannel  ChannelConfig
}

// DefaultClientConfig local backend, exponential backoff on the market
// channel, fixed-interval retry on the agent channel.
func DefaultClientConfig() ClientConfig {
	market := DefaultChannelConfig()
	market.Name = "market"

	agent := DefaultChannelConfig()
	agent.Name = "agent"
	agent.Backoff = BackoffConfig{
		Policy:  BackoffFixed,
		Initial: 3 * time.Second,
		Max:     3 * time.Second,
	}

	return ClientConfig{
		APIBaseURL:    DefaultAPIBaseURL,
		Log:           LogConfig{Level: "info", OutputPath: "stdout"},
		MarketChannel: market,
		AgentChannel:  agent,
	}
}

// ClientOption functional option for ClientConfig
type ClientOption func(*ClientConfig)

// WithAPIBaseURL sets the REST base URL.
func WithAPIBaseURL(url string) ClientOption {
	return func(cfg *ClientConfig) { cfg.APIBaseURL = url }
}

// WithMarketWSURL overrides the market channel endpoint.
func WithMarketWSURL(url string) ClientOption {
	return func(cfg *ClientConfig) { cfg.MarketWSURL = url }
}

// WithAgentWSURL overrides the agent channel endpoint.
func WithAgentWSURL(url string) ClientOption {
	return func(cfg *ClientConfig) { cfg.AgentWSURL = url }
}

// WithAccountID pins the simulated account.
func WithAccountID(id string) ClientOption {
	return func(cfg *ClientConfig) { cfg.AccountID = id }
}

// WithLogConfig sets the logging configuration.
func WithLogConfig(lc LogConfig) ClientOption {
	return func(cfg *ClientConfig) { cfg.Log = lc }
}

// WithLogger injects a prebuilt logger.
func WithLogger(logger *zap.Logger) ClientOption {
	return func(cfg *ClientConfig) { cfg.Logger = logger }
}

// WithMarketBackoff tunes the market channel reconnect policy.
func WithMarketBackoff(b BackoffConfig) ClientOption {
	return func(cfg *ClientConfig) { cfg.MarketChannel.Backoff = b }
}

// WithAgentBackoff tunes the agent channel reconnect policy.
func WithAgentBackoff(b BackoffConfig) ClientOption {
	return func(cfg *ClientConfig) { cfg.AgentChannel.Backoff = b }
}

// Client the state-sync core: owns both push channels, the subscription
// registry, the market reconciler and the conversation store, and
// exposes read accessors plus the few commands the UI needs.
type Client struct {
	config ClientConfig
	logger *zap.Logger
	tokens TokenProvider

	rest          *RestClient
	registry      *SubscriptionRegistry
	rec           *MarketReconciler
	conversations *ConversationStore
	emitter       *EventEmitter

	market *MarketChannel
	agent  *AgentChannel

	ctx    context.Context
	cancel context.CancelFunc
}

// NewClient creates a client. tokens must be non-nil; it is wrapped
// with expiry-aware caching so every dial and REST call reuses a fresh
// token.
func NewClient(ctx context.Context, tokens TokenProvider, opts ...ClientOption) (*Client, error) {
	if tokens == nil {
		return nil, NewError("client.new", ErrInvalidConfig)
	}

	config := DefaultClientConfig()
	for _, opt := range opts {
		opt(&config)
	}

	logger := config.Logger
	if logger == nil {
		var err error
		logger, err = NewLogger(config.Log)
		if err != nil {
			return nil, NewError("client.new", err)
		}
	}

	cctx, cancel := context.WithCancel(ctx)

	cached := NewCachedTokenProvider(tokens, logger)
	registry := NewSubscriptionRegistry()
	rec := NewMarketReconciler(logger)
	store := NewConversationStore(logger)
	emitter := NewEventEmitter()

	marketCfg := config.MarketChannel
	marketCfg.Name = "market"
	marketCfg.URL = resolveChannelURL(config.MarketWSURL, config.APIBaseURL, marketWSPath)
	marketCfg.Logger = logger

	agentCfg := config.AgentChannel
	agentCfg.Name = "agent"
	agentCfg.URL = resolveChannelURL(config.AgentWSURL, config.APIBaseURL, agentWSPath)
	agentCfg.Logger = logger

	c := &Client{
		config:        config,
		logger:        logger,
		tokens:        cached,
		rest:          NewRestClient(config.APIBaseURL, cached, logger),
		registry:      registry,
		rec:           rec,
		conversations: store,
		emitter:       emitter,
		ctx:           cctx,
		cancel:        cancel,
	}

	c.market = NewMarketChannel(cctx, marketCfg, cached, registry, rec, emitter)
	c.agent = NewAgentChannel(cctx, agentCfg, cached, store, emitter)

	for _, ch := range []*PersistentChannel{c.market.PersistentChannel, c.agent.PersistentChannel} {
		name := ch.config.Name
		ch.OnStatus(func(status ChannelStatus) {
			emitter.Emit(EventConnection, map[string]interface{}{
				"channel": name,
				"status":  status.String(),
			})
		})
		ch.OnError(func(err error) {
			emitter.Emit(EventError, err)
		})
	}

	return c, nil
}

// Connect opens both push channels. The market channel is mandatory;
// an agent channel failure is logged and left to its reconnect loop.
func (c *Client) Connect() error {
	if err := c.market.Connect(); err != nil {
		return err
	}
	if err := c.agent.Connect(); err != nil {
		c.logger.Warn("agent channel connect failed, continuing without it", zap.Error(err))
	}
	return nil
}

// Disconnect closes both channels without releasing the client.
func (c *Client) Disconnect() {
	c.market.Disconnect()
	c.agent.Disconnect()
}

// Close shuts the client down permanently.
func (c *Client) Close() error {
	c.market.Close()
	c.agent.Close()
	c.cancel()
	return nil
}

// Bootstrap loads the instrument list and the portfolio over REST and
// subscribes to every visible instrument.
func (c *Client) Bootstrap(ctx context.Context) error {
	if err := c.LoadStocks(ctx); err != nil {
		return err
	}
	return c.LoadPortfolio(ctx)
}

// LoadStocks fetches the instrument list, seeds the reconciler and
// widens the subscription to all visible instruments.
func (c *Client) LoadStocks(ctx context.Context) error {
	stocks, err := c.rest.ListStocks(ctx)
	if err != nil {
		return err
	}
	c.rec.SetStocks(stocks)

	codes := make([]string, 0, len(stocks))
	for _, s := range stocks {
		codes = append(codes, s.Code)
	}
	c.market.Subscribe(codes...)
	return nil
}

// LoadPortfolio fetches the account and holdings. When no account id
// is configured the backend's default account is used.
func (c *Client) LoadPortfolio(ctx context.Context) error {
	accountID := c.config.AccountID
	if accountID == "" {
		acc, err := c.rest.Account(ctx)
		if err != nil {
			return err
		}
		accountID = acc.AccountID
		c.config.AccountID = accountID
	}

	pf, err := c.rest.Portfolio(ctx, accountID)
	if err != nil {
		return err
	}
	c.rec.SetPortfolio(pf.Account, pf.Holdings)
	c.emitter.EmitSync(EventPortfolio, c.rec.Account())

	for _, h := range pf.Holdings {
		c.market.Subscribe(h.Code)
	}
	return nil
}

// SelectStock moves the focus to code: the reconciler switches over,
// the code joins the subscription set, and a bootstrap quote is fetched
// in the background. The fetch result is discarded when the focus has
// moved on by the time it resolves.
func (c *Client) SelectStock(code string) error {
	if strutil.IsBlank(code) {
		return NewError("client.select_stock", ErrInvalidStockCode)
	}
	c.rec.SelectStock(code)
	c.market.Subscribe(code)

	go c.bootstrapSelected(code)
	return nil
}

func (c *Client) bootstrapSelected(code string) {
	ctx, cancel := context.WithTimeout(c.ctx, DefaultHTTPTimeout)
	defer cancel()

	sp, err := c.rest.StockPrice(ctx, code)
	if err != nil {
		c.logger.Debug("bootstrap quote fetch failed", zap.String("code", code), zap.Error(err))
		return
	}
	if c.rec.SelectedCode() != code {
		c.logger.Debug("discarding stale bootstrap quote", zap.String("code", code))
		return
	}
	c.rec.ApplyRestPrice(sp)
}

// LoadCandles fetches bar history for code and hands it to deliver,
// unless the focus has moved to another instrument in the meantime.
func (c *Client) LoadCandles(code, period string, deliver func([]Candle)) {
	go func() {
		ctx, cancel := context.WithTimeout(c.ctx, DefaultHTTPTimeout)
		defer cancel()

		candles, err := c.rest.Candles(ctx, code, period)
		if err != nil {
			c.logger.Debug("candle fetch failed", zap.String("code", code), zap.Error(err))
			return
		}
		if c.rec.SelectedCode() != code {
			c.logger.Debug("discarding stale candle fetch", zap.String("code", code))
			return
		}
		if deliver != nil {
			deliver(candles)
		}
	}()
}

// Subscribe adds codes to the market subscription.
func (c *Client) Subscribe(codes ...string) {
	c.market.Subscribe(codes...)
}

// PlaceOrder submits an order for the configured account and refreshes
// the portfolio on success.
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	if req.AccountID == "" {
		req.AccountID = c.config.AccountID
	}
	order, err := c.rest.PlaceOrder(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := c.LoadPortfolio(ctx); err != nil {
		c.logger.Warn("portfolio refresh after order failed", zap.Error(err))
	}
	return order, nil
}

// On registers an event handler, returning an id for Off.
func (c *Client) On(event EventType, handler EventHandler) int {
	return c.emitter.On(event, handler)
}

// Off removes a handler registered with On.
func (c *Client) Off(event EventType, id int) {
	c.emitter.Off(event, id)
}

// Rest exposes the REST collaborator for calls the client does not wrap.
func (c *Client) Rest() *RestClient {
	return c.rest
}

// Stocks returns the current instrument list.
func (c *Client) Stocks() []StockQuote {
	return c.rec.Stocks()
}

// Selected returns the focused quote, nil when none arrived yet.
func (c *Client) Selected() *SelectedPrice {
	return c.rec.Selected()
}

// Orderbook returns the focused orderbook, nil when none.
func (c *Client) Orderbook() *OrderbookSnapshot {
	return c.rec.Orderbook()
}

// Holdings returns the current holdings.
func (c *Client) Holdings() []Holding {
	return c.rec.Holdings()
}

// Account returns the account snapshot.
func (c *Client) Account() AccountSnapshot {
	return c.rec.Account()
}

// Conversations returns all agent conversations in arrival order.
func (c *Client) Conversations() []Conversation {
	return c.conversations.Conversations()
}

// ActiveConversation returns the conversation in progress, if any.
func (c *Client) ActiveConversation() (Conversation, bool) {
	return c.conversations.Active()
}

// MarketStatus returns the market channel connection status.
func (c *Client) MarketStatus() ChannelStatus {
	return c.market.Status()
}

// AgentStatus returns the agent channel connection status.
func (c *Client) AgentStatus() ChannelStatus {
	return c.agent.Status()
}
