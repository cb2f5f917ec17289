package kstock

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// ChannelStatus connection state of a push channel
type ChannelStatus int

const (
	StatusIdle         ChannelStatus = 0
	StatusConnecting   ChannelStatus = 1
	StatusOpen         ChannelStatus = 2
	StatusReconnecting ChannelStatus = 3
)

func (s ChannelStatus) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusConnecting:
		return "connecting"
	case StatusOpen:
		return "open"
	case StatusReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// BackoffPolicy reconnect delay growth mode
type BackoffPolicy int

const (
	BackoffFixed       BackoffPolicy = 0
	BackoffExponential BackoffPolicy = 1
)

// BackoffConfig reconnect delay policy
type BackoffConfig struct {
	Policy  BackoffPolicy
	Initial time.Duration
	Max     time.Duration
}

// Delay returns the wait before the next attempt given the number of
// consecutive failures so far. Exponential doubles per failure and is
// capped at Max; fixed always returns Initial.
func (b BackoffConfig) Delay(failures int) time.Duration {
	if b.Policy == BackoffFixed {
		return b.Initial
	}
	if failures < 0 {
		failures = 0
	}
	// shifting past 62 bits would overflow time.Duration
	if failures > 32 {
		return b.Max
	}
	d := b.Initial << uint(failures)
	if d > b.Max || d <= 0 {
		d = b.Max
	}
	return d
}

// ChannelConfig configuration for one persistent channel
type ChannelConfig struct {
	Name         string // used in logs, e.g. "market", "agent"
	URL          string
	PingInterval time.Duration // 0 disables keep-alive pings
	PingMessage  string
	Backoff      BackoffConfig
	Logger       *zap.Logger
}

// DefaultChannelConfig exponential backoff, 20s ping
func DefaultChannelConfig() ChannelConfig {
	return ChannelConfig{
		PingInterval: 20 * time.Second,
		PingMessage:  "ping",
		Backoff: BackoffConfig{
			Policy:  BackoffExponential,
			Initial: 1 * time.Second,
			Max:     30 * time.Second,
		},
	}
}

// PersistentChannel one self-healing websocket connection.
//
// The channel owns exactly one socket at a time. An unintentional close
// schedules a single reconnect timer; an intentional Disconnect suppresses
// reconnection. A fresh token is obtained from the TokenProvider before
// every dial and the attempt is abandoned when none is available.
type PersistentChannel struct {
	config ChannelConfig
	tokens TokenProvider
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	status        ChannelStatus
	conn          *websocket.Conn
	connCtx       context.Context
	connCancel    context.CancelFunc
	intentional   bool
	failures      int
	reconnectTask *time.Timer
	queue         []string

	// timer scheduling indirection, replaced in tests
	afterFunc func(d time.Duration, f func()) *time.Timer

	onMessage func(data []byte)
	onOpen    func()
	onClose   func()
	onError   func(error)
	onStatus  func(ChannelStatus)
}

// NewPersistentChannel creates a channel bound to ctx. The channel does
// not dial until Connect is called.
func NewPersistentChannel(ctx context.Context, config ChannelConfig, tokens TokenProvider) *PersistentChannel {
	if config.Logger == nil {
		config.Logger = NewDefaultLogger()
	}
	if config.Backoff.Initial <= 0 {
		config.Backoff = DefaultChannelConfig().Backoff
	}
	if config.PingMessage == "" {
		config.PingMessage = "ping"
	}

	cctx, cancel := context.WithCancel(ctx)

	return &PersistentChannel{
		config:    config,
		tokens:    tokens,
		logger:    config.Logger.With(zap.String("channel", config.Name)),
		ctx:       cctx,
		cancel:    cancel,
		status:    StatusIdle,
		queue:     make([]string, 0),
		afterFunc: time.AfterFunc,
	}
}

// Connect opens the channel. Calling Connect on an open channel is a
// no-op apart from re-running the open hook, so callers can use it to
// re-announce their subscriptions. A connect already in flight is not
// duplicated.
func (pc *PersistentChannel) Connect() error {
	pc.mu.Lock()
	// an explicit Connect always re-arms auto-reconnect, even when the
	// socket still looks open after a just-issued Disconnect
	pc.intentional = false
	switch pc.status {
	case StatusOpen:
		onOpen := pc.onOpen
		pc.mu.Unlock()
		if onOpen != nil {
			onOpen()
		}
		return nil
	case StatusConnecting:
		pc.mu.Unlock()
		return nil
	}
	pc.stopReconnectLocked()
	pc.setStatusLocked(StatusConnecting)
	pc.mu.Unlock()

	if err := pc.dial(); err != nil {
		pc.mu.Lock()
		pc.setStatusLocked(StatusIdle)
		pc.mu.Unlock()
		return NewError("channel.connect", err)
	}
	return nil
}

// dial fetches a token, opens the socket and starts the read loop.
func (pc *PersistentChannel) dial() error {
	token, err := pc.fetchToken()
	if err != nil {
		pc.logger.Warn("token unavailable, abandoning connect attempt", zap.Error(err))
		return err
	}

	target := pc.config.URL
	if token != "" {
		u, perr := url.Parse(target)
		if perr != nil {
			return perr
		}
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
		target = u.String()
	}

	pc.logger.Info("connecting", zap.String("url", pc.config.URL))

	connCtx, connCancel := context.WithCancel(pc.ctx)
	opts := &websocket.DialOptions{
		CompressionMode: websocket.CompressionContextTakeover,
	}
	conn, _, err := websocket.Dial(connCtx, target, opts)
	if err != nil {
		connCancel()
		pc.logger.Error("dial failed", zap.Error(err))
		return err
	}

	pc.mu.Lock()
	pc.conn = conn
	pc.connCtx = connCtx
	pc.connCancel = connCancel
	pc.failures = 0
	pc.setStatusLocked(StatusOpen)
	onOpen := pc.onOpen
	pc.mu.Unlock()

	if onOpen != nil {
		onOpen()
	}
	pc.flushQueue()

	go pc.receiveLoop(conn, connCtx)
	if pc.config.PingInterval > 0 {
		go pc.pingLoop(conn, connCtx)
	}

	return nil
}

func (pc *PersistentChannel) fetchToken() (string, error) {
	if pc.tokens == nil {
		return "", nil
	}
	ctx, cancel := context.WithTimeout(pc.ctx, 10*time.Second)
	defer cancel()
	token, err := pc.tokens.Token(ctx)
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", ErrTokenUnavailable
	}
	return token, nil
}

// Send marshals obj (strings pass through raw) and writes it, queueing
// when the socket is not ready. Queued messages flush on the next open.
func (pc *PersistentChannel) Send(obj interface{}) error {
	var payload string
	switch v := obj.(type) {
	case string:
		payload = v
	default:
		data, err := json.Marshal(obj)
		if err != nil {
			pc.logger.Error("marshal failed", zap.Error(err))
			return err
		}
		payload = string(data)
	}

	pc.mu.Lock()
	conn, connCtx := pc.conn, pc.connCtx
	ready := pc.status == StatusOpen && conn != nil
	if !ready {
		pc.queue = append(pc.queue, payload)
		pc.mu.Unlock()
		pc.logger.Debug("not ready, queueing message", zap.String("message", payload))
		return nil
	}
	pc.mu.Unlock()

	pc.logger.Debug("sending message", zap.String("message", payload))
	if err := conn.Write(connCtx, websocket.MessageText, []byte(payload)); err != nil {
		pc.logger.Error("write failed", zap.Error(err))
		return err
	}
	return nil
}

// IsReady reports whether the socket is open.
func (pc *PersistentChannel) IsReady() bool {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.status == StatusOpen && pc.conn != nil
}

// Status returns the current channel status.
func (pc *PersistentChannel) Status() ChannelStatus {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.status
}

// Disconnect closes the socket without scheduling a reconnect. Safe to
// call on an already closed channel.
func (pc *PersistentChannel) Disconnect() {
	pc.mu.Lock()
	pc.intentional = true
	pc.stopReconnectLocked()
	conn := pc.conn
	connCancel := pc.connCancel
	pc.mu.Unlock()

	if connCancel != nil {
		connCancel()
	}
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
}

// Close disconnects and releases the channel permanently.
func (pc *PersistentChannel) Close() error {
	pc.Disconnect()
	pc.cancel()
	return nil
}

// receiveLoop reads frames until the socket dies, then hands off to the
// close handler exactly once per connection.
func (pc *PersistentChannel) receiveLoop(conn *websocket.Conn, ctx context.Context) {
	defer pc.handleClose(conn)

	pc.mu.Lock()
	onMessage, onError := pc.onMessage, pc.onError
	pc.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, message, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			pc.logger.Warn("read failed", zap.Error(err))
			if onError != nil {
				onError(err)
			}
			return
		}

		if onMessage != nil {
			onMessage(message)
		}
	}
}

// pingLoop keeps the connection alive while it is open.
func (pc *PersistentChannel) pingLoop(conn *websocket.Conn, ctx context.Context) {
	ticker := time.NewTicker(pc.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.Write(ctx, websocket.MessageText, []byte(pc.config.PingMessage)); err != nil {
				return
			}
		}
	}
}

// handleClose transitions out of Open and schedules a reconnect unless
// the close was intentional.
func (pc *PersistentChannel) handleClose(conn *websocket.Conn) {
	pc.mu.Lock()
	if pc.conn != conn {
		// stale loop from a superseded connection
		pc.mu.Unlock()
		return
	}
	pc.conn = nil
	if pc.connCancel != nil {
		pc.connCancel()
		pc.connCancel = nil
	}
	intentional := pc.intentional
	if intentional {
		pc.setStatusLocked(StatusIdle)
	} else {
		pc.setStatusLocked(StatusReconnecting)
		pc.scheduleReconnectLocked()
	}
	onClose := pc.onClose
	pc.mu.Unlock()

	pc.logger.Info("connection closed", zap.Bool("intentional", intentional))
	if onClose != nil {
		onClose()
	}
}

// scheduleReconnectLocked arms the reconnect timer. At most one timer is
// pending at any time; callers hold pc.mu.
func (pc *PersistentChannel) scheduleReconnectLocked() {
	if pc.reconnectTask != nil {
		return
	}
	delay := pc.config.Backoff.Delay(pc.failures)
	pc.logger.Info("scheduling reconnect",
		zap.Duration("delay", delay),
		zap.Int("failures", pc.failures))

	pc.reconnectTask = pc.afterFunc(delay, pc.reconnectAttempt)
}

// reconnectAttempt runs when the reconnect timer fires.
func (pc *PersistentChannel) reconnectAttempt() {
	pc.mu.Lock()
	pc.reconnectTask = nil
	if pc.intentional || pc.ctx.Err() != nil {
		pc.setStatusLocked(StatusIdle)
		pc.mu.Unlock()
		return
	}
	pc.setStatusLocked(StatusConnecting)
	pc.mu.Unlock()

	if err := pc.dial(); err != nil {
		pc.mu.Lock()
		pc.failures++
		pc.setStatusLocked(StatusReconnecting)
		pc.scheduleReconnectLocked()
		pc.mu.Unlock()
	}
}

func (pc *PersistentChannel) stopReconnectLocked() {
	if pc.reconnectTask != nil {
		pc.reconnectTask.Stop()
		pc.reconnectTask = nil
	}
	pc.failures = 0
}

func (pc *PersistentChannel) flushQueue() {
	pc.mu.Lock()
	pending := pc.queue
	pc.queue = make([]string, 0)
	conn, connCtx := pc.conn, pc.connCtx
	pc.mu.Unlock()

	if conn == nil {
		// connection lost between open and flush, keep the backlog
		pc.mu.Lock()
		pc.queue = append(pending, pc.queue...)
		pc.mu.Unlock()
		return
	}
	for _, msg := range pending {
		pc.logger.Debug("flushing queued message", zap.String("message", msg))
		if err := conn.Write(connCtx, websocket.MessageText, []byte(msg)); err != nil {
			return
		}
	}
}

func (pc *PersistentChannel) setStatusLocked(status ChannelStatus) {
	if pc.status == status {
		return
	}
	pc.status = status
	if pc.onStatus != nil {
		go pc.onStatus(status)
	}
}

// OnMessage registers the raw frame callback.
func (pc *PersistentChannel) OnMessage(callback func(data []byte)) {
	pc.mu.Lock()
	pc.onMessage = callback
	pc.mu.Unlock()
}

// OnOpen registers the open callback, also re-run by Connect on an
// already open channel.
func (pc *PersistentChannel) OnOpen(callback func()) {
	pc.mu.Lock()
	pc.onOpen = callback
	pc.mu.Unlock()
}

// OnClose registers the close callback.
func (pc *PersistentChannel) OnClose(callback func()) {
	pc.mu.Lock()
	pc.onClose = callback
	pc.mu.Unlock()
}

// OnError registers the read error callback.
func (pc *PersistentChannel) OnError(callback func(error)) {
	pc.mu.Lock()
	pc.onError = callback
	pc.mu.Unlock()
}

// OnStatus registers the status change callback.
func (pc *PersistentChannel) OnStatus(callback func(ChannelStatus)) {
	pc.mu.Lock()
	pc.onStatus = callback
	pc.mu.Unlock()
}

// MarketChannel push channel for price and orderbook frames.
//
// On every open (first connect and each reconnect) the full subscription
// set is announced again; the backend treats a repeated set as idempotent.
type MarketChannel struct {
	*PersistentChannel
	registry *SubscriptionRegistry
	rec      *MarketReconciler
	emitter  *EventEmitter
}

// NewMarketChannel creates the market channel.
func NewMarketChannel(ctx context.Context, config ChannelConfig, tokens TokenProvider, registry *SubscriptionRegistry, rec *MarketReconciler, emitter *EventEmitter) *MarketChannel {
	base := NewPersistentChannel(ctx, config, tokens)

	mc := &MarketChannel{
		PersistentChannel: base,
		registry:          registry,
		rec:               rec,
		emitter:           emitter,
	}

	mc.initHandlers()
	return mc
}

func (mc *MarketChannel) initHandlers() {
	mc.OnOpen(func() {
		mc.announceSubscriptions()
	})
	mc.OnMessage(func(data []byte) {
		mc.handleFrame(data)
	})
}

// Subscribe adds codes to the registry and, when the socket is live,
// announces the full set incrementally without tearing anything down.
func (mc *MarketChannel) Subscribe(codes ...string) {
	added := mc.registry.Add(codes...)
	if mc.IsReady() && (len(added) > 0 || mc.registry.Len() > 0) {
		mc.announceSubscriptions()
	}
}

// announceSubscriptions sends the complete code set.
func (mc *MarketChannel) announceSubscriptions() {
	codes := mc.registry.Snapshot()
	if len(codes) == 0 {
		return
	}
	mc.Send(map[string]interface{}{
		"action":      "subscribe",
		"stock_codes": codes,
	})
}

// handleFrame routes one inbound frame. Malformed frames are dropped.
func (mc *MarketChannel) handleFrame(raw []byte) {
	var frame struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &frame); err != nil {
		mc.logger.Debug("dropping malformed frame", zap.Error(err))
		return
	}

	switch frame.Type {
	case "price_update":
		var pu PriceUpdate
		if err := json.Unmarshal(frame.Data, &pu); err != nil {
			mc.logger.Debug("dropping malformed price_update", zap.Error(err))
			return
		}
		mc.rec.ApplyPriceUpdate(pu)
		if mc.emitter != nil {
			mc.emitter.EmitSync(EventPrice, pu)
		}

	case "orderbook_update":
		var ou OrderbookUpdate
		if err := json.Unmarshal(frame.Data, &ou); err != nil {
			mc.logger.Debug("dropping malformed orderbook_update", zap.Error(err))
			return
		}
		mc.rec.ApplyOrderbook(ou)
		if mc.emitter != nil {
			mc.emitter.EmitSync(EventOrderbook, ou)
		}

	case "pong", "subscribe_ack", "unsubscribe_ack":
		// control acks carry no state

	default:
		mc.logger.Debug("ignoring unknown frame type", zap.String("type", frame.Type))
	}
}

// AgentChannel push channel for agent conversation events.
type AgentChannel struct {
	*PersistentChannel
	store   *ConversationStore
	emitter *EventEmitter
}

// NewAgentChannel creates the agent channel.
func NewAgentChannel(ctx context.Context, config ChannelConfig, tokens TokenProvider, store *ConversationStore, emitter *EventEmitter) *AgentChannel {
	base := NewPersistentChannel(ctx, config, tokens)

	ac := &AgentChannel{
		PersistentChannel: base,
		store:             store,
		emitter:           emitter,
	}

	ac.initHandlers()
	return ac
}

func (ac *AgentChannel) initHandlers() {
	ac.OnMessage(func(data []byte) {
		var ev AgentEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			ac.logger.Debug("dropping malformed agent frame", zap.Error(err))
			return
		}
		if ac.store.Apply(ev) && ac.emitter != nil {
			ac.emitter.EmitSync(EventConversation, ev)
		}
	})
}
