package kstock

import "encoding/json"

// StockQuote one row of the tracked instrument list.
type StockQuote struct {
	Code       string  `json:"stock_code"`
	Name       string  `json:"stock_name,omitempty"`
	Price      int64   `json:"price"`
	Change     int64   `json:"change"`
	ChangeRate float64 `json:"change_rate"`
}

// SelectedPrice rich quote of the focused instrument. Only one exists
// at a time and it is replaced wholesale, never merged field by field
// across instruments.
type SelectedPrice struct {
	Code       string  `json:"stock_code"`
	Price      int64   `json:"price"`
	Change     int64   `json:"change"`
	ChangeRate float64 `json:"change_rate"`
	Volume     int64   `json:"volume"`
	High       int64   `json:"high"`
	Low        int64   `json:"low"`
	Open       int64   `json:"open"`
	PrevClose  int64   `json:"prev_close,omitempty"`
	Time       string  `json:"time,omitempty"`
}

// PriceUpdate push frame payload for a single instrument.
type PriceUpdate struct {
	Code       string  `json:"stock_code"`
	Price      int64   `json:"price"`
	Change     int64   `json:"change"`
	ChangeRate float64 `json:"change_rate"`
	Volume     int64   `json:"volume"`
	High       int64   `json:"high"`
	Low        int64   `json:"low"`
	Open       int64   `json:"open"`
	Time       string  `json:"time"`
}

// OrderbookLevel a single price level. CumVolume is filled in by the
// reconciler after sorting.
type OrderbookLevel struct {
	Price     int64 `json:"price"`
	Volume    int64 `json:"volume"`
	CumVolume int64 `json:"cum_volume,omitempty"`
}

// OrderbookUpdate push frame payload with raw ask/bid levels.
type OrderbookUpdate struct {
	Code string           `json:"stock_code"`
	Asks []OrderbookLevel `json:"asks"`
	Bids []OrderbookLevel `json:"bids"`
	Time string           `json:"time,omitempty"`
}

// OrderbookSnapshot leveled book for the focused instrument: at most
// ten asks and ten bids, sorted descending by price, with cumulative
// volume per side.
type OrderbookSnapshot struct {
	Code string           `json:"stock_code"`
	Asks []OrderbookLevel `json:"asks"`
	Bids []OrderbookLevel `json:"bids"`
}

// Holding a portfolio position with derived valuation fields.
type Holding struct {
	Code         string  `json:"stock_code"`
	Name         string  `json:"stock_name,omitempty"`
	Quantity     int64   `json:"quantity"`
	AvgPrice     int64   `json:"avg_price"`
	CurrentPrice int64   `json:"current_price"`
	TotalValue   int64   `json:"total_value"`
	Profit       int64   `json:"profit"`
	ProfitRate   float64 `json:"profit_rate"`
}

// AccountSnapshot account totals derived from balance and holdings.
type AccountSnapshot struct {
	AccountID       string  `json:"account_id,omitempty"`
	Balance         int64   `json:"balance"`
	InitialCapital  int64   `json:"initial_capital"`
	TotalAsset      int64   `json:"total_asset"`
	TotalProfit     int64   `json:"total_profit"`
	TotalProfitRate float64 `json:"total_profit_rate"`
}

// DefaultInitialCapital seed money for a fresh simulated account.
const DefaultInitialCapital int64 = 10_000_000

// MarketStatus open/closed state reported by the backend.
type MarketStatus struct {
	IsOpen  bool   `json:"is_open"`
	Session string `json:"session,omitempty"`
	Message string `json:"message,omitempty"`
}

// Candle one bar of price history.
type Candle struct {
	Time   string `json:"time"`
	Open   int64  `json:"open"`
	High   int64  `json:"high"`
	Low    int64  `json:"low"`
	Close  int64  `json:"close"`
	Volume int64  `json:"volume"`
}

// OrderRequest client-side order submission.
type OrderRequest struct {
	RequestID string `json:"request_id,omitempty"`
	AccountID string `json:"account_id"`
	Code      string `json:"stock_code"`
	Side      string `json:"side"` // "buy" or "sell"
	Quantity  int64  `json:"quantity"`
	Price     int64  `json:"price"`
}

// Order backend view of a submitted order.
type Order struct {
	OrderID   string `json:"order_id"`
	AccountID string `json:"account_id"`
	Code      string `json:"stock_code"`
	Side      string `json:"side"`
	Quantity  int64  `json:"quantity"`
	Price     int64  `json:"price"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at,omitempty"`
}

// ConversationStatus lifecycle state of a conversation or meeting.
type ConversationStatus string

const (
	ConversationActive    ConversationStatus = "active"
	ConversationCompleted ConversationStatus = "completed"
)

// Participant one agent taking part in a conversation or meeting.
type Participant struct {
	AgentType string `json:"agent_type"`
	Name      string `json:"name"`
}

// ConversationMessage a single utterance within a conversation.
type ConversationMessage struct {
	Turn        int    `json:"turn"`
	Round       int    `json:"round,omitempty"`
	Speaker     string `json:"speaker"`
	SpeakerType string `json:"speaker_type"`
	Content     string `json:"content"`
	Timestamp   string `json:"timestamp"`
}

// Conversation accumulated state of one agent conversation or meeting.
type Conversation struct {
	ID           string                `json:"conversation_id"`
	Topic        string                `json:"topic"`
	MeetingType  string                `json:"meeting_type,omitempty"`
	Participants []Participant         `json:"participants"`
	Messages     []ConversationMessage `json:"messages"`
	MaxTurns     int                   `json:"max_turns"`
	Status       ConversationStatus    `json:"status"`
	Conclusion   string                `json:"conclusion,omitempty"`
}

// AgentEvent envelope of an agent-channel push frame.
type AgentEvent struct {
	Type           string          `json:"type"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
	Timestamp      string          `json:"timestamp,omitempty"`
}

// conversationStartData payload of a conversation_start frame.
type conversationStartData struct {
	Initiator     string `json:"initiator"`
	InitiatorName string `json:"initiator_name"`
	Target        string `json:"target"`
	TargetName    string `json:"target_name"`
	Topic         string `json:"topic"`
	MaxTurns      int    `json:"max_turns"`
}

// meetingStartData payload of a meeting_start frame.
type meetingStartData struct {
	MeetingType  string        `json:"meeting_type"`
	Topic        string        `json:"topic"`
	Participants []Participant `json:"participants"`
	TotalRounds  int           `json:"total_rounds"`
}

// conversationEndData payload of conversation_end and meeting_end frames.
type conversationEndData struct {
	Conclusion string `json:"conclusion"`
	TurnCount  int    `json:"turn_count"`
}
