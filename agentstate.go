package kstock

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

const (
	defaultConversationTurns = 6
	defaultMeetingRounds     = 2
	// meetings in the simulated world seat four experts per round
	meetingSeats = 4
)

// ConversationStore accumulates agent conversations and meetings from
// the agent push channel.
//
// Lifecycle per conversation id: a start frame creates it active, turn
// frames append while active, an end frame completes it. Completed is
// terminal. Frames referencing unknown ids are dropped without creating
// state; a turn can never resurrect a finished conversation.
type ConversationStore struct {
	mu     sync.RWMutex
	logger *zap.Logger

	conversations map[string]*Conversation
	order         []string // arrival order of ids
	activeID      string   // most recently started, cleared by its end frame

	onChange []func()
}

// NewConversationStore creates an empty store.
func NewConversationStore(logger *zap.Logger) *ConversationStore {
	if logger == nil {
		logger = NewDefaultLogger()
	}
	return &ConversationStore{
		logger:        logger,
		conversations: make(map[string]*Conversation),
	}
}

// OnChange registers a callback invoked after every applied event.
func (s *ConversationStore) OnChange(callback func()) {
	s.mu.Lock()
	s.onChange = append(s.onChange, callback)
	s.mu.Unlock()
}

func (s *ConversationStore) notify() {
	s.mu.RLock()
	callbacks := s.onChange
	s.mu.RUnlock()
	for _, cb := range callbacks {
		cb()
	}
}

// Apply routes one agent event through the lifecycle. It reports
// whether the event changed any state; pongs, unknown ids, repeated
// ends and malformed payloads all return false.
func (s *ConversationStore) Apply(ev AgentEvent) bool {
	if ev.Type == "pong" {
		return false
	}
	if ev.ConversationID == "" {
		s.logger.Debug("dropping agent event without conversation id",
			zap.String("type", ev.Type))
		return false
	}

	var applied bool
	switch ev.Type {
	case "conversation_start":
		applied = s.applyConversationStart(ev)
	case "meeting_start":
		applied = s.applyMeetingStart(ev)
	case "turn_message":
		applied = s.applyTurn(ev)
	case "conversation_end", "meeting_end":
		applied = s.applyEnd(ev)
	default:
		s.logger.Debug("ignoring unknown agent event type", zap.String("type", ev.Type))
		return false
	}

	if applied {
		s.notify()
	}
	return applied
}

func (s *ConversationStore) applyConversationStart(ev AgentEvent) bool {
	var data conversationStartData
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		s.logger.Debug("dropping malformed conversation_start", zap.Error(err))
		return false
	}
	maxTurns := data.MaxTurns
	if maxTurns <= 0 {
		maxTurns = defaultConversationTurns
	}

	conv := &Conversation{
		ID:    ev.ConversationID,
		Topic: data.Topic,
		Participants: []Participant{
			{AgentType: data.Initiator, Name: data.InitiatorName},
			{AgentType: data.Target, Name: data.TargetName},
		},
		Messages: make([]ConversationMessage, 0, maxTurns),
		MaxTurns: maxTurns,
		Status:   ConversationActive,
	}
	return s.insert(conv)
}

func (s *ConversationStore) applyMeetingStart(ev AgentEvent) bool {
	var data meetingStartData
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		s.logger.Debug("dropping malformed meeting_start", zap.Error(err))
		return false
	}
	rounds := data.TotalRounds
	if rounds <= 0 {
		rounds = defaultMeetingRounds
	}
	seats := len(data.Participants)
	if seats == 0 {
		seats = meetingSeats
	}

	conv := &Conversation{
		ID:           ev.ConversationID,
		Topic:        data.Topic,
		MeetingType:  data.MeetingType,
		Participants: append([]Participant(nil), data.Participants...),
		Messages:     make([]ConversationMessage, 0, rounds*seats),
		MaxTurns:     rounds * seats,
		Status:       ConversationActive,
	}
	return s.insert(conv)
}

// insert stores a new conversation and marks it active. A start frame
// for an id already known is dropped; the first one wins.
func (s *ConversationStore) insert(conv *Conversation) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.conversations[conv.ID]; exists {
		s.logger.Debug("dropping duplicate start", zap.String("conversation_id", conv.ID))
		return false
	}
	s.conversations[conv.ID] = conv
	s.order = append(s.order, conv.ID)
	s.activeID = conv.ID
	return true
}

func (s *ConversationStore) applyTurn(ev AgentEvent) bool {
	var msg ConversationMessage
	if err := json.Unmarshal(ev.Data, &msg); err != nil {
		s.logger.Debug("dropping malformed turn_message", zap.Error(err))
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[ev.ConversationID]
	if !ok {
		s.logger.Debug("dropping turn for unknown conversation",
			zap.String("conversation_id", ev.ConversationID))
		return false
	}
	if conv.Status != ConversationActive {
		s.logger.Debug("dropping turn for completed conversation",
			zap.String("conversation_id", ev.ConversationID))
		return false
	}
	conv.Messages = append(conv.Messages, msg)
	return true
}

func (s *ConversationStore) applyEnd(ev AgentEvent) bool {
	var data conversationEndData
	if len(ev.Data) > 0 {
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			s.logger.Debug("dropping malformed end frame", zap.Error(err))
			return false
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[ev.ConversationID]
	if !ok {
		s.logger.Debug("dropping end for unknown conversation",
			zap.String("conversation_id", ev.ConversationID))
		return false
	}
	if conv.Status == ConversationCompleted {
		return false
	}
	conv.Status = ConversationCompleted
	conv.Conclusion = data.Conclusion
	if s.activeID == conv.ID {
		s.activeID = ""
	}
	return true
}

// Conversation returns a copy of the conversation with the given id.
func (s *ConversationStore) Conversation(id string) (Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	if !ok {
		return Conversation{}, false
	}
	return copyConversation(conv), true
}

// Active returns the most recently started conversation that has not
// ended yet.
func (s *ConversationStore) Active() (Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.activeID == "" {
		return Conversation{}, false
	}
	conv, ok := s.conversations[s.activeID]
	if !ok {
		return Conversation{}, false
	}
	return copyConversation(conv), true
}

// Conversations returns all conversations in arrival order. Nothing is
// evicted; the store keeps the full session history.
func (s *ConversationStore) Conversations() []Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Conversation, 0, len(s.order))
	for _, id := range s.order {
		if conv, ok := s.conversations[id]; ok {
			out = append(out, copyConversation(conv))
		}
	}
	return out
}

// Recent returns the last n conversations in arrival order.
func (s *ConversationStore) Recent(n int) []Conversation {
	all := s.Conversations()
	if n <= 0 || n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}

// Len returns the number of stored conversations.
func (s *ConversationStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

func copyConversation(conv *Conversation) Conversation {
	cp := *conv
	cp.Participants = append([]Participant(nil), conv.Participants...)
	cp.Messages = append([]ConversationMessage(nil), conv.Messages...)
	return cp
}
