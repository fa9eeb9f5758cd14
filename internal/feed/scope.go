package feed

import "fmt"

// ScopeKind selects which messages a view lists.
type ScopeKind int

const (
	ScopeChannel ScopeKind = iota
	ScopeConversation
	ScopeThread
)

func (k ScopeKind) String() string {
	switch k {
	case ScopeChannel:
		return "channel"
	case ScopeConversation:
		return "conversation"
	case ScopeThread:
		return "thread"
	default:
		return "unknown"
	}
}

// Scope is the predicate a view passes to messages.list and messages.create.
// A thread scope keeps the parent's channel (when known) so replies are
// created in it; conversation threads leave it empty and the store resolves
// the conversation from the parent.
type Scope struct {
	Kind      ScopeKind
	ID        string
	ChannelID string
}

func ChannelScope(channelID string) Scope {
	return Scope{Kind: ScopeChannel, ID: channelID, ChannelID: channelID}
}

func ConversationScope(conversationID string) Scope {
	return Scope{Kind: ScopeConversation, ID: conversationID}
}

func ThreadScope(parentMessageID, channelID string) Scope {
	return Scope{Kind: ScopeThread, ID: parentMessageID, ChannelID: channelID}
}

// Key is the live-feed topic for the scope.
func (s Scope) Key() string {
	return fmt.Sprintf("%s:%s", s.Kind, s.ID)
}

func (s Scope) Valid() bool {
	return s.ID != "" && s.Kind >= ScopeChannel && s.Kind <= ScopeThread
}

// ScopeOf returns the scope a stored message is listed under.
func ScopeOf(m Message) Scope {
	switch {
	case m.ParentMessageID != "":
		return ThreadScope(m.ParentMessageID, m.ChannelID)
	case m.ChannelID != "":
		return ChannelScope(m.ChannelID)
	default:
		return ConversationScope(m.ConversationID)
	}
}

// EventKind distinguishes live deliveries.
type EventKind string

const (
	EventUpsert EventKind = "upsert"
	EventRemove EventKind = "remove"
)

// Event is one live-subscription delivery for a scope.
type Event struct {
	Kind      EventKind `json:"kind"`
	Message   *Message  `json:"message,omitempty"`
	MessageID string    `json:"messageId,omitempty"`
}
