// Package feed assembles message pages into the date-bucketed, compaction-aware
// groups that channel, conversation and thread views render.
package feed

import "time"

// Author is the member (joined with its user) that wrote a message. A removed
// member leaves MemberID empty and the message is rendered author-less.
type Author struct {
	MemberID string `json:"memberId,omitempty"`
	UserID   string `json:"userId,omitempty"`
	Name     string `json:"name"`
	Image    string `json:"image,omitempty"`
}

// ReactionGroup is the per-value aggregate shown under a message.
type ReactionGroup struct {
	Value     string   `json:"value"`
	Count     int      `json:"count"`
	MemberIDs []string `json:"memberIds"`
}

// Reaction is one (message, member, value) row.
type Reaction struct {
	MessageID string `json:"messageId"`
	MemberID  string `json:"memberId"`
	Value     string `json:"value"`
}

// ThreadSummary describes the replies hanging off a message.
type ThreadSummary struct {
	Count     int        `json:"count"`
	Image     string     `json:"image,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	Name      string     `json:"name,omitempty"`
}

type Message struct {
	ID              string          `json:"id"`
	WorkspaceID     string          `json:"workspaceId"`
	ChannelID       string          `json:"channelId,omitempty"`
	ConversationID  string          `json:"conversationId,omitempty"`
	ParentMessageID string          `json:"parentMessageId,omitempty"`
	Author          Author          `json:"author"`
	Body            string          `json:"body"`
	Image           string          `json:"image,omitempty"`
	ImageURL        string          `json:"imageUrl,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       *time.Time      `json:"updatedAt,omitempty"`
	Version         int64           `json:"version,omitempty"`
	Reactions       []ReactionGroup `json:"reactions"`
	Thread          ThreadSummary   `json:"thread"`
}

// Edited reports whether the message carries an edit timestamp.
func (m Message) Edited() bool {
	return m.UpdatedAt != nil
}

// AuthorName falls back to "Member" for author-less messages.
func (m Message) AuthorName() string {
	if m.Author.Name == "" {
		return "Member"
	}
	return m.Author.Name
}

// AggregateReactions folds raw reaction rows into per-value groups, ordered by
// the first time each value was seen.
func AggregateReactions(reactions []Reaction) []ReactionGroup {
	groups := make([]ReactionGroup, 0)
	index := make(map[string]int)
	for _, reaction := range reactions {
		i, ok := index[reaction.Value]
		if !ok {
			index[reaction.Value] = len(groups)
			groups = append(groups, ReactionGroup{Value: reaction.Value, MemberIDs: []string{}})
			i = len(groups) - 1
		}
		groups[i].Count++
		groups[i].MemberIDs = append(groups[i].MemberIDs, reaction.MemberID)
	}
	return groups
}
