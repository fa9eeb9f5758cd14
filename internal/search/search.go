// Package search finds messages by their plain text. Meilisearch serves
// queries while it is healthy and Postgres full-text search covers the rest.
package search

import "time"

// Result is a single matching message.
type Result struct {
	MessageID       string    `json:"messageId"`
	WorkspaceID     string    `json:"workspaceId"`
	ChannelID       string    `json:"channelId,omitempty"`
	ConversationID  string    `json:"conversationId,omitempty"`
	ParentMessageID string    `json:"parentMessageId,omitempty"`
	MemberID        string    `json:"memberId,omitempty"`
	Snippet         string    `json:"snippet"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Query describes a search request. MemberID limits direct-message hits to
// conversations the member takes part in.
type Query struct {
	Text        string
	WorkspaceID string
	MemberID    string
	Limit       int
	Offset      int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// MessageRecord is the data we index for a message.
type MessageRecord struct {
	ID              string   `json:"id"`
	WorkspaceID     string   `json:"workspaceId"`
	ChannelID       string   `json:"channelId"`
	ConversationID  string   `json:"conversationId"`
	ParentMessageID string   `json:"parentMessageId"`
	MemberID        string   `json:"memberId"`
	Participants    []string `json:"participants"`
	Scope           string   `json:"scope"`
	Text            string   `json:"text"`
	CreatedAt       int64    `json:"createdAt"`
}

// Scoped fills in Scope, which the index filters on.
func (r MessageRecord) Scoped() MessageRecord {
	if r.ConversationID != "" {
		r.Scope = "conversation"
	} else {
		r.Scope = "channel"
	}
	return r
}

func clampPaging(q Query) (int, int) {
	limit := q.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
