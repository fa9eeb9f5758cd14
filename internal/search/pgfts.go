package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; without Postgres nothing else works either.
func (p *PgFTS) Healthy() bool {
	return true
}

const pgMessageWhere = `
	m.fts @@ plainto_tsquery('english', $1)
	AND m.workspace_id = $2
	AND (m.conversation_id IS NULL OR c.member_one_id = $3 OR c.member_two_id = $3)`

// Search ranks messages with ts_rank and builds snippets with ts_headline.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	limit, offset := clampPaging(q)
	args := []any{q.Text, q.WorkspaceID, q.MemberID}
	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, `
		SELECT count(*)
		FROM messages m
		LEFT JOIN conversations c ON c.id = m.conversation_id
		WHERE `+pgMessageWhere, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT m.id, m.workspace_id,
			coalesce(m.channel_id, ''), coalesce(m.conversation_id, ''),
			coalesce(m.parent_message_id, ''), coalesce(m.member_id, ''),
			ts_headline('english', m.body_text, plainto_tsquery('english', $1),
				'MaxFragments=1,MaxWords=30,StartSel=<mark>,StopSel=</mark>'),
			m.created_at
		FROM messages m
		LEFT JOIN conversations c ON c.id = m.conversation_id
		WHERE %s
		ORDER BY ts_rank(m.fts, plainto_tsquery('english', $1)) DESC, m.created_at DESC
		LIMIT %d OFFSET %d`, pgMessageWhere, limit, offset), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var createdAt time.Time
		if err := rows.Scan(&r.MessageID, &r.WorkspaceID, &r.ChannelID, &r.ConversationID,
			&r.ParentMessageID, &r.MemberID, &r.Snippet, &createdAt); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.CreatedAt = createdAt.UTC()
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every message for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]MessageRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT m.id, m.workspace_id,
			coalesce(m.channel_id, ''), coalesce(m.conversation_id, ''),
			coalesce(m.parent_message_id, ''), coalesce(m.member_id, ''),
			coalesce(c.member_one_id, ''), coalesce(c.member_two_id, ''),
			m.body_text, m.created_at
		FROM messages m
		LEFT JOIN conversations c ON c.id = m.conversation_id
	`)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	records := make([]MessageRecord, 0)
	for rows.Next() {
		var r MessageRecord
		var one, two string
		var createdAt time.Time
		if err := rows.Scan(&r.ID, &r.WorkspaceID, &r.ChannelID, &r.ConversationID,
			&r.ParentMessageID, &r.MemberID, &one, &two, &r.Text, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		r.Participants = participants(one, two)
		r.CreatedAt = createdAt.UnixMilli()
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return records, nil
}

func participants(ids ...string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}
