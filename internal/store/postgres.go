package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrConflict is returned when a unique constraint rejects a write.
var ErrConflict = errors.New("conflict")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Users

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, password_hash, image)
		VALUES ($1, $2, LOWER($3), $4, $5)
	`, user.ID, user.Name, user.Email, user.PasswordHash, user.Image)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, password_hash, image, created_at
		FROM users WHERE email = LOWER($1)
	`, strings.TrimSpace(email)).Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.Image, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, password_hash, image, created_at
		FROM users WHERE id = $1
	`, userID).Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.Image, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// Workspaces

// CreateWorkspace inserts the workspace, its creator as admin and the
// default channel in one transaction.
func (s *PostgresStore) CreateWorkspace(ctx context.Context, workspace Workspace, owner Member, general Channel) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin workspace tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO workspaces (id, name, user_id, join_code) VALUES ($1, $2, $3, $4)
	`, workspace.ID, workspace.Name, workspace.UserID, workspace.JoinCode); err != nil {
		return fmt.Errorf("insert workspace: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO members (id, workspace_id, user_id, role) VALUES ($1, $2, $3, $4)
	`, owner.ID, workspace.ID, owner.UserID, owner.Role); err != nil {
		return fmt.Errorf("insert owner member: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO channels (id, workspace_id, name) VALUES ($1, $2, $3)
	`, general.ID, workspace.ID, general.Name); err != nil {
		return fmt.Errorf("insert default channel: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit workspace: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetWorkspace(ctx context.Context, workspaceID string) (Workspace, error) {
	var ws Workspace
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, user_id, join_code, created_at FROM workspaces WHERE id = $1
	`, workspaceID).Scan(&ws.ID, &ws.Name, &ws.UserID, &ws.JoinCode, &ws.CreatedAt)
	if err != nil {
		return Workspace{}, err
	}
	return ws, nil
}

func (s *PostgresStore) ListWorkspacesForUser(ctx context.Context, userID string) ([]Workspace, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT w.id, w.name, w.user_id, w.join_code, w.created_at
		FROM workspaces w
		JOIN members m ON m.workspace_id = w.id
		WHERE m.user_id = $1
		ORDER BY w.created_at ASC, w.id ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	defer rows.Close()

	items := make([]Workspace, 0)
	for rows.Next() {
		var ws Workspace
		if err := rows.Scan(&ws.ID, &ws.Name, &ws.UserID, &ws.JoinCode, &ws.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan workspace: %w", err)
		}
		items = append(items, ws)
	}
	return items, rows.Err()
}

func (s *PostgresStore) UpdateWorkspaceName(ctx context.Context, workspaceID, name string) error {
	return s.execOne(ctx, "update workspace", `UPDATE workspaces SET name = $2 WHERE id = $1`, workspaceID, name)
}

func (s *PostgresStore) UpdateJoinCode(ctx context.Context, workspaceID, joinCode string) error {
	return s.execOne(ctx, "update join code", `UPDATE workspaces SET join_code = $2 WHERE id = $1`, workspaceID, joinCode)
}

func (s *PostgresStore) DeleteWorkspace(ctx context.Context, workspaceID string) error {
	return s.execOne(ctx, "delete workspace", `DELETE FROM workspaces WHERE id = $1`, workspaceID)
}

// Members

const memberColumns = `m.id, m.workspace_id, m.user_id, m.role, m.created_at, u.name, u.image`

func scanMember(row interface{ Scan(...any) error }) (Member, error) {
	var member Member
	err := row.Scan(&member.ID, &member.WorkspaceID, &member.UserID, &member.Role, &member.CreatedAt, &member.UserName, &member.UserImage)
	return member, err
}

func (s *PostgresStore) InsertMember(ctx context.Context, member Member) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO members (id, workspace_id, user_id, role) VALUES ($1, $2, $3, $4)
	`, member.ID, member.WorkspaceID, member.UserID, member.Role)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert member: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetMember(ctx context.Context, memberID string) (Member, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+memberColumns+`
		FROM members m JOIN users u ON u.id = m.user_id
		WHERE m.id = $1
	`, memberID)
	return scanMember(row)
}

func (s *PostgresStore) GetMemberByWorkspaceAndUser(ctx context.Context, workspaceID, userID string) (Member, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+memberColumns+`
		FROM members m JOIN users u ON u.id = m.user_id
		WHERE m.workspace_id = $1 AND m.user_id = $2
	`, workspaceID, userID)
	return scanMember(row)
}

func (s *PostgresStore) ListMembers(ctx context.Context, workspaceID string) ([]Member, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+memberColumns+`
		FROM members m JOIN users u ON u.id = m.user_id
		WHERE m.workspace_id = $1
		ORDER BY m.created_at ASC, m.id ASC
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	items := make([]Member, 0)
	for rows.Next() {
		member, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		items = append(items, member)
	}
	return items, rows.Err()
}

func (s *PostgresStore) UpdateMemberRole(ctx context.Context, memberID, role string) error {
	return s.execOne(ctx, "update member role", `UPDATE members SET role = $2 WHERE id = $1`, memberID, role)
}

// DeleteMember removes the membership. Messages keep their rows with a null
// author; reactions and conversations of the member are removed.
func (s *PostgresStore) DeleteMember(ctx context.Context, memberID string) error {
	return s.execOne(ctx, "delete member", `DELETE FROM members WHERE id = $1`, memberID)
}

// Channels

func (s *PostgresStore) InsertChannel(ctx context.Context, channel Channel) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO channels (id, workspace_id, name) VALUES ($1, $2, $3)
	`, channel.ID, channel.WorkspaceID, channel.Name)
	if err != nil {
		return fmt.Errorf("insert channel: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetChannel(ctx context.Context, channelID string) (Channel, error) {
	var channel Channel
	err := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, name, created_at FROM channels WHERE id = $1
	`, channelID).Scan(&channel.ID, &channel.WorkspaceID, &channel.Name, &channel.CreatedAt)
	if err != nil {
		return Channel{}, err
	}
	return channel, nil
}

func (s *PostgresStore) ListChannels(ctx context.Context, workspaceID string) ([]Channel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace_id, name, created_at FROM channels
		WHERE workspace_id = $1
		ORDER BY created_at ASC, id ASC
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	items := make([]Channel, 0)
	for rows.Next() {
		var channel Channel
		if err := rows.Scan(&channel.ID, &channel.WorkspaceID, &channel.Name, &channel.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		items = append(items, channel)
	}
	return items, rows.Err()
}

func (s *PostgresStore) UpdateChannelName(ctx context.Context, channelID, name string) error {
	return s.execOne(ctx, "update channel", `UPDATE channels SET name = $2 WHERE id = $1`, channelID, name)
}

func (s *PostgresStore) DeleteChannel(ctx context.Context, channelID string) error {
	return s.execOne(ctx, "delete channel", `DELETE FROM channels WHERE id = $1`, channelID)
}

// Conversations

// GetOrCreateConversation returns the conversation for the pair, creating it
// when absent. The pair must already be sorted.
func (s *PostgresStore) GetOrCreateConversation(ctx context.Context, conversation Conversation) (Conversation, error) {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, workspace_id, member_one_id, member_two_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (workspace_id, member_one_id, member_two_id) DO NOTHING
	`, conversation.ID, conversation.WorkspaceID, conversation.MemberOneID, conversation.MemberTwoID); err != nil {
		return Conversation{}, fmt.Errorf("insert conversation: %w", err)
	}
	var out Conversation
	err := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, member_one_id, member_two_id, created_at
		FROM conversations
		WHERE workspace_id = $1 AND member_one_id = $2 AND member_two_id = $3
	`, conversation.WorkspaceID, conversation.MemberOneID, conversation.MemberTwoID).Scan(&out.ID, &out.WorkspaceID, &out.MemberOneID, &out.MemberTwoID, &out.CreatedAt)
	if err != nil {
		return Conversation{}, fmt.Errorf("read conversation: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, conversationID string) (Conversation, error) {
	var out Conversation
	err := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, member_one_id, member_two_id, created_at
		FROM conversations WHERE id = $1
	`, conversationID).Scan(&out.ID, &out.WorkspaceID, &out.MemberOneID, &out.MemberTwoID, &out.CreatedAt)
	if err != nil {
		return Conversation{}, err
	}
	return out, nil
}

// Messages

const messageRowSelect = `
	SELECT m.id, m.workspace_id, COALESCE(m.member_id, ''), COALESCE(m.channel_id, ''),
		COALESCE(m.conversation_id, ''), COALESCE(m.parent_message_id, ''),
		m.body, m.body_text, m.image, m.created_at, m.updated_at, m.version,
		COALESCE(u.id, ''), COALESCE(u.name, ''), COALESCE(u.image, ''),
		COALESCE(t.reply_count, 0), t.last_reply_at,
		COALESCE(lr.name, ''), COALESCE(lr.image, '')
	FROM messages m
	LEFT JOIN members mem ON mem.id = m.member_id
	LEFT JOIN users u ON u.id = mem.user_id
	LEFT JOIN LATERAL (
		SELECT COUNT(*) AS reply_count, MAX(r.created_at) AS last_reply_at
		FROM messages r WHERE r.parent_message_id = m.id
	) t ON TRUE
	LEFT JOIN LATERAL (
		SELECT ru.name, ru.image
		FROM messages r
		LEFT JOIN members rm ON rm.id = r.member_id
		LEFT JOIN users ru ON ru.id = rm.user_id
		WHERE r.parent_message_id = m.id
		ORDER BY r.created_at DESC, r.id DESC
		LIMIT 1
	) lr ON TRUE`

func scanMessageRow(row interface{ Scan(...any) error }) (MessageRow, error) {
	var item MessageRow
	var updatedAt, lastReplyAt sql.NullTime
	err := row.Scan(
		&item.ID, &item.WorkspaceID, &item.MemberID, &item.ChannelID,
		&item.ConversationID, &item.ParentMessageID,
		&item.Body, &item.BodyText, &item.Image, &item.CreatedAt, &updatedAt, &item.Version,
		&item.AuthorUserID, &item.AuthorName, &item.AuthorImage,
		&item.ReplyCount, &lastReplyAt,
		&item.LastReplyName, &item.LastReplyImage,
	)
	if err != nil {
		return MessageRow{}, err
	}
	if updatedAt.Valid {
		t := updatedAt.Time
		item.UpdatedAt = &t
	}
	if lastReplyAt.Valid {
		t := lastReplyAt.Time
		item.LastReplyAt = &t
	}
	return item, nil
}

// InsertMessage stores the message. A reply also bumps its parent's version
// since the parent's thread summary changes.
func (s *PostgresStore) InsertMessage(ctx context.Context, message Message) (Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Message{}, fmt.Errorf("begin message tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO messages (id, workspace_id, member_id, channel_id, conversation_id, parent_message_id, body, body_text, image)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, version
	`,
		message.ID, message.WorkspaceID, nullable(message.MemberID), nullable(message.ChannelID),
		nullable(message.ConversationID), nullable(message.ParentMessageID),
		message.Body, message.BodyText, message.Image,
	).Scan(&message.CreatedAt, &message.Version)
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}
	if err := bumpVersion(ctx, tx, message.ParentMessageID); err != nil {
		return Message{}, err
	}
	if err := tx.Commit(); err != nil {
		return Message{}, fmt.Errorf("commit message: %w", err)
	}
	return message, nil
}

func (s *PostgresStore) GetMessage(ctx context.Context, messageID string) (MessageRow, error) {
	row := s.db.QueryRowContext(ctx, messageRowSelect+` WHERE m.id = $1`, messageID)
	return scanMessageRow(row)
}

// ListMessages returns one page of a scope, newest first, strictly older than
// cursor when given.
func (s *PostgresStore) ListMessages(ctx context.Context, filter MessageFilter, cursor *Cursor, limit int) (MessagePage, error) {
	if limit <= 0 {
		limit = 20
	}

	var where []string
	var args []any
	switch {
	case filter.ParentMessageID != "":
		args = append(args, filter.ParentMessageID)
		where = append(where, fmt.Sprintf("m.parent_message_id = $%d", len(args)))
	case filter.ChannelID != "":
		args = append(args, filter.ChannelID)
		where = append(where, fmt.Sprintf("m.channel_id = $%d", len(args)), "m.parent_message_id IS NULL")
	case filter.ConversationID != "":
		args = append(args, filter.ConversationID)
		where = append(where, fmt.Sprintf("m.conversation_id = $%d", len(args)), "m.parent_message_id IS NULL")
	default:
		return MessagePage{}, errors.New("message filter requires a scope")
	}
	if cursor != nil {
		args = append(args, cursor.TS, cursor.ID)
		where = append(where, fmt.Sprintf("(m.created_at, m.id) < ($%d, $%d)", len(args)-1, len(args)))
	}
	args = append(args, limit+1)

	query := messageRowSelect + `
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT $` + fmt.Sprint(len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return MessagePage{}, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	items := make([]MessageRow, 0, limit+1)
	for rows.Next() {
		item, err := scanMessageRow(rows)
		if err != nil {
			return MessagePage{}, fmt.Errorf("scan message: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return MessagePage{}, fmt.Errorf("iterate messages: %w", err)
	}

	page := MessagePage{Rows: items, IsDone: true}
	if len(items) > limit {
		page.Rows = items[:limit]
		page.IsDone = false
		last := page.Rows[len(page.Rows)-1]
		page.NextCursor = EncodeCursor(Cursor{ID: last.ID, TS: last.CreatedAt})
	}
	return page, nil
}

func (s *PostgresStore) UpdateMessageBody(ctx context.Context, messageID, body, bodyText string, updatedAt time.Time) error {
	return s.execOne(ctx, "update message", `
		UPDATE messages SET body = $2, body_text = $3, updated_at = $4, version = version + 1 WHERE id = $1
	`, messageID, body, bodyText, updatedAt)
}

// DeleteMessage removes the message together with its replies and returns the
// replies that went with it. Deleting a reply bumps its parent's version.
func (s *PostgresStore) DeleteMessage(ctx context.Context, messageID string) ([]Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin delete tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		DELETE FROM messages WHERE parent_message_id = $1
		RETURNING id, workspace_id, COALESCE(member_id, ''), COALESCE(channel_id, ''),
			COALESCE(conversation_id, ''), COALESCE(parent_message_id, ''),
			body, body_text, image, created_at, version
	`, messageID)
	if err != nil {
		return nil, fmt.Errorf("delete replies: %w", err)
	}
	replies := make([]Message, 0)
	for rows.Next() {
		var r Message
		if err := rows.Scan(&r.ID, &r.WorkspaceID, &r.MemberID, &r.ChannelID, &r.ConversationID, &r.ParentMessageID,
			&r.Body, &r.BodyText, &r.Image, &r.CreatedAt, &r.Version); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan deleted reply: %w", err)
		}
		replies = append(replies, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deleted replies: %w", err)
	}

	var parentID sql.NullString
	err = tx.QueryRowContext(ctx, `
		DELETE FROM messages WHERE id = $1 RETURNING parent_message_id
	`, messageID).Scan(&parentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("delete message: %w", err)
	}
	if err := bumpVersion(ctx, tx, parentID.String); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit delete: %w", err)
	}
	return replies, nil
}

// Reactions

// ToggleReaction removes the (message, member, value) reaction when present
// and adds it otherwise, bumping the message's version either way. It reports
// whether the reaction now exists.
func (s *PostgresStore) ToggleReaction(ctx context.Context, reaction Reaction) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin reaction tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		DELETE FROM reactions WHERE message_id = $1 AND member_id = $2 AND value = $3
	`, reaction.MessageID, reaction.MemberID, reaction.Value)
	if err != nil {
		return false, fmt.Errorf("remove reaction: %w", err)
	}
	removed, _ := result.RowsAffected()
	if removed == 0 {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO reactions (id, workspace_id, message_id, member_id, value)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (message_id, member_id, value) DO NOTHING
		`, reaction.ID, reaction.WorkspaceID, reaction.MessageID, reaction.MemberID, reaction.Value)
		if err != nil {
			return false, fmt.Errorf("add reaction: %w", err)
		}
	}
	if err := bumpVersion(ctx, tx, reaction.MessageID); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit reaction: %w", err)
	}
	return removed == 0, nil
}

func (s *PostgresStore) ListReactions(ctx context.Context, messageIDs []string) ([]Reaction, error) {
	if len(messageIDs) == 0 {
		return []Reaction{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace_id, message_id, member_id, value, created_at
		FROM reactions
		WHERE message_id = ANY($1)
		ORDER BY created_at ASC, id ASC
	`, messageIDs)
	if err != nil {
		return nil, fmt.Errorf("list reactions: %w", err)
	}
	defer rows.Close()

	items := make([]Reaction, 0)
	for rows.Next() {
		var r Reaction
		if err := rows.Scan(&r.ID, &r.WorkspaceID, &r.MessageID, &r.MemberID, &r.Value, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reaction: %w", err)
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

func (s *PostgresStore) execOne(ctx context.Context, op, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func bumpVersion(ctx context.Context, tx *sql.Tx, messageID string) error {
	if messageID == "" {
		return nil
	}
	if _, err := tx.ExecContext(ctx, `UPDATE messages SET version = version + 1 WHERE id = $1`, messageID); err != nil {
		return fmt.Errorf("bump message version: %w", err)
	}
	return nil
}

func nullable(value string) any {
	if value == "" {
		return nil
	}
	return value
}
