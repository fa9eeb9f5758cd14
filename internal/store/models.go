package store

import "time"

type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Image        string
	CreatedAt    time.Time
}

type Workspace struct {
	ID        string
	Name      string
	UserID    string
	JoinCode  string
	CreatedAt time.Time
}

type Member struct {
	ID          string
	WorkspaceID string
	UserID      string
	Role        string
	CreatedAt   time.Time
	// Joined from users.
	UserName  string
	UserImage string
}

type Channel struct {
	ID          string
	WorkspaceID string
	Name        string
	CreatedAt   time.Time
}

// Conversation is a direct-message pair. MemberOneID sorts before MemberTwoID.
type Conversation struct {
	ID          string
	WorkspaceID string
	MemberOneID string
	MemberTwoID string
	CreatedAt   time.Time
}

// Message is a stored message row. Exactly one of ChannelID or
// ConversationID is set; thread replies carry their parent's.
type Message struct {
	ID              string
	WorkspaceID     string
	MemberID        string
	ChannelID       string
	ConversationID  string
	ParentMessageID string
	Body            string
	BodyText        string
	Image           string
	CreatedAt       time.Time
	UpdatedAt       *time.Time
	Version         int64
}

// MessageRow is a message joined with its author and thread summary.
type MessageRow struct {
	Message
	AuthorUserID   string
	AuthorName     string
	AuthorImage    string
	ReplyCount     int
	LastReplyAt    *time.Time
	LastReplyName  string
	LastReplyImage string
}

type Reaction struct {
	ID          string
	WorkspaceID string
	MessageID   string
	MemberID    string
	Value       string
	CreatedAt   time.Time
}

// MessageFilter selects one scope. ParentMessageID set means a thread; it
// takes precedence over the channel and conversation columns.
type MessageFilter struct {
	ChannelID       string
	ConversationID  string
	ParentMessageID string
}

// MessagePage is one keyset page, newest first.
type MessagePage struct {
	Rows       []MessageRow
	NextCursor string
	IsDone     bool
}
