package app

import (
	"time"

	"huddle/api/internal/store"
)

type UserView struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Image string `json:"image,omitempty"`
}

// MemberView is a member joined with its user.
type MemberView struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspaceId"`
	UserID      string    `json:"userId"`
	Role        string    `json:"role"`
	CreatedAt   time.Time `json:"createdAt"`
	User        UserView  `json:"user"`
}

type WorkspaceView struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	UserID    string    `json:"userId"`
	JoinCode  string    `json:"joinCode,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type ChannelView struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspaceId"`
	Name        string    `json:"name"`
	CreatedAt   time.Time `json:"createdAt"`
}

type ConversationView struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspaceId"`
	MemberOneID string    `json:"memberOneId"`
	MemberTwoID string    `json:"memberTwoId"`
	CreatedAt   time.Time `json:"createdAt"`
}

type UploadTarget struct {
	UploadURL string    `json:"uploadUrl"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func memberView(m store.Member) MemberView {
	return MemberView{
		ID:          m.ID,
		WorkspaceID: m.WorkspaceID,
		UserID:      m.UserID,
		Role:        m.Role,
		CreatedAt:   m.CreatedAt,
		User:        UserView{ID: m.UserID, Name: m.UserName, Image: m.UserImage},
	}
}

// workspaceView hides the join code from everyone but admins.
func workspaceView(ws store.Workspace, isAdmin bool) WorkspaceView {
	view := WorkspaceView{ID: ws.ID, Name: ws.Name, UserID: ws.UserID, CreatedAt: ws.CreatedAt}
	if isAdmin {
		view.JoinCode = ws.JoinCode
	}
	return view
}

func channelView(c store.Channel) ChannelView {
	return ChannelView{ID: c.ID, WorkspaceID: c.WorkspaceID, Name: c.Name, CreatedAt: c.CreatedAt}
}

func conversationView(c store.Conversation) ConversationView {
	return ConversationView{
		ID:          c.ID,
		WorkspaceID: c.WorkspaceID,
		MemberOneID: c.MemberOneID,
		MemberTwoID: c.MemberTwoID,
		CreatedAt:   c.CreatedAt,
	}
}
