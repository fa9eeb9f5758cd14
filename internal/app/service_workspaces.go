package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/mail"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"huddle/api/internal/email"
	"huddle/api/internal/logger"
	"huddle/api/internal/rbac"
	"huddle/api/internal/store"
	"huddle/api/internal/util"
)

const (
	minNameLength = 3
	maxNameLength = 80
	generalName   = "general"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

var errEmailUnavailable = domainError(http.StatusServiceUnavailable, "EMAIL_UNAVAILABLE", "Email invitations are not configured", nil)

func validateName(kind, name string) (string, error) {
	name = strings.TrimSpace(name)
	n := utf8.RuneCountInString(name)
	if n < minNameLength || n > maxNameLength {
		return "", validationError(kind + " name must be between 3 and 80 characters")
	}
	return name, nil
}

// normalizeChannelName turns whitespace runs into dashes and lowercases.
func normalizeChannelName(name string) (string, error) {
	name, err := validateName("Channel", name)
	if err != nil {
		return "", err
	}
	return strings.ToLower(whitespaceRun.ReplaceAllString(name, "-")), nil
}

// Workspaces

func (s *Service) CreateWorkspace(ctx context.Context, userID, name string) (WorkspaceView, error) {
	name, err := validateName("Workspace", name)
	if err != nil {
		return WorkspaceView{}, err
	}
	ws := store.Workspace{
		ID:       util.NewID("ws"),
		Name:     name,
		UserID:   userID,
		JoinCode: util.NewJoinCode(),
	}
	owner := store.Member{ID: util.NewID("mem"), WorkspaceID: ws.ID, UserID: userID, Role: string(rbac.RoleAdmin)}
	general := store.Channel{ID: util.NewID("ch"), WorkspaceID: ws.ID, Name: generalName}
	if err := s.store.CreateWorkspace(ctx, ws, owner, general); err != nil {
		return WorkspaceView{}, err
	}
	created, err := s.store.GetWorkspace(ctx, ws.ID)
	if err != nil {
		return WorkspaceView{}, err
	}
	return workspaceView(created, true), nil
}

func (s *Service) ListWorkspaces(ctx context.Context, userID string) ([]WorkspaceView, error) {
	items, err := s.store.ListWorkspacesForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]WorkspaceView, 0, len(items))
	for _, ws := range items {
		out = append(out, workspaceView(ws, false))
	}
	return out, nil
}

func (s *Service) GetWorkspace(ctx context.Context, userID, workspaceID string) (WorkspaceView, error) {
	member, err := s.memberFor(ctx, workspaceID, userID)
	if err != nil {
		return WorkspaceView{}, err
	}
	ws, err := s.store.GetWorkspace(ctx, workspaceID)
	if errors.Is(err, sql.ErrNoRows) {
		return WorkspaceView{}, notFound("Workspace not found")
	}
	if err != nil {
		return WorkspaceView{}, err
	}
	return workspaceView(ws, s.Can(member.Role, rbac.ActionManageWorkspace)), nil
}

// WorkspaceInfo is what the join page shows before the caller is a member.
func (s *Service) WorkspaceInfo(ctx context.Context, userID, workspaceID string) (map[string]any, error) {
	ws, err := s.store.GetWorkspace(ctx, workspaceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("Workspace not found")
	}
	if err != nil {
		return nil, err
	}
	_, err = s.memberFor(ctx, workspaceID, userID)
	if err != nil && !errors.Is(err, errNotMember) {
		return nil, err
	}
	return map[string]any{"name": ws.Name, "isMember": err == nil}, nil
}

func (s *Service) RenameWorkspace(ctx context.Context, userID, workspaceID, name string) (WorkspaceView, error) {
	if _, err := s.requireAction(ctx, workspaceID, userID, rbac.ActionManageWorkspace); err != nil {
		return WorkspaceView{}, err
	}
	name, err := validateName("Workspace", name)
	if err != nil {
		return WorkspaceView{}, err
	}
	if err := s.store.UpdateWorkspaceName(ctx, workspaceID, name); err != nil {
		return WorkspaceView{}, err
	}
	ws, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return WorkspaceView{}, err
	}
	return workspaceView(ws, true), nil
}

func (s *Service) DeleteWorkspace(ctx context.Context, userID, workspaceID string) error {
	if _, err := s.requireAction(ctx, workspaceID, userID, rbac.ActionManageWorkspace); err != nil {
		return err
	}
	return s.store.DeleteWorkspace(ctx, workspaceID)
}

// NewJoinCode replaces the invite code; the old one stops working.
func (s *Service) NewJoinCode(ctx context.Context, userID, workspaceID string) (WorkspaceView, error) {
	if _, err := s.requireAction(ctx, workspaceID, userID, rbac.ActionManageWorkspace); err != nil {
		return WorkspaceView{}, err
	}
	if err := s.store.UpdateJoinCode(ctx, workspaceID, util.NewJoinCode()); err != nil {
		return WorkspaceView{}, err
	}
	ws, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return WorkspaceView{}, err
	}
	return workspaceView(ws, true), nil
}

// InviteByEmail mails the current join code to address.
func (s *Service) InviteByEmail(ctx context.Context, userID, workspaceID, address string) error {
	if _, err := s.requireAction(ctx, workspaceID, userID, rbac.ActionManageMembers); err != nil {
		return err
	}
	parsed, err := mail.ParseAddress(strings.TrimSpace(address))
	if err != nil {
		return validationError("Invalid email address")
	}
	if s.mailer == nil || !s.mailer.IsConfigured() {
		return errEmailUnavailable
	}
	ws, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return err
	}
	inviter, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	joinURL := strings.TrimRight(s.cfg.PublicBaseURL, "/") + "/join/" + url.PathEscape(ws.ID) + "?code=" + url.QueryEscape(ws.JoinCode)
	err = s.mailer.SendInvite(parsed.Address, email.InviteData{
		WorkspaceName: ws.Name,
		InviterName:   inviter.Name,
		JoinCode:      ws.JoinCode,
		JoinURL:       joinURL,
	})
	if err != nil {
		logger.Log.Error("send invite", zap.String("workspace_id", workspaceID), zap.Error(err))
		return domainError(http.StatusBadGateway, "EMAIL_FAILED", "Could not send the invitation", nil)
	}
	return nil
}

func (s *Service) JoinWorkspace(ctx context.Context, userID, workspaceID, joinCode string) (WorkspaceView, error) {
	ws, err := s.store.GetWorkspace(ctx, workspaceID)
	if errors.Is(err, sql.ErrNoRows) {
		return WorkspaceView{}, notFound("Workspace not found")
	}
	if err != nil {
		return WorkspaceView{}, err
	}
	if strings.ToLower(strings.TrimSpace(joinCode)) != ws.JoinCode {
		return WorkspaceView{}, validationError("Invalid join code")
	}
	err = s.store.InsertMember(ctx, store.Member{
		ID:          util.NewID("mem"),
		WorkspaceID: ws.ID,
		UserID:      userID,
		Role:        string(rbac.RoleMember),
	})
	if errors.Is(err, store.ErrConflict) {
		return WorkspaceView{}, domainError(http.StatusConflict, "ALREADY_MEMBER", "Already a member of this workspace", nil)
	}
	if err != nil {
		return WorkspaceView{}, err
	}
	return workspaceView(ws, false), nil
}

// Channels

// ListChannels returns an empty list to non-members.
func (s *Service) ListChannels(ctx context.Context, userID, workspaceID string) ([]ChannelView, error) {
	out := make([]ChannelView, 0)
	if _, err := s.memberFor(ctx, workspaceID, userID); err != nil {
		if errors.Is(err, errNotMember) || errors.Is(err, errUnauthorized) {
			return out, nil
		}
		return nil, err
	}
	channels, err := s.store.ListChannels(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	for _, channel := range channels {
		out = append(out, channelView(channel))
	}
	return out, nil
}

func (s *Service) CreateChannel(ctx context.Context, userID, workspaceID, name string) (ChannelView, error) {
	if _, err := s.requireAction(ctx, workspaceID, userID, rbac.ActionManageChannels); err != nil {
		return ChannelView{}, err
	}
	name, err := normalizeChannelName(name)
	if err != nil {
		return ChannelView{}, err
	}
	channel := store.Channel{ID: util.NewID("ch"), WorkspaceID: workspaceID, Name: name}
	if err := s.store.InsertChannel(ctx, channel); err != nil {
		return ChannelView{}, err
	}
	created, err := s.store.GetChannel(ctx, channel.ID)
	if err != nil {
		return ChannelView{}, err
	}
	return channelView(created), nil
}

func (s *Service) loadChannel(ctx context.Context, channelID string) (store.Channel, error) {
	channel, err := s.store.GetChannel(ctx, channelID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Channel{}, notFound("Channel not found")
	}
	return channel, err
}

func (s *Service) GetChannel(ctx context.Context, userID, channelID string) (ChannelView, error) {
	channel, err := s.loadChannel(ctx, channelID)
	if err != nil {
		return ChannelView{}, err
	}
	if _, err := s.memberFor(ctx, channel.WorkspaceID, userID); err != nil {
		if errors.Is(err, errNotMember) {
			return ChannelView{}, notFound("Channel not found")
		}
		return ChannelView{}, err
	}
	return channelView(channel), nil
}

func (s *Service) RenameChannel(ctx context.Context, userID, channelID, name string) (ChannelView, error) {
	channel, err := s.loadChannel(ctx, channelID)
	if err != nil {
		return ChannelView{}, err
	}
	if _, err := s.requireAction(ctx, channel.WorkspaceID, userID, rbac.ActionManageChannels); err != nil {
		return ChannelView{}, err
	}
	name, err = normalizeChannelName(name)
	if err != nil {
		return ChannelView{}, err
	}
	if err := s.store.UpdateChannelName(ctx, channelID, name); err != nil {
		return ChannelView{}, err
	}
	channel.Name = name
	return channelView(channel), nil
}

func (s *Service) DeleteChannel(ctx context.Context, userID, channelID string) error {
	channel, err := s.loadChannel(ctx, channelID)
	if err != nil {
		return err
	}
	if _, err := s.requireAction(ctx, channel.WorkspaceID, userID, rbac.ActionManageChannels); err != nil {
		return err
	}
	return s.store.DeleteChannel(ctx, channelID)
}

// Conversations

// conversationPair orders two member ids so a pair maps to one conversation.
func conversationPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

// OpenConversation returns the direct-message conversation between the caller
// and memberID, creating it on first use.
func (s *Service) OpenConversation(ctx context.Context, userID, workspaceID, memberID string) (ConversationView, error) {
	caller, err := s.memberFor(ctx, workspaceID, userID)
	if err != nil {
		return ConversationView{}, err
	}
	other, err := s.store.GetMember(ctx, memberID)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && other.WorkspaceID != workspaceID) {
		return ConversationView{}, notFound("Member not found")
	}
	if err != nil {
		return ConversationView{}, err
	}

	one, two := conversationPair(caller.ID, other.ID)
	conversation, err := s.store.GetOrCreateConversation(ctx, store.Conversation{
		ID:          util.NewID("conv"),
		WorkspaceID: workspaceID,
		MemberOneID: one,
		MemberTwoID: two,
	})
	if err != nil {
		return ConversationView{}, err
	}
	return conversationView(conversation), nil
}

// conversationFor loads a conversation the member takes part in.
func (s *Service) conversationFor(ctx context.Context, member store.Member, conversationID string) (store.Conversation, error) {
	conversation, err := s.store.GetConversation(ctx, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Conversation{}, notFound("Conversation not found")
	}
	if err != nil {
		return store.Conversation{}, err
	}
	if conversation.WorkspaceID != member.WorkspaceID ||
		(conversation.MemberOneID != member.ID && conversation.MemberTwoID != member.ID) {
		return store.Conversation{}, notFound("Conversation not found")
	}
	return conversation, nil
}
