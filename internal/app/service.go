package app

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"huddle/api/internal/auth"
	"huddle/api/internal/authpw"
	"huddle/api/internal/blob"
	"huddle/api/internal/config"
	"huddle/api/internal/email"
	"huddle/api/internal/feed"
	"huddle/api/internal/live"
	"huddle/api/internal/logger"
	"huddle/api/internal/search"
	"huddle/api/internal/session"
	"huddle/api/internal/store"
	"huddle/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	Ping(context.Context) error
	CreateUser(context.Context, store.User) error
	GetUserByEmail(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	CreateWorkspace(context.Context, store.Workspace, store.Member, store.Channel) error
	GetWorkspace(context.Context, string) (store.Workspace, error)
	ListWorkspacesForUser(context.Context, string) ([]store.Workspace, error)
	UpdateWorkspaceName(context.Context, string, string) error
	UpdateJoinCode(context.Context, string, string) error
	DeleteWorkspace(context.Context, string) error
	InsertMember(context.Context, store.Member) error
	GetMember(context.Context, string) (store.Member, error)
	GetMemberByWorkspaceAndUser(context.Context, string, string) (store.Member, error)
	ListMembers(context.Context, string) ([]store.Member, error)
	UpdateMemberRole(context.Context, string, string) error
	DeleteMember(context.Context, string) error
	InsertChannel(context.Context, store.Channel) error
	GetChannel(context.Context, string) (store.Channel, error)
	ListChannels(context.Context, string) ([]store.Channel, error)
	UpdateChannelName(context.Context, string, string) error
	DeleteChannel(context.Context, string) error
	GetOrCreateConversation(context.Context, store.Conversation) (store.Conversation, error)
	GetConversation(context.Context, string) (store.Conversation, error)
	InsertMessage(context.Context, store.Message) (store.Message, error)
	GetMessage(context.Context, string) (store.MessageRow, error)
	ListMessages(context.Context, store.MessageFilter, *store.Cursor, int) (store.MessagePage, error)
	UpdateMessageBody(context.Context, string, string, string, time.Time) error
	DeleteMessage(context.Context, string) ([]store.Message, error)
	ToggleReaction(context.Context, store.Reaction) (bool, error)
	ListReactions(context.Context, []string) ([]store.Reaction, error)
}

type sessionStore interface {
	SaveRefreshSession(context.Context, string, string, time.Time) error
	ConsumeRefreshSession(context.Context, string) (string, error)
	RevokeRefreshSession(context.Context, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
}

type blobStore interface {
	Put(context.Context, string, io.Reader, int64, string) (string, error)
	Workspace(context.Context, string) (string, error)
	URL(context.Context, string) (string, error)
	Delete(context.Context, string) error
}

type slotStore interface {
	Issue(context.Context, string, string) (blob.Slot, error)
	Claim(context.Context, string) (blob.Slot, error)
}

type feedHub interface {
	Publish(context.Context, feed.Scope, feed.Event) error
	Subscribe(context.Context, feed.Scope) (*live.Subscription, error)
}

type inviteMailer interface {
	IsConfigured() bool
	SendInvite(string, email.InviteData) error
}

type messageIndex interface {
	Search(search.Query) search.Response
	IndexMessage(search.MessageRecord)
	DeleteMessage(string)
}

// Deps are the collaborators of a Service. Blobs, Slots, Hub, Search and
// Mailer may be nil; the features that need them then report themselves
// unavailable.
type Deps struct {
	Store    dataStore
	Sessions sessionStore
	Blobs    blobStore
	Slots    slotStore
	Hub      feedHub
	Search   messageIndex
	Mailer   inviteMailer
}

type Service struct {
	cfg       config.Config
	store     dataStore
	sessions  sessionStore
	blobs     blobStore
	slots     slotStore
	hub       feedHub
	search    messageIndex
	mailer    inviteMailer
	passwords *authpw.Service
	limiter   *limiterPool
	now       func() time.Time
}

func New(cfg config.Config, deps Deps) *Service {
	return &Service{
		cfg:       cfg,
		store:     deps.Store,
		sessions:  deps.Sessions,
		blobs:     deps.Blobs,
		slots:     deps.Slots,
		hub:       deps.Hub,
		search:    deps.Search,
		mailer:    deps.Mailer,
		passwords: authpw.NewService(deps.Store),
		limiter:   newLimiterPool(cfg.MessageRatePerSecond, cfg.MessageBurst),
		now:       time.Now,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) SignUp(ctx context.Context, name, email, password string) (Session, error) {
	user, err := s.passwords.SignUp(ctx, authpw.SignUpRequest{Name: name, Email: email, Password: password})
	switch {
	case errors.Is(err, authpw.ErrEmailExists):
		return Session{}, domainError(http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil)
	case errors.Is(err, authpw.ErrMissingFields), errors.Is(err, authpw.ErrInvalidEmail), errors.Is(err, authpw.ErrWeakPassword):
		return Session{}, validationError(err.Error())
	case err != nil:
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	user, err := s.passwords.SignIn(ctx, email, password)
	if errors.Is(err, authpw.ErrInvalidCredentials) {
		return Session{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
	}
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

// Refresh exchanges a refresh token for a new session. Each refresh token
// works once.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if refreshToken == "" {
		return Session{}, errUnauthorized
	}
	userID, err := s.sessions.ConsumeRefreshSession(ctx, auth.HashToken(refreshToken))
	if errors.Is(err, session.ErrSessionNotFound) {
		return Session{}, errUnauthorized
	}
	if err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, errUnauthorized
	}
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := s.now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.Name,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, now.Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.Name,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.sessions.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.Name,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, current Session, refreshToken string) error {
	if current.JTI != "" {
		if err := s.sessions.RevokeAccessToken(ctx, current.JTI, current.ExpiresAt); err != nil {
			logger.Log.Warn("revoke access token", zap.Error(err))
		}
	}
	if refreshToken != "" {
		if err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			logger.Log.Warn("revoke refresh token", zap.Error(err))
		}
	}
	return nil
}
