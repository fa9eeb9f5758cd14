package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"huddle/api/internal/blob"
	"huddle/api/internal/feed"
	"huddle/api/internal/live"
	"huddle/api/internal/logger"
	"huddle/api/internal/metrics"
	"huddle/api/internal/richtext"
	"huddle/api/internal/search"
	"huddle/api/internal/store"
	"huddle/api/internal/util"
)

const (
	maxPageSize      = 100
	maxReactionRunes = 16
)

type CreateMessageInput struct {
	Body            string `json:"body"`
	Image           string `json:"image,omitempty"`
	WorkspaceID     string `json:"workspaceId"`
	ChannelID       string `json:"channelId,omitempty"`
	ConversationID  string `json:"conversationId,omitempty"`
	ParentMessageID string `json:"parentMessageId,omitempty"`
}

type ListMessagesInput struct {
	ChannelID       string
	ConversationID  string
	ParentMessageID string
	Cursor          string
	Limit           int
}

// Scope picks the listed scope. A parent message id always means a thread.
func (in ListMessagesInput) Scope() (feed.Scope, error) {
	switch {
	case in.ParentMessageID != "":
		return feed.ThreadScope(in.ParentMessageID, in.ChannelID), nil
	case in.ChannelID != "" && in.ConversationID != "":
		return feed.Scope{}, validationError("Pass either channelId or conversationId")
	case in.ChannelID != "":
		return feed.ChannelScope(in.ChannelID), nil
	case in.ConversationID != "":
		return feed.ConversationScope(in.ConversationID), nil
	default:
		return feed.Scope{}, validationError("channelId, conversationId or parentMessageId is required")
	}
}

func filterFor(scope feed.Scope) store.MessageFilter {
	switch scope.Kind {
	case feed.ScopeThread:
		return store.MessageFilter{ParentMessageID: scope.ID}
	case feed.ScopeConversation:
		return store.MessageFilter{ConversationID: scope.ID}
	default:
		return store.MessageFilter{ChannelID: scope.ID}
	}
}

func toFeedMessage(row store.MessageRow, reactions []feed.ReactionGroup, imageURL string) feed.Message {
	return feed.Message{
		ID:              row.ID,
		WorkspaceID:     row.WorkspaceID,
		ChannelID:       row.ChannelID,
		ConversationID:  row.ConversationID,
		ParentMessageID: row.ParentMessageID,
		Author: feed.Author{
			MemberID: row.MemberID,
			UserID:   row.AuthorUserID,
			Name:     row.AuthorName,
			Image:    row.AuthorImage,
		},
		Body:      row.Body,
		Image:     row.Image,
		ImageURL:  imageURL,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
		Version:   row.Version,
		Reactions: reactions,
		Thread: feed.ThreadSummary{
			Count:     row.ReplyCount,
			Image:     row.LastReplyImage,
			Timestamp: row.LastReplyAt,
			Name:      row.LastReplyName,
		},
	}
}

func (s *Service) toFeedMessages(ctx context.Context, rows []store.MessageRow) ([]feed.Message, error) {
	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
	}
	reactions, err := s.store.ListReactions(ctx, ids)
	if err != nil {
		return nil, err
	}
	byMessage := make(map[string][]feed.Reaction, len(rows))
	for _, r := range reactions {
		byMessage[r.MessageID] = append(byMessage[r.MessageID], feed.Reaction{
			MessageID: r.MessageID,
			MemberID:  r.MemberID,
			Value:     r.Value,
		})
	}

	out := make([]feed.Message, 0, len(rows))
	for _, row := range rows {
		out = append(out, toFeedMessage(row, feed.AggregateReactions(byMessage[row.ID]), s.imageURL(ctx, row.Image)))
	}
	return out, nil
}

// imageURL resolves a storage id to a download URL. A failure leaves the
// message without a preview instead of failing the read.
func (s *Service) imageURL(ctx context.Context, storageID string) string {
	if storageID == "" || s.blobs == nil {
		return ""
	}
	url, err := s.blobs.URL(ctx, storageID)
	if err != nil {
		logger.Log.Warn("resolve image url", zap.String("storage_id", storageID), zap.Error(err))
		return ""
	}
	return url
}

func (s *Service) loadMessage(ctx context.Context, messageID string) (store.MessageRow, error) {
	row, err := s.store.GetMessage(ctx, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.MessageRow{}, notFound("Message not found")
	}
	return row, err
}

func (s *Service) loadFeedMessage(ctx context.Context, messageID string) (feed.Message, error) {
	row, err := s.loadMessage(ctx, messageID)
	if err != nil {
		return feed.Message{}, err
	}
	messages, err := s.toFeedMessages(ctx, []store.MessageRow{row})
	if err != nil {
		return feed.Message{}, err
	}
	return messages[0], nil
}

// messageAccess returns the caller's membership when the caller may read the
// message. Direct messages are visible to their two participants only.
func (s *Service) messageAccess(ctx context.Context, userID string, message store.Message) (store.Member, error) {
	member, err := s.memberFor(ctx, message.WorkspaceID, userID)
	if errors.Is(err, errNotMember) {
		return store.Member{}, notFound("Message not found")
	}
	if err != nil {
		return store.Member{}, err
	}
	if message.ConversationID != "" {
		if _, err := s.conversationFor(ctx, member, message.ConversationID); err != nil {
			return store.Member{}, notFound("Message not found")
		}
	}
	return member, nil
}

// authorizeScope checks that the caller may read scope.
func (s *Service) authorizeScope(ctx context.Context, userID string, scope feed.Scope) (store.Member, error) {
	switch scope.Kind {
	case feed.ScopeChannel:
		channel, err := s.loadChannel(ctx, scope.ID)
		if err != nil {
			return store.Member{}, err
		}
		return s.memberFor(ctx, channel.WorkspaceID, userID)
	case feed.ScopeConversation:
		conversation, err := s.store.GetConversation(ctx, scope.ID)
		if errors.Is(err, sql.ErrNoRows) {
			return store.Member{}, notFound("Conversation not found")
		}
		if err != nil {
			return store.Member{}, err
		}
		member, err := s.memberFor(ctx, conversation.WorkspaceID, userID)
		if err != nil {
			return store.Member{}, err
		}
		if _, err := s.conversationFor(ctx, member, conversation.ID); err != nil {
			return store.Member{}, err
		}
		return member, nil
	case feed.ScopeThread:
		parent, err := s.store.GetMessage(ctx, scope.ID)
		if errors.Is(err, sql.ErrNoRows) {
			return store.Member{}, notFound("Parent message not found")
		}
		if err != nil {
			return store.Member{}, err
		}
		return s.messageAccess(ctx, userID, parent.Message)
	default:
		return store.Member{}, validationError("Unknown scope")
	}
}

// resolveScope fills in a reply's scope from its parent and checks that the
// message lands in exactly one channel or conversation of the workspace.
func (s *Service) resolveScope(ctx context.Context, member store.Member, message *store.Message) error {
	if message.ParentMessageID != "" {
		parent, err := s.store.GetMessage(ctx, message.ParentMessageID)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && parent.WorkspaceID != member.WorkspaceID) {
			return notFound("Parent message not found")
		}
		if err != nil {
			return err
		}
		if parent.ParentMessageID != "" {
			return validationError("Replies cannot have replies")
		}
		if message.ChannelID == "" && message.ConversationID == "" {
			message.ChannelID = parent.ChannelID
			message.ConversationID = parent.ConversationID
		} else if message.ChannelID != parent.ChannelID || message.ConversationID != parent.ConversationID {
			return validationError("Reply must stay in its parent's channel or conversation")
		}
	}

	switch {
	case message.ChannelID != "" && message.ConversationID != "":
		return validationError("A message belongs to a channel or a conversation, not both")
	case message.ChannelID != "":
		channel, err := s.loadChannel(ctx, message.ChannelID)
		if err != nil {
			return err
		}
		if channel.WorkspaceID != member.WorkspaceID {
			return notFound("Channel not found")
		}
	case message.ConversationID != "":
		if _, err := s.conversationFor(ctx, member, message.ConversationID); err != nil {
			return err
		}
	default:
		return validationError("channelId, conversationId or parentMessageId is required")
	}
	return nil
}

func (s *Service) CreateMessage(ctx context.Context, userID string, in CreateMessageInput) (feed.Message, error) {
	if in.WorkspaceID == "" {
		return feed.Message{}, validationError("workspaceId is required")
	}
	member, err := s.memberFor(ctx, in.WorkspaceID, userID)
	if err != nil {
		return feed.Message{}, err
	}
	if err := s.checkImage(ctx, member, in.Image); err != nil {
		return feed.Message{}, err
	}
	if in.Image == "" && richtext.IsEmpty(in.Body) {
		return feed.Message{}, validationError("Message cannot be empty")
	}

	message := store.Message{
		ID:              util.NewID("msg"),
		WorkspaceID:     in.WorkspaceID,
		MemberID:        member.ID,
		ChannelID:       in.ChannelID,
		ConversationID:  in.ConversationID,
		ParentMessageID: in.ParentMessageID,
		Body:            in.Body,
		BodyText:        richtext.PlainText(in.Body),
		Image:           in.Image,
	}
	if err := s.resolveScope(ctx, member, &message); err != nil {
		return feed.Message{}, err
	}
	if !s.limiter.Allow(member.ID) {
		metrics.MessageRateLimited()
		return feed.Message{}, errRateLimited
	}

	inserted, err := s.store.InsertMessage(ctx, message)
	if err != nil {
		return feed.Message{}, err
	}
	created, err := s.loadFeedMessage(ctx, inserted.ID)
	if err != nil {
		return feed.Message{}, err
	}
	metrics.MessageCreated(feed.ScopeOf(created).Kind.String())

	s.publishUpsert(ctx, created)
	if created.ParentMessageID != "" {
		s.republish(ctx, created.ParentMessageID)
	}
	s.indexMessage(ctx, inserted)
	return created, nil
}

// checkImage accepts only storage ids uploaded for the member's workspace.
func (s *Service) checkImage(ctx context.Context, member store.Member, storageID string) error {
	if storageID == "" {
		return nil
	}
	errUnknown := validationError("image is not a known upload")
	if s.blobs == nil || !blob.ValidStorageID(storageID) {
		return errUnknown
	}
	owner, err := s.blobs.Workspace(ctx, storageID)
	if errors.Is(err, blob.ErrInvalidStorageID) {
		return errUnknown
	}
	if err != nil {
		return err
	}
	if owner != member.WorkspaceID {
		logger.Log.Warn("image from another workspace",
			zap.String("storage_id", storageID),
			zap.String("workspace_id", member.WorkspaceID),
			zap.String("member_id", member.ID),
		)
		return errUnknown
	}
	return nil
}

func (s *Service) ListMessages(ctx context.Context, userID string, in ListMessagesInput) (feed.Page, error) {
	scope, err := in.Scope()
	if err != nil {
		return feed.Page{}, err
	}
	if _, err := s.authorizeScope(ctx, userID, scope); err != nil {
		return feed.Page{}, err
	}
	cursor, err := store.DecodeCursor(in.Cursor)
	if err != nil {
		return feed.Page{}, err
	}
	limit := in.Limit
	if limit <= 0 {
		limit = feed.DefaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	page, err := s.store.ListMessages(ctx, filterFor(scope), cursor, limit)
	if err != nil {
		return feed.Page{}, err
	}
	messages, err := s.toFeedMessages(ctx, page.Rows)
	if err != nil {
		return feed.Page{}, err
	}
	return feed.Page{Messages: messages, ContinueCursor: page.NextCursor, IsDone: page.IsDone}, nil
}

func (s *Service) GetMessage(ctx context.Context, userID, messageID string) (feed.Message, error) {
	row, err := s.loadMessage(ctx, messageID)
	if err != nil {
		return feed.Message{}, err
	}
	if _, err := s.messageAccess(ctx, userID, row.Message); err != nil {
		return feed.Message{}, err
	}
	messages, err := s.toFeedMessages(ctx, []store.MessageRow{row})
	if err != nil {
		return feed.Message{}, err
	}
	return messages[0], nil
}

// authoredBy loads a message the caller wrote.
func (s *Service) authoredBy(ctx context.Context, userID, messageID string) (store.MessageRow, error) {
	row, err := s.loadMessage(ctx, messageID)
	if err != nil {
		return store.MessageRow{}, err
	}
	member, err := s.messageAccess(ctx, userID, row.Message)
	if err != nil {
		return store.MessageRow{}, err
	}
	if row.MemberID != member.ID {
		return store.MessageRow{}, forbidden("Only the author can change this message")
	}
	return row, nil
}

func (s *Service) UpdateMessage(ctx context.Context, userID, messageID, body string) (feed.Message, error) {
	row, err := s.authoredBy(ctx, userID, messageID)
	if err != nil {
		return feed.Message{}, err
	}
	if row.Image == "" && richtext.IsEmpty(body) {
		return feed.Message{}, validationError("Message cannot be empty")
	}
	bodyText := richtext.PlainText(body)
	if err := s.store.UpdateMessageBody(ctx, messageID, body, bodyText, s.now().UTC()); err != nil {
		return feed.Message{}, err
	}
	updated, err := s.loadFeedMessage(ctx, messageID)
	if err != nil {
		return feed.Message{}, err
	}
	s.publishUpsert(ctx, updated)

	row.Body, row.BodyText = body, bodyText
	s.indexMessage(ctx, row.Message)
	return updated, nil
}

// DeleteMessage removes the message and, through the store, its replies. Every
// removed message is announced and its attachment and search entry dropped.
func (s *Service) DeleteMessage(ctx context.Context, userID, messageID string) error {
	row, err := s.authoredBy(ctx, userID, messageID)
	if err != nil {
		return err
	}
	replies, err := s.store.DeleteMessage(ctx, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound("Message not found")
	}
	if err != nil {
		return err
	}

	thread := feed.ThreadScope(messageID, row.ChannelID)
	for _, reply := range replies {
		s.publish(ctx, thread, feed.Event{Kind: feed.EventRemove, MessageID: reply.ID})
		s.dropArtifacts(ctx, reply)
	}
	s.dropArtifacts(ctx, row.Message)

	deleted := toFeedMessage(row, nil, "")
	s.publish(ctx, feed.ScopeOf(deleted), feed.Event{Kind: feed.EventRemove, MessageID: messageID})
	if row.ParentMessageID != "" {
		s.republish(ctx, row.ParentMessageID)
	} else {
		// An open thread view of this message learns that its parent is gone.
		s.publish(ctx, thread, feed.Event{Kind: feed.EventRemove, MessageID: messageID})
	}
	return nil
}

// dropArtifacts removes what a deleted message leaves outside the database.
func (s *Service) dropArtifacts(ctx context.Context, message store.Message) {
	if message.Image != "" && s.blobs != nil {
		if err := s.blobs.Delete(ctx, message.Image); err != nil {
			logger.Log.Warn("delete attachment", zap.String("storage_id", message.Image), zap.Error(err))
		}
	}
	if s.search != nil {
		s.search.DeleteMessage(message.ID)
	}
}

// ToggleReaction adds the caller's reaction or removes it when present.
func (s *Service) ToggleReaction(ctx context.Context, userID, messageID, value string) (feed.Message, error) {
	value = strings.TrimSpace(value)
	if value == "" || utf8.RuneCountInString(value) > maxReactionRunes {
		return feed.Message{}, validationError("Reaction must be a short, non-empty value")
	}
	row, err := s.loadMessage(ctx, messageID)
	if err != nil {
		return feed.Message{}, err
	}
	member, err := s.messageAccess(ctx, userID, row.Message)
	if err != nil {
		return feed.Message{}, err
	}
	if _, err := s.store.ToggleReaction(ctx, store.Reaction{
		ID:          util.NewID("rct"),
		WorkspaceID: row.WorkspaceID,
		MessageID:   messageID,
		MemberID:    member.ID,
		Value:       value,
	}); err != nil {
		return feed.Message{}, err
	}
	updated, err := s.loadFeedMessage(ctx, messageID)
	if err != nil {
		return feed.Message{}, err
	}
	s.publishUpsert(ctx, updated)
	return updated, nil
}

// Subscribe opens a live feed for a scope the caller may read.
func (s *Service) Subscribe(ctx context.Context, userID string, scope feed.Scope) (*live.Subscription, error) {
	if !scope.Valid() {
		return nil, validationError("Unknown scope")
	}
	if _, err := s.authorizeScope(ctx, userID, scope); err != nil {
		return nil, err
	}
	if s.hub == nil {
		return nil, domainError(http.StatusServiceUnavailable, "LIVE_UNAVAILABLE", "Live updates are not configured", nil)
	}
	return s.hub.Subscribe(ctx, scope)
}

func (s *Service) publish(ctx context.Context, scope feed.Scope, event feed.Event) {
	if s.hub == nil {
		return
	}
	if err := s.hub.Publish(ctx, scope, event); err != nil {
		logger.Log.Warn("publish feed event", zap.String("scope", scope.Key()), zap.Error(err))
	}
}

func (s *Service) publishUpsert(ctx context.Context, message feed.Message) {
	s.publish(ctx, feed.ScopeOf(message), feed.Event{Kind: feed.EventUpsert, Message: &message})
}

// republish sends a parent again so its thread summary updates in place.
func (s *Service) republish(ctx context.Context, parentID string) {
	parent, err := s.loadFeedMessage(ctx, parentID)
	if err != nil {
		logger.Log.Warn("reload parent message", zap.String("message_id", parentID), zap.Error(err))
		return
	}
	s.publishUpsert(ctx, parent)
}

func (s *Service) indexMessage(ctx context.Context, message store.Message) {
	if s.search == nil {
		return
	}
	record := search.MessageRecord{
		ID:              message.ID,
		WorkspaceID:     message.WorkspaceID,
		ChannelID:       message.ChannelID,
		ConversationID:  message.ConversationID,
		ParentMessageID: message.ParentMessageID,
		MemberID:        message.MemberID,
		Text:            message.BodyText,
		CreatedAt:       message.CreatedAt.UnixMilli(),
	}
	if message.ConversationID != "" {
		conversation, err := s.store.GetConversation(ctx, message.ConversationID)
		if err != nil {
			logger.Log.Warn("load conversation for indexing", zap.String("message_id", message.ID), zap.Error(err))
			return
		}
		record.Participants = []string{conversation.MemberOneID, conversation.MemberTwoID}
	}
	s.search.IndexMessage(record)
}

// Search finds messages in a workspace the caller belongs to.
func (s *Service) Search(ctx context.Context, userID, workspaceID, text string, limit, offset int) (search.Response, error) {
	member, err := s.memberFor(ctx, workspaceID, userID)
	if err != nil {
		return search.Response{}, err
	}
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: strings.TrimSpace(text)}, nil
	}
	return s.search.Search(search.Query{
		Text:        text,
		WorkspaceID: workspaceID,
		MemberID:    member.ID,
		Limit:       limit,
		Offset:      offset,
	}), nil
}
