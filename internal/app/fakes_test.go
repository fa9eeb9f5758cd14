package app

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"huddle/api/internal/blob"
	"huddle/api/internal/config"
	"huddle/api/internal/live"
	"huddle/api/internal/search"
	"huddle/api/internal/session"
	"huddle/api/internal/store"
)

// fakeStore is an in-memory dataStore. Timestamps come from a clock that
// advances one second per write so ordering is deterministic.
type fakeStore struct {
	mu            sync.Mutex
	clock         time.Time
	users         map[string]store.User
	workspaces    map[string]store.Workspace
	members       map[string]store.Member
	channels      map[string]store.Channel
	conversations map[string]store.Conversation
	messages      map[string]store.Message
	reactions     []store.Reaction

	pingFn          func(context.Context) error
	insertMessageFn func(context.Context, store.Message) error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		clock:         time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC),
		users:         map[string]store.User{},
		workspaces:    map[string]store.Workspace{},
		members:       map[string]store.Member{},
		channels:      map[string]store.Channel{},
		conversations: map[string]store.Conversation{},
		messages:      map[string]store.Message{},
	}
}

func (f *fakeStore) tick() time.Time {
	f.clock = f.clock.Add(time.Second)
	return f.clock
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

// Users

func (f *fakeStore) CreateUser(_ context.Context, user store.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.users {
		if existing.Email == user.Email {
			return store.ErrConflict
		}
	}
	user.CreatedAt = f.tick()
	f.users[user.ID] = user
	return nil
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if user.Email == email {
			return user, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) GetUserByID(_ context.Context, userID string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

// Workspaces

func (f *fakeStore) CreateWorkspace(_ context.Context, ws store.Workspace, owner store.Member, general store.Channel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.tick()
	ws.CreatedAt, owner.CreatedAt, general.CreatedAt = now, now, now
	f.workspaces[ws.ID] = ws
	f.members[owner.ID] = owner
	f.channels[general.ID] = general
	return nil
}

func (f *fakeStore) GetWorkspace(_ context.Context, workspaceID string) (store.Workspace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ws, ok := f.workspaces[workspaceID]
	if !ok {
		return store.Workspace{}, sql.ErrNoRows
	}
	return ws, nil
}

func (f *fakeStore) ListWorkspacesForUser(_ context.Context, userID string) ([]store.Workspace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.Workspace{}
	for _, member := range f.members {
		if member.UserID == userID {
			out = append(out, f.workspaces[member.WorkspaceID])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) UpdateWorkspaceName(_ context.Context, workspaceID, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ws, ok := f.workspaces[workspaceID]
	if !ok {
		return sql.ErrNoRows
	}
	ws.Name = name
	f.workspaces[workspaceID] = ws
	return nil
}

func (f *fakeStore) UpdateJoinCode(_ context.Context, workspaceID, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ws, ok := f.workspaces[workspaceID]
	if !ok {
		return sql.ErrNoRows
	}
	ws.JoinCode = code
	f.workspaces[workspaceID] = ws
	return nil
}

func (f *fakeStore) DeleteWorkspace(_ context.Context, workspaceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.workspaces[workspaceID]; !ok {
		return sql.ErrNoRows
	}
	delete(f.workspaces, workspaceID)
	for id, member := range f.members {
		if member.WorkspaceID == workspaceID {
			delete(f.members, id)
		}
	}
	for id, channel := range f.channels {
		if channel.WorkspaceID == workspaceID {
			delete(f.channels, id)
		}
	}
	for id, message := range f.messages {
		if message.WorkspaceID == workspaceID {
			delete(f.messages, id)
		}
	}
	return nil
}

// Members

func (f *fakeStore) withUser(member store.Member) store.Member {
	user := f.users[member.UserID]
	member.UserName = user.Name
	member.UserImage = user.Image
	return member
}

func (f *fakeStore) InsertMember(_ context.Context, member store.Member) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.members {
		if existing.WorkspaceID == member.WorkspaceID && existing.UserID == member.UserID {
			return store.ErrConflict
		}
	}
	member.CreatedAt = f.tick()
	f.members[member.ID] = member
	return nil
}

func (f *fakeStore) GetMember(_ context.Context, memberID string) (store.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	member, ok := f.members[memberID]
	if !ok {
		return store.Member{}, sql.ErrNoRows
	}
	return f.withUser(member), nil
}

func (f *fakeStore) GetMemberByWorkspaceAndUser(_ context.Context, workspaceID, userID string) (store.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, member := range f.members {
		if member.WorkspaceID == workspaceID && member.UserID == userID {
			return f.withUser(member), nil
		}
	}
	return store.Member{}, sql.ErrNoRows
}

func (f *fakeStore) ListMembers(_ context.Context, workspaceID string) ([]store.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.Member{}
	for _, member := range f.members {
		if member.WorkspaceID == workspaceID {
			out = append(out, f.withUser(member))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeStore) UpdateMemberRole(_ context.Context, memberID, role string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	member, ok := f.members[memberID]
	if !ok {
		return sql.ErrNoRows
	}
	member.Role = role
	f.members[memberID] = member
	return nil
}

func (f *fakeStore) DeleteMember(_ context.Context, memberID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.members[memberID]; !ok {
		return sql.ErrNoRows
	}
	delete(f.members, memberID)
	for id, message := range f.messages {
		if message.MemberID == memberID {
			message.MemberID = ""
			f.messages[id] = message
		}
	}
	return nil
}

// Channels

func (f *fakeStore) InsertChannel(_ context.Context, channel store.Channel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.channels {
		if existing.WorkspaceID == channel.WorkspaceID && existing.Name == channel.Name {
			return store.ErrConflict
		}
	}
	channel.CreatedAt = f.tick()
	f.channels[channel.ID] = channel
	return nil
}

func (f *fakeStore) GetChannel(_ context.Context, channelID string) (store.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	channel, ok := f.channels[channelID]
	if !ok {
		return store.Channel{}, sql.ErrNoRows
	}
	return channel, nil
}

func (f *fakeStore) ListChannels(_ context.Context, workspaceID string) ([]store.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.Channel{}
	for _, channel := range f.channels {
		if channel.WorkspaceID == workspaceID {
			out = append(out, channel)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *fakeStore) UpdateChannelName(_ context.Context, channelID, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	channel, ok := f.channels[channelID]
	if !ok {
		return sql.ErrNoRows
	}
	channel.Name = name
	f.channels[channelID] = channel
	return nil
}

func (f *fakeStore) DeleteChannel(_ context.Context, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.channels[channelID]; !ok {
		return sql.ErrNoRows
	}
	delete(f.channels, channelID)
	for id, message := range f.messages {
		if message.ChannelID == channelID {
			delete(f.messages, id)
		}
	}
	return nil
}

// Conversations

func (f *fakeStore) GetOrCreateConversation(_ context.Context, conversation store.Conversation) (store.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.conversations {
		if existing.WorkspaceID == conversation.WorkspaceID &&
			existing.MemberOneID == conversation.MemberOneID &&
			existing.MemberTwoID == conversation.MemberTwoID {
			return existing, nil
		}
	}
	conversation.CreatedAt = f.tick()
	f.conversations[conversation.ID] = conversation
	return conversation, nil
}

func (f *fakeStore) GetConversation(_ context.Context, conversationID string) (store.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conversation, ok := f.conversations[conversationID]
	if !ok {
		return store.Conversation{}, sql.ErrNoRows
	}
	return conversation, nil
}

// Messages

func (f *fakeStore) row(message store.Message) store.MessageRow {
	row := store.MessageRow{Message: message}
	if member, ok := f.members[message.MemberID]; ok {
		user := f.users[member.UserID]
		row.AuthorUserID, row.AuthorName, row.AuthorImage = user.ID, user.Name, user.Image
	}
	for _, reply := range f.messages {
		if reply.ParentMessageID != message.ID {
			continue
		}
		row.ReplyCount++
		if row.LastReplyAt == nil || reply.CreatedAt.After(*row.LastReplyAt) {
			at := reply.CreatedAt
			row.LastReplyAt = &at
			if member, ok := f.members[reply.MemberID]; ok {
				user := f.users[member.UserID]
				row.LastReplyName, row.LastReplyImage = user.Name, user.Image
			}
		}
	}
	return row
}

func (f *fakeStore) InsertMessage(ctx context.Context, message store.Message) (store.Message, error) {
	if f.insertMessageFn != nil {
		if err := f.insertMessageFn(ctx, message); err != nil {
			return store.Message{}, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	message.CreatedAt = f.tick()
	message.Version = 1
	f.messages[message.ID] = message
	f.bumpLocked(message.ParentMessageID)
	return message, nil
}

func (f *fakeStore) bumpLocked(messageID string) {
	if message, ok := f.messages[messageID]; ok {
		message.Version++
		f.messages[messageID] = message
	}
}

func (f *fakeStore) GetMessage(_ context.Context, messageID string) (store.MessageRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	message, ok := f.messages[messageID]
	if !ok {
		return store.MessageRow{}, sql.ErrNoRows
	}
	return f.row(message), nil
}

func (f *fakeStore) ListMessages(_ context.Context, filter store.MessageFilter, cursor *store.Cursor, limit int) (store.MessagePage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	matches := []store.Message{}
	for _, message := range f.messages {
		switch {
		case filter.ParentMessageID != "":
			if message.ParentMessageID != filter.ParentMessageID {
				continue
			}
		case filter.ChannelID != "":
			if message.ChannelID != filter.ChannelID || message.ParentMessageID != "" {
				continue
			}
		case filter.ConversationID != "":
			if message.ConversationID != filter.ConversationID || message.ParentMessageID != "" {
				continue
			}
		default:
			return store.MessagePage{}, errors.New("message filter requires a scope")
		}
		if cursor != nil {
			older := message.CreatedAt.Before(cursor.TS) ||
				(message.CreatedAt.Equal(cursor.TS) && message.ID < cursor.ID)
			if !older {
				continue
			}
		}
		matches = append(matches, message)
	}
	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].CreatedAt.After(matches[j].CreatedAt)
		}
		return matches[i].ID > matches[j].ID
	})

	page := store.MessagePage{IsDone: true}
	if len(matches) > limit {
		matches = matches[:limit]
		page.IsDone = false
		last := matches[len(matches)-1]
		page.NextCursor = store.EncodeCursor(store.Cursor{ID: last.ID, TS: last.CreatedAt})
	}
	page.Rows = make([]store.MessageRow, 0, len(matches))
	for _, message := range matches {
		page.Rows = append(page.Rows, f.row(message))
	}
	return page, nil
}

func (f *fakeStore) UpdateMessageBody(_ context.Context, messageID, body, bodyText string, updatedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	message, ok := f.messages[messageID]
	if !ok {
		return sql.ErrNoRows
	}
	message.Body, message.BodyText, message.UpdatedAt = body, bodyText, &updatedAt
	message.Version++
	f.messages[messageID] = message
	return nil
}

func (f *fakeStore) DeleteMessage(_ context.Context, messageID string) ([]store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	deleted, ok := f.messages[messageID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	delete(f.messages, messageID)
	replies := []store.Message{}
	for id, message := range f.messages {
		if message.ParentMessageID == messageID {
			delete(f.messages, id)
			replies = append(replies, message)
		}
	}
	sort.Slice(replies, func(i, j int) bool { return replies[i].ID < replies[j].ID })
	f.bumpLocked(deleted.ParentMessageID)
	return replies, nil
}

// Reactions

func (f *fakeStore) ToggleReaction(_ context.Context, reaction store.Reaction) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, existing := range f.reactions {
		if existing.MessageID == reaction.MessageID && existing.MemberID == reaction.MemberID && existing.Value == reaction.Value {
			f.reactions = append(f.reactions[:i], f.reactions[i+1:]...)
			f.bumpLocked(reaction.MessageID)
			return false, nil
		}
	}
	reaction.CreatedAt = f.tick()
	f.reactions = append(f.reactions, reaction)
	f.bumpLocked(reaction.MessageID)
	return true, nil
}

func (f *fakeStore) ListReactions(_ context.Context, messageIDs []string) ([]store.Reaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	wanted := map[string]bool{}
	for _, id := range messageIDs {
		wanted[id] = true
	}
	out := []store.Reaction{}
	for _, reaction := range f.reactions {
		if wanted[reaction.MessageID] {
			out = append(out, reaction)
		}
	}
	return out, nil
}

// seeding helpers

func (f *fakeStore) addUser(id, name string) store.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	user := store.User{ID: id, Name: name, Email: id + "@example.com", CreatedAt: f.tick()}
	f.users[id] = user
	return user
}

func (f *fakeStore) addWorkspace(id, ownerUserID string) (store.Workspace, store.Member, store.Channel) {
	ws := store.Workspace{ID: id, Name: "Workspace " + id, UserID: ownerUserID, JoinCode: "abc123"}
	owner := store.Member{ID: "mem_" + ownerUserID + "_" + id, WorkspaceID: id, UserID: ownerUserID, Role: "admin"}
	general := store.Channel{ID: "ch_general_" + id, WorkspaceID: id, Name: "general"}
	_ = f.CreateWorkspace(context.Background(), ws, owner, general)
	return f.workspaces[id], f.withUser(f.members[owner.ID]), f.channels[general.ID]
}

func (f *fakeStore) addMember(workspaceID, userID, role string) store.Member {
	member := store.Member{ID: "mem_" + userID + "_" + workspaceID, WorkspaceID: workspaceID, UserID: userID, Role: role}
	if err := f.InsertMember(context.Background(), member); err != nil {
		panic(fmt.Sprintf("add member: %v", err))
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.withUser(f.members[member.ID])
}

// fakeBlobs keeps uploads in memory.
type fakeBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	owners  map[string]string
	deleted []string
	next    int
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: map[string][]byte{}, owners: map[string]string{}}
}

func (b *fakeBlobs) Put(_ context.Context, workspaceID string, body io.Reader, _ int64, _ string) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	id := fmt.Sprintf("blob_%032x", b.next)
	b.objects[id] = data
	b.owners[id] = workspaceID
	return id, nil
}

func (b *fakeBlobs) Workspace(_ context.Context, storageID string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	owner, ok := b.owners[storageID]
	if !ok {
		return "", blob.ErrInvalidStorageID
	}
	return owner, nil
}

// seed stores an image for workspaceID as if it had been uploaded.
func (b *fakeBlobs) seed(t *testing.T, workspaceID string) string {
	t.Helper()
	id, err := b.Put(context.Background(), workspaceID, strings.NewReader("png"), 3, "image/png")
	if err != nil {
		t.Fatalf("seed blob: %v", err)
	}
	return id
}

func (b *fakeBlobs) URL(_ context.Context, storageID string) (string, error) {
	return "https://files.test/" + storageID, nil
}

func (b *fakeBlobs) Delete(_ context.Context, storageID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, storageID)
	b.deleted = append(b.deleted, storageID)
	return nil
}

func (b *fakeBlobs) object(storageID string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[storageID]
	return bytes.Clone(data), ok
}

// fakeIndex records what the service indexes.
type fakeIndex struct {
	mu      sync.Mutex
	indexed []search.MessageRecord
	deleted []string
	queries []search.Query
}

func (x *fakeIndex) Search(q search.Query) search.Response {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.queries = append(x.queries, q)
	return search.Response{Results: []search.Result{}, Query: q.Text}
}

func (x *fakeIndex) IndexMessage(record search.MessageRecord) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.indexed = append(x.indexed, record)
}

func (x *fakeIndex) DeleteMessage(messageID string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.deleted = append(x.deleted, messageID)
}

type testEnv struct {
	svc    *Service
	store  *fakeStore
	blobs  *fakeBlobs
	index  *fakeIndex
	hub    *live.Hub
	server *HTTPServer
	redis  *miniredis.Miniredis
}

func testConfig() config.Config {
	return config.Config{
		JWTSecret:            "test-secret",
		AccessTTL:            time.Hour,
		RefreshTTL:           24 * time.Hour,
		PublicBaseURL:        "http://api.test",
		MaxUploadBytes:       1 << 20,
		MessageRatePerSecond: 100,
		MessageBurst:         100,
	}
}

// newTestEnv wires a Service to an in-memory store and a miniredis-backed
// session store, slot store and hub.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	env := &testEnv{
		store: newFakeStore(),
		blobs: newFakeBlobs(),
		index: &fakeIndex{},
		hub:   live.NewHub(client),
		redis: mr,
	}
	env.svc = New(testConfig(), Deps{
		Store:    env.store,
		Sessions: session.NewRedisStoreWithClient(client),
		Blobs:    env.blobs,
		Slots:    blob.NewSlotStore(client, time.Minute),
		Hub:      env.hub,
		Search:   env.index,
	})
	env.server = NewHTTPServer(env.svc, "*")
	return env
}

// tokenFor issues an access token for a seeded user.
func (e *testEnv) tokenFor(t *testing.T, userID string) string {
	t.Helper()
	user, err := e.store.GetUserByID(context.Background(), userID)
	if err != nil {
		t.Fatalf("load user %s: %v", userID, err)
	}
	session, err := e.svc.issueSession(context.Background(), user)
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}
	return session.Token
}
