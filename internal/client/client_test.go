package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"huddle/api/internal/feed"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL+"/", "tok_1", nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func TestNewRejectsBadBaseURL(t *testing.T) {
	for _, raw := range []string{"", "   ", "api.test"} {
		if _, err := New(raw, "", nil); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestFetchPageSendsScopeAndCursor(t *testing.T) {
	tests := []struct {
		name  string
		scope feed.Scope
		param string
	}{
		{name: "channel", scope: feed.ChannelScope("ch_1"), param: "channelId"},
		{name: "conversation", scope: feed.ConversationScope("cv_1"), param: "conversationId"},
		{name: "thread", scope: feed.ThreadScope("msg_1", "ch_1"), param: "parentMessageId"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/api/messages" {
					t.Errorf("unexpected path %s", r.URL.Path)
				}
				if r.Header.Get("Authorization") != "Bearer tok_1" {
					t.Errorf("missing bearer token")
				}
				q := r.URL.Query()
				if q.Get(tt.param) != tt.scope.ID || q.Get("cursor") != "c1" || q.Get("limit") != "20" {
					t.Errorf("unexpected query %v", q)
				}
				writeJSON(w, http.StatusOK, map[string]any{
					"page":           []map[string]any{{"id": "msg_9", "body": "hi", "createdAt": "2024-03-04T09:00:00Z"}},
					"continueCursor": "c2",
					"isDone":         false,
				})
			})

			page, err := c.FetchPage(context.Background(), tt.scope, "c1", 20)
			if err != nil {
				t.Fatalf("fetch page: %v", err)
			}
			if len(page.Messages) != 1 || page.Messages[0].ID != "msg_9" || page.ContinueCursor != "c2" || page.IsDone {
				t.Fatalf("unexpected page %+v", page)
			}
		})
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{status: http.StatusUnauthorized, want: ErrAuth},
		{status: http.StatusForbidden, want: ErrAuth},
		{status: http.StatusNotFound, want: ErrNotFound},
		{status: http.StatusBadRequest, want: ErrValidation},
		{status: http.StatusUnprocessableEntity, want: ErrValidation},
		{status: http.StatusUnsupportedMediaType, want: ErrValidation},
		{status: http.StatusTooManyRequests, want: ErrNetwork},
		{status: http.StatusBadGateway, want: ErrNetwork},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, map[string]string{"code": "SOME_CODE", "error": "went wrong"})
			})
			_, err := c.GetMessage(context.Background(), "msg_1")
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			var apiErr *APIError
			if !errors.As(err, &apiErr) || apiErr.Code != "SOME_CODE" || apiErr.Message != "went wrong" {
				t.Fatalf("expected decoded APIError, got %#v", err)
			}
		})
	}
}

func TestTransportFailureIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := New(url, "", nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = c.FetchPage(context.Background(), feed.ChannelScope("ch_1"), "", 20)
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}
}

func TestCurrentMemberNullIsNil(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/workspaces/ws_1/members/current":
			writeJSON(w, http.StatusOK, map[string]any{"member": nil})
		case "/api/workspaces/ws_1/members":
			writeJSON(w, http.StatusOK, map[string]any{"members": nil})
		default:
			http.NotFound(w, r)
		}
	})

	member, err := c.CurrentMember(context.Background(), "ws_1")
	if err != nil || member != nil {
		t.Fatalf("expected nil member, got %v %v", member, err)
	}
	members, err := c.Members(context.Background(), "ws_1")
	if err != nil || members == nil || len(members) != 0 {
		t.Fatalf("expected empty roster, got %v %v", members, err)
	}
}

func TestMutationsUseExpectedRoutes(t *testing.T) {
	var (
		mu    sync.Mutex
		calls []string
	)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		calls = append(calls, r.Method+" "+r.URL.Path+" "+strings.TrimSpace(string(body)))
		mu.Unlock()
		switch {
		case r.Method == http.MethodDelete:
			writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		case r.Method == http.MethodPost && r.URL.Path == "/api/messages":
			writeJSON(w, http.StatusCreated, map[string]any{"id": "msg_new", "body": "hi"})
		default:
			writeJSON(w, http.StatusOK, map[string]any{"id": "msg_1", "body": "edited"})
		}
	})
	ctx := context.Background()

	created, err := c.CreateMessage(ctx, NewMessage{Body: "hi", WorkspaceID: "ws_1", ChannelID: "ch_1"})
	if err != nil || created.ID != "msg_new" {
		t.Fatalf("create: %+v %v", created, err)
	}
	if _, err := c.UpdateMessage(ctx, "msg_1", "edited"); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := c.ToggleReaction(ctx, "msg_1", "👍"); err != nil {
		t.Fatalf("react: %v", err)
	}
	if err := c.DeleteMessage(ctx, "msg_1"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{
		`POST /api/messages {"body":"hi","workspaceId":"ws_1","channelId":"ch_1"}`,
		`PUT /api/messages/msg_1 {"body":"edited"}`,
		`POST /api/messages/msg_1/reactions {"value":"👍"}`,
		`DELETE /api/messages/msg_1 `,
	}
	if len(calls) != len(want) {
		t.Fatalf("expected %d calls, got %v", len(want), calls)
	}
	for i := range want {
		if strings.TrimSpace(calls[i]) != strings.TrimSpace(want[i]) {
			t.Fatalf("call %d: expected %q, got %q", i, want[i], calls[i])
		}
	}
}

func TestUploadRoundTrip(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/workspaces/ws_1/upload-url":
			writeJSON(w, http.StatusOK, map[string]any{"uploadUrl": "http://" + r.Host + "/api/uploads/upl_1", "expiresAt": time.Now().Add(time.Minute)})
		case "/api/uploads/upl_1":
			if r.Header.Get("Content-Type") != "image/png" {
				writeJSON(w, http.StatusUnsupportedMediaType, map[string]string{"code": "UNSUPPORTED_MEDIA_TYPE", "error": "Only images"})
				return
			}
			data, _ := io.ReadAll(r.Body)
			if string(data) != "pixels" {
				t.Errorf("unexpected upload body %q", data)
			}
			writeJSON(w, http.StatusOK, map[string]string{"storageId": "blob_1"})
		default:
			http.NotFound(w, r)
		}
	})
	ctx := context.Background()

	target, err := c.GenerateUploadURL(ctx, "ws_1")
	if err != nil {
		t.Fatalf("upload url: %v", err)
	}
	id, err := c.Transfer(ctx, target.UploadURL, "image/png", strings.NewReader("pixels"))
	if err != nil || id != "blob_1" {
		t.Fatalf("transfer: %q %v", id, err)
	}
	_, err = c.Transfer(ctx, target.UploadURL, "text/plain", strings.NewReader("words"))
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for non-image, got %v", err)
	}
}

func TestTransferWithoutStorageIDFails(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{})
	})
	if _, err := c.Transfer(context.Background(), c.baseURL+"/api/uploads/upl_1", "image/png", strings.NewReader("x")); err == nil {
		t.Fatalf("expected error for missing storage id")
	}
}

func TestTransferSendsNoBearerToken(t *testing.T) {
	var mu sync.Mutex
	var auth []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		auth = append(auth, r.URL.Path+"="+r.Header.Get("Authorization"))
		mu.Unlock()
		switch r.URL.Path {
		case "/api/workspaces/ws_1/upload-url":
			writeJSON(w, http.StatusOK, map[string]any{"uploadUrl": "http://" + r.Host + "/api/uploads/upl_1", "expiresAt": time.Now().Add(time.Minute)})
		default:
			writeJSON(w, http.StatusOK, map[string]string{"storageId": "blob_1"})
		}
	})
	ctx := context.Background()

	target, err := c.GenerateUploadURL(ctx, "ws_1")
	if err != nil {
		t.Fatalf("upload url: %v", err)
	}
	if _, err := c.Transfer(ctx, target.UploadURL, "image/png", strings.NewReader("pixels")); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"/api/workspaces/ws_1/upload-url=Bearer tok_1", "/api/uploads/upl_1="}
	if len(auth) != len(want) || auth[0] != want[0] || auth[1] != want[1] {
		t.Fatalf("unexpected authorization headers %q", auth)
	}
}

func TestSubscribeDeliversEvents(t *testing.T) {
	release := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/messages/stream" || r.URL.Query().Get("token") != "tok_1" || r.URL.Query().Get("channelId") != "ch_1" {
			http.NotFound(w, r)
			return
		}
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, ": connected\n\n")
		fmt.Fprint(w, "event: upsert\ndata: {\"kind\":\"upsert\",\"message\":{\"id\":\"msg_1\",\"body\":\"hi\"}}\n\n")
		fmt.Fprint(w, ": ping\n\n")
		fmt.Fprint(w, "event: remove\ndata: {\"kind\":\"remove\",\"messageId\":\"msg_2\"}\n\n")
		flusher.Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sub, err := c.Subscribe(ctx, feed.ChannelScope("ch_1"))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	first := <-sub.Events()
	if first.Kind != feed.EventUpsert || first.Message == nil || first.Message.ID != "msg_1" {
		t.Fatalf("unexpected first event %+v", first)
	}
	second := <-sub.Events()
	if second.Kind != feed.EventRemove || second.MessageID != "msg_2" {
		t.Fatalf("unexpected second event %+v", second)
	}

	sub.Close()
	if _, ok := <-sub.Events(); ok {
		t.Fatalf("expected events to be closed")
	}
}

func TestSubscribeRejected(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"code": "UNAUTHORIZED", "error": "Missing token"})
	})
	_, err := c.Subscribe(context.Background(), feed.ChannelScope("ch_1"))
	if !errors.Is(err, ErrAuth) {
		t.Fatalf("expected ErrAuth, got %v", err)
	}
}
