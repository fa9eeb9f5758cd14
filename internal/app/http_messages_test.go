package app

import (
	"bufio"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMessagesOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	general, _, _, _ := seedWorkspace(env)
	handler := env.server.Handler()
	bo := env.tokenFor(t, "usr_bo")

	rr, created := doJSON(t, handler, http.MethodPost, "/api/messages", bo,
		`{"workspaceId":"ws_1","channelId":"`+general.ID+`","body":"hello there"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	id, _ := created["id"].(string)
	if _, ok := created["updatedAt"]; ok {
		t.Fatalf("new message should not carry updatedAt: %v", created)
	}

	rr, page := doJSON(t, handler, http.MethodGet, "/api/messages?channelId="+general.ID+"&limit=10", bo, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	items, _ := page["page"].([]any)
	if len(items) != 1 || page["isDone"] != true {
		t.Fatalf("unexpected page %v", page)
	}

	rr, payload := doJSON(t, handler, http.MethodGet, "/api/messages?channelId="+general.ID+"&cursor=not*base64", bo, "")
	if rr.Code != http.StatusBadRequest || payload["code"] != "INVALID_CURSOR" {
		t.Fatalf("bad cursor: expected 400 INVALID_CURSOR, got %d %v", rr.Code, payload)
	}

	rr, _ = doJSON(t, handler, http.MethodGet, "/api/messages?channelId="+general.ID+"&limit=-3", bo, "")
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("bad limit: expected 422, got %d", rr.Code)
	}

	rr, reacted := doJSON(t, handler, http.MethodPost, "/api/messages/"+id+"/reactions", env.tokenFor(t, "usr_cy"), `{"value":"🎉"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("react: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if groups, _ := reacted["reactions"].([]any); len(groups) != 1 {
		t.Fatalf("expected one reaction group, got %v", reacted["reactions"])
	}

	rr, edited := doJSON(t, handler, http.MethodPut, "/api/messages/"+id, bo, `{"body":"hello again"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("edit: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if _, ok := edited["updatedAt"]; !ok {
		t.Fatalf("edited message should carry updatedAt: %v", edited)
	}

	rr, _ = doJSON(t, handler, http.MethodDelete, "/api/messages/"+id, bo, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d", rr.Code)
	}
	rr, _ = doJSON(t, handler, http.MethodGet, "/api/messages/"+id, bo, "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("deleted message: expected 404, got %d", rr.Code)
	}
}

func TestWorkspaceRoutesOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	seedWorkspace(env)
	handler := env.server.Handler()

	rr, payload := doJSON(t, handler, http.MethodGet, "/api/workspaces/ws_1/members", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("anonymous members: expected 200, got %d", rr.Code)
	}
	if members, _ := payload["members"].([]any); len(members) != 0 {
		t.Fatalf("anonymous callers should see no members, got %v", members)
	}
	rr, payload = doJSON(t, handler, http.MethodGet, "/api/workspaces/ws_1/members/current", "", "")
	if rr.Code != http.StatusOK || payload["member"] != nil {
		t.Fatalf("anonymous current member: got %d %v", rr.Code, payload)
	}

	bo := env.tokenFor(t, "usr_bo")
	rr, payload = doJSON(t, handler, http.MethodGet, "/api/workspaces/ws_1/members", bo, "")
	if members, _ := payload["members"].([]any); rr.Code != http.StatusOK || len(members) != 3 {
		t.Fatalf("members: got %d %v", rr.Code, payload)
	}

	rr, _ = doJSON(t, handler, http.MethodPost, "/api/workspaces/ws_1/channels", bo, `{"name":"random"}`)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("member creating channel: expected 403, got %d", rr.Code)
	}
	rr, _ = doJSON(t, handler, http.MethodPost, "/api/workspaces/ws_1/channels", env.tokenFor(t, "usr_admin"), `{"name":"random"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("admin creating channel: expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr, payload = doJSON(t, handler, http.MethodPost, "/api/workspaces/ws_1/conversations", bo, `{"memberId":"mem_usr_cy_ws_1"}`)
	if rr.Code != http.StatusOK || payload["id"] == "" {
		t.Fatalf("open conversation: got %d %v", rr.Code, payload)
	}

	rr, _ = doJSON(t, handler, http.MethodDelete, "/api/workspaces/ws_1", bo, "")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("member deleting workspace: expected 403, got %d", rr.Code)
	}
}

func TestUploadFlow(t *testing.T) {
	env := newTestEnv(t)
	general, _, _, _ := seedWorkspace(env)
	handler := env.server.Handler()
	bo := env.tokenFor(t, "usr_bo")

	rr, target := doJSON(t, handler, http.MethodPost, "/api/workspaces/ws_1/upload-url", bo, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("upload url: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	uploadURL, _ := target["uploadUrl"].(string)
	if !strings.HasPrefix(uploadURL, "http://api.test/api/uploads/upl_") {
		t.Fatalf("unexpected upload url %q", uploadURL)
	}
	path := strings.TrimPrefix(uploadURL, "http://api.test")

	upload := func(contentType string, body []byte) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
		req.Header.Set("Content-Type", contentType)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	if rr := upload("text/plain", []byte("nope")); rr.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("non-image: expected 415, got %d", rr.Code)
	}

	png := []byte("\x89PNG\r\n\x1a\nfake")
	rr = upload("image/png", png)
	if rr.Code != http.StatusOK {
		t.Fatalf("upload: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"storageId":"blob_`) {
		t.Fatalf("expected storage id, got %s", rr.Body.String())
	}

	if rr := upload("image/png", png); rr.Code != http.StatusNotFound {
		t.Fatalf("reused slot: expected 404, got %d", rr.Code)
	}

	var storageID string
	for id := range env.blobs.objects {
		storageID = id
	}
	if data, ok := env.blobs.object(storageID); !ok || !bytes.Equal(data, png) {
		t.Fatalf("stored object mismatch")
	}

	rr, created := doJSON(t, handler, http.MethodPost, "/api/messages", bo,
		`{"workspaceId":"ws_1","channelId":"`+general.ID+`","image":"`+storageID+`"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create with image: expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	if created["imageUrl"] != "https://files.test/"+storageID {
		t.Fatalf("expected image url, got %v", created["imageUrl"])
	}
}

func TestUploadRejectsOversizedBody(t *testing.T) {
	env := newTestEnv(t)
	seedWorkspace(env)
	env.svc.cfg.MaxUploadBytes = 8

	target, err := env.svc.GenerateUploadURL(context.Background(), "usr_bo", "ws_1")
	if err != nil {
		t.Fatalf("upload url: %v", err)
	}
	path := strings.TrimPrefix(target.UploadURL, "http://api.test")
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(make([]byte, 64)))
	req.Header.Set("Content-Type", "image/png")
	rr := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rr.Code)
	}
}

func TestUploadsUnavailableWithoutStorage(t *testing.T) {
	env := newTestEnv(t)
	seedWorkspace(env)
	env.svc.blobs = nil

	_, err := env.svc.GenerateUploadURL(context.Background(), "usr_bo", "ws_1")
	assertDomainStatus(t, err, http.StatusServiceUnavailable)
}

func TestStreamDeliversEvents(t *testing.T) {
	env := newTestEnv(t)
	general, _, _, _ := seedWorkspace(env)
	srv := httptest.NewServer(env.server.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		srv.URL+"/api/messages/stream?channelId="+general.ID+"&token="+env.tokenFor(t, "usr_cy"), nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected text/event-stream, got %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	if err != nil || !strings.HasPrefix(line, ": connected") {
		t.Fatalf("expected connected comment, got %q %v", line, err)
	}

	message := post(t, env, "usr_bo", CreateMessageInput{Body: "streamed", ChannelID: general.ID})

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		if strings.HasPrefix(line, "data: ") {
			if !strings.Contains(line, message.ID) || !strings.Contains(line, `"kind":"upsert"`) {
				t.Fatalf("unexpected event %q", line)
			}
			return
		}
	}
}

func TestStreamRequiresToken(t *testing.T) {
	env := newTestEnv(t)
	general, _, _, _ := seedWorkspace(env)
	rr, _ := doJSON(t, env.server.Handler(), http.MethodGet, "/api/messages/stream?channelId="+general.ID, "", "")
	assertUnauthorizedCode(t, rr)
}
