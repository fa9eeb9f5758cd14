package app

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"huddle/api/internal/logger"
)

const streamHeartbeat = 25 * time.Second

// routeMessages handles /api/messages and its children. parts excludes the
// leading "api" segment.
func (s *HTTPServer) routeMessages(w http.ResponseWriter, r *http.Request, session Session, parts []string) bool {
	if len(parts) == 0 || parts[0] != "messages" {
		return false
	}
	switch len(parts) {
	case 1:
		s.handleMessages(w, r, session)
	case 2:
		s.handleMessage(w, r, session, parts[1])
	case 3:
		if parts[2] != "reactions" {
			return false
		}
		s.handleReaction(w, r, session, parts[1])
	default:
		return false
	}
	return true
}

func listInputFromQuery(r *http.Request) (ListMessagesInput, error) {
	query := r.URL.Query()
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		return ListMessagesInput{}, err
	}
	return ListMessagesInput{
		ChannelID:       query.Get("channelId"),
		ConversationID:  query.Get("conversationId"),
		ParentMessageID: query.Get("parentMessageId"),
		Cursor:          query.Get("cursor"),
		Limit:           limit,
	}, nil
}

func (s *HTTPServer) handleMessages(w http.ResponseWriter, r *http.Request, session Session) {
	if r.Method == http.MethodGet {
		input, err := listInputFromQuery(r)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		page, err := s.service.ListMessages(r.Context(), session.UserID, input)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, page)
		return
	}

	if r.Method == http.MethodPost {
		var body CreateMessageInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		message, err := s.service.CreateMessage(r.Context(), session.UserID, body)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, message)
		return
	}

	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func (s *HTTPServer) handleMessage(w http.ResponseWriter, r *http.Request, session Session, messageID string) {
	switch r.Method {
	case http.MethodGet:
		message, err := s.service.GetMessage(r.Context(), session.UserID, messageID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, message)
	case http.MethodPut:
		var body struct {
			Body string `json:"body"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		message, err := s.service.UpdateMessage(r.Context(), session.UserID, messageID, body.Body)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, message)
	case http.MethodDelete:
		if err := s.service.DeleteMessage(r.Context(), session.UserID, messageID); err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleReaction(w http.ResponseWriter, r *http.Request, session Session, messageID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	var body struct {
		Value string `json:"value"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	message, err := s.service.ToggleReaction(r.Context(), session.UserID, messageID, body.Value)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, message)
}

// handleStream sends live feed events for one scope as server-sent events.
func (s *HTTPServer) handleStream(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	session, ok := s.sessionFromToken(w, r, token)
	if !ok {
		return
	}
	input, err := listInputFromQuery(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	scope, err := input.Scope()
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Streaming unsupported", nil)
		return
	}

	sub, err := s.service.Subscribe(r.Context(), session.UserID, scope)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	ticker := time.NewTicker(streamHeartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-sub.Events:
			if !ok {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				logger.Log.Warn("encode feed event", zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Kind, payload)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

func (s *HTTPServer) handleUploadURL(w http.ResponseWriter, r *http.Request, session Session, workspaceID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	target, err := s.service.GenerateUploadURL(r.Context(), session.UserID, workspaceID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, target)
}

// handleUpload stores the request body under a previously issued slot.
func (s *HTTPServer) handleUpload(w http.ResponseWriter, r *http.Request, token string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	limit := s.service.cfg.MaxUploadBytes
	if limit > 0 {
		if r.ContentLength > limit {
			writeError(w, http.StatusRequestEntityTooLarge, "TOO_LARGE", "Upload is too large", nil)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}
	defer r.Body.Close()

	storageID, err := s.service.StoreUpload(r.Context(), token, r.Header.Get("Content-Type"), r.Body, r.ContentLength)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"storageId": storageID})
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, session Session, workspaceID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	limit, err := queryInt(r, "limit", 20)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	payload, err := s.service.Search(r.Context(), session.UserID, workspaceID, r.URL.Query().Get("q"), limit, offset)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}
