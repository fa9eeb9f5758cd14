package app

import (
	"net/http"
)

// routeWorkspaces handles workspace, member, channel and conversation routes.
// parts excludes the leading "api" segment.
func (s *HTTPServer) routeWorkspaces(w http.ResponseWriter, r *http.Request, session Session, parts []string) bool {
	// /api/workspaces
	if len(parts) == 1 && parts[0] == "workspaces" {
		s.handleWorkspaces(w, r, session)
		return true
	}

	// /api/workspaces/{id}
	if len(parts) == 2 && parts[0] == "workspaces" {
		s.handleWorkspace(w, r, session, parts[1])
		return true
	}

	if len(parts) == 3 && parts[0] == "workspaces" {
		workspaceID := parts[1]
		switch parts[2] {
		case "info":
			s.handleWorkspaceInfo(w, r, session, workspaceID)
		case "join":
			s.handleWorkspaceJoin(w, r, session, workspaceID)
		case "join-code":
			s.handleWorkspaceJoinCode(w, r, session, workspaceID)
		case "invites":
			s.handleWorkspaceInvite(w, r, session, workspaceID)
		case "channels":
			s.handleChannels(w, r, session, workspaceID)
		case "conversations":
			s.handleConversations(w, r, session, workspaceID)
		case "upload-url":
			s.handleUploadURL(w, r, session, workspaceID)
		case "search":
			s.handleSearch(w, r, session, workspaceID)
		default:
			return false
		}
		return true
	}

	// /api/channels/{id}
	if len(parts) == 2 && parts[0] == "channels" {
		s.handleChannel(w, r, session, parts[1])
		return true
	}

	// /api/members/{id}
	if len(parts) == 2 && parts[0] == "members" {
		s.handleMember(w, r, session, parts[1])
		return true
	}

	// /api/members/{id}/role
	if len(parts) == 3 && parts[0] == "members" && parts[2] == "role" {
		s.handleMemberRole(w, r, session, parts[1])
		return true
	}

	return false
}

func (s *HTTPServer) handleWorkspaces(w http.ResponseWriter, r *http.Request, session Session) {
	if r.Method == http.MethodGet {
		items, err := s.service.ListWorkspaces(r.Context(), session.UserID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"workspaces": items})
		return
	}

	if r.Method == http.MethodPost {
		var body struct {
			Name string `json:"name"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.CreateWorkspace(r.Context(), session.UserID, body.Name)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, payload)
		return
	}

	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func (s *HTTPServer) handleWorkspace(w http.ResponseWriter, r *http.Request, session Session, workspaceID string) {
	switch r.Method {
	case http.MethodGet:
		payload, err := s.service.GetWorkspace(r.Context(), session.UserID, workspaceID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
	case http.MethodPut:
		var body struct {
			Name string `json:"name"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.RenameWorkspace(r.Context(), session.UserID, workspaceID, body.Name)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
	case http.MethodDelete:
		if err := s.service.DeleteWorkspace(r.Context(), session.UserID, workspaceID); err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleWorkspaceInfo(w http.ResponseWriter, r *http.Request, session Session, workspaceID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	payload, err := s.service.WorkspaceInfo(r.Context(), session.UserID, workspaceID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleWorkspaceJoin(w http.ResponseWriter, r *http.Request, session Session, workspaceID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	var body struct {
		JoinCode string `json:"joinCode"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	payload, err := s.service.JoinWorkspace(r.Context(), session.UserID, workspaceID, body.JoinCode)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleWorkspaceJoinCode(w http.ResponseWriter, r *http.Request, session Session, workspaceID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	payload, err := s.service.NewJoinCode(r.Context(), session.UserID, workspaceID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleWorkspaceInvite(w http.ResponseWriter, r *http.Request, session Session, workspaceID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	var body struct {
		Email string `json:"email"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if err := s.service.InviteByEmail(r.Context(), session.UserID, workspaceID, body.Email); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"ok": true})
}

// handleWorkspaceMembers serves /members and /members/current. session may be
// empty; both routes then answer with no data instead of 401.
func (s *HTTPServer) handleWorkspaceMembers(w http.ResponseWriter, r *http.Request, session Session, workspaceID string, rest []string) {
	if len(rest) == 0 {
		items, err := s.service.ListMembers(r.Context(), session.UserID, workspaceID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"members": items})
		return
	}
	if len(rest) == 1 && rest[0] == "current" {
		member, err := s.service.CurrentMember(r.Context(), session.UserID, workspaceID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"member": member})
		return
	}
	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleMember(w http.ResponseWriter, r *http.Request, session Session, memberID string) {
	switch r.Method {
	case http.MethodGet:
		payload, err := s.service.GetMember(r.Context(), session.UserID, memberID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
	case http.MethodDelete:
		if err := s.service.RemoveMember(r.Context(), session.UserID, memberID); err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleMemberRole(w http.ResponseWriter, r *http.Request, session Session, memberID string) {
	if r.Method != http.MethodPut {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	var body struct {
		Role string `json:"role"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	payload, err := s.service.UpdateMemberRole(r.Context(), session.UserID, memberID, body.Role)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleChannels(w http.ResponseWriter, r *http.Request, session Session, workspaceID string) {
	if r.Method == http.MethodGet {
		items, err := s.service.ListChannels(r.Context(), session.UserID, workspaceID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"channels": items})
		return
	}

	if r.Method == http.MethodPost {
		var body struct {
			Name string `json:"name"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.CreateChannel(r.Context(), session.UserID, workspaceID, body.Name)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, payload)
		return
	}

	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func (s *HTTPServer) handleChannel(w http.ResponseWriter, r *http.Request, session Session, channelID string) {
	switch r.Method {
	case http.MethodGet:
		payload, err := s.service.GetChannel(r.Context(), session.UserID, channelID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
	case http.MethodPut:
		var body struct {
			Name string `json:"name"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.RenameChannel(r.Context(), session.UserID, channelID, body.Name)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
	case http.MethodDelete:
		if err := s.service.DeleteChannel(r.Context(), session.UserID, channelID); err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleConversations(w http.ResponseWriter, r *http.Request, session Session, workspaceID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	var body struct {
		MemberID string `json:"memberId"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	payload, err := s.service.OpenConversation(r.Context(), session.UserID, workspaceID, body.MemberID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}
