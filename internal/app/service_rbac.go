package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"huddle/api/internal/rbac"
	"huddle/api/internal/store"
)

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// memberFor returns the caller's membership or errNotMember.
func (s *Service) memberFor(ctx context.Context, workspaceID, userID string) (store.Member, error) {
	if userID == "" {
		return store.Member{}, errUnauthorized
	}
	member, err := s.store.GetMemberByWorkspaceAndUser(ctx, workspaceID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Member{}, errNotMember
	}
	if err != nil {
		return store.Member{}, fmt.Errorf("load member: %w", err)
	}
	return member, nil
}

func (s *Service) requireAction(ctx context.Context, workspaceID, userID string, action rbac.Action) (store.Member, error) {
	member, err := s.memberFor(ctx, workspaceID, userID)
	if err != nil {
		return store.Member{}, err
	}
	if !s.Can(member.Role, action) {
		return store.Member{}, forbidden("Forbidden")
	}
	return member, nil
}

// CurrentMember returns nil when the caller is anonymous or not a member.
func (s *Service) CurrentMember(ctx context.Context, userID, workspaceID string) (*MemberView, error) {
	member, err := s.memberFor(ctx, workspaceID, userID)
	if errors.Is(err, errUnauthorized) || errors.Is(err, errNotMember) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	view := memberView(member)
	return &view, nil
}

// ListMembers returns the workspace roster joined with users. Callers that
// are anonymous or not members get an empty list.
func (s *Service) ListMembers(ctx context.Context, userID, workspaceID string) ([]MemberView, error) {
	out := make([]MemberView, 0)
	if _, err := s.memberFor(ctx, workspaceID, userID); err != nil {
		if errors.Is(err, errUnauthorized) || errors.Is(err, errNotMember) {
			return out, nil
		}
		return nil, err
	}
	members, err := s.store.ListMembers(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	for _, member := range members {
		if member.UserID == "" {
			continue
		}
		out = append(out, memberView(member))
	}
	return out, nil
}

// GetMember is visible to members of the same workspace only.
func (s *Service) GetMember(ctx context.Context, userID, memberID string) (MemberView, error) {
	target, err := s.store.GetMember(ctx, memberID)
	if errors.Is(err, sql.ErrNoRows) {
		return MemberView{}, notFound("Member not found")
	}
	if err != nil {
		return MemberView{}, err
	}
	if _, err := s.memberFor(ctx, target.WorkspaceID, userID); err != nil {
		if errors.Is(err, errNotMember) {
			return MemberView{}, notFound("Member not found")
		}
		return MemberView{}, err
	}
	return memberView(target), nil
}

func (s *Service) UpdateMemberRole(ctx context.Context, userID, memberID, role string) (MemberView, error) {
	if !rbac.Valid(role) {
		return MemberView{}, validationError("role must be admin or member")
	}
	target, err := s.store.GetMember(ctx, memberID)
	if errors.Is(err, sql.ErrNoRows) {
		return MemberView{}, notFound("Member not found")
	}
	if err != nil {
		return MemberView{}, err
	}
	if _, err := s.requireAction(ctx, target.WorkspaceID, userID, rbac.ActionManageMembers); err != nil {
		return MemberView{}, err
	}
	if err := s.store.UpdateMemberRole(ctx, memberID, role); err != nil {
		return MemberView{}, err
	}
	target.Role = role
	return memberView(target), nil
}

// RemoveMember lets admins remove others and members leave on their own.
// Admins cannot remove themselves. The member's messages stay and render
// without an author.
func (s *Service) RemoveMember(ctx context.Context, userID, memberID string) error {
	target, err := s.store.GetMember(ctx, memberID)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound("Member not found")
	}
	if err != nil {
		return err
	}
	caller, err := s.memberFor(ctx, target.WorkspaceID, userID)
	if err != nil {
		return err
	}

	self := caller.ID == target.ID
	switch {
	case self && rbac.Normalize(caller.Role) == rbac.RoleAdmin:
		return domainError(http.StatusConflict, "ADMIN_CANNOT_LEAVE", "Admins cannot remove themselves", nil)
	case !self && !s.Can(caller.Role, rbac.ActionManageMembers):
		return forbidden("Forbidden")
	}
	return s.store.DeleteMember(ctx, memberID)
}
