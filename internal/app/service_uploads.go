package app

import (
	"context"
	"io"
	"net/http"
	"strings"

	"huddle/api/internal/metrics"
)

var errUploadsUnavailable = domainError(http.StatusServiceUnavailable, "UPLOADS_UNAVAILABLE", "Uploads are not configured", nil)

// GenerateUploadURL reserves a one-time upload slot for the caller.
func (s *Service) GenerateUploadURL(ctx context.Context, userID, workspaceID string) (UploadTarget, error) {
	member, err := s.memberFor(ctx, workspaceID, userID)
	if err != nil {
		return UploadTarget{}, err
	}
	if s.blobs == nil || s.slots == nil {
		return UploadTarget{}, errUploadsUnavailable
	}
	slot, err := s.slots.Issue(ctx, workspaceID, member.ID)
	if err != nil {
		return UploadTarget{}, err
	}
	return UploadTarget{
		UploadURL: strings.TrimRight(s.cfg.PublicBaseURL, "/") + "/api/uploads/" + slot.Token,
		ExpiresAt: slot.ExpiresAt,
	}, nil
}

// StoreUpload consumes the slot named by token and stores body. The returned
// storage id is what a message references as its image.
func (s *Service) StoreUpload(ctx context.Context, token, contentType string, body io.Reader, size int64) (string, error) {
	if s.blobs == nil || s.slots == nil {
		return "", errUploadsUnavailable
	}
	if !strings.HasPrefix(strings.ToLower(contentType), "image/") {
		return "", domainError(http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA_TYPE", "Only images can be attached", nil)
	}
	slot, err := s.slots.Claim(ctx, token)
	if err != nil {
		return "", err
	}
	storageID, err := s.blobs.Put(ctx, slot.WorkspaceID, body, size, contentType)
	if err != nil {
		return "", err
	}
	metrics.UploadStored(size)
	return storageID, nil
}
