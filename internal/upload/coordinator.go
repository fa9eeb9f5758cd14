// Package upload sequences attachment upload and message creation so a send
// either creates a message bound to its stored attachment or creates nothing.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"huddle/api/internal/client"
	"huddle/api/internal/feed"
	"huddle/api/internal/logger"
)

// ErrBusy is returned when a send is already in flight on the coordinator.
var ErrBusy = errors.New("upload: send already in progress")

type SlotIssuer interface {
	GenerateUploadURL(ctx context.Context, workspaceID string) (client.UploadTarget, error)
}

type Transferer interface {
	Transfer(ctx context.Context, uploadURL, contentType string, body io.Reader) (string, error)
}

type MessageCreator interface {
	CreateMessage(ctx context.Context, req client.NewMessage) (feed.Message, error)
}

// Input is the control surface locked for the duration of a send.
type Input interface {
	Disable()
	Enable()
	Reset()
}

type Attachment struct {
	ContentType string
	Body        io.Reader
}

// Draft is one outgoing message. Message.Image is filled in by the
// coordinator when Attachment is set.
type Draft struct {
	Message    client.NewMessage
	Attachment *Attachment
}

type Coordinator struct {
	slots    SlotIssuer
	transfer Transferer
	messages MessageCreator
	input    Input

	mu      sync.Mutex
	sending bool
}

func NewCoordinator(slots SlotIssuer, transfer Transferer, messages MessageCreator, input Input) *Coordinator {
	return &Coordinator{slots: slots, transfer: transfer, messages: messages, input: input}
}

// Send stores the attachment (if any) and creates the message. A failure
// before creation aborts the send without calling the message creator. The
// input is reset only on success and is re-enabled in every case.
func (c *Coordinator) Send(ctx context.Context, draft Draft) (string, error) {
	c.mu.Lock()
	if c.sending {
		c.mu.Unlock()
		return "", ErrBusy
	}
	c.sending = true
	c.mu.Unlock()

	c.input.Disable()
	defer func() {
		c.mu.Lock()
		c.sending = false
		c.mu.Unlock()
		c.input.Enable()
	}()

	req := draft.Message
	if draft.Attachment != nil {
		storageID, err := c.store(ctx, req.WorkspaceID, *draft.Attachment)
		if err != nil {
			logger.Log.Warn("attachment upload aborted send", zap.String("workspace_id", req.WorkspaceID), zap.Error(err))
			return "", err
		}
		req.Image = storageID
	}

	created, err := c.messages.CreateMessage(ctx, req)
	if err != nil {
		return "", fmt.Errorf("create message: %w", err)
	}
	c.input.Reset()
	return created.ID, nil
}

func (c *Coordinator) store(ctx context.Context, workspaceID string, attachment Attachment) (string, error) {
	target, err := c.slots.GenerateUploadURL(ctx, workspaceID)
	if err != nil {
		return "", fmt.Errorf("reserve upload slot: %w", err)
	}
	storageID, err := c.transfer.Transfer(ctx, target.UploadURL, attachment.ContentType, attachment.Body)
	if err != nil {
		return "", fmt.Errorf("transfer attachment: %w", err)
	}
	if storageID == "" {
		return "", fmt.Errorf("transfer attachment: %w: no storage id", client.ErrNetwork)
	}
	return storageID, nil
}
