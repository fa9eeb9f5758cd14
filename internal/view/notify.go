package view

import (
	"errors"

	"go.uber.org/zap"

	"huddle/api/internal/client"
	"huddle/api/internal/logger"
)

type Level int

const (
	LevelInfo Level = iota
	LevelError
)

// Notification is a transient toast.
type Notification struct {
	Level   Level
	Message string
}

type Notifier interface {
	Notify(Notification)
}

// NotifierFunc adapts a func to Notifier.
type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) {
	f(n)
}

type discard struct{}

func (discard) Notify(Notification) {}

// notifyError turns err into a user-facing toast and logs it.
func notifyError(n Notifier, action string, err error) {
	logger.Log.Debug("view action failed", zap.String("action", action), zap.Error(err))
	n.Notify(Notification{Level: LevelError, Message: describe(err)})
}

func describe(err error) string {
	var apiErr *client.APIError
	switch {
	case errors.Is(err, ErrEmptyMessage):
		return "Message cannot be empty"
	case errors.Is(err, client.ErrAuth):
		return "You do not have access to do that"
	case errors.Is(err, client.ErrNotFound):
		return "Not found"
	case errors.Is(err, client.ErrValidation) && errors.As(err, &apiErr) && apiErr.Message != "":
		return apiErr.Message
	case errors.Is(err, client.ErrValidation):
		return "That request was rejected"
	default:
		return "Something went wrong. Try again."
	}
}
