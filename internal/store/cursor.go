package store

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidCursor is returned for cursors this store did not issue.
var ErrInvalidCursor = errors.New("invalid cursor")

// Cursor marks the oldest row of a page; the next page starts strictly
// before it in (created_at DESC, id DESC) order.
type Cursor struct {
	ID string
	TS time.Time
}

func EncodeCursor(c Cursor) string {
	raw := strconv.FormatInt(c.TS.UnixNano(), 10) + ":" + c.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func DecodeCursor(value string) (*Cursor, error) {
	if value == "" {
		return nil, nil
	}
	decoded, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	parts := strings.SplitN(string(decoded), ":", 2)
	if len(parts) != 2 || parts[1] == "" {
		return nil, ErrInvalidCursor
	}
	nanos, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	return &Cursor{ID: parts[1], TS: time.Unix(0, nanos).UTC()}, nil
}
