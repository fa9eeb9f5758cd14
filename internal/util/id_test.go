package util

import (
	"strings"
	"testing"
)

func TestNewIDPrefix(t *testing.T) {
	id := NewID("msg")
	if !strings.HasPrefix(id, "msg_") || len(id) != len("msg_")+32 {
		t.Fatalf("unexpected id %q", id)
	}
	if NewID("msg") == id {
		t.Fatal("ids must be unique")
	}
	if len(NewID("")) != 32 {
		t.Fatal("unprefixed id must be 32 hex chars")
	}
}

func TestNewJoinCode(t *testing.T) {
	for i := 0; i < 20; i++ {
		code := NewJoinCode()
		if len(code) != JoinCodeLength {
			t.Fatalf("expected %d chars, got %q", JoinCodeLength, code)
		}
		if strings.Trim(code, joinCodeAlphabet) != "" {
			t.Fatalf("code %q contains characters outside the alphabet", code)
		}
	}
}
