package util

import (
	"crypto/rand"
	"encoding/hex"
	"math/big"
)

func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}

const joinCodeAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// JoinCodeLength is the length of workspace invite codes.
const JoinCodeLength = 6

// NewJoinCode returns a random lowercase alphanumeric invite code.
func NewJoinCode() string {
	out := make([]byte, JoinCodeLength)
	limit := big.NewInt(int64(len(joinCodeAlphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			out[i] = joinCodeAlphabet[0]
			continue
		}
		out[i] = joinCodeAlphabet[n.Int64()]
	}
	return string(out)
}
