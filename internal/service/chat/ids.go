package chat

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	mrand "math/rand/v2"
	"strings"

	"github.com/google/uuid"
)

const (
	idLength          = 16
	secureKeyLength   = 17
	secureKeyAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

	// RenamePrefix is used for display names synthesized on collision.
	RenamePrefix = "Chatbot_"
	renameRange  = 10000
)

// NewID returns a 16 character uppercase hex identifier cut from a random UUID.
func NewID() string {
	u := uuid.New()
	return strings.ToUpper(hex.EncodeToString(u[:]))[:idLength]
}

// NewSecureKey returns a 17 character key drawn from [a-z0-9].
func NewSecureKey() string {
	var b strings.Builder
	b.Grow(secureKeyLength)
	limit := big.NewInt(int64(len(secureKeyAlphabet)))
	for range secureKeyLength {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			// crypto/rand only fails when the OS entropy source is broken.
			panic(fmt.Sprintf("secure key: %v", err))
		}
		b.WriteByte(secureKeyAlphabet[n.Int64()])
	}
	return b.String()
}

// AlternateDisplayName returns "Chatbot_<n>" with n in [0, 10000). The result
// is not checked against active sessions.
func AlternateDisplayName() string {
	return fmt.Sprintf("%s%d", RenamePrefix, mrand.IntN(renameRange))
}
