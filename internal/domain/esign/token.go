package esign

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// tokenRandomBytes is the entropy carried by each access token. 16 bytes is
// 128 bits, the floor for a guessable-in-no-universe bearer credential.
const tokenRandomBytes = 16

// NewAccessToken mints an opaque access token for a signing link. The token
// embeds the document id for operator-facing log greppability; all of its
// unguessability comes from the crypto/rand suffix.
func NewAccessToken(documentID uuid.UUID) (string, error) {
	buf := make([]byte, tokenRandomBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return fmt.Sprintf("sig-%s-%s", documentID, hex.EncodeToString(buf)), nil
}
