package pose

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// ClipID fingerprints a reference clip so scores for the same clip share a leaderboard.
func ClipID(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("hash clip: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
