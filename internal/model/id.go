package model

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
)

// Episode ids are a fixed prefix character followed by 6-7 hex digits.
// The shape is the contract: resume requests are checked against it
// before any store lookup, so a malformed id can never reach storage.
var episodeIDRegex = regexp.MustCompile(`^a[0-9a-f]{6,7}$`)

// GenerateEpisodeID returns a fresh episode id (prefix + 7 hex chars).
func GenerateEpisodeID() (string, error) {
	randomBytes := make([]byte, 4)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return "a" + hex.EncodeToString(randomBytes)[:7], nil
}

// ValidateEpisodeID reports whether id has the canonical shape.
func ValidateEpisodeID(id string) bool {
	return episodeIDRegex.MatchString(id)
}
