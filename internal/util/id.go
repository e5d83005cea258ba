// Package util holds the id generator shared by every subsystem that mints
// identifiers (users, areas, pins, sessions, photo objects).
package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a random identifier, prefixed so logs and keys stay readable
// (user_…, area_…, pin_…).
func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}
