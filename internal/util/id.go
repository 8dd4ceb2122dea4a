package util

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}

// NewProjectKey builds the human key shown in listings, e.g. "P-00042".
func NewProjectKey(sequence int64) string {
	return fmt.Sprintf("P-%05d", sequence)
}
