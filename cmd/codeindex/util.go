package main

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"

	"github.com/codeindex-dev/codeindex/internal/sanitize"
)

// deriveCollectionName builds a stable, vectorstore-safe collection name
// from a codebase's absolute path: its sanitized base name plus a short
// hash of the full path, so two checkouts named "api" never collide.
func deriveCollectionName(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	sum := sha256.Sum256([]byte(abs))
	short := hex.EncodeToString(sum[:])[:10]

	return sanitize.Identifier(filepath.Base(abs) + "_" + short)
}
