package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"

	"github.com/codeindex-dev/codeindex/internal/splitter"
)

// idNamespace roots every document id's UUIDv5 derivation so ids stay
// stable across process restarts and re-indexing the same chunk twice.
var idNamespace = uuid.MustParse("8f6a6b2e-9d4a-4f7b-9a1c-2b6e7d9c0a11")

// documentID derives a deterministic id from (relative_path, span,
// content_hash): re-indexing an unchanged chunk always reproduces it.
func documentID(c splitter.Chunk) string {
	sum := sha256.Sum256([]byte(c.Content))
	contentHash := hex.EncodeToString(sum[:])
	name := fmt.Sprintf("%s:%d:%d:%s", c.RelativePath, c.SpanStart, c.SpanEnd, contentHash)
	return uuid.NewSHA1(idNamespace, []byte(name)).String()
}
