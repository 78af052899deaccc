package onnxlocal

import (
	"testing"

	"github.com/codeindex-dev/codeindex/internal/errs"
)

func TestResolveRoles_RequiresInputIDs(t *testing.T) {
	_, _, err := resolveRoles([]string{"attention_mask"})
	if errs.KindOf(err) != errs.KindInvalidInput {
		t.Fatalf("expected invalid_input when input_ids is absent, got %v", err)
	}
}

func TestResolveRoles_MatchesCaseInsensitiveSubstrings(t *testing.T) {
	roles, names, err := resolveRoles([]string{"INPUT_IDS:0", "Attention_Mask:0", "token_type_ids:0", "unused_extra"})
	if err != nil {
		t.Fatalf("resolveRoles() error = %v", err)
	}
	if len(roles) != 3 || len(names) != 3 {
		t.Fatalf("expected 3 recognized roles, got %d", len(roles))
	}
	if roles[0] != roleInputIDs || roles[1] != roleAttentionMask || roles[2] != roleTokenType {
		t.Fatalf("unexpected role order %v", roles)
	}
}

func TestL2Normalize_UnitLength(t *testing.T) {
	v := []float32{3, 4}
	l2Normalize(v)
	if v[0] != 0.6 || v[1] != 0.8 {
		t.Fatalf("expected a unit vector, got %v", v)
	}
}

func TestL2Normalize_LeavesNearZeroVectorUnchanged(t *testing.T) {
	v := []float32{0, 0}
	l2Normalize(v)
	if v[0] != 0 || v[1] != 0 {
		t.Fatalf("expected a zero vector to remain unchanged, got %v", v)
	}
}

func TestConfig_ApplyDefaults(t *testing.T) {
	cfg := Config{ModelDir: "/models/bge-small"}
	cfg.applyDefaults()
	if cfg.ModelPath == "" || cfg.TokenizerPath == "" {
		t.Fatal("expected derived model/tokenizer paths")
	}
	if cfg.SessionPoolSize != 1 {
		t.Fatalf("expected default pool size 1, got %d", cfg.SessionPoolSize)
	}
	if cfg.MaxSequenceLen != 512 {
		t.Fatalf("expected default max sequence length 512, got %d", cfg.MaxSequenceLen)
	}
}
