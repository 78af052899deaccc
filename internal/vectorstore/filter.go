package vectorstore

import (
	"strings"

	"github.com/codeindex-dev/codeindex/internal/errs"
)

// filterableFields are the only fields the portable filter dialect may
// reference. Richer expressions are the remote adapters' business to pass
// through unchanged; the local store and pipeline use only this grammar.
var filterableFields = map[string]func(Metadata) string{
	"relativePath":  func(m Metadata) string { return m.RelativePath },
	"language":      func(m Metadata) string { return m.Language },
	"fileExtension": func(m Metadata) string { return m.FileExtension },
}

// Filter is a parsed portable filter expression: a single comparison
// `<field> (==|!=) <quoted string>`.
type Filter struct {
	field    string
	negate   bool
	value    string
	accessor func(Metadata) string
}

// ParseFilter parses the portable dialect. An empty expression matches
// everything. Anything outside the grammar is rejected with
// invalid_filter_expr, per spec.md's local-store contract.
func ParseFilter(expr string) (*Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil
	}

	op := "=="
	idx := strings.Index(expr, "==")
	if idx == -1 {
		op = "!="
		idx = strings.Index(expr, "!=")
	}
	if idx == -1 {
		return nil, invalidFilterExpr(expr)
	}

	field := strings.TrimSpace(expr[:idx])
	rawValue := strings.TrimSpace(expr[idx+2:])

	accessor, ok := filterableFields[field]
	if !ok {
		return nil, invalidFilterExpr(expr)
	}

	value, ok := unquote(rawValue)
	if !ok || value == "" {
		return nil, invalidFilterExpr(expr)
	}

	return &Filter{field: field, negate: op == "!=", value: value, accessor: accessor}, nil
}

// Match reports whether metadata satisfies the filter. A nil filter
// matches everything.
func (f *Filter) Match(m Metadata) bool {
	if f == nil {
		return true
	}
	equal := f.accessor(m) == f.value
	if f.negate {
		return !equal
	}
	return equal
}

// Parts exposes the parsed field/negate/value triple for adapters that
// translate the portable dialect into their own native filter shape
// (e.g. Qdrant field conditions, Milvus boolean expressions).
func (f *Filter) Parts() (field string, negate bool, value string) {
	return f.field, f.negate, f.value
}

func unquote(s string) (string, bool) {
	if len(s) < 2 {
		return "", false
	}
	quote := s[0]
	if quote != '\'' && quote != '"' {
		return "", false
	}
	if s[len(s)-1] != quote {
		return "", false
	}
	return s[1 : len(s)-1], true
}

func invalidFilterExpr(expr string) error {
	return errs.New(errs.KindInvalidInput, "vectorstore.invalid_filter_expr", "filter expression outside the portable dialect").
		WithMetadata("expr", expr)
}
