package splitter

import (
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// languageConfig names the node types this package treats as top-level
// "symbol" boundaries for one tagged language, and the tree-sitter
// grammar backing it.
type languageConfig struct {
	name        string
	extensions  []string
	symbolTypes map[string]string // tree-sitter node type -> NodeKind label
	grammar     *sitter.Language
}

// languageRegistry maps file extensions to a registered grammar/symbol-type
// configuration.
type languageRegistry struct {
	mu        sync.RWMutex
	byExt     map[string]*languageConfig
	byName    map[string]*languageConfig
}

func newLanguageRegistry() *languageRegistry {
	r := &languageRegistry{
		byExt:  make(map[string]*languageConfig),
		byName: make(map[string]*languageConfig),
	}
	r.register(&languageConfig{
		name:       "go",
		extensions: []string{"go"},
		symbolTypes: map[string]string{
			"function_declaration": "function",
			"method_declaration":   "method",
			"type_declaration":     "type",
		},
		grammar: golang.GetLanguage(),
	})
	r.register(&languageConfig{
		name:       "python",
		extensions: []string{"py"},
		symbolTypes: map[string]string{
			"function_definition": "function",
			"class_definition":    "class",
		},
		grammar: python.GetLanguage(),
	})
	r.register(&languageConfig{
		name:       "javascript",
		extensions: []string{"js", "mjs", "jsx"},
		symbolTypes: map[string]string{
			"function_declaration": "function",
			"method_definition":    "method",
			"class_declaration":    "class",
		},
		grammar: javascript.GetLanguage(),
	})
	r.register(&languageConfig{
		name:       "typescript",
		extensions: []string{"ts", "tsx"},
		symbolTypes: map[string]string{
			"function_declaration":  "function",
			"method_definition":     "method",
			"class_declaration":     "class",
			"interface_declaration": "interface",
			"type_alias_declaration": "type",
		},
		grammar: typescript.GetLanguage(),
	})
	r.register(&languageConfig{
		name:       "rust",
		extensions: []string{"rs"},
		symbolTypes: map[string]string{
			"function_item": "function",
			"impl_item":     "impl",
			"struct_item":   "struct",
			"enum_item":     "enum",
			"trait_item":    "trait",
		},
		grammar: rust.GetLanguage(),
	})
	return r
}

func (r *languageRegistry) register(cfg *languageConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[cfg.name] = cfg
	for _, ext := range cfg.extensions {
		r.byExt[ext] = cfg
	}
}

func (r *languageRegistry) byExtension(ext string) (*languageConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.byExt[strings.ToLower(ext)]
	return cfg, ok
}

var defaultLanguageRegistry = newLanguageRegistry()
