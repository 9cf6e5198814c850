package providers

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/lyzr/appforge/common/models"
)

// DefaultRules pick a provider from the shape of the generated project.
// Each expression sees files as a list of {path, language} maps.
var DefaultRules = map[string]string{
	"netlify": `files.exists(f, f.path == "netlify.toml" || f.path.startsWith("netlify/functions/"))`,
	"vercel":  `files.exists(f, f.path in ["vercel.json", "next.config.js", "next.config.mjs"] || f.path.startsWith("app/") && f.language == "typescriptreact")`,
	"railway": `files.exists(f, f.path in ["Dockerfile", "Procfile", "railway.json", "go.mod", "requirements.txt"])`,
	"s3":      `files.all(f, f.language in ["html", "css", "javascript", "json", "xml", "markdown", "plaintext"])`,
}

// Selector evaluates per-provider CEL rules against a file set
type Selector struct {
	env      *cel.Env
	programs map[string]cel.Program
	mu       sync.RWMutex
}

// NewSelector compiles rules keyed by provider name
func NewSelector(rules map[string]string) (*Selector, error) {
	env, err := cel.NewEnv(
		cel.Variable("files", cel.ListType(cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}

	s := &Selector{env: env, programs: make(map[string]cel.Program, len(rules))}
	for name, expr := range rules {
		if err := s.SetRule(name, expr); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// SetRule compiles expr and installs it for provider
func (s *Selector) SetRule(provider, expr string) error {
	ast, issues := s.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("rule for %s: CEL compilation error: %w", provider, issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return fmt.Errorf("rule for %s must return bool, got %s", provider, ast.OutputType())
	}

	prg, err := s.env.Program(ast)
	if err != nil {
		return fmt.Errorf("rule for %s: failed to create CEL program: %w", provider, err)
	}

	s.mu.Lock()
	s.programs[provider] = prg
	s.mu.Unlock()
	return nil
}

// Matches reports whether provider's rule accepts files. Providers without a rule never match.
func (s *Selector) Matches(provider string, files []models.FileChange) (bool, error) {
	s.mu.RLock()
	prg, ok := s.programs[provider]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}

	list := make([]any, 0, len(files))
	for _, f := range files {
		list = append(list, map[string]any{"path": f.Path, "language": f.Language})
	}

	out, _, err := prg.Eval(map[string]any{"files": list})
	if err != nil {
		return false, fmt.Errorf("rule for %s: CEL evaluation error: %w", provider, err)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("rule for %s did not return boolean, got %T", provider, out.Value())
	}
	return result, nil
}
