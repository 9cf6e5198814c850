// Package filetree normalizes generated files and applies batches of them to a
// project's file tree. A FileChange always carries the whole file; applying a
// batch replaces or inserts per path and never patches partially.
package filetree

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/lyzr/appforge/common/models"
)

// ErrInvalidPath is returned for empty paths or paths escaping the project root
var ErrInvalidPath = errors.New("invalid file path")

// NormalizePath converts p to a clean, project-relative, slash-separated path
func NormalizePath(p string) (string, error) {
	p = strings.TrimSpace(strings.ReplaceAll(p, `\`, "/"))
	if p == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPath)
	}

	if p == ".." || strings.HasPrefix(p, "../") || strings.Contains(p, "/../") || strings.HasSuffix(p, "/..") {
		return "", fmt.Errorf("%w: %q escapes project root", ErrInvalidPath, p)
	}

	cleaned := strings.TrimPrefix(path.Clean("/"+p), "/")
	if cleaned == "" || cleaned == "." {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	return cleaned, nil
}

// Normalize returns a copy of fc with a clean path and a language filled in
func Normalize(fc models.FileChange) (models.FileChange, error) {
	p, err := NormalizePath(fc.Path)
	if err != nil {
		return models.FileChange{}, err
	}
	fc.Path = p
	if fc.Language == "" {
		fc.Language = InferLanguage(p, fc.Content)
	}
	return fc, nil
}

// NormalizeBatch normalizes every change and collapses duplicate paths.
// The last write for a path wins; output order follows first appearance.
func NormalizeBatch(changes []models.FileChange) ([]models.FileChange, error) {
	out := make([]models.FileChange, 0, len(changes))
	index := make(map[string]int, len(changes))

	for _, c := range changes {
		n, err := Normalize(c)
		if err != nil {
			return nil, err
		}
		if i, ok := index[n.Path]; ok {
			out[i] = n
			continue
		}
		index[n.Path] = len(out)
		out = append(out, n)
	}

	return out, nil
}

// Tree is a project's file set keyed by normalized path
type Tree struct {
	files map[string]models.FileChange
}

// NewTree builds a tree from files; later duplicates overwrite earlier ones
func NewTree(files []models.FileChange) (*Tree, error) {
	t := &Tree{files: make(map[string]models.FileChange, len(files))}
	batch, err := NormalizeBatch(files)
	if err != nil {
		return nil, err
	}
	for _, f := range batch {
		t.files[f.Path] = f
	}
	return t, nil
}

// Apply returns a new tree with batch replacing or inserting each path
func (t *Tree) Apply(batch []models.FileChange) (*Tree, error) {
	normalized, err := NormalizeBatch(batch)
	if err != nil {
		return nil, err
	}

	next := &Tree{files: make(map[string]models.FileChange, len(t.files)+len(normalized))}
	for p, f := range t.files {
		next.files[p] = f
	}
	for _, f := range normalized {
		next.files[f.Path] = f
	}
	return next, nil
}

// Get returns the file at p
func (t *Tree) Get(p string) (models.FileChange, bool) {
	n, err := NormalizePath(p)
	if err != nil {
		return models.FileChange{}, false
	}
	f, ok := t.files[n]
	return f, ok
}

// Len returns the number of files
func (t *Tree) Len() int {
	return len(t.files)
}

// Files returns the files sorted by path
func (t *Tree) Files() []models.FileChange {
	out := make([]models.FileChange, 0, len(t.files))
	for _, f := range t.files {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// manifest maps path -> content for diffing
func (t *Tree) manifest() ([]byte, error) {
	m := make(map[string]string, len(t.files))
	for p, f := range t.files {
		m[p] = f.Content
	}
	return json.Marshal(m)
}

// Changes summarizes what a batch did to a tree
type Changes struct {
	Added    []string `json:"added"`
	Modified []string `json:"modified"`
}

// Paths returns added and modified paths together, sorted
func (c Changes) Paths() []string {
	out := append(append([]string(nil), c.Added...), c.Modified...)
	sort.Strings(out)
	return out
}

// Diff reports the paths added or modified going from before to after.
// It is computed as an RFC 7386 merge patch over the two path->content manifests.
func Diff(before, after *Tree) (Changes, error) {
	from, err := before.manifest()
	if err != nil {
		return Changes{}, fmt.Errorf("failed to encode manifest: %w", err)
	}
	to, err := after.manifest()
	if err != nil {
		return Changes{}, fmt.Errorf("failed to encode manifest: %w", err)
	}

	patch, err := jsonpatch.CreateMergePatch(from, to)
	if err != nil {
		return Changes{}, fmt.Errorf("failed to create merge patch: %w", err)
	}

	var delta map[string]*string
	if err := json.Unmarshal(patch, &delta); err != nil {
		return Changes{}, fmt.Errorf("failed to decode merge patch: %w", err)
	}

	changes := Changes{Added: []string{}, Modified: []string{}}
	for p, v := range delta {
		if v == nil {
			// removal; Apply never removes, so only reachable with hand-built trees
			continue
		}
		if _, existed := before.files[p]; existed {
			changes.Modified = append(changes.Modified, p)
		} else {
			changes.Added = append(changes.Added, p)
		}
	}
	sort.Strings(changes.Added)
	sort.Strings(changes.Modified)

	return changes, nil
}
