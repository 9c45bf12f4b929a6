// Package worklist builds the ordered, de-duplicated list of mod names to
// crawl.
package worklist

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// DefaultMods is crawled when no names and no input file are given.
var DefaultMods = []string{"AppleSkin"}

// ErrEmpty is returned when an input file lists no usable names.
var ErrEmpty = errors.New("worklist is empty")

type entry struct {
	Name string `json:"name"`
}

// ReadFile reads a JSON array of objects carrying a "name" key. Other keys
// are ignored, as are entries without a name.
func ReadFile(path string) ([]string, error) {
	// #nosec G304 -- the input path is operator supplied.
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read worklist: %w", err)
	}
	var entries []entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode worklist %s: %w", path, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}
	names = Normalize(names)
	if len(names) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrEmpty)
	}
	return names, nil
}

// Normalize drops blank names and exact duplicates while keeping first-seen
// order. Names are kept as written since the store is keyed by exact name.
func Normalize(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		if strings.TrimSpace(name) == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

// Resolve picks the worklist: the input file when fromFile is set, else the
// explicit names, else DefaultMods.
func Resolve(explicit []string, fromFile bool, path string) ([]string, error) {
	if fromFile {
		return ReadFile(path)
	}
	if names := Normalize(explicit); len(names) > 0 {
		return names, nil
	}
	return append([]string(nil), DefaultMods...), nil
}
