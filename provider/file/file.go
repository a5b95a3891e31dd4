package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"snipsession/logger"
	"snipsession/types"
)

// Source serves snippets from *.yaml, *.yml and *.toml files in a directory.
//
// Each file maps names either to a body string, to a list of body lines, or
// to a table with "body" and "description". Files are read lazily and read
// again when the directory listing or a modification time changes. When two
// files define the same name, the file sorting last wins.
type Source struct {
	dir string

	mu       sync.Mutex
	stamp    string
	snippets map[string]*types.SnippetResponse
}

// NewSource returns a Source reading dir
func NewSource(dir string) (*Source, error) {
	if dir == "" {
		return nil, errors.New("snippet directory not configured")
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("snippet directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("snippet directory %s is not a directory", dir)
	}
	return &Source{dir: dir}, nil
}

func (s *Source) Lookup(ctx context.Context, name string) (*types.SnippetResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.refresh(); err != nil {
		return nil, err
	}
	resp, ok := s.snippets[name]
	if !ok {
		return nil, types.ErrSnippetNotFound
	}
	out := *resp
	return &out, nil
}

// Names lists the loaded snippet names in order
func (s *Source) Names() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.refresh(); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(s.snippets))
	for name := range s.snippets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *Source) refresh() error {
	files, stamp, err := s.scan()
	if err != nil {
		return err
	}
	if s.snippets != nil && stamp == s.stamp {
		return nil
	}

	snippets := make(map[string]*types.SnippetResponse)
	for _, path := range files {
		entries, err := loadFile(path)
		if err != nil {
			logger.Warn("skipping snippet file %s: %v", path, err)
			continue
		}
		for name, resp := range entries {
			snippets[name] = resp
		}
	}
	logger.Info("loaded %d snippets from %s", len(snippets), s.dir)

	s.snippets = snippets
	s.stamp = stamp
	return nil
}

// scan lists snippet files in name order together with a stamp that changes
// whenever one of them is added, removed or modified.
func (s *Source) scan() ([]string, string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, "", fmt.Errorf("read snippet directory: %w", err)
	}

	var files []string
	var stamp strings.Builder
	for _, entry := range entries {
		if entry.IsDir() || !isSnippetFile(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		files = append(files, path)
		fmt.Fprintf(&stamp, "%s:%d:%d;", entry.Name(), info.Size(), info.ModTime().UnixNano())
	}
	return files, stamp.String(), nil
}

func isSnippetFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".toml":
		return true
	}
	return false
}

func loadFile(path string) (map[string]*types.SnippetResponse, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	raw := make(map[string]any)
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(string(data), &raw); err != nil {
			return nil, fmt.Errorf("parse toml: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	}

	out := make(map[string]*types.SnippetResponse, len(raw))
	for name, value := range raw {
		resp, err := decodeEntry(name, value)
		if err != nil {
			return nil, err
		}
		out[name] = resp
	}
	return out, nil
}

func decodeEntry(name string, value any) (*types.SnippetResponse, error) {
	resp := &types.SnippetResponse{Name: name}

	switch v := value.(type) {
	case string:
		resp.Body = v
	case []any:
		body, err := joinLines(name, v)
		if err != nil {
			return nil, err
		}
		resp.Body = body
	case map[string]any:
		switch body := v["body"].(type) {
		case string:
			resp.Body = body
		case []any:
			joined, err := joinLines(name, body)
			if err != nil {
				return nil, err
			}
			resp.Body = joined
		default:
			return nil, fmt.Errorf("snippet %q: missing body", name)
		}
		if desc, ok := v["description"].(string); ok {
			resp.Description = desc
		}
	default:
		return nil, fmt.Errorf("snippet %q: unsupported value %T", name, value)
	}
	return resp, nil
}

func joinLines(name string, lines []any) (string, error) {
	parts := make([]string, len(lines))
	for i, line := range lines {
		s, ok := line.(string)
		if !ok {
			return "", fmt.Errorf("snippet %q: line %d is %T, not a string", name, i+1, line)
		}
		parts[i] = s
	}
	return strings.Join(parts, "\n"), nil
}
