package static

import (
	"context"
	"maps"

	"snipsession/types"
)

// Source serves snippets declared inline in the configuration
type Source struct {
	snippets map[string]string
}

// NewSource copies snippets, name -> body
func NewSource(snippets map[string]string) *Source {
	return &Source{snippets: maps.Clone(snippets)}
}

func (s *Source) Lookup(ctx context.Context, name string) (*types.SnippetResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	body, ok := s.snippets[name]
	if !ok {
		return nil, types.ErrSnippetNotFound
	}
	return &types.SnippetResponse{Name: name, Body: body}, nil
}

// Len returns the number of declared snippets
func (s *Source) Len() int { return len(s.snippets) }
