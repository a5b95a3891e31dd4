package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"snipsession/logger"
	"snipsession/provider/file"
	"snipsession/provider/static"
	"snipsession/types"
)

var (
	ErrEmptySnippet     = errors.New("snippet body is empty")
	ErrMultilineSnippet = errors.New("snippet body spans several lines")
)

// Source looks snippets up by name. It returns types.ErrSnippetNotFound for
// unknown names.
type Source interface {
	Lookup(ctx context.Context, name string) (*types.SnippetResponse, error)
}

// Postprocessor transforms or rejects a resolved snippet
type Postprocessor func(p *Provider, resp *types.SnippetResponse) (*types.SnippetResponse, error)

// Provider resolves snippet names through a Source and runs the result
// through its postprocessors in order.
type Provider struct {
	Name           string
	Config         *types.ProviderConfig
	Source         Source
	Postprocessors []Postprocessor
}

// GetSnippet implements types.Provider
func (p *Provider) GetSnippet(ctx context.Context, req *types.SnippetRequest) (*types.SnippetResponse, error) {
	defer logger.Trace(p.Name + ".GetSnippet")()

	if req == nil || req.Name == "" {
		return nil, fmt.Errorf("%s: %w", p.Name, types.ErrSnippetNotFound)
	}

	resp, err := p.Source.Lookup(ctx, req.Name)
	if err != nil {
		return nil, fmt.Errorf("%s: lookup %q: %w", p.Name, req.Name, err)
	}

	for _, process := range p.Postprocessors {
		resp, err = process(p, resp)
		if err != nil {
			return nil, fmt.Errorf("%s: snippet %q: %w", p.Name, req.Name, err)
		}
	}
	logger.Debug("%s: resolved %q (%d bytes)", p.Name, req.Name, len(resp.Body))
	return resp, nil
}

// TrimTrailingNewline drops line endings left at the end of a body by
// block-style YAML or TOML strings.
func TrimTrailingNewline() Postprocessor {
	return func(_ *Provider, resp *types.SnippetResponse) (*types.SnippetResponse, error) {
		out := *resp
		out.Body = strings.TrimRight(resp.Body, "\r\n")
		return &out, nil
	}
}

// RejectEmpty fails on blank bodies
func RejectEmpty() Postprocessor {
	return func(_ *Provider, resp *types.SnippetResponse) (*types.SnippetResponse, error) {
		if strings.TrimSpace(resp.Body) == "" {
			return nil, ErrEmptySnippet
		}
		return resp, nil
	}
}

// RejectMultiline fails on bodies containing a line break unless the
// provider config allows them.
func RejectMultiline() Postprocessor {
	return func(p *Provider, resp *types.SnippetResponse) (*types.SnippetResponse, error) {
		if p.Config != nil && p.Config.AllowMultiline {
			return resp, nil
		}
		if strings.ContainsAny(resp.Body, "\r\n") {
			return nil, ErrMultilineSnippet
		}
		return resp, nil
	}
}

func defaultPostprocessors() []Postprocessor {
	return []Postprocessor{
		TrimTrailingNewline(),
		RejectEmpty(),
		RejectMultiline(),
	}
}

// NewProvider creates a new provider instance based on the type
func NewProvider(providerType types.ProviderType, config *types.ProviderConfig) (types.Provider, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	switch providerType {
	case types.ProviderTypeStatic, "":
		return &Provider{
			Name:           string(types.ProviderTypeStatic),
			Config:         config,
			Source:         static.NewSource(config.Snippets),
			Postprocessors: defaultPostprocessors(),
		}, nil
	case types.ProviderTypeFile:
		src, err := file.NewSource(config.SnippetDir)
		if err != nil {
			return nil, err
		}
		return &Provider{
			Name:           string(types.ProviderTypeFile),
			Config:         config,
			Source:         src,
			Postprocessors: defaultPostprocessors(),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported provider type: %s", providerType)
	}
}
