package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// DefaultScope is the fallback scope consulted when neither the full scope
// nor its provider part carries the requested component.
const DefaultScope = ""

// ErrNotFound is returned when a component identifier resolves in no scope.
var ErrNotFound = errors.New("catalog: component not found")

// PromptBuilder renders a prompt from runtime variables.
type PromptBuilder interface {
	BuildPrompt(ctx context.Context, vars map[string]any) (string, error)
}

// RequestProcessor runs a prompt through a language model and returns the output.
type RequestProcessor interface {
	Process(ctx context.Context, vars map[string]any) (string, error)
}

// PromptBuilderFunc adapts a function to the PromptBuilder interface.
type PromptBuilderFunc func(ctx context.Context, vars map[string]any) (string, error)

func (f PromptBuilderFunc) BuildPrompt(ctx context.Context, vars map[string]any) (string, error) {
	return f(ctx, vars)
}

// RequestProcessorFunc adapts a function to the RequestProcessor interface.
type RequestProcessorFunc func(ctx context.Context, vars map[string]any) (string, error)

func (f RequestProcessorFunc) Process(ctx context.Context, vars map[string]any) (string, error) {
	return f(ctx, vars)
}

// PromptBuilderCatalog maps component identifiers to prompt builders.
type PromptBuilderCatalog map[string]PromptBuilder

// RequestProcessorCatalog maps component identifiers to request processors.
type RequestProcessorCatalog map[string]RequestProcessor

// Resolve finds a component by identifier, walking the scope chain: the
// exact scope first, then the provider part of a provider/model scope,
// then the default scope.
func Resolve[C ~map[string]T, T any](catalogs map[string]C, scope, identifier string) (T, error) {
	if component, ok := lookup(catalogs, scope, identifier); ok {
		return component, nil
	}
	if provider, _, found := strings.Cut(scope, "/"); found {
		if component, ok := lookup(catalogs, provider, identifier); ok {
			return component, nil
		}
	}
	if component, ok := lookup(catalogs, DefaultScope, identifier); ok {
		return component, nil
	}

	var zero T
	return zero, fmt.Errorf("%w: %q in any catalog (scope %q)", ErrNotFound, identifier, scope)
}

func lookup[C ~map[string]T, T any](catalogs map[string]C, scope, identifier string) (T, bool) {
	if components, ok := catalogs[scope]; ok {
		if component, ok := components[identifier]; ok {
			return component, true
		}
	}
	var zero T
	return zero, false
}
