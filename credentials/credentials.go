// Package credentials resolves the bearer token attached to every call
// made to the remote collector. The token is owned by the UI process;
// the agent only reads it, right before each call.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrNoToken means no token is currently available. Callers skip the
// request for this cycle.
var ErrNoToken = errors.New("no auth token available")

type Source interface {
	Token(ctx context.Context) (string, error)
}

// FileSource reads the token from a file the UI process keeps up to date.
type FileSource struct {
	Path string
}

func (s FileSource) Token(ctx context.Context) (string, error) {
	if s.Path == "" {
		return "", ErrNoToken
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNoToken
		}
		return "", fmt.Errorf("failed to read token file: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", ErrNoToken
	}
	return token, nil
}

// Static always returns the same token.
type Static string

func (s Static) Token(ctx context.Context) (string, error) {
	token := strings.TrimSpace(string(s))
	if token == "" {
		return "", ErrNoToken
	}
	return token, nil
}

type chain []Source

// Chain returns the token of the first source that has one.
func Chain(sources ...Source) Source {
	return chain(sources)
}

func (c chain) Token(ctx context.Context) (string, error) {
	for _, s := range c {
		token, err := s.Token(ctx)
		if err == nil {
			return token, nil
		}
		if !errors.Is(err, ErrNoToken) {
			return "", err
		}
	}
	return "", ErrNoToken
}
