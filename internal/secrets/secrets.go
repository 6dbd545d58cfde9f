// Package secrets resolves secret references from retrieval configurations
// into secret values. Backends are read-only after construction and cache
// resolved values for the life of the process.
package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/inletworks/inlet/internal/errors"
)

// Resolver turns a secret reference into its value.
type Resolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// Env resolves references against environment variables, optionally
// prefixed (e.g. ref "ftp-password" with prefix "INLET_SECRET_" reads
// INLET_SECRET_FTP_PASSWORD).
type Env struct {
	Prefix string

	mu    sync.RWMutex
	cache map[string]string
}

// NewEnv builds an environment-backed resolver.
func NewEnv(prefix string) *Env {
	return &Env{Prefix: prefix, cache: make(map[string]string)}
}

func (e *Env) Resolve(_ context.Context, ref string) (string, error) {
	if strings.TrimSpace(ref) == "" {
		return "", errors.New(errors.CategoryAuthenticationFailure, "resolve_secret",
			fmt.Errorf("empty secret reference"))
	}

	e.mu.RLock()
	if v, ok := e.cache[ref]; ok {
		e.mu.RUnlock()
		return v, nil
	}
	e.mu.RUnlock()

	name := e.Prefix + envName(ref)
	value, ok := os.LookupEnv(name)
	if !ok || value == "" {
		return "", errors.New(errors.CategoryAuthenticationFailure, "resolve_secret",
			fmt.Errorf("secret %q not found (%s)", ref, name))
	}

	e.mu.Lock()
	e.cache[ref] = value
	e.mu.Unlock()
	return value, nil
}

func envName(ref string) string {
	upper := strings.ToUpper(ref)
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, upper)
}

// Static is a fixed in-memory resolver for tests.
type Static map[string]string

func (s Static) Resolve(_ context.Context, ref string) (string, error) {
	if v, ok := s[ref]; ok {
		return v, nil
	}
	return "", errors.New(errors.CategoryAuthenticationFailure, "resolve_secret",
		fmt.Errorf("secret %q not found", ref))
}

// Chain tries each resolver in order and returns the first hit.
type Chain []Resolver

func (c Chain) Resolve(ctx context.Context, ref string) (string, error) {
	var lastErr error
	for _, r := range c {
		value, err := r.Resolve(ctx, ref)
		if err == nil {
			return value, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New(errors.CategoryAuthenticationFailure, "resolve_secret",
			fmt.Errorf("no resolvers configured"))
	}
	return "", lastErr
}
