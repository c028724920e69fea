package auth

import (
	"context"
	"fmt"
	"os"
)

// TokenSource supplies the credential an adapter presents to its vendor.
// Sources are consumed by provider adapters, never by the router itself, so
// credential lifecycle stays out of routing logic.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticSource holds a fixed credential, usually loaded from config.
type StaticSource struct {
	token string
}

func Static(token string) *StaticSource {
	return &StaticSource{token: token}
}

func (s *StaticSource) Token(ctx context.Context) (string, error) {
	if s.token == "" {
		return "", fmt.Errorf("no token configured")
	}
	return s.token, nil
}

// EnvSource reads an environment variable on every call, so an operator can
// rotate the credential without restarting the process.
type EnvSource struct {
	key string
}

func Env(key string) *EnvSource {
	return &EnvSource{key: key}
}

func (s *EnvSource) Token(ctx context.Context) (string, error) {
	v := os.Getenv(s.key)
	if v == "" {
		return "", fmt.Errorf("environment variable %s is empty", s.key)
	}
	return v, nil
}
