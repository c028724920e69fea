package auth

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticSource(t *testing.T) {
	ctx := context.Background()

	tok, err := Static("sk-test").Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sk-test", tok)

	_, err = Static("").Token(ctx)
	assert.Error(t, err)
}

func TestEnvSource(t *testing.T) {
	ctx := context.Background()

	t.Setenv("AUTH_TEST_TOKEN", "env-token")
	tok, err := Env("AUTH_TEST_TOKEN").Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "env-token", tok)

	t.Setenv("AUTH_TEST_TOKEN", "rotated")
	tok, err = Env("AUTH_TEST_TOKEN").Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "rotated", tok, "source should re-read the variable on every call")

	_, err = Env("AUTH_TEST_MISSING").Token(ctx)
	assert.Error(t, err)
}

func TestFileStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tokens.json")
	store := NewFileStore(path)

	_, err := store.Token(ctx, "openai")
	assert.Error(t, err, "missing file should report no token, not crash")

	require.NoError(t, store.SetToken(ctx, "openai", "sk-aaa", nil))
	require.NoError(t, store.SetToken(ctx, "anthropic", "sk-bbb", nil))

	tok, err := store.Token(ctx, "openai")
	require.NoError(t, err)
	assert.Equal(t, "sk-aaa", tok)

	tok, err = store.Source("anthropic").Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sk-bbb", tok)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestFileStore_ExpiredToken(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(filepath.Join(t.TempDir(), "tokens.json"))

	past := time.Now().Add(-time.Hour)
	require.NoError(t, store.SetToken(ctx, "openai", "sk-old", &past))

	_, err := store.Token(ctx, "openai")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expired")

	future := time.Now().Add(time.Hour)
	require.NoError(t, store.SetToken(ctx, "openai", "sk-new", &future))

	tok, err := store.Token(ctx, "openai")
	require.NoError(t, err)
	assert.Equal(t, "sk-new", tok)
}

func TestFileStore_DeleteToken(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(filepath.Join(t.TempDir(), "tokens.json"))

	require.NoError(t, store.SetToken(ctx, "openai", "sk-aaa", nil))
	require.NoError(t, store.DeleteToken(ctx, "openai"))

	_, err := store.Token(ctx, "openai")
	assert.Error(t, err)

	assert.NoError(t, store.DeleteToken(ctx, "never-stored"))
}

func TestFileStore_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(filepath.Join(t.TempDir(), "tokens.json"))

	require.NoError(t, store.SetToken(ctx, "openai", "sk-seed", nil))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = store.SetToken(ctx, "openai", "sk-rotated", nil)
		}()
		go func() {
			defer wg.Done()
			_, _ = store.Token(ctx, "openai")
		}()
	}
	wg.Wait()

	tok, err := store.Token(ctx, "openai")
	require.NoError(t, err)
	assert.Equal(t, "sk-rotated", tok)
}
