package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/dmchat-server/internal/config"
	"github.com/vovakirdan/dmchat-server/internal/log"
	"github.com/vovakirdan/dmchat-server/internal/store"
	"github.com/vovakirdan/dmchat-server/internal/store/sqlite"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	dir := t.TempDir()
	cfg.Addr = "127.0.0.1:0"
	cfg.DatabasePath = filepath.Join(dir, "app.db")
	cfg.UploadDir = filepath.Join(dir, "uploads")
	return &cfg
}

func TestNewResetsStalePresence(t *testing.T) {
	req := require.New(t)
	cfg := testConfig(t)
	ctx := context.Background()

	seed, err := sqlite.New(cfg.DatabasePath)
	req.NoError(err)
	req.NoError(seed.CreateUser(ctx, &store.User{
		ID:           "alice-id",
		Username:     "alice",
		Email:        "alice@example.com",
		PasswordHash: "x",
		Avatar:       store.DefaultAvatar,
		CreatedAt:    time.Now(),
	}))
	req.NoError(seed.SetPresence(ctx, "alice-id", true, time.Now()))
	req.NoError(seed.Close())

	a, err := New(cfg, log.Nop())
	req.NoError(err)
	t.Cleanup(a.cleanup)

	u, err := a.store.GetUserByID(ctx, "alice-id")
	req.NoError(err)
	req.False(u.Online)
}

func TestHandlerServesHealth(t *testing.T) {
	a, err := New(testConfig(t), log.Nop())
	require.NoError(t, err)
	t.Cleanup(a.cleanup)

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
}

func TestRunStopsOnCancel(t *testing.T) {
	a, err := New(testConfig(t), log.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
