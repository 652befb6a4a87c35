package cli

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	goflags "github.com/jessevdk/go-flags"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/tidepool/internal/app"
	"github.com/runnerr0/tidepool/internal/config"
	"github.com/runnerr0/tidepool/internal/storage"
)

// captureOutput captures stdout during fn execution and returns it as a string.
func captureOutput(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	fn()

	w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	return buf.String()
}

// noExec stops go-flags from running the matched command.
func noExec(goflags.Commander, []string) error { return nil }

// fakeBackend answers /health with 200 and everything else with status,
// recording request paths.
type fakeBackend struct {
	*httptest.Server
	status atomic.Int32

	mu    sync.Mutex
	paths []string
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	b := &fakeBackend{}
	b.status.Store(http.StatusOK)
	b.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		b.mu.Lock()
		b.paths = append(b.paths, r.Method+" "+r.URL.Path)
		b.mu.Unlock()
		w.WriteHeader(int(b.status.Load()))
	}))
	t.Cleanup(b.Close)
	return b
}

func (b *fakeBackend) seen() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.paths...)
}

// newTestApp builds a runtime on an in-memory database pointed at baseURL.
func newTestApp(t *testing.T, baseURL string) *app.App {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Transport.BaseURL = baseURL
	cfg.Storage.Path = t.TempDir()
	cfg.Telemetry.MaxRetries = 1
	cfg.Telemetry.RetryBaseDelayMs = 1

	a, err := app.New(context.Background(), cfg, app.WithDBPath(storage.MemoryPath), app.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return a
}
