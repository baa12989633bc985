package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/phalt/clientele-sub001/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	var (
		mu     sync.Mutex
		paths  []string
		bearer string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		bearer = r.Header.Get("Authorization")
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	tp, shutdown, err := New(context.Background(), server.URL, "secret", "clientele-test")
	require.NoError(t, err)
	require.NotNil(t, tp)

	_, span := tp.Tracer("test").Start(context.Background(), "GET /pokemon/{id}")
	span.End()
	shutdown()

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, paths)
	assert.Equal(t, "/v1/traces", paths[0])
	assert.Equal(t, "Bearer secret", bearer)
}

func TestNewInvalidEndpoint(t *testing.T) {
	_, _, err := New(context.Background(), "://bad", "", "svc")
	assert.ErrorContains(t, err, "error parsing otlp endpoint")

	_, _, err = New(context.Background(), "grpc://localhost:4317", "", "svc")
	assert.ErrorContains(t, err, "scheme must be http or https")
}

func TestNewLogger(t *testing.T) {
	var (
		mu     sync.Mutex
		paths  []string
		bearer string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		bearer = r.Header.Get("Authorization")
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	log, shutdown, err := NewLogger(context.Background(), server.URL, "secret", "clientele-test", logger.LevelTrace)
	require.NoError(t, err)
	log.WithPrefix("[cache]").Trace("miss %s", "GET:/pokemon/{id}:id=25")
	shutdown()

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, paths)
	assert.Equal(t, "/v1/logs", paths[0])
	assert.Equal(t, "Bearer secret", bearer)
}

func TestNewLoggerInvalidEndpoint(t *testing.T) {
	_, _, err := NewLogger(context.Background(), "grpc://localhost:4317", "", "svc", logger.LevelInfo)
	assert.ErrorContains(t, err, "scheme must be http or https")
}
