package http

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"keygate/internal/config"
	"keygate/internal/license"
	"keygate/internal/store"
)

func testTracer() trace.Tracer {
	return tracenoop.NewTracerProvider().Tracer("test")
}

func testMeter() metric.Meter {
	return metricnoop.NewMeterProvider().Meter("test")
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	st, err := store.NewSQLiteStore(config.StoreConfig{
		Path:        filepath.Join(t.TempDir(), "transport.db"),
		BusyTimeout: 5 * time.Second,
	}, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func seedLicense(t *testing.T, st store.Store, mutate func(*license.License)) *license.License {
	t.Helper()

	now := time.Now().UTC().Truncate(time.Second)
	lic := &license.License{
		Key:        license.NewKey(),
		UserRef:    "user-1",
		ProductRef: "prod-1",
		Status:     license.StatusActive,
		CreatedAt:  now,
		ExpiresAt:  now.AddDate(0, 0, 30),
		Version:    1,
	}
	if mutate != nil {
		mutate(lic)
	}
	require.NoError(t, st.Create(context.Background(), lic))
	return lic
}

// doRequest runs one request through a handler's routes and decodes the
// JSON response body into out when out is non-nil.
func doRequest(t *testing.T, router chi.Router, method, path string, body any, headers map[string]string, out any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if raw, ok := body.([]byte); ok {
		reader = bytes.NewReader(raw)
	} else if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if out != nil && rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out),
			"response body: %s", rec.Body.String())
	}
	return rec
}
