package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggingMiddleware(t *testing.T) {
	tests := []struct {
		name   string
		method string
		status int
		body   string
	}{
		{name: "redirect", method: http.MethodGet, status: http.StatusFound},
		{name: "created", method: http.MethodPost, status: http.StatusCreated, body: `{"id":"1"}`},
		{name: "not found", method: http.MethodGet, status: http.StatusNotFound, body: "Not found\n"},
		{name: "implicit ok", method: http.MethodDelete, status: http.StatusOK, body: "done"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.InfoLevel)
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.status != http.StatusOK {
					w.WriteHeader(tt.status)
				}
				_, _ = w.Write([]byte(tt.body))
			})

			req := httptest.NewRequest(tt.method, "/api/negotiations", nil)
			w := httptest.NewRecorder()

			chimw.RequestID(LoggingMiddleware(zap.New(core))(handler)).ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			require.Equal(t, 1, logs.Len())
			fields := logs.All()[0].ContextMap()
			assert.Equal(t, tt.method, fields["method"])
			assert.Equal(t, int64(tt.status), fields["status"])
			assert.Equal(t, int64(len(tt.body)), fields["size"])
			assert.NotEmpty(t, fields["request_id"])
		})
	}
}
