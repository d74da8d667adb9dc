package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func okHandler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			t.Logf("Failed to write response: %v", err)
		}
	})
}

func TestTrustedSubnetMiddleware(t *testing.T) {
	tests := []struct {
		name           string
		trustedSubnet  string
		clientIP       string
		remoteAddr     string
		expectedStatus int
		expectedBody   string
	}{
		{
			name:           "empty trusted subnet denies",
			trustedSubnet:  "",
			clientIP:       "192.168.1.100",
			expectedStatus: http.StatusForbidden,
			expectedBody:   "Access denied\n",
		},
		{
			name:           "missing header falls back to remote addr outside subnet",
			trustedSubnet:  "192.168.1.0/24",
			expectedStatus: http.StatusForbidden,
			expectedBody:   "Access denied\n",
		},
		{
			name:           "missing header falls back to remote addr inside subnet",
			trustedSubnet:  "192.168.1.0/24",
			remoteAddr:     "192.168.1.7:51000",
			expectedStatus: http.StatusOK,
			expectedBody:   "OK",
		},
		{
			name:           "invalid IP denies",
			trustedSubnet:  "192.168.1.0/24",
			clientIP:       "invalid-ip",
			expectedStatus: http.StatusForbidden,
			expectedBody:   "Access denied\n",
		},
		{
			name:           "IP not in trusted subnet denies",
			trustedSubnet:  "192.168.1.0/24",
			clientIP:       "10.0.0.1",
			expectedStatus: http.StatusForbidden,
			expectedBody:   "Access denied\n",
		},
		{
			name:           "IP in trusted subnet allows",
			trustedSubnet:  "192.168.1.0/24",
			clientIP:       "192.168.1.100",
			expectedStatus: http.StatusOK,
			expectedBody:   "OK",
		},
		{
			name:           "header wins over remote addr",
			trustedSubnet:  "192.168.1.0/24",
			clientIP:       "10.0.0.1",
			remoteAddr:     "192.168.1.7:51000",
			expectedStatus: http.StatusForbidden,
			expectedBody:   "Access denied\n",
		},
		{
			name:           "single IP subnet allows",
			trustedSubnet:  "192.168.1.100/32",
			clientIP:       "192.168.1.100",
			expectedStatus: http.StatusOK,
			expectedBody:   "OK",
		},
		{
			name:           "single IP subnet denies neighbour",
			trustedSubnet:  "192.168.1.100/32",
			clientIP:       "192.168.1.101",
			expectedStatus: http.StatusForbidden,
			expectedBody:   "Access denied\n",
		},
		{
			name:           "IPv6 in trusted subnet allows",
			trustedSubnet:  "2001:db8::/32",
			clientIP:       "2001:db8::1",
			expectedStatus: http.StatusOK,
			expectedBody:   "OK",
		},
		{
			name:           "IPv6 not in trusted subnet denies",
			trustedSubnet:  "2001:db8::/32",
			clientIP:       "2001:db9::1",
			expectedStatus: http.StatusForbidden,
			expectedBody:   "Access denied\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			middleware := TrustedSubnetMiddleware(tt.trustedSubnet, zap.NewNop())

			req := httptest.NewRequest(http.MethodGet, "/api/negotiations", nil)
			if tt.clientIP != "" {
				req.Header.Set("X-Real-IP", tt.clientIP)
			}
			if tt.remoteAddr != "" {
				req.RemoteAddr = tt.remoteAddr
			}
			rr := httptest.NewRecorder()

			middleware(okHandler(t)).ServeHTTP(rr, req)

			assert.Equal(t, tt.expectedStatus, rr.Code)
			assert.Equal(t, tt.expectedBody, rr.Body.String())
		})
	}
}

func TestTrustedSubnetMiddleware_InvalidCIDR(t *testing.T) {
	middleware := TrustedSubnetMiddleware("invalid-cidr", zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/negotiations", nil)
	req.Header.Set("X-Real-IP", "192.168.1.100")
	rr := httptest.NewRecorder()

	middleware(okHandler(t)).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "Internal server error\n", rr.Body.String())
}
