// Package middleware содержит HTTP middleware для обработки запросов.
// Включает логирование, сжатие ответов и проверку доверенных подсетей.
package middleware

import (
	"net"
	"net/http"

	"go.uber.org/zap"
)

// TrustedSubnetMiddleware создаёт middleware для проверки IP-адреса в доверенной подсети.
// Адрес берётся из заголовка X-Real-IP, при его отсутствии из RemoteAddr.
func TrustedSubnetMiddleware(trustedSubnet string, logger *zap.Logger) func(http.Handler) http.Handler {
	var (
		network *net.IPNet
		cidrErr error
	)
	if trustedSubnet != "" {
		_, network, cidrErr = net.ParseCIDR(trustedSubnet)
		if cidrErr != nil {
			logger.Error("Invalid trusted_subnet CIDR",
				zap.String("trusted_subnet", trustedSubnet),
				zap.Error(cidrErr))
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Если trusted_subnet пустой, запрещаем доступ
			if trustedSubnet == "" {
				logger.Warn("Access denied: trusted_subnet is empty",
					zap.String("method", r.Method),
					zap.String("uri", r.RequestURI),
					zap.String("remote_addr", r.RemoteAddr))
				http.Error(w, "Access denied", http.StatusForbidden)
				return
			}
			if cidrErr != nil {
				http.Error(w, "Internal server error", http.StatusInternalServerError)
				return
			}

			clientIP := clientAddr(r)
			ip := net.ParseIP(clientIP)
			if ip == nil {
				logger.Warn("Access denied: invalid client IP",
					zap.String("method", r.Method),
					zap.String("uri", r.RequestURI),
					zap.String("client_ip", clientIP),
					zap.String("remote_addr", r.RemoteAddr))
				http.Error(w, "Access denied", http.StatusForbidden)
				return
			}

			if !network.Contains(ip) {
				logger.Warn("Access denied: IP not in trusted subnet",
					zap.String("method", r.Method),
					zap.String("uri", r.RequestURI),
					zap.String("client_ip", clientIP),
					zap.String("trusted_subnet", trustedSubnet))
				http.Error(w, "Access denied", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func clientAddr(r *http.Request) string {
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
