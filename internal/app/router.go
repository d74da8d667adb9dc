package app

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/tempizhere/shortenurl/internal/middleware"
	"go.uber.org/zap"
)

// BasePath возвращает путь базового URL без завершающего слэша.
// Маршруты разрешения регистрируются под этим путём.
func BasePath(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil {
		return ""
	}
	return strings.TrimRight(u.Path, "/")
}

// NewRouter регистрирует маршруты приложения
func NewRouter(a *App, basePath, trustedSubnet string, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.LoggingMiddleware(logger))
	r.Use(middleware.GzipMiddleware)

	r.Get("/ping", a.HandlePing)

	r.Route("/api/negotiations", func(r chi.Router) {
		r.Use(middleware.TrustedSubnetMiddleware(trustedSubnet, logger))
		r.Post("/", a.HandleCreate)
		r.Get("/", a.HandleList)
		r.Get("/{id}", a.HandleGet)
		r.Delete("/{id}", a.HandleDelete)
		r.Post("/{id}/accept", a.HandleAccept)
		r.Post("/{id}/decline", a.HandleDecline)
		r.Post("/{id}/invalidate", a.HandleInvalidate)
	})

	if basePath == "" {
		r.Get("/", a.HandleResolve)
	} else {
		r.Get(basePath, a.HandleResolve)
		r.Get(basePath+"/", a.HandleResolve)
	}
	r.Get(basePath+"/{slug}", a.HandleResolve)

	return r
}
