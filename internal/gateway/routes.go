package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

// CORS allows the configured browser origins
func CORS(origins []string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	})
}

// Routes mounts the authenticated API surface. Paths are forwarded unchanged;
// each service serves its own /api/v1 prefix.
func Routes(r chi.Router, proxy *Proxy) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(proxy.AuthMiddleware)

		r.Handle("/pharmacy/*", http.HandlerFunc(proxy.ForwardToPharmacy))
		r.Handle("/scheduling/*", http.HandlerFunc(proxy.ForwardToScheduling))
		r.Handle("/patients/*", http.HandlerFunc(proxy.ForwardToScheduling))
	})
}
