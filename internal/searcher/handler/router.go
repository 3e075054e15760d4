package handler

import (
	"net/http"

	"github.com/Hikikomori041/m2-projetweb/internal/analytics"
	"github.com/Hikikomori041/m2-projetweb/pkg/config"
	"github.com/Hikikomori041/m2-projetweb/pkg/health"
	"github.com/Hikikomori041/m2-projetweb/pkg/metrics"
	"github.com/Hikikomori041/m2-projetweb/pkg/middleware"
)

// RouterConfig carries the optional pieces of the router. Nil fields
// disable the routes or middleware that need them.
type RouterConfig struct {
	Analytics *analytics.Handler
	Health    *health.Checker
	Metrics   *metrics.Metrics
	Server    config.ServerConfig
	RateLimit config.RateLimitConfig
}

// NewRouter builds the HTTP handler of the search service.
//
// Route table:
//
//	POST   /api/v1/documents          add a document entry
//	PUT    /api/v1/documents/{id}     replace every entry for id
//	DELETE /api/v1/documents/{id}     delete every entry for id
//	POST   /api/v1/search             keyword list -> ids
//	GET    /api/v1/search             scored hits (?q=&limit=&boolean=)
//	GET    /api/v1/index/stats        current generation summary
//	POST   /api/v1/index/merge        force merge
//	GET    /api/v1/cache/stats
//	POST   /api/v1/cache/invalidate
//	GET    /api/v1/analytics/stats
//	GET    /health/live, /health/ready
//
// Middleware chain (outermost first):
//
//	RequestID -> Metrics -> TrimTrailingSlash -> CORS -> RateLimit -> Timeout -> mux
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/documents", h.AddDocument)
	mux.HandleFunc("PUT /api/v1/documents/{id}", h.PutDocument)
	mux.HandleFunc("DELETE /api/v1/documents/{id}", h.DeleteDocument)

	mux.HandleFunc("POST /api/v1/search", h.SearchKeywords)
	mux.HandleFunc("GET /api/v1/search", h.Search)

	mux.HandleFunc("GET /api/v1/index/stats", h.Stats)
	mux.HandleFunc("POST /api/v1/index/merge", h.Merge)

	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)

	if cfg.Analytics != nil {
		mux.HandleFunc("GET /api/v1/analytics/stats", cfg.Analytics.Stats)
	}
	if cfg.Health != nil {
		mux.HandleFunc("GET /health/live", cfg.Health.LiveHandler())
		mux.HandleFunc("GET /health/ready", cfg.Health.ReadyHandler())
	}

	var chain http.Handler = mux
	if cfg.Server.WriteTimeout > 0 {
		chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	}
	if cfg.RateLimit.Enabled {
		chain = middleware.RateLimit(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)(chain)
	}
	chain = middleware.CORS(middleware.DefaultCORSConfig())(chain)
	chain = middleware.TrimTrailingSlash(chain)
	if cfg.Metrics != nil {
		chain = middleware.Metrics(cfg.Metrics)(chain)
	}
	chain = middleware.RequestID(chain)

	return chain
}
