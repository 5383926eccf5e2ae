// README: API gateway; wires middleware and delegates to module services.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tourdispatch/internal/http/handlers"
	"tourdispatch/internal/http/middleware"
	"tourdispatch/internal/infra"
)

type ServerDeps struct {
	Tour     handlers.TourService
	Demand   handlers.DemandService
	Fleet    handlers.FleetService
	Location handlers.LocationService
	// Feed is nil when no upstream feed is configured.
	Feed       handlers.FeedSyncer
	Maintainer handlers.Maintainer
	Verifier   infra.TokenVerifier
	Log        *zap.Logger

	RateLimitRPS   float64
	RateLimitBurst int
}

type Server struct {
	deps ServerDeps
}

func NewServer(deps ServerDeps) *Server {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	return &Server{deps: deps}
}

// Routes builds the gin engine serving the whole API.
func (s *Server) Routes() http.Handler {
	r := gin.New()
	r.Use(middleware.Recovery(s.deps.Log), middleware.Logging(s.deps.Log))
	registerRoutes(r, s.deps)
	return r
}
