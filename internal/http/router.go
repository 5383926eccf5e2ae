// README: HTTP route registration.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tourdispatch/internal/http/handlers"
	"tourdispatch/internal/http/middleware"
	"tourdispatch/internal/metrics"
)

func registerRoutes(r *gin.Engine, deps ServerDeps) {
	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))

	api := r.Group("/api")
	api.Use(middleware.Auth(deps.Verifier), middleware.RateLimit(deps.RateLimitRPS, deps.RateLimitBurst))
	staff := middleware.RequireRole(middleware.RoleDispatcher, middleware.RoleAdmin)
	admin := middleware.RequireRole(middleware.RoleAdmin)

	tourHandler := handlers.NewTourHandler(deps.Tour)
	api.POST("/drivers/:id/tours", tourHandler.Request)
	api.GET("/drivers/:id/tours/active", tourHandler.Active)
	api.GET("/tours", staff, tourHandler.List)
	api.GET("/tours/:id", tourHandler.Get)
	api.POST("/tours/:id/start", tourHandler.Start)
	api.POST("/tours/:id/cancel", tourHandler.Cancel)
	api.POST("/tours/:id/stops/:stopId/arrive", tourHandler.Arrive)
	api.POST("/tours/:id/stops/:stopId/complete", tourHandler.Complete)
	api.POST("/tours/:id/stops/:stopId/partial", tourHandler.Partial)
	api.POST("/tours/:id/stops/:stopId/not-ready", tourHandler.NotReady)
	api.POST("/tours/:id/stops/:stopId/release", tourHandler.Release)

	locationHandler := handlers.NewLocationHandler(deps.Location)
	api.GET("/drivers/nearby", staff, locationHandler.Nearby)
	api.PUT("/drivers/:id/location", locationHandler.Update)
	api.DELETE("/drivers/:id/location", locationHandler.Clear)

	driverHandler := handlers.NewDriverHandler(deps.Fleet)
	api.GET("/drivers", staff, driverHandler.List)
	api.GET("/drivers/:id", driverHandler.Get)
	api.PUT("/drivers/:id", admin, driverHandler.Upsert)
	api.PUT("/drivers/:id/device", driverHandler.RegisterDevice)

	demandHandler := handlers.NewDemandHandler(deps.Demand)
	api.GET("/demands", staff, demandHandler.List)
	api.GET("/demands/:id", staff, demandHandler.Get)
	api.POST("/demands/:id/confirm", staff, demandHandler.Confirm)
	api.POST("/demands/:id/cancel", staff, demandHandler.Cancel)

	adminHandler := handlers.NewAdminHandler(deps.Feed, deps.Maintainer)
	api.POST("/admin/feed/sync", admin, adminHandler.SyncFeed)
	api.POST("/admin/maintenance", admin, adminHandler.Maintain)
}
