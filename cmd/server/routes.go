package main

import (
	"github.com/gin-gonic/gin"
	"referral-tracker.backend/internal/interfaces/http/handlers"
	"referral-tracker.backend/internal/interfaces/http/middleware"
	"referral-tracker.backend/pkg/metrics"
)

type routeDeps struct {
	referralHandler *handlers.ReferralHandler
	metrics         *metrics.Metrics
}

func newRouter(deps routeDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.LoggerMiddleware())
	r.Use(middleware.MetricsMiddleware(deps.metrics))

	applyCORSMiddleware(r)
	registerHealthRoute(r)
	registerWelcomeRoute(r)
	registerReferralRoutes(r, deps)
	r.GET("/metrics", gin.WrapH(deps.metrics.Handler()))
	return r
}

func registerReferralRoutes(r gin.IRouter, deps routeDeps) {
	h := deps.referralHandler

	r.GET("/user/:wallet_address", h.GetUser)
	r.GET("/referral/:userid", h.GetReferral)
	r.POST("/bulk-lookup", h.BulkLookup)

	// only the writes are worth replaying
	writes := r.Group("")
	writes.Use(middleware.IdempotencyMiddleware())
	{
		writes.POST("/register", h.Register)
		writes.POST("/register-referred", h.RegisterReferred)
	}
}
