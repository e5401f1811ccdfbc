package http_api

// routes sets up the routes for the HTTP server.
func (s *HTTPServer) routes() {
	api := s.router.Group("/api/v1")

	api.GET("/services", s.listServices)
	api.GET("/services/:name/challenge", s.challenge)
	api.POST("/services/:name/access", s.access)
	api.GET("/services/:name/revenue", s.serviceRevenue)

	api.GET("/plans", s.listPlans)
	api.GET("/plans/:id/revenue", s.planRevenue)

	api.POST("/subscriptions", s.createSubscription)
	api.GET("/subscriptions/:id", s.getSubscription)
	api.GET("/subscriptions/:id/access", s.validateAccess)
	api.POST("/subscriptions/:id/renew", s.renewSubscription)
	api.POST("/subscriptions/:id/cancel", s.cancelSubscription)
	api.POST("/subscriptions/:id/usage", s.recordUsage)
	api.GET("/subscriptions/:id/usage", s.usageHistory)

	api.GET("/events", s.streamEvents)
}
