// Package handlers contains the reusable parts of the HTTP interface: health
// checks, middleware and the JSON error envelope.
//
// # Health Checks
//
// Checks run in parallel. A failing critical check makes the service
// unhealthy; a failing optional check only makes it not ready:
//
//	checker := handlers.NewCompositeHealthChecker("v1.0.0")
//	checker.AddCheck("postgres", handlers.NewPingCheck(conn))
//	checker.AddOptionalCheck("redis", handlers.NewPingCheck(redisClient))
//
// # Middleware
//
//	auth := handlers.NewAPIKeyAuth("X-API-Key", cfg.AdminAPIKeys)
//	h := handlers.ChainHandler(mux,
//	    handlers.RecoveryMiddleware(log),
//	    handlers.RequestIDMiddleware(log),
//	    handlers.LoggingMiddleware(log),
//	)
//	admin := auth.Middleware(adminMux)
package handlers
