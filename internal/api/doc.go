// Package api hosts the HTTP server, middleware, and REST handlers of the
// portal. Notable routes:
//   - GET /healthz, /readyz for probes and GET /metrics for Prometheus.
//   - POST /api/auth/login and the Google sign-in pair under /api/auth/google.
//   - CRUD under /api/{entity}, scoped to the caller's business partner where
//     the entity has an owner.
//   - POST .../execute, .../trigger-scrape and .../process answer 202 with a
//     job id; GET /api/{ai,scraping}-jobs/logs/{jobId} polls status and logs.
//   - GET /api/feed for the paginated content feed.
//
// Every /api route except login requires an x-auth-token header.
package api
