// Package api hosts the HTTP server, middleware, and REST handlers. Notable
// routes:
//   - GET /healthz and /readyz for probes, GET /metrics for Prometheus.
//   - POST /login and /sessions/{session_id} for the session registry.
//   - POST /scrape-channels/start and /scrape-nichos/start to queue jobs,
//     polled through their /result/{job_id} routes or GET /jobs/{job_id}.
//   - POST /scrape-channels, /login-and-scrape, /navigate-to-videos and
//     /scrape run synchronously.
package api
