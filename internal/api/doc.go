// Package api hosts the optional status server. Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /progress/runs and /progress/runs/{run_id} for run counters, read
//     through store.RunReader.
package api
