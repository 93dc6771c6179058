/*
Package metrics declares the Prometheus instruments shared by a
replica's sync cycle, a sync server's HTTP API, and the background
collector that samples a TaskDb's task counts.

All metrics are registered at package init against the default
Prometheus registry; Handler returns the http.Handler that exposes them
for scraping. Components only ever touch the package-level vars
(TasksTotal, SyncDuration, HTTPRequestsTotal, ...) declared in
metrics.go — there is no per-instance metrics object to wire through a
call chain.
*/
package metrics
