// Package gateway orchestrates the helpdesk-gateway server components.
//
// # Overview
//
// The gateway owns the store, read cache, job pool, update notifier and the
// help desk service, and exposes them over HTTP. An optional gRPC server
// carries the standard health protocol for operators.
//
// # HTTP API
//
// Health and metrics are unauthenticated:
//
//   - GET /health - Liveness check
//   - GET /health/ready - Readiness check (pings the database)
//   - GET /metrics - Prometheus metrics, when enabled
//
// Everything else requires a bearer token:
//
//   - GET, POST /conversations
//   - GET /conversations/{id}, GET /conversations/{id}/messages
//   - POST /messages, PUT /messages/{id}/read
//   - GET /expert/queue, GET and PUT /expert/profile
//   - POST /expert/conversations/{id}/claim, unclaim and resolve
//   - GET /expert/assignments/history
//   - GET /api/conversations/updates, /api/messages/updates, /api/expert-queue/updates
//   - GET /api/updates/stream
//
// Errors are JSON objects of the form {"error": "..."}.
//
// # SSE Streaming
//
// The update stream writes one frame per changed record plus a heartbeat
// each tick:
//
//	event: message-update
//	data: {"id": "42", ...}
//
//	event: heartbeat
//	data: {"timestamp": "2025-05-01T09:00:00Z"}
//
// # Lifecycle
//
// Run starts the job workers and listeners (TCP, or tsnet when Tailscale is
// enabled) and blocks until its context ends. Shutdown stops HTTP first,
// ends open streams, drains queued jobs, then closes the cache and store.
package gateway
