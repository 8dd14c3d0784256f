// Package handlers provides the HTTP API of the compression service.
//
// It includes handlers for:
//   - Image and video compression uploads
//   - Simulated and per-job progress streams (server-sent events)
//   - Job history and aggregate statistics
//   - Health, readiness, version and metrics
package handlers
