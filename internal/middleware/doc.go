// Package middleware provides the HTTP middleware chain for the compression
// service.
//
// It includes:
//   - Request logging in W3C Extended Log Format, tagged with the job ID
//   - Prometheus request metrics with bounded path labels
//   - gzip compression of JSON and text responses (media results pass through)
//   - Per-client upload rate limiting
package middleware
