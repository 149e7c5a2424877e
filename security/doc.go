// Package security provides the security primitives used by the middleware
// layer: AES-256-GCM sealing for session cookies, per-IP token-bucket rate
// limiting with LRU eviction, request ID generation and propagation, and
// client IP extraction behind trusted proxies.
package security
