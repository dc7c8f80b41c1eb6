// Package ratelimit provides per-IP rate limiting with background eviction
// of stale entries.
//
// Every GET /health fans out to every configured dependency, so an
// unthrottled caller can turn this service into a load generator against the
// databases, queues and vaults it watches. The limiter bounds that per client.
//
// This is a single-instance, in-memory rate limiter. It does not protect
// against distributed callers; use an upstream WAF or gateway limit for that.
package ratelimit
