// Package resilience provides the failure-handling primitives wrapped
// around outbound cloud billing API calls: a circuit breaker, an
// exponential backoff policy, and a token-bucket rate limiter.
//
// The pieces are deliberately independent. [CircuitBreaker] tracks
// consecutive failures per guarded call-site and fails fast with
// [ErrCircuitOpen] while the dependency is known-bad. [BackoffPolicy]
// computes retry delays (exponential, capped, optionally full-jittered)
// but owns no loop. [RateLimiter] caps outbound request rate with lazy
// token refill. The fetcher package composes all three around a single
// provider call.
package resilience
