// Package fetcher glues the tiered cache and the resilience primitives
// around a single external operation: fetching cost-and-usage data from a
// cloud provider's billing API.
//
// A cache hit returns immediately, bypassing limiter, breaker and retry
// entirely. On a miss the provider call runs inside the full stack:
//
//	rate limiter (may block) → circuit breaker → provider call
//	                 └── backoff retry loop around the above ──┘
//
// Success reports to the breaker and writes the result back through every
// cache tier; failure reports to the breaker and either retries after a
// jittered backoff or surfaces a typed error. Callers reporting on many
// providers should treat resilience.ErrCircuitOpen and
// *resilience.RetryExhaustedError as "this provider's data is temporarily
// unavailable" and keep going with the rest.
package fetcher
