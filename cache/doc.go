// Package cache implements the tiered cache that sits in front of cloud
// billing APIs: an ordered chain of tiers, cheapest first, with
// read-through promotion and write-through population.
//
// # Tiers
//
// Three [Tier] implementations are provided:
//
//   - [NewMemory] — In-process L1. A map guarded by a mutex with an LRU
//     list for eviction once the entry cap is reached. Values are stored
//     as-is with zero serialization overhead. Lost on process restart.
//
//   - [NewSQLite] — On-disk L2 backed by a SQLite database
//     ([modernc.org/sqlite], pure Go, no CGO). Values are serialized to
//     msgpack and stored as BLOBs. Survives restarts; WAL mode is enabled
//     for concurrent reads, and every operation carries a per-query timeout
//     so slow storage cannot hang a caller. Capacity is enforced by
//     trimming least-recently-accessed rows.
//
//   - [NewRedis] — Remote L3 backed by Redis
//     ([github.com/redis/go-redis/v9]) for sharing results across hosts.
//     Expiry uses native Redis TTLs. The tier treats Redis as an opaque
//     network dependency: when it is down, the surrounding [Tiered] cache
//     degrades to the remaining tiers.
//
// # Composition
//
// [NewTiered] chains tiers in order. Get probes L1 then L2 then L3; a hit
// at a deeper tier is promoted into every faster tier with that tier's own
// default TTL, so hot keys migrate toward memory. Set writes through all
// tiers, each with its own TTL unless an override is given. A tier failure
// never fails the overall operation — it is logged, counted in [Stats],
// and the tier is simply treated as unpopulated.
//
// Expiry is lazy: an entry whose deadline has passed is a miss on access
// and is deleted during that access. The memory and SQLite tiers also run
// a periodic background sweep, but correctness never depends on it.
//
// # Keys
//
// [CostDataKey] and [AnalysisKey] build deterministic keys from a query's
// identity (provider, date range, filters), so every tier and every process
// agrees on what a cached result means.
//
// # Typed access
//
// Tier values are `any`: the memory tier holds live objects, the serialized
// tiers hold msgpack bytes. The generic [Get] helper hides the difference,
// type-asserting where possible and unmarshalling where needed:
//
//	found, data, err := cache.Get[*provider.CostData](ctx, tc, key)
package cache
