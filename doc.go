// Package fetchcore is the cache-and-coordination core of a data-fetching
// layer. It composes three pieces:
//
//   - Store: a TTL-keyed in-memory cache with tag invalidation, entry/size
//     limits, oldest-first eviction and hit/miss accounting
//   - Coordinator: request de-duplication (merges concurrent identical
//     in-flight fetches), bounded concurrency, timeout, retry and
//     cooperative cancellation
//   - Orchestrator: cache-first / network-first / stale-while-revalidate
//     fetch policies over the two, plus batch and preload operations
//
// Design goals:
//   - Small surface area: config structs validated at construction,
//     functional options for the ambient pieces
//   - Safe concurrent use of a single instance of each component
//   - The underlying fetch is an injected Operation; fetchcore never talks
//     to the network itself
//   - Prometheus metrics and zerolog structured logging, both optional
//
// Typical usage:
//
//	orch := fetchcore.New[User](
//	    fetchcore.WithLogger(logger),
//	    fetchcore.WithMetrics(),
//	)
//	user, err := orch.Fetch(ctx, fetchcore.Request[User]{
//	    Method:   "GET",
//	    Resource: "/users/42",
//	    Operation: func(ctx context.Context) (User, error) {
//	        return api.FetchUser(ctx, 42)
//	    },
//	    Policy: fetchcore.FetchPolicy{Mode: fetchcore.StaleWhileRevalidate},
//	})
//
// Identical concurrent logical requests (same method, resource and
// canonicalized parameters) collapse to a single execution of the injected
// operation; every joined caller observes the same result.
package fetchcore
