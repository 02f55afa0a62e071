package fetchcore

import (
	"context"
	"errors"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Request describes one logical fetch: the identifying triple, the
// injected operation that performs the actual work, and the policy
// controlling how cache and coordinator are consulted.
type Request[T any] struct {
	Method    string
	Resource  string
	Params    map[string]any
	Operation Operation[T]
	Policy    FetchPolicy
}

// BatchResult is the per-item outcome of a Batch call. Err is nil on
// success; one item's failure never fails the whole batch.
type BatchResult[T any] struct {
	Value T
	Err   error
}

// Orchestrator composes a Store and a Coordinator behind fetch policies.
// Successful fetches are written back into the cache under the
// orchestrator's namespace with the request's TTL and tags.
type Orchestrator[T any] struct {
	store       *Store[T]
	coordinator *Coordinator[T]
	settings    settings
	namespace   string
}

// NewOrchestrator creates an orchestrator from separately validated cache
// and coordination configurations. Options apply to all three components,
// so a single WithLogger or WithMetricsCollector covers the whole stack.
func NewOrchestrator[T any](cacheCfg CacheConfig, coordCfg CoordinationConfig, opts ...Option) (*Orchestrator[T], error) {
	store, err := NewStore[T](cacheCfg, opts...)
	if err != nil {
		return nil, err
	}
	coordinator, err := NewCoordinator[T](coordCfg, opts...)
	if err != nil {
		store.Close()
		return nil, err
	}

	s := newSettings(opts...)
	return &Orchestrator[T]{
		store:       store,
		coordinator: coordinator,
		settings:    s,
		namespace:   s.namespace,
	}, nil
}

// New creates an orchestrator with the documented default configuration.
// It is the convenience factory for a composition root that does not need
// custom limits; defaults always validate.
func New[T any](opts ...Option) *Orchestrator[T] {
	o, err := NewOrchestrator[T](DefaultCacheConfig(), DefaultCoordinationConfig(), opts...)
	if err != nil {
		panic(err)
	}
	return o
}

// Fetch executes one logical request under its policy.
//
//   - CacheFirst returns a live hit immediately without touching the
//     coordinator; on miss it fetches and writes back.
//   - NetworkFirst always fetches; on failure it falls back to a live hit
//     and only surfaces the error when the cache cannot help either.
//   - StaleWhileRevalidate returns a live hit immediately and refreshes
//     the entry in the background; on miss it behaves like CacheFirst.
func (o *Orchestrator[T]) Fetch(ctx context.Context, req Request[T]) (T, error) {
	key := RequestKey(req.Method, req.Resource, req.Params)

	switch req.Policy.Mode {
	case NetworkFirst:
		val, err := o.coordinator.Run(ctx, req.Method, req.Resource, req.Params, req.Operation)
		if err == nil {
			o.writeBack(key, val, req.Policy)
			return val, nil
		}
		if cached, ok := o.store.Get(o.namespace, key); ok {
			o.settings.logger.Debug().
				Str("method", req.Method).
				Str("resource", req.Resource).
				Err(err).
				Msg("network fetch failed, serving cached value")
			return cached, nil
		}
		var zero T
		return zero, err

	case StaleWhileRevalidate:
		if cached, ok := o.store.Get(o.namespace, key); ok {
			o.refresh(ctx, key, req)
			return cached, nil
		}
		return o.fetchAndStore(ctx, key, req)

	default: // CacheFirst
		if cached, ok := o.store.Get(o.namespace, key); ok {
			return cached, nil
		}
		return o.fetchAndStore(ctx, key, req)
	}
}

// fetchAndStore is the shared miss path: delegate to the coordinator and
// write a successful result back into the cache.
func (o *Orchestrator[T]) fetchAndStore(ctx context.Context, key string, req Request[T]) (T, error) {
	val, err := o.coordinator.Run(ctx, req.Method, req.Resource, req.Params, req.Operation)
	if err != nil {
		var zero T
		return zero, err
	}
	o.writeBack(key, val, req.Policy)
	return val, nil
}

// refresh updates a served-stale entry in the background. The refresh is
// detached from the caller's context lifetime, goes through the
// coordinator so concurrent revalidations of the same key collapse, and
// swallows failures since no caller awaits it.
func (o *Orchestrator[T]) refresh(ctx context.Context, key string, req Request[T]) {
	bg := context.WithoutCancel(ctx)
	go func() {
		val, err := o.coordinator.Run(bg, req.Method, req.Resource, req.Params, req.Operation)
		if err != nil {
			o.settings.logger.Warn().
				Str("method", req.Method).
				Str("resource", req.Resource).
				Err(err).
				Msg("background revalidation failed")
			return
		}
		o.writeBack(key, val, req.Policy)
	}()
}

// writeBack stores a fetched value under the request's TTL and tags.
func (o *Orchestrator[T]) writeBack(key string, val T, policy FetchPolicy) {
	err := o.store.Set(o.namespace, key, val, SetOptions{
		TTL:  policy.TTL,
		Tags: policy.Tags,
	})
	if err != nil && !errors.Is(err, ErrEntryTooLarge) {
		o.settings.logger.Warn().
			Str("key", key).
			Err(err).
			Msg("cache write-back failed")
	}
}

// Batch executes the requests concurrently, bounded by the coordinator's
// MaxConcurrent, and returns a per-item result in request order.
func (o *Orchestrator[T]) Batch(ctx context.Context, requests []Request[T]) []BatchResult[T] {
	results := make([]BatchResult[T], len(requests))

	var g errgroup.Group
	g.SetLimit(o.coordinator.cfg.MaxConcurrent)
	for i, req := range requests {
		i, req := i, req
		g.Go(func() error {
			val, err := o.Fetch(ctx, req)
			results[i] = BatchResult[T]{Value: val, Err: err}
			return nil
		})
	}
	g.Wait()
	return results
}

// Preload warms the cache: items already cached and live are skipped,
// the rest are fetched and stored. Individual failures are logged and
// swallowed since preload is best-effort. It returns the number of
// entries populated.
func (o *Orchestrator[T]) Preload(ctx context.Context, requests []Request[T]) int {
	var populated int64

	var g errgroup.Group
	g.SetLimit(o.coordinator.cfg.MaxConcurrent)
	for _, req := range requests {
		key := RequestKey(req.Method, req.Resource, req.Params)
		if o.store.Has(o.namespace, key) {
			continue
		}
		req := req
		g.Go(func() error {
			if _, err := o.fetchAndStore(ctx, key, req); err != nil {
				o.settings.logger.Warn().
					Str("method", req.Method).
					Str("resource", req.Resource).
					Err(err).
					Msg("preload fetch failed")
				return nil
			}
			atomic.AddInt64(&populated, 1)
			return nil
		})
	}
	g.Wait()
	return int(atomic.LoadInt64(&populated))
}

// Invalidate removes the cached entry for (method, resource, params).
// It reports whether an entry was removed.
func (o *Orchestrator[T]) Invalidate(method, resource string, params map[string]any) bool {
	return o.store.Delete(o.namespace, RequestKey(method, resource, params))
}

// InvalidateTag removes every cached entry labeled with tag and returns
// the number removed.
func (o *Orchestrator[T]) InvalidateTag(tag string) int {
	return o.store.DeleteByTag(tag)
}

// OrchestratorMetrics combines the cache and coordinator snapshots.
type OrchestratorMetrics struct {
	Cache       StoreMetrics
	Coordinator CoordinatorMetrics
}

// Metrics returns a combined snapshot for external monitoring.
func (o *Orchestrator[T]) Metrics() OrchestratorMetrics {
	return OrchestratorMetrics{
		Cache:       o.store.Metrics(),
		Coordinator: o.coordinator.Metrics(),
	}
}

// Store exposes the underlying cache for direct access.
func (o *Orchestrator[T]) Store() *Store[T] {
	return o.store
}

// Coordinator exposes the underlying request coordinator.
func (o *Orchestrator[T]) Coordinator() *Coordinator[T] {
	return o.coordinator
}

// Close stops the cache's background sweeper. In-flight requests settle
// normally.
func (o *Orchestrator[T]) Close() {
	o.store.Close()
}
