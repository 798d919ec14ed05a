// Package resolver turns PubMed identifier pairs into DOIs using the cache
// first and the ID converter service for the rest.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tmsincomb/oscapify/internal/cache"
	"github.com/tmsincomb/oscapify/internal/ident"
	"github.com/tmsincomb/oscapify/internal/idconv"
)

// Default policy values.
const (
	DefaultBatchSize  = idconv.MaxBatchSize
	DefaultMaxRetries = 3
	DefaultBackoff    = time.Second
	DefaultMaxBackoff = 30 * time.Second
)

// Status classifies the outcome of resolving one key.
type Status int

const (
	Resolved Status = iota
	Unresolved
	Transient
)

func (s Status) String() string {
	switch s {
	case Resolved:
		return "resolved"
	case Unresolved:
		return "unresolved"
	default:
		return "transient"
	}
}

// Result is the outcome for one key. IDs holds the identifiers the service
// reported for the article, which may include one the key lacked.
type Result struct {
	Status    Status
	DOI       string
	IDs       ident.Key
	FromCache bool
	Err       error
}

// LookupTransientFailure reports that a sub-batch could not be answered by
// the service. Keys in it are not cached.
type LookupTransientFailure struct {
	IDType   string
	IDs      int
	Attempts int
	Err      error
}

func (e *LookupTransientFailure) Error() string {
	return fmt.Sprintf("DOI lookup failed for %d %s id(s) after %d attempt(s): %v", e.IDs, e.IDType, e.Attempts, e.Err)
}

func (e *LookupTransientFailure) Unwrap() error {
	return e.Err
}

// IsTransient returns true if err is or wraps a LookupTransientFailure.
func IsTransient(err error) bool {
	var tf *LookupTransientFailure
	return errors.As(err, &tf)
}

// Lookup is the external service the resolver queries.
type Lookup interface {
	Convert(ctx context.Context, idType string, ids []string) (*idconv.Response, error)
}

// Options configures retry and batching policy.
type Options struct {
	BatchSize  int
	MaxRetries int
	Backoff    time.Duration
	MaxBackoff time.Duration
	Logger     *slog.Logger
}

// Stats counts resolver activity across every Resolve call.
type Stats struct {
	Keys       int `json:"keys"`
	CacheHits  int `json:"cache_hits"`
	Resolved   int `json:"resolved"`
	Unresolved int `json:"unresolved"`
	Transient  int `json:"transient"`
	Requests   int `json:"requests"`
	Retries    int `json:"retries"`
}

// Resolver is safe for concurrent use. At most one request to the service is
// outstanding at a time, however many goroutines call Resolve.
type Resolver struct {
	lookup Lookup
	cache  *cache.Cache
	opts   Options
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error

	reqMu   sync.Mutex
	statsMu sync.Mutex
	stats   Stats
}

// New creates a Resolver. A nil cache is replaced with a memory-only one.
func New(lookup Lookup, c *cache.Cache, opts Options) *Resolver {
	if opts.BatchSize <= 0 || opts.BatchSize > idconv.MaxBatchSize {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = DefaultMaxBackoff
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if c == nil {
		c = cache.New(cache.WithLogger(logger))
	}
	return &Resolver{
		lookup: lookup,
		cache:  c,
		opts:   opts,
		logger: logger,
		sleep:  sleepWithCtx,
	}
}

// Stats returns the accumulated counters.
func (r *Resolver) Stats() Stats {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	return r.stats
}

func (r *Resolver) count(fn func(s *Stats)) {
	r.statsMu.Lock()
	fn(&r.stats)
	r.statsMu.Unlock()
}

// pending tracks the keys waiting on one query id.
type pending struct {
	id   string
	keys []ident.Key
}

// Resolve returns a result for every distinct key. It never fails as a whole:
// service problems surface as Transient results.
func (r *Resolver) Resolve(ctx context.Context, keys []ident.Key) map[ident.Key]Result {
	results := make(map[ident.Key]Result, len(keys))
	groups := map[string][]*pending{}
	byID := map[string]*pending{}

	for _, raw := range keys {
		key := raw.Normalize()
		if _, done := results[key]; done {
			continue
		}
		if key.IsZero() {
			results[key] = Result{Status: Unresolved}
			continue
		}
		if e, ok := r.cache.Get(key); ok {
			res := Result{Status: Unresolved, IDs: e.IDs(), FromCache: true}
			if e.Resolved() {
				res.Status = Resolved
				res.DOI = e.DOI
			}
			results[key] = res
			r.count(func(s *Stats) { s.CacheHits++ })
			continue
		}

		// Placeholder so duplicates are skipped; overwritten below.
		results[key] = Result{Status: Transient}
		id, idType := key.QueryID()
		p, ok := byID[idType+":"+id]
		if !ok {
			p = &pending{id: id}
			byID[idType+":"+id] = p
			groups[idType] = append(groups[idType], p)
		}
		p.keys = append(p.keys, key)
	}

	for _, idType := range []string{ident.TypePMCID, ident.TypePMID} {
		batch := groups[idType]
		for start := 0; start < len(batch); start += r.opts.BatchSize {
			end := min(start+r.opts.BatchSize, len(batch))
			r.resolveBatch(ctx, idType, batch[start:end], results)
		}
	}

	r.count(func(s *Stats) {
		s.Keys += len(results)
		for _, res := range results {
			switch res.Status {
			case Resolved:
				s.Resolved++
			case Unresolved:
				s.Unresolved++
			case Transient:
				s.Transient++
			}
		}
	})
	return results
}

// resolveBatch issues one sub-batch and records its results. Results are
// cached and flushed only if the whole sub-batch was answered and ctx is
// still live.
func (r *Resolver) resolveBatch(ctx context.Context, idType string, batch []*pending, results map[ident.Key]Result) {
	ids := make([]string, len(batch))
	for i, p := range batch {
		ids[i] = p.id
	}

	resp, attempts, err := r.convert(ctx, idType, ids)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		failure := &LookupTransientFailure{IDType: idType, IDs: len(ids), Attempts: attempts, Err: err}
		r.logger.Warn("DOI lookup failed", "id_type", idType, "ids", len(ids), "attempts", attempts, "err", err)
		for _, p := range batch {
			for _, key := range p.keys {
				results[key] = Result{Status: Transient, Err: failure}
			}
		}
		return
	}

	found := indexRecords(idType, resp.Records)
	for _, p := range batch {
		rec := found[p.id]
		doi := ident.NormalizeDOI(rec.doi)
		res := Result{Status: Unresolved, IDs: rec.ids}
		if doi != "" {
			res.Status = Resolved
			res.DOI = doi
		}
		for _, key := range p.keys {
			results[key] = res
			r.cache.PutLookup(key, rec.ids, doi)
		}
	}

	if err := r.cache.Flush(ctx); err != nil {
		r.logger.Warn("DOI cache flush failed", "err", err)
	}
}

// reported is what the service returned for one query id.
type reported struct {
	doi string
	ids ident.Key
}

// indexRecords maps each normalized query id to the DOI and identifiers the
// service returned for it. The DOI is "" when the service has none.
func indexRecords(idType string, records []idconv.Record) map[string]reported {
	normalize := ident.NormalizePMID
	if idType == ident.TypePMCID {
		normalize = ident.NormalizePMCID
	}

	out := make(map[string]reported, len(records))
	for _, rec := range records {
		candidates := []string{rec.RequestedID.String()}
		if idType == ident.TypePMCID {
			candidates = append(candidates, rec.PMCID.String())
		} else {
			candidates = append(candidates, rec.PMID.String())
		}
		for _, c := range candidates {
			id := normalize(c)
			if id == "" {
				continue
			}
			if out[id].doi == "" {
				out[id] = reported{
					doi: rec.DOI,
					ids: ident.NewKey(rec.PMID.String(), rec.PMCID.String()),
				}
			}
			break
		}
	}
	return out
}

// convert calls the service, retrying retryable failures with exponential
// backoff. Only one call is in flight at a time.
func (r *Resolver) convert(ctx context.Context, idType string, ids []string) (*idconv.Response, int, error) {
	r.reqMu.Lock()
	defer r.reqMu.Unlock()

	delay := r.opts.Backoff
	var lastErr error
	for attempt := 0; attempt <= r.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			r.count(func(s *Stats) { s.Retries++ })
			r.logger.Debug("retrying DOI lookup", "id_type", idType, "attempt", attempt+1, "delay", delay, "err", lastErr)
			if err := r.sleep(ctx, delay); err != nil {
				return nil, attempt, err
			}
			delay = min(delay*2, r.opts.MaxBackoff)
		}

		r.count(func(s *Stats) { s.Requests++ })
		resp, err := r.lookup.Convert(ctx, idType, ids)
		if err == nil {
			return resp, attempt + 1, nil
		}
		lastErr = err
		if ctx.Err() != nil || !idconv.IsRetryable(err) {
			return nil, attempt + 1, err
		}
	}
	return nil, r.opts.MaxRetries + 1, lastErr
}

// sleepWithCtx waits for d or until ctx is done.
func sleepWithCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
