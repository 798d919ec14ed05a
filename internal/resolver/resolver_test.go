package resolver

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tmsincomb/oscapify/internal/cache"
	"github.com/tmsincomb/oscapify/internal/ident"
	"github.com/tmsincomb/oscapify/internal/idconv"
)

// fakeLookup answers from a fixed DOI table and can inject failures.
type fakeLookup struct {
	mu      sync.Mutex
	dois    map[string]string
	pmcids  map[string]string // pmid -> pmcid reported alongside
	fail    func(call int) error
	calls   [][]string
	idTypes []string

	inflight    atomic.Int32
	maxInflight atomic.Int32
}

func (f *fakeLookup) Convert(ctx context.Context, idType string, ids []string) (*idconv.Response, error) {
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		m := f.maxInflight.Load()
		if n <= m || f.maxInflight.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(time.Millisecond)

	f.mu.Lock()
	call := len(f.calls)
	f.calls = append(f.calls, append([]string(nil), ids...))
	f.idTypes = append(f.idTypes, idType)
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.fail != nil {
		if err := f.fail(call); err != nil {
			return nil, err
		}
	}

	resp := &idconv.Response{Status: "ok"}
	for _, id := range ids {
		rec := idconv.Record{RequestedID: idconv.ID(id)}
		if pmcid, ok := f.pmcids[id]; ok {
			rec.PMID = idconv.ID(id)
			rec.PMCID = idconv.ID(pmcid)
		}
		if doi, ok := f.dois[id]; ok {
			rec.DOI = doi
		} else {
			rec.Status = "error"
			rec.ErrMsg = "invalid article id"
		}
		resp.Records = append(resp.Records, rec)
	}
	return resp, nil
}

func (f *fakeLookup) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestResolver(lookup Lookup, c *cache.Cache, opts Options) *Resolver {
	r := New(lookup, c, opts)
	r.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return r
}

func TestResolve_PartitionsHitsAndMisses(t *testing.T) {
	c := cache.New()
	hit := ident.NewKey("1", "")
	c.Put(hit, "10.1/cached")

	lookup := &fakeLookup{dois: map[string]string{"2": "10.1/two"}}
	r := newTestResolver(lookup, c, Options{})

	found := ident.NewKey("2", "")
	missing := ident.NewKey("3", "")
	results := r.Resolve(context.Background(), []ident.Key{hit, found, missing})

	if res := results[hit]; res.Status != Resolved || !res.FromCache || res.DOI != "10.1/cached" {
		t.Errorf("hit = %+v", res)
	}
	if res := results[found]; res.Status != Resolved || res.FromCache || res.DOI != "10.1/two" {
		t.Errorf("found = %+v", res)
	}
	if res := results[missing]; res.Status != Unresolved {
		t.Errorf("missing = %+v", res)
	}

	if lookup.callCount() != 1 || len(lookup.calls[0]) != 2 {
		t.Fatalf("calls = %v, want one call with the two misses", lookup.calls)
	}
	if e, ok := c.Get(missing); !ok || e.Status != cache.StatusUnresolved {
		t.Errorf("missing key should be cached as unresolved, got %+v, %v", e, ok)
	}
	if e, ok := c.Get(found); !ok || e.DOI != "10.1/two" {
		t.Errorf("found key should be cached, got %+v, %v", e, ok)
	}
}

func TestResolve_TransientNotCached(t *testing.T) {
	c := cache.New()
	lookup := &fakeLookup{fail: func(int) error {
		return fmt.Errorf("%w: connection refused", idconv.ErrNetworkError)
	}}
	r := newTestResolver(lookup, c, Options{MaxRetries: 2})

	key := ident.NewKey("5", "")
	res := r.Resolve(context.Background(), []ident.Key{key})[key]

	if res.Status != Transient || !IsTransient(res.Err) {
		t.Errorf("result = %+v, want transient failure", res)
	}
	if lookup.callCount() != 3 {
		t.Errorf("calls = %d, want 3 (1 + 2 retries)", lookup.callCount())
	}
	if _, ok := c.Get(key); ok {
		t.Error("transient failure must not be cached")
	}
	if s := r.Stats(); s.Retries != 2 || s.Transient != 1 || s.Requests != 3 {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestResolve_RetryThenSuccess(t *testing.T) {
	lookup := &fakeLookup{
		dois: map[string]string{"5": "10.1/five"},
		fail: func(call int) error {
			if call == 0 {
				return &idconv.APIError{StatusCode: http.StatusServiceUnavailable, Message: "busy"}
			}
			return nil
		},
	}
	r := newTestResolver(lookup, nil, Options{MaxRetries: 3})

	key := ident.NewKey("5", "")
	res := r.Resolve(context.Background(), []ident.Key{key})[key]
	if res.Status != Resolved || res.DOI != "10.1/five" {
		t.Errorf("result = %+v", res)
	}
	if lookup.callCount() != 2 {
		t.Errorf("calls = %d, want 2", lookup.callCount())
	}
}

func TestResolve_NonRetryableFailsFast(t *testing.T) {
	lookup := &fakeLookup{fail: func(int) error {
		return &idconv.APIError{StatusCode: http.StatusBadRequest, Message: "bad"}
	}}
	r := newTestResolver(lookup, nil, Options{MaxRetries: 3})

	key := ident.NewKey("5", "")
	res := r.Resolve(context.Background(), []ident.Key{key})[key]
	if res.Status != Transient {
		t.Errorf("result = %+v, want transient", res)
	}
	if lookup.callCount() != 1 {
		t.Errorf("calls = %d, want 1", lookup.callCount())
	}
}

func TestResolve_ResolvedSurvivesLaterFailure(t *testing.T) {
	c := cache.New()
	key := ident.NewKey("12345678", "PMC1234567")

	ok := &fakeLookup{dois: map[string]string{"PMC1234567": "10.1000/xyz123"}}
	first := newTestResolver(ok, c, Options{})
	if res := first.Resolve(context.Background(), []ident.Key{key})[key]; res.Status != Resolved {
		t.Fatalf("first Resolve() = %+v", res)
	}

	broken := &fakeLookup{fail: func(int) error { return idconv.ErrTimeout }}
	second := newTestResolver(broken, c, Options{})
	res := second.Resolve(context.Background(), []ident.Key{key})[key]
	if res.Status != Resolved || res.DOI != "10.1000/xyz123" {
		t.Errorf("second Resolve() = %+v, want cached DOI", res)
	}
	if broken.callCount() != 0 {
		t.Errorf("cached key should not hit the network, calls = %d", broken.callCount())
	}
}

func TestResolve_UnresolvedShortCircuitsAcrossRuns(t *testing.T) {
	ctx := context.Background()
	store := cache.NewJSONLStore(t.TempDir() + "/doi_cache.jsonl")
	key := ident.NewKey("12345678", "PMC1234567")

	run1 := cache.New(cache.WithStore(store))
	r := newTestResolver(&fakeLookup{}, run1, Options{})
	if res := r.Resolve(ctx, []ident.Key{key})[key]; res.Status != Unresolved {
		t.Fatalf("run 1 = %+v, want unresolved", res)
	}

	run2 := cache.New(cache.WithStore(store))
	if err := run2.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	offline := &fakeLookup{fail: func(int) error { return idconv.ErrNetworkError }}
	r = newTestResolver(offline, run2, Options{})
	res := r.Resolve(ctx, []ident.Key{key})[key]
	if res.Status != Unresolved || !res.FromCache {
		t.Errorf("run 2 = %+v, want cached unresolved", res)
	}
	if offline.callCount() != 0 {
		t.Errorf("run 2 made %d calls, want 0", offline.callCount())
	}
}

func TestResolve_SubBatchesAndIDTypes(t *testing.T) {
	lookup := &fakeLookup{dois: map[string]string{}}
	r := newTestResolver(lookup, nil, Options{BatchSize: 2})

	keys := []ident.Key{
		ident.NewKey("1", ""),
		ident.NewKey("2", ""),
		ident.NewKey("3", "PMC3"),
		ident.NewKey("4", ""),
		ident.NewKey("5", ""),
		ident.NewKey("6", ""),
	}
	r.Resolve(context.Background(), keys)

	wantTypes := []string{"pmcid", "pmid", "pmid", "pmid"}
	if len(lookup.idTypes) != len(wantTypes) {
		t.Fatalf("idTypes = %v, want %v", lookup.idTypes, wantTypes)
	}
	for i, want := range wantTypes {
		if lookup.idTypes[i] != want {
			t.Errorf("call %d idType = %s, want %s", i, lookup.idTypes[i], want)
		}
	}
	sizes := []int{1, 2, 2, 1}
	for i, want := range sizes {
		if len(lookup.calls[i]) != want {
			t.Errorf("call %d size = %d, want %d", i, len(lookup.calls[i]), want)
		}
	}
}

func TestResolve_DeduplicatesQueries(t *testing.T) {
	lookup := &fakeLookup{dois: map[string]string{"PMC9": "10.1/nine"}}
	r := newTestResolver(lookup, nil, Options{})

	a := ident.NewKey("9", "PMC9")
	b := ident.NewKey("", "pmc9")
	results := r.Resolve(context.Background(), []ident.Key{a, a, b})

	if len(results) != 2 {
		t.Errorf("results = %d, want 2", len(results))
	}
	if lookup.callCount() != 1 || len(lookup.calls[0]) != 1 {
		t.Errorf("calls = %v, want one call with one id", lookup.calls)
	}
	for _, k := range []ident.Key{a, b} {
		if res := results[k]; res.DOI != "10.1/nine" {
			t.Errorf("results[%v] = %+v", k, res)
		}
	}
}

func TestResolve_ZeroKey(t *testing.T) {
	lookup := &fakeLookup{}
	r := newTestResolver(lookup, nil, Options{})

	results := r.Resolve(context.Background(), []ident.Key{ident.NewKey("nan", "")})
	if res := results[ident.Key{}]; res.Status != Unresolved {
		t.Errorf("result = %+v, want unresolved", res)
	}
	if lookup.callCount() != 0 {
		t.Error("zero key should not be sent to the service")
	}
}

func TestResolve_CancelledDiscardsResults(t *testing.T) {
	c := cache.New()
	lookup := &fakeLookup{dois: map[string]string{"1": "10.1/one"}}
	r := newTestResolver(lookup, c, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	key := ident.NewKey("1", "")
	res := r.Resolve(ctx, []ident.Key{key})[key]

	if res.Status != Transient {
		t.Errorf("result = %+v, want transient", res)
	}
	if _, ok := c.Get(key); ok {
		t.Error("cancelled lookup must not be cached")
	}
}

func TestResolve_OneOutstandingRequest(t *testing.T) {
	lookup := &fakeLookup{dois: map[string]string{}}
	r := newTestResolver(lookup, nil, Options{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.Resolve(context.Background(), []ident.Key{ident.NewKey(fmt.Sprint(100+i), "")})
		}(i)
	}
	wg.Wait()

	if got := lookup.maxInflight.Load(); got != 1 {
		t.Errorf("max in-flight requests = %d, want 1", got)
	}
	if lookup.callCount() != 8 {
		t.Errorf("calls = %d, want 8", lookup.callCount())
	}
}

func TestResolve_ReportsServiceIdentifiers(t *testing.T) {
	ctx := context.Background()
	store := cache.NewJSONLStore(t.TempDir() + "/doi_cache.jsonl")
	lookup := &fakeLookup{
		dois:   map[string]string{"12345678": "10.1000/xyz123"},
		pmcids: map[string]string{"12345678": "PMC1234567", "999": "PMC999"},
	}

	c := cache.New(cache.WithStore(store))
	r := newTestResolver(lookup, c, Options{})
	resolved := ident.NewKey("12345678", "")
	noDOI := ident.NewKey("999", "")
	got := r.Resolve(ctx, []ident.Key{resolved, noDOI})

	if res := got[resolved]; res.Status != Resolved || res.IDs.PMCID != "PMC1234567" || res.IDs.PMID != "12345678" {
		t.Errorf("Resolve(resolved) = %+v", res)
	}
	if res := got[noDOI]; res.Status != Unresolved || res.IDs.PMCID != "PMC999" {
		t.Errorf("Resolve(noDOI) = %+v", res)
	}

	// A fresh cache over the same store answers with the same identifiers.
	reloaded := cache.New(cache.WithStore(store))
	if err := reloaded.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	offline := newTestResolver(&fakeLookup{}, reloaded, Options{})
	res := offline.Resolve(ctx, []ident.Key{resolved})[resolved]
	if !res.FromCache || res.DOI != "10.1000/xyz123" || res.IDs.PMCID != "PMC1234567" {
		t.Errorf("cached Resolve() = %+v", res)
	}
}
