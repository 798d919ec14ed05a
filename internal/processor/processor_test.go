package processor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tmsincomb/oscapify/internal/cache"
	"github.com/tmsincomb/oscapify/internal/csvio"
	"github.com/tmsincomb/oscapify/internal/header"
	"github.com/tmsincomb/oscapify/internal/idconv"
	"github.com/tmsincomb/oscapify/internal/report"
	"github.com/tmsincomb/oscapify/internal/resolver"
)

var testDay = time.Date(2026, 5, 17, 9, 30, 0, 0, time.UTC)

// fakeLookup answers from a fixed DOI table, or fails every call when err is set.
type fakeLookup struct {
	mu    sync.Mutex
	dois  map[string]string
	err   error
	calls int
}

func (f *fakeLookup) Convert(ctx context.Context, idType string, ids []string) (*idconv.Response, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	resp := &idconv.Response{Status: "ok"}
	for _, id := range ids {
		rec := idconv.Record{RequestedID: idconv.ID(id), DOI: f.dois[id]}
		if rec.DOI == "" {
			rec.Status = "error"
		}
		resp.Records = append(resp.Records, rec)
	}
	return resp, nil
}

func (f *fakeLookup) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestProcessor(t *testing.T, lookup resolver.Lookup, c *cache.Cache, opts Options) *Processor {
	t.Helper()
	if opts.OutputDir == "" {
		opts.OutputDir = t.TempDir()
	}
	if opts.BatchName == "" {
		opts.BatchName = "test_batch"
	}
	if opts.OutputSuffix == "" {
		opts.OutputSuffix = "-oscapify"
	}
	opts.Now = func() time.Time { return testDay }
	return New(resolver.New(lookup, c, resolver.Options{}), opts)
}

func writeCSV(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func readOutput(t *testing.T, path string) *csvio.Table {
	t.Helper()
	table, err := csvio.Read(path)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	return table
}

func column(t *testing.T, table *csvio.Table, name string) int {
	t.Helper()
	for i, h := range table.Header {
		if h == name {
			return i
		}
	}
	t.Fatalf("column %q not in %v", name, table.Header)
	return -1
}

const e2eInput = "ID,pmid,pmcid,sentence,pubmed_url\n" +
	"1,12345678,PMC1234567,\"text\",https://www.ncbi.nlm.nih.gov/pmc/articles/PMC1234567/\n"

func TestProcessFile_ResolvedDOI(t *testing.T) {
	in := writeCSV(t, t.TempDir(), "input.csv", e2eInput)
	lookup := &fakeLookup{dois: map[string]string{"PMC1234567": "10.1000/xyz123"}}
	p := newTestProcessor(t, lookup, cache.New(), Options{})

	out := p.OutputPaths([]string{in})[0]
	fr := p.ProcessFile(context.Background(), 0, in, out)
	if fr.Status != report.StatusSucceeded {
		t.Fatalf("ProcessFile() = %+v", fr)
	}
	if filepath.Base(fr.Output) != "input-oscapify.csv" {
		t.Errorf("Output = %s", fr.Output)
	}

	table := readOutput(t, fr.Output)
	wantHeader := append(append([]string(nil), OutputColumns...), "ID")
	if !reflect.DeepEqual(table.Header, wantHeader) {
		t.Errorf("header = %v, want %v", table.Header, wantHeader)
	}
	if len(table.Rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(table.Rows))
	}
	want := []string{"nlp-1-20260517", "12345678", "PMC1234567", "10.1000/xyz123", "text", "test_batch", "nlp-1-20260517", "no", "1"}
	if !reflect.DeepEqual(table.Rows[0], want) {
		t.Errorf("row = %q, want %q", table.Rows[0], want)
	}
	if fr.Counts.LookupsResolved != 1 || fr.Counts.RowsEmitted != 1 {
		t.Errorf("Counts = %+v", fr.Counts)
	}
}

func TestProcessFile_UnresolvedIsCachedAcrossRuns(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	in := writeCSV(t, dir, "input.csv", e2eInput)
	store := cache.NewJSONLStore(filepath.Join(dir, "doi_cache.jsonl"))

	run := func(lookup *fakeLookup) []string {
		c := cache.New(cache.WithStore(store))
		if err := c.Load(ctx); err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		p := newTestProcessor(t, lookup, c, Options{})
		fr := p.ProcessFile(ctx, 0, in, p.OutputPaths([]string{in})[0])
		if fr.Status != report.StatusSucceeded {
			t.Fatalf("ProcessFile() = %+v", fr)
		}
		return readOutput(t, fr.Output).Rows[0]
	}

	first := run(&fakeLookup{dois: map[string]string{}})
	if first[3] != "" || first[7] != "yes" {
		t.Errorf("run 1 doi = %q out_of_scope = %q, want empty and yes", first[3], first[7])
	}

	offline := &fakeLookup{err: fmt.Errorf("%w: no route to host", idconv.ErrNetworkError)}
	second := run(offline)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("run 2 = %q, want %q", second, first)
	}
	if offline.callCount() != 0 {
		t.Errorf("run 2 made %d lookup calls, want 0", offline.callCount())
	}
}

func TestProcess_TransientMarksOutOfScope(t *testing.T) {
	c := cache.New()
	lookup := &fakeLookup{err: idconv.ErrTimeout}
	p := newTestProcessor(t, lookup, c, Options{})

	table := &csvio.Table{
		Path:   "t.csv",
		Header: []string{"pmid", "sentence"},
		Rows:   [][]string{{"111", "a"}},
	}
	res, err := p.Process(context.Background(), table)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	rec := res.Records[0]
	if rec.OutOfScope != OutOfScope || rec.DOI != "" {
		t.Errorf("record = %+v", rec)
	}
	if res.Counts.LookupsTransient != 1 {
		t.Errorf("Counts = %+v", res.Counts)
	}
	if c.Stats().Entries != 0 {
		t.Error("transient failure must not be cached")
	}
}

func TestProcess_IndexContiguity(t *testing.T) {
	var rows [][]string
	for i := 1; i <= 10; i++ {
		sentence := fmt.Sprintf("sentence %d", i)
		if i == 3 || i == 7 {
			sentence = ""
		}
		rows = append(rows, []string{fmt.Sprint(1000 + i), sentence})
	}
	p := newTestProcessor(t, &fakeLookup{dois: map[string]string{}}, cache.New(), Options{})

	res, err := p.Process(context.Background(), &csvio.Table{Header: []string{"PMID", "Sentence"}, Rows: rows})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(res.Records) != 8 || res.Counts.RowsSkipped != 2 || res.Counts.RowsRead != 10 {
		t.Fatalf("records = %d, counts = %+v", len(res.Records), res.Counts)
	}
	for i, rec := range res.Records {
		want := fmt.Sprintf("nlp-%d-20260517", i+1)
		if rec.ID != want || rec.SentenceID != want {
			t.Errorf("record %d id = %s, want %s", i, rec.ID, want)
		}
	}
	if res.Skipped[0].Row != 3 || res.Skipped[1].Row != 7 {
		t.Errorf("skipped rows = %d, %d", res.Skipped[0].Row, res.Skipped[1].Row)
	}
}

func TestProcessFile_Strict(t *testing.T) {
	input := "pmid,sentence\n1,first\n2,\n3,third\n"

	t.Run("strict aborts", func(t *testing.T) {
		in := writeCSV(t, t.TempDir(), "in.csv", input)
		p := newTestProcessor(t, &fakeLookup{}, cache.New(), Options{Strict: true})
		out := p.OutputPaths([]string{in})[0]

		fr := p.ProcessFile(context.Background(), 0, in, out)
		if fr.Status != report.StatusFailed || !fr.StrictAbort {
			t.Errorf("ProcessFile() = %+v, want strict abort", fr)
		}
		if _, err := os.Stat(out); !os.IsNotExist(err) {
			t.Errorf("output should not exist after strict abort, stat err = %v", err)
		}
	})

	t.Run("non-strict skips", func(t *testing.T) {
		in := writeCSV(t, t.TempDir(), "in.csv", input)
		p := newTestProcessor(t, &fakeLookup{}, cache.New(), Options{})

		fr := p.ProcessFile(context.Background(), 0, in, p.OutputPaths([]string{in})[0])
		if fr.Status != report.StatusSucceeded || fr.Counts.RowsSkipped != 1 {
			t.Fatalf("ProcessFile() = %+v", fr)
		}
		table := readOutput(t, fr.Output)
		if len(table.Rows) != 2 {
			t.Fatalf("rows = %d, want 2", len(table.Rows))
		}
		idx := column(t, table, "pmid")
		if table.Rows[0][idx] != "1" || table.Rows[1][idx] != "3" {
			t.Errorf("pmids = %s, %s", table.Rows[0][idx], table.Rows[1][idx])
		}
	})
}

func TestProcess_StrictModeAbortError(t *testing.T) {
	p := newTestProcessor(t, &fakeLookup{}, cache.New(), Options{Strict: true})
	_, err := p.Process(context.Background(), &csvio.Table{
		Path:   "x.csv",
		Header: []string{"pmid", "sentence"},
		Rows:   [][]string{{"nan", "no id"}},
	})
	if !IsStrictModeAbort(err) || !IsRecordSkipped(err) {
		t.Errorf("Process() error = %v, want strict abort wrapping a skipped record", err)
	}
}

func TestProcess_RowErrors(t *testing.T) {
	p := newTestProcessor(t, &fakeLookup{}, cache.New(), Options{})
	res, err := p.Process(context.Background(), &csvio.Table{
		Header: []string{"pmid", "sentence"},
		Rows:   [][]string{{"1", "ok"}, {"2", "too", "wide"}},
	})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(res.Records) != 1 || res.Counts.RowsErrored != 1 || len(res.Errors) != 1 {
		t.Errorf("records = %d, counts = %+v", len(res.Records), res.Counts)
	}
	if res.Errors[0].Row != 2 {
		t.Errorf("error row = %d, want 2", res.Errors[0].Row)
	}
}

func TestProcess_IdentifierHandling(t *testing.T) {
	lookup := &fakeLookup{dois: map[string]string{"PMC777": "10.7/seven"}}
	p := newTestProcessor(t, lookup, cache.New(), Options{})

	res, err := p.Process(context.Background(), &csvio.Table{
		Header: []string{"PubMed_ID", "abstract", "link", "notes"},
		Rows: [][]string{
			{" 12.0 ", "from url", "https://www.ncbi.nlm.nih.gov/pmc/articles/PMC777/", "n1"},
			{"", "no pmid but url", "https://europepmc.org/article/PMC/PMC777", "n2"},
			{"", "nothing usable", "https://example.org/x", "n3"},
		},
	})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(res.Records) != 2 || res.Counts.RowsSkipped != 1 {
		t.Fatalf("records = %+v, counts = %+v", res.Records, res.Counts)
	}
	first := res.Records[0]
	if first.PMID != "12" || first.PMCID != "PMC777" || first.DOI != "10.7/seven" {
		t.Errorf("first = %+v", first)
	}
	if !reflect.DeepEqual(first.Preserved, []string{"n1"}) {
		t.Errorf("Preserved = %v", first.Preserved)
	}
	if got := res.Header[len(res.Header)-1]; got != "notes" {
		t.Errorf("last header = %q, want notes", got)
	}
	if res.Counts.LookupsResolved != 2 || lookup.callCount() != 1 {
		t.Errorf("counts = %+v, calls = %d", res.Counts, lookup.callCount())
	}
}

func TestProcess_HeaderValidation(t *testing.T) {
	p := newTestProcessor(t, &fakeLookup{}, cache.New(), Options{})
	_, err := p.Process(context.Background(), &csvio.Table{
		Header: []string{"pmcid", "body"},
		Rows:   [][]string{{"PMC1", "x"}},
	})
	var hv *header.HeaderValidationError
	if !errors.As(err, &hv) {
		t.Fatalf("Process() error = %v, want HeaderValidationError", err)
	}
	if !reflect.DeepEqual(hv.Missing, []string{"pmid", "sentence"}) {
		t.Errorf("Missing = %v", hv.Missing)
	}
}

func TestProcess_Cancelled(t *testing.T) {
	p := newTestProcessor(t, &fakeLookup{}, cache.New(), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := p.Process(ctx, &csvio.Table{
		Header: []string{"pmid", "sentence"},
		Rows:   [][]string{{"1", "x"}},
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Process() error = %v, want context.Canceled", err)
	}
	if len(res.Records) != 0 {
		t.Errorf("cancelled run emitted %d records", len(res.Records))
	}
}

func TestRun_MultipleFiles(t *testing.T) {
	dir := t.TempDir()
	good := writeCSV(t, dir, "a.csv", "pmid,sentence\n1,one\n2,two\n")
	bad := writeCSV(t, dir, "b.csv", "title,body\nx,y\n")
	strictFail := writeCSV(t, dir, "c.csv", "pmid,sentence\n3,\n")

	lookup := &fakeLookup{dois: map[string]string{"1": "10.1/one"}}
	p := newTestProcessor(t, lookup, cache.New(), Options{Strict: true, Jobs: 3, OutputDir: filepath.Join(dir, "out")})

	inputs, err := CollectInputs([]string{dir})
	if err != nil {
		t.Fatalf("CollectInputs() error = %v", err)
	}
	if !reflect.DeepEqual(inputs, []string{good, bad, strictFail}) {
		t.Fatalf("inputs = %v", inputs)
	}

	rep := report.New()
	if err := p.Run(context.Background(), inputs, rep); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	files := rep.Files()
	if len(files) != 3 {
		t.Fatalf("files = %d, want 3", len(files))
	}
	if files[0].Status != report.StatusSucceeded || files[0].Counts.RowsEmitted != 2 {
		t.Errorf("a.csv = %+v", files[0])
	}
	if files[1].Status != report.StatusFailed || files[1].StrictAbort || !strings.Contains(files[1].Error, "pmid") {
		t.Errorf("b.csv = %+v", files[1])
	}
	if files[2].Status != report.StatusFailed || !files[2].StrictAbort {
		t.Errorf("c.csv = %+v", files[2])
	}
	if got := rep.ExitCode(true); got != report.ExitStrictAbort {
		t.Errorf("ExitCode() = %d, want %d", got, report.ExitStrictAbort)
	}
	if _, err := os.Stat(filepath.Join(dir, "out", "a-oscapify.csv")); err != nil {
		t.Errorf("a.csv output missing: %v", err)
	}
}

func TestCollectInputs(t *testing.T) {
	dir := t.TempDir()
	a := writeCSV(t, dir, "a.csv", "x\n")
	writeCSV(t, dir, "notes.txt", "x\n")
	b := writeCSV(t, dir, "B.CSV", "x\n")
	if err := os.Mkdir(filepath.Join(dir, "nested"), 0755); err != nil {
		t.Fatal(err)
	}
	writeCSV(t, filepath.Join(dir, "nested"), "c.csv", "x\n")

	got, err := CollectInputs([]string{dir, a})
	if err != nil {
		t.Fatalf("CollectInputs() error = %v", err)
	}
	want := []string{b, a}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("CollectInputs() = %v, want %v", got, want)
	}

	if _, err := CollectInputs([]string{filepath.Join(dir, "missing.csv")}); err == nil {
		t.Error("CollectInputs() should fail for a missing path")
	}
}

func TestOutputPaths_Collisions(t *testing.T) {
	p := New(nil, Options{OutputDir: "out", OutputSuffix: "-oscapify"})
	got := p.OutputPaths([]string{"x/data.csv", "y/data.csv", "z/other.csv"})
	want := []string{
		filepath.Join("out", "data-oscapify.csv"),
		filepath.Join("out", "data-oscapify_2.csv"),
		filepath.Join("out", "other-oscapify.csv"),
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("OutputPaths() = %v, want %v", got, want)
	}
}

func TestState_String(t *testing.T) {
	if StateEmitted.String() != "emitted" || StateSkipped.String() != "skipped" {
		t.Error("unexpected State names")
	}
}

func TestProcessFile_FillsIdentifiersFromService(t *testing.T) {
	t.Setenv("NCBI_API_KEY", "")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("idtype"); got != "pmid" {
			t.Errorf("idtype = %q, want pmid", got)
		}
		fmt.Fprint(w, `{"status":"ok","records":[
			{"requested-id":"12345678","pmid":"12345678","pmcid":"PMC1234567","doi":"10.1000/xyz123"}
		]}`)
	}))
	defer srv.Close()
	client := idconv.NewClient(idconv.WithBaseURL(srv.URL), idconv.WithInterval(time.Millisecond))

	dir := t.TempDir()
	in := writeCSV(t, dir, "input.csv", "pmid,sentence\n12345678,text\n")
	store := cache.NewJSONLStore(filepath.Join(dir, "doi_cache.jsonl"))

	run := func(lookup resolver.Lookup) []string {
		c := cache.New(cache.WithStore(store))
		if err := c.Load(context.Background()); err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		p := newTestProcessor(t, lookup, c, Options{})
		fr := p.ProcessFile(context.Background(), 0, in, p.OutputPaths([]string{in})[0])
		if fr.Status != report.StatusSucceeded {
			t.Fatalf("ProcessFile() = %+v", fr)
		}
		return readOutput(t, fr.Output).Rows[0]
	}

	row := run(client)
	if row[1] != "12345678" || row[2] != "PMC1234567" || row[3] != "10.1000/xyz123" {
		t.Errorf("row = %q, want pmcid and doi from the service", row)
	}

	// Cache hits carry the service identifiers too.
	offline := &fakeLookup{err: idconv.ErrNetworkError}
	cached := run(offline)
	if !reflect.DeepEqual(cached, row) || offline.callCount() != 0 {
		t.Errorf("cached row = %q (%d calls), want %q", cached, offline.callCount(), row)
	}
}
