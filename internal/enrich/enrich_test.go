package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/dataharvest/reaper/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeCompletions serves the chat-completions shape with canned
// tool-call arguments, one per request, cycling on exhaustion.
func fakeCompletions(t *testing.T, calls *atomic.Int64, arguments ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		args := arguments[(int(n)-1)%len(arguments)]
		resp := openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{{
				Message: openai.ChatCompletionMessage{
					Role: openai.ChatMessageRoleAssistant,
					ToolCalls: []openai.ToolCall{{
						ID:   fmt.Sprintf("call_%d", n),
						Type: openai.ToolTypeFunction,
						Function: openai.FunctionCall{
							Name:      "classify_job_posting",
							Arguments: args,
						},
					}},
				},
			}},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

func newTestEnricher(t *testing.T, srv *httptest.Server) *Enricher {
	t.Helper()
	e, err := New("test-key", testLogger(),
		[]func(*openai.ClientConfig){WithBaseURL(srv.URL + "/v1")},
		WithRetryDelay(time.Millisecond))
	if err != nil {
		t.Fatalf("new enricher: %v", err)
	}
	return e
}

func TestRunCachesIdenticalInputs(t *testing.T) {
	var calls atomic.Int64
	srv := fakeCompletions(t, &calls, `{"salary":"£30,000","industry":"finance"}`)
	defer srv.Close()
	e := newTestEnricher(t, srv)

	var first, second JobProfile
	if err := e.Run(context.Background(), jobProfileTask, "Analyst role paying £30,000.", &first); err != nil {
		t.Fatalf("run: %v", err)
	}
	// Same text, different whitespace: must hit the cache.
	if err := e.Run(context.Background(), jobProfileTask, "  Analyst role\n paying £30,000. ", &second); err != nil {
		t.Fatalf("run: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("api calls = %d, want 1", calls.Load())
	}
	if first.Salary != "£30,000" || second.Salary != first.Salary {
		t.Errorf("salary = %q / %q", first.Salary, second.Salary)
	}
}

func TestRunRetriesMalformedToolCall(t *testing.T) {
	var calls atomic.Int64
	srv := fakeCompletions(t, &calls, `{not json`, `{"industry":"technology"}`)
	defer srv.Close()
	e := newTestEnricher(t, srv)

	var profile JobProfile
	if err := e.Run(context.Background(), jobProfileTask, "Platform engineer.", &profile); err != nil {
		t.Fatalf("run: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("api calls = %d, want 2 (one malformed, one good)", calls.Load())
	}
	if profile.Industry != "technology" {
		t.Errorf("industry = %q", profile.Industry)
	}
}

func TestRunExhaustsAttempts(t *testing.T) {
	var calls atomic.Int64
	srv := fakeCompletions(t, &calls, `{broken`)
	defer srv.Close()
	e := newTestEnricher(t, srv)

	var profile JobProfile
	err := e.Run(context.Background(), jobProfileTask, "Anything.", &profile)
	var ee *types.EnrichError
	if !errors.As(err, &ee) {
		t.Fatalf("error = %v, want *types.EnrichError", err)
	}
	if ee.Attempts != defaultAttempts {
		t.Errorf("attempts = %d, want %d", ee.Attempts, defaultAttempts)
	}
	if calls.Load() != int64(defaultAttempts) {
		t.Errorf("api calls = %d, want %d", calls.Load(), defaultAttempts)
	}
}

func TestJobEnricherMergesProfileAndPrefersCatalogLocations(t *testing.T) {
	var calls atomic.Int64
	srv := fakeCompletions(t, &calls,
		`{"salary":"£45,000","benefits":["pension","gym"],"requirements":["degree"],
		  "responsibilities":["models"],"industry":"finance","seniority":"analyst",
		  "locations":["Birmingham"]}`)
	defer srv.Close()
	e := newTestEnricher(t, srv)

	catalog := &LocationCatalog{entries: map[string][]string{
		"london & the south east": {"London", "Brighton"},
	}}
	je := NewJobEnricher(e, catalog)

	rec := types.NewRecord("https://jobs.test/job/analyst-1")
	rec.Set("Title", "Graduate Analyst")
	rec.Set("Location", "London & the South East")
	rec.Set("Description", "Graduate analyst, £45,000, pension and gym.")

	if err := je.Enrich(context.Background(), rec); err != nil {
		t.Fatalf("enrich: %v", err)
	}
	if got := rec.GetString("Benefits"); got != "pension; gym" {
		t.Errorf("benefits = %q", got)
	}
	if got := rec.GetString("Seniority"); got != "analyst" {
		t.Errorf("seniority = %q", got)
	}
	// Catalog resolution of the posting's own location line beats the
	// model's guess.
	if got := rec.GetString("Locations"); got != "London; Brighton" {
		t.Errorf("locations = %q", got)
	}
}

func TestJobEnricherFlattensStandardizedLocations(t *testing.T) {
	var calls atomic.Int64
	srv := fakeCompletions(t, &calls,
		`{"industry":"technology","locations":["Remote","San Francisco","New York"]}`,
		`{"city":"Remote","country":"Worldwide","region":""}`,
		`{"city":"San Francisco","country":"United States","region":"California"}`,
		`{"city":"New York","country":"United States","region":"New York"}`)
	defer srv.Close()
	je := NewJobEnricher(newTestEnricher(t, srv), &LocationCatalog{entries: map[string][]string{}})

	rec := types.NewRecord("https://jobs.test/job/platform-1")
	rec.Set("Title", "Platform Engineer")
	rec.Set("Description", "Work from home or in San Francisco or New York.")

	if err := je.Enrich(context.Background(), rec); err != nil {
		t.Fatalf("enrich: %v", err)
	}
	if got := rec.GetString("Locations"); got != "Remote; San Francisco; New York" {
		t.Errorf("locations = %q", got)
	}
	// Union of cities, countries and regions, insertion order, no repeats.
	want := "Remote; Worldwide; San Francisco; United States; California; New York"
	if got := rec.GetString("Location List (Flattened)"); got != want {
		t.Errorf("flattened = %q, want %q", got, want)
	}
	if calls.Load() != 4 {
		t.Errorf("api calls = %d, want 1 profile + 3 standardizations", calls.Load())
	}
}

func TestJobEnricherSkipsRecordsWithoutDescription(t *testing.T) {
	var calls atomic.Int64
	srv := fakeCompletions(t, &calls, `{}`)
	defer srv.Close()
	je := NewJobEnricher(newTestEnricher(t, srv), &LocationCatalog{entries: map[string][]string{}})

	rec := types.NewRecord("https://jobs.test/job/empty")
	rec.SetNA("Description")
	if err := je.Enrich(context.Background(), rec); err != nil {
		t.Fatalf("enrich: %v", err)
	}
	if calls.Load() != 0 {
		t.Errorf("api calls = %d, want 0 for record without description", calls.Load())
	}
}

func TestSplitCityList(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"London", []string{"London"}},
		{"London, Manchester; Leeds / York", []string{"London", "Manchester", "Leeds", "York"}},
		{"North West (Manchester, Liverpool), London", []string{"Manchester", "Liverpool", "London"}},
		{"Midlands ( ), Bristol", []string{"Midlands", "Bristol"}},
		{"  ", nil},
	}
	for _, tc := range cases {
		if got := SplitCityList(tc.in); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("SplitCityList(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}

	// Re-splitting a joined split is stable.
	for _, tc := range cases {
		once := SplitCityList(tc.in)
		again := SplitCityList(join(once))
		if !reflect.DeepEqual(once, again) {
			t.Errorf("split of %q not stable: %v vs %v", tc.in, once, again)
		}
	}
}

func join(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}

func TestLocationCatalogLearnAndSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "locations.json")

	cat, err := LoadLocationCatalog(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cat.Known("Remote (UK)") {
		t.Fatal("fresh catalog should know nothing")
	}
	cat.Learn("Remote (UK)", []string{"Remote"})
	if err := cat.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}

	reloaded, err := LoadLocationCatalog(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := reloaded.Resolve("remote  (uk)"); !reflect.DeepEqual(got, []string{"Remote"}) {
		t.Errorf("resolve after reload = %v", got)
	}
	if got := reloaded.Flatten(); !reflect.DeepEqual(got, []string{"Remote"}) {
		t.Errorf("flatten = %v", got)
	}

	// Saving a clean catalog must not touch the file.
	before, _ := os.Stat(path)
	if err := reloaded.Save(); err != nil {
		t.Fatalf("clean save: %v", err)
	}
	after, _ := os.Stat(path)
	if !before.ModTime().Equal(after.ModTime()) {
		t.Error("clean save rewrote the catalog file")
	}
}
