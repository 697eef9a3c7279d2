package miner

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lumen1211/drops-farmer/internal/twitch"
)

// fakeAPI records every call and delegates to per-test handlers.
type fakeAPI struct {
	mu    sync.Mutex
	gqlFn func(op twitch.GQLOperation, out any) error
	doFn  func(method, url string, body []byte) (*http.Response, error)

	gqlCalls []string
	requests []fakeRequest
}

type fakeRequest struct {
	method string
	url    string
	body   string
}

func (f *fakeAPI) GQL(ctx context.Context, op twitch.GQLOperation, out any) error {
	f.mu.Lock()
	f.gqlCalls = append(f.gqlCalls, op.Name)
	fn := f.gqlFn
	f.mu.Unlock()

	if fn == nil {
		return nil
	}
	return fn(op, out)
}

func (f *fakeAPI) Do(ctx context.Context, method, url string, body []byte, header http.Header) (*http.Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, fakeRequest{method: method, url: url, body: string(body)})
	fn := f.doFn
	f.mu.Unlock()

	if fn == nil {
		return textResponse(http.StatusOK, ""), nil
	}
	return fn(method, url, body)
}

func (f *fakeAPI) calls(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, call := range f.gqlCalls {
		if call == name {
			n++
		}
	}
	return n
}

func (f *fakeAPI) requestsTo(url string) []fakeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []fakeRequest
	for _, req := range f.requests {
		if strings.HasPrefix(req.url, url) {
			out = append(out, req)
		}
	}
	return out
}

func textResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

// respond decodes a JSON fixture into a GQL output target.
func respond(t *testing.T, out any, fixture string) error {
	t.Helper()
	if out == nil {
		return nil
	}
	if err := json.Unmarshal([]byte(fixture), out); err != nil {
		t.Fatalf("decoding fixture: %v", err)
	}
	return nil
}

func newTestWorker(fake *fakeAPI) *Worker {
	return &Worker{
		api:      fake,
		log:      zap.NewNop(),
		Username: "tester",
		UserID:   42,
		exclude:  make(map[string]struct{}),
		channels: make(map[int64]*Channel),
	}
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}
