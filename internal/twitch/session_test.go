package twitch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestSession(t *testing.T, creds Credentials, serverURL string) *Session {
	t.Helper()
	s, err := NewSession(creds, zap.NewNop())
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	s.gqlURL = serverURL
	s.maxAttempts = 4
	s.backoffBase = time.Millisecond
	s.backoffMax = 5 * time.Millisecond
	return s
}

func TestDoRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		io.WriteString(w, "ok")
	}))
	defer srv.Close()

	s := newTestSession(t, Credentials{}, srv.URL)
	resp, err := s.Do(context.Background(), http.MethodGet, srv.URL, nil, nil)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if got := hits.Load(); got != 3 {
		t.Errorf("server hit %d times, want 3", got)
	}
}

func TestDoReturnsClientErrorsImmediately(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	s := newTestSession(t, Credentials{}, srv.URL)
	resp, err := s.Do(context.Background(), http.MethodGet, srv.URL, nil, nil)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("server hit %d times, want 1", got)
	}
}

func TestDoExhaustsRetries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := newTestSession(t, Credentials{}, srv.URL)
	_, err := s.Do(context.Background(), http.MethodGet, srv.URL, nil, nil)
	if !errors.Is(err, ErrRequestExhausted) {
		t.Fatalf("err = %v, want ErrRequestExhausted", err)
	}
	if got := hits.Load(); got != 4 {
		t.Errorf("server hit %d times, want 4", got)
	}
}

func TestDoStopsOnCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := newTestSession(t, Credentials{}, srv.URL)
	s.backoffBase = time.Hour
	s.backoffMax = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := s.Do(ctx, http.MethodGet, srv.URL, nil, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want context deadline", err)
	}
}

func TestGQLSendsIdentifyingHeaders(t *testing.T) {
	var gotHeader http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Clone()
		io.WriteString(w, `{"data":{}}`)
	}))
	defer srv.Close()

	s := newTestSession(t, Credentials{
		AuthToken: "tok123",
		DeviceID:  "dev456",
	}, srv.URL)

	if err := s.GQL(context.Background(), Op("Inventory"), nil); err != nil {
		t.Fatalf("GQL: %v", err)
	}

	checks := map[string]string{
		"Client-Id":     ClientID,
		"Authorization": "OAuth tok123",
		"X-Device-Id":   "dev456",
		"Content-Type":  "application/json",
	}
	for name, want := range checks {
		if got := gotHeader.Get(name); got != want {
			t.Errorf("header %s = %q, want %q", name, got, want)
		}
	}
	if gotHeader.Get("User-Agent") == "" {
		t.Error("User-Agent not set")
	}
}

func TestGQLDecodesData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decoding request body: %v", err)
		}
		if body["operationName"] != "Current_user" {
			t.Errorf("operationName = %v", body["operationName"])
		}
		io.WriteString(w, `{"data":{"currentUser":{"id":"1234","login":"tester"}}}`)
	}))
	defer srv.Close()

	s := newTestSession(t, Credentials{}, srv.URL)

	var data struct {
		CurrentUser struct {
			ID    string `json:"id"`
			Login string `json:"login"`
		} `json:"currentUser"`
	}
	if err := s.GQL(context.Background(), Op("CurrentUser"), &data); err != nil {
		t.Fatalf("GQL: %v", err)
	}
	if data.CurrentUser.ID != "1234" || data.CurrentUser.Login != "tester" {
		t.Errorf("decoded %+v", data.CurrentUser)
	}
}

func TestGQLServerErrorList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"errors":[{"message":"service error"}]}`)
	}))
	defer srv.Close()

	s := newTestSession(t, Credentials{}, srv.URL)
	err := s.GQL(context.Background(), Op("Inventory"), nil)

	var gqlErr *GQLError
	if !errors.As(err, &gqlErr) {
		t.Fatalf("err = %v, want *GQLError", err)
	}
	if gqlErr.Message != "service error" {
		t.Errorf("message = %q", gqlErr.Message)
	}
}

func TestGQLMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "<html>maintenance</html>")
	}))
	defer srv.Close()

	s := newTestSession(t, Credentials{}, srv.URL)
	err := s.GQL(context.Background(), Op("Inventory"), nil)

	var gqlErr *GQLError
	if !errors.As(err, &gqlErr) {
		t.Fatalf("err = %v, want *GQLError", err)
	}
}

func TestParseCookieString(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want map[string]string
	}{
		{
			name: "typical browser export",
			raw:  "auth-token=abc; unique_id=xyz; persistent=1%3A%3A2",
			want: map[string]string{"auth-token": "abc", "unique_id": "xyz", "persistent": "1%3A%3A2"},
		},
		{
			name: "skips malformed items",
			raw:  "auth-token=abc; noequals; =novalue",
			want: map[string]string{"auth-token": "abc"},
		},
		{
			name: "empty string",
			raw:  "",
			want: map[string]string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := make(map[string]string)
			for _, c := range parseCookieString(tt.raw) {
				got[c.Name] = c.Value
			}
			if len(got) != len(tt.want) {
				t.Fatalf("parsed %v, want %v", got, tt.want)
			}
			for name, value := range tt.want {
				if got[name] != value {
					t.Errorf("cookie %s = %q, want %q", name, got[name], value)
				}
			}
		})
	}
}
