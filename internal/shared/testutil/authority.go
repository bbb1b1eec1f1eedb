package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// Authority endpoint paths served by FakeAuthority.
const (
	AcquirePath  = "/api/acquire-license"
	ValidatePath = "/api/validate-license"
)

// AuthorityCall is one request received by FakeAuthority.
type AuthorityCall struct {
	Path    string
	Origin  string
	Referer string
	Body    map[string]interface{}
}

// Field returns a string field of the request body.
func (c AuthorityCall) Field(name string) string {
	s, _ := c.Body[name].(string)
	return s
}

// Reply is a scripted authority response. A string Body is written
// verbatim; anything else is JSON encoded.
type Reply struct {
	Status int
	Body   interface{}
}

// FakeAuthority is an httptest license authority with scripted replies and
// a request log.
type FakeAuthority struct {
	Server *httptest.Server

	mu       sync.Mutex
	calls    []AuthorityCall
	acquire  func(AuthorityCall) Reply
	validate func(AuthorityCall) Reply
}

// NewFakeAuthority starts a fake authority that accepts every validation.
// Acquisition returns 500 until OnAcquire is set.
func NewFakeAuthority(t testing.TB) *FakeAuthority {
	t.Helper()

	fa := &FakeAuthority{
		acquire: func(AuthorityCall) Reply {
			return Reply{Status: http.StatusInternalServerError, Body: map[string]string{"error": "not scripted"}}
		},
		validate: func(AuthorityCall) Reply {
			return Reply{Status: http.StatusOK, Body: map[string]interface{}{"valid": true, "status": "valid"}}
		},
	}
	fa.Server = httptest.NewServer(http.HandlerFunc(fa.serve))
	t.Cleanup(fa.Server.Close)
	return fa
}

// URL is the authority base URL.
func (fa *FakeAuthority) URL() string {
	return fa.Server.URL
}

// OnAcquire scripts the acquisition endpoint.
func (fa *FakeAuthority) OnAcquire(fn func(AuthorityCall) Reply) {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	fa.acquire = fn
}

// OnValidate scripts the validation endpoint. fn may block; it runs on the
// server goroutine for that request.
func (fa *FakeAuthority) OnValidate(fn func(AuthorityCall) Reply) {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	fa.validate = fn
}

// Calls returns the requests received on path, in arrival order. An empty
// path returns every request.
func (fa *FakeAuthority) Calls(path string) []AuthorityCall {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	var out []AuthorityCall
	for _, c := range fa.calls {
		if path == "" || c.Path == path {
			out = append(out, c)
		}
	}
	return out
}

// Domains lists the domain field of every validation request in order.
func (fa *FakeAuthority) Domains() []string {
	calls := fa.Calls(ValidatePath)
	out := make([]string, 0, len(calls))
	for _, c := range calls {
		out = append(out, c.Field("domain"))
	}
	return out
}

func (fa *FakeAuthority) serve(w http.ResponseWriter, r *http.Request) {
	call := AuthorityCall{
		Path:    r.URL.Path,
		Origin:  r.Header.Get("Origin"),
		Referer: r.Header.Get("Referer"),
	}
	if data, err := io.ReadAll(r.Body); err == nil && len(data) > 0 {
		_ = json.Unmarshal(data, &call.Body)
	}

	fa.mu.Lock()
	fa.calls = append(fa.calls, call)
	var handler func(AuthorityCall) Reply
	switch r.URL.Path {
	case AcquirePath:
		handler = fa.acquire
	case ValidatePath:
		handler = fa.validate
	}
	fa.mu.Unlock()

	if handler == nil {
		http.NotFound(w, r)
		return
	}

	reply := handler(call)
	if reply.Status == 0 {
		reply.Status = http.StatusOK
	}
	if s, ok := reply.Body.(string); ok {
		w.WriteHeader(reply.Status)
		_, _ = io.WriteString(w, s)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(reply.Status)
	_ = json.NewEncoder(w).Encode(reply.Body)
}
