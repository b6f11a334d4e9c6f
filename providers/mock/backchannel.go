// Package mock provides a fake provider backchannel for tests.
//
// The fake answers on an httptest server. Its Client rewrites every outbound
// request to that server, so provider configs keep their compiled-in
// endpoints and the path alone selects the stubbed response.
package mock

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
)

// Backchannel paths of the compiled-in provider endpoints.
const (
	WeChatTokenPath   = "/sns/oauth2/access_token"
	WeChatProfilePath = "/sns/userinfo"

	DingTalkTokenPath          = "/sns/gettoken"
	DingTalkPersistentCodePath = "/sns/get_persistent_code"
	DingTalkSessionTokenPath   = "/sns/get_sns_token"
	DingTalkProfilePath        = "/sns/getuserinfo"
)

// Response is a stubbed answer.
type Response struct {
	Status int

	// Body is encoded as JSON unless it is a string, which is written verbatim.
	Body any
}

// Request is what the fake received.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Form   url.Values
	JSON   map[string]any
	Header http.Header
}

// Backchannel is a fake provider backend.
type Backchannel struct {
	server *httptest.Server

	mu        sync.Mutex
	responses map[string]Response
	requests  map[string][]Request
}

// NewBackchannel starts a fake backend. Call Close when done.
func NewBackchannel() *Backchannel {
	b := &Backchannel{
		responses: make(map[string]Response),
		requests:  make(map[string][]Request),
	}
	b.server = httptest.NewServer(http.HandlerFunc(b.serve))
	return b
}

// Close shuts the server down.
func (b *Backchannel) Close() {
	b.server.Close()
}

// URL returns the base URL of the fake.
func (b *Backchannel) URL() string {
	return b.server.URL
}

// Handle stubs the response for path.
func (b *Backchannel) Handle(path string, status int, body any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.responses[path] = Response{Status: status, Body: body}
}

// Calls returns how many requests reached path.
func (b *Backchannel) Calls(path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.requests[path])
}

// TotalCalls returns the number of requests across all paths.
func (b *Backchannel) TotalCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := 0
	for _, reqs := range b.requests {
		total += len(reqs)
	}
	return total
}

// Requests returns a copy of the requests received on path.
func (b *Backchannel) Requests(path string) []Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Request, len(b.requests[path]))
	copy(out, b.requests[path])
	return out
}

// Client returns an HTTP client whose requests all land on the fake.
func (b *Backchannel) Client() *http.Client {
	target, _ := url.Parse(b.server.URL)
	return &http.Client{
		Transport: &rewriteTransport{
			target: target,
			base:   b.server.Client().Transport,
		},
	}
}

func (b *Backchannel) serve(w http.ResponseWriter, r *http.Request) {
	rec := Request{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.Query(),
		Header: r.Header.Clone(),
	}

	body, _ := io.ReadAll(r.Body)
	switch r.Header.Get("Content-Type") {
	case "application/x-www-form-urlencoded":
		rec.Form, _ = url.ParseQuery(string(body))
	case "application/json":
		_ = json.Unmarshal(body, &rec.JSON)
	}

	b.mu.Lock()
	b.requests[r.URL.Path] = append(b.requests[r.URL.Path], rec)
	resp, ok := b.responses[r.URL.Path]
	b.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)

	switch v := resp.Body.(type) {
	case nil:
	case string:
		_, _ = io.WriteString(w, v)
	default:
		_ = json.NewEncoder(w).Encode(v)
	}
}

// rewriteTransport sends every request to target, keeping path and query.
type rewriteTransport struct {
	target *url.URL
	base   http.RoundTripper
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	out.URL.Scheme = t.target.Scheme
	out.URL.Host = t.target.Host
	out.Host = t.target.Host
	return t.base.RoundTrip(out)
}
