// Package httpx decouples small handlers from the transport that serves
// them. The relaydb health probes run the same handler under net/http and
// fasthttp; benchmarking the two side by side needs a single handler
// signature both servers can host.
package httpx

import (
	"context"
	"io"
	"net/http"
)

// Request is the transport-neutral view of an incoming request.
type Request struct {
	Ctx        context.Context
	Method     string
	Path       string
	Header     http.Header
	Body       io.ReadCloser
	RemoteAddr string
}

// ResponseWriter is the subset of http.ResponseWriter semantics adapters
// must provide. Header mutations after WriteHeader are ignored.
type ResponseWriter interface {
	Header() http.Header
	Write([]byte) (int, error)
	WriteHeader(status int)
}

// HandlerFunc is the handler signature shared across adapters.
type HandlerFunc func(w ResponseWriter, r *Request)
