package httpx

import "net/http"

// NetHTTP adapts a HandlerFunc into a standard net/http handler.
func NetHTTP(h HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := &Request{
			Ctx:        r.Context(),
			Method:     r.Method,
			Path:       r.URL.Path,
			Header:     r.Header,
			Body:       r.Body,
			RemoteAddr: r.RemoteAddr,
		}
		h(&netWriter{w: w}, req)
		if req.Body != nil {
			_ = req.Body.Close()
		}
	})
}

type netWriter struct {
	w     http.ResponseWriter
	wrote bool
}

func (n *netWriter) Header() http.Header { return n.w.Header() }

func (n *netWriter) WriteHeader(status int) {
	if n.wrote {
		return
	}
	n.wrote = true
	n.w.WriteHeader(status)
}

func (n *netWriter) Write(b []byte) (int, error) {
	if !n.wrote {
		n.WriteHeader(http.StatusOK)
	}
	return n.w.Write(b)
}
