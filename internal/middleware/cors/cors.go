package cors

import (
	"net/http"
	"strings"
)

const (
	allowMethods  = "GET, POST, PUT, PATCH, DELETE, OPTIONS"
	allowHeaders  = "Content-Type, Content-Length, Accept-Encoding, Authorization, Accept, Origin, Cache-Control, X-Requested-With, X-Request-ID"
	exposeHeaders = "Content-Disposition, Retry-After, X-Request-ID"
)

// Middleware answers preflight requests and reflects allowed origins.
type Middleware struct {
	origins  map[string]bool
	allowAll bool
}

// New builds the middleware from a list of origins; "*" allows any origin.
func New(origins []string) *Middleware {
	m := &Middleware{origins: make(map[string]bool, len(origins))}
	for _, o := range origins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		switch o {
		case "":
		case "*":
			m.allowAll = true
		default:
			m.origins[o] = true
		}
	}
	return m
}

// Allowed reports whether origin may read responses.
func (m *Middleware) Allowed(origin string) bool {
	if origin == "" {
		return false
	}
	return m.allowAll || m.origins[origin]
}

func (m *Middleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Add("Vary", "Origin")

		// The origin is echoed rather than "*" so credentials keep working.
		if origin := r.Header.Get("Origin"); m.Allowed(origin) {
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Expose-Headers", exposeHeaders)
		}

		if r.Method == http.MethodOptions {
			h.Set("Access-Control-Allow-Methods", allowMethods)
			h.Set("Access-Control-Allow-Headers", allowHeaders)
			h.Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
