// Package httpapi exposes a nearcache.Cache over HTTP.
//
//	GET    /cache/{namespace}/{key...}  200 value | 404 | 400 | 503
//	PUT    /cache/{namespace}/{key...}  200 value | 400 | 413 | 503
//	DELETE /cache/{namespace}/{key...}  204 | 400 | 503
//	GET    /healthz                     200
//	GET    /readyz                      200 when every namespace is verified, else 503
//
// Successful reads and writes carry X-Cache-Version; reads also carry X-Cache
// (HIT, MISS or SHARED).
package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/unkn0wn-root/nearcache"
)

const (
	HeaderVersion = "X-Cache-Version"
	HeaderCache   = "X-Cache"
	HeaderNode    = "X-Cache-Node"

	defaultMaxBody = 1 << 20
)

type Options struct {
	// Required
	Cache nearcache.Cache

	Node         string           // reported in X-Cache-Node and /healthz
	Instance     string           // process instance id reported in /healthz
	Logger       nearcache.Logger // if nil, NopLogger is used
	MaxBodyBytes int64            // 0 => 1MiB
	Metrics      http.Handler     // mounted at MetricsPath when set
	MetricsPath  string           // "" => /metrics
	CORSOrigins  []string         // empty => no CORS handling
}

type server struct {
	cache    nearcache.Cache
	node     string
	instance string
	log      nearcache.Logger
	maxBody  int64
}

// NewHandler builds the router.
func NewHandler(opts Options) (http.Handler, error) {
	if opts.Cache == nil {
		return nil, fmt.Errorf("httpapi: cache is required")
	}
	s := &server{
		cache:    opts.Cache,
		node:     opts.Node,
		instance: opts.Instance,
		log:      opts.Logger,
		maxBody:  opts.MaxBodyBytes,
	}
	if s.log == nil {
		s.log = nearcache.NopLogger{}
	}
	if s.maxBody <= 0 {
		s.maxBody = defaultMaxBody
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogger(s.log))
	if len(opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
			ExposedHeaders: []string{HeaderVersion, HeaderCache, HeaderNode},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", s.health)
	r.Get("/readyz", s.ready)
	r.Route("/cache/{namespace}", func(r chi.Router) {
		r.Get("/*", s.get)
		r.Put("/*", s.put)
		r.Delete("/*", s.del)
	})
	if opts.Metrics != nil {
		path := opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, opts.Metrics)
	}
	return r, nil
}

// NewServer wraps h in an http.Server with the given timeouts.
func NewServer(addr string, h http.Handler, read, write, idle time.Duration) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadTimeout:       read,
		ReadHeaderTimeout: read,
		WriteTimeout:      write,
		IdleTimeout:       idle,
	}
}

func requestLogger(log nearcache.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Debug("http request", nearcache.Fields{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"bytes":      ww.BytesWritten(),
				"duration":   time.Since(start).String(),
				"request_id": chimiddleware.GetReqID(r.Context()),
			})
		})
	}
}
