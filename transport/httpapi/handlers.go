package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/unkn0wn-root/nearcache"
)

var sourceHeader = map[nearcache.Source]string{
	nearcache.SourceNear:    "HIT",
	nearcache.SourceBackend: "MISS",
	nearcache.SourceShared:  "SHARED",
}

// target extracts namespace and key. chi matches on the escaped path only when the
// request carried escapes the default encoding would not produce (e.g. %2F).
func target(r *http.Request) (ns, key string, err error) {
	ns, key = chi.URLParam(r, "namespace"), chi.URLParam(r, "*")
	if r.URL.RawPath == "" {
		return ns, key, nil
	}
	if ns, err = url.PathUnescape(ns); err != nil {
		return "", "", err
	}
	key, err = url.PathUnescape(key)
	return ns, key, err
}

func (s *server) get(w http.ResponseWriter, r *http.Request) {
	ns, key, err := target(r)
	if err != nil {
		s.fail(w, r, nearcache.ErrInvalidKey)
		return
	}
	res, err := s.cache.Lookup(r.Context(), ns, key)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set(HeaderCache, sourceHeader[res.Source])
	s.writeValue(w, res.Value, res.Version)
}

func (s *server) put(w http.ResponseWriter, r *http.Request) {
	ns, key, err := target(r)
	if err != nil {
		s.fail(w, r, nearcache.ErrInvalidKey)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, err)
			return
		}
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	ver, err := s.cache.Write(r.Context(), ns, key, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeValue(w, body, ver)
}

func (s *server) del(w http.ResponseWriter, r *http.Request) {
	ns, key, err := target(r)
	if err != nil {
		s.fail(w, r, nearcache.ErrInvalidKey)
		return
	}
	if err := s.cache.Delete(r.Context(), ns, key); err != nil {
		s.fail(w, r, err)
		return
	}
	s.nodeHeader(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"node":     s.node,
		"instance": s.instance,
	})
}

type readiness struct {
	Ready      bool     `json:"ready"`
	Unverified []string `json:"unverified,omitempty"`
}

func (s *server) ready(w http.ResponseWriter, _ *http.Request) {
	var out readiness
	for _, ns := range s.cache.Namespaces() {
		if !s.cache.Verified(ns) {
			out.Unverified = append(out.Unverified, ns)
		}
	}
	out.Ready = len(out.Unverified) == 0
	status := http.StatusOK
	if !out.Ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, out)
}

func (s *server) nodeHeader(w http.ResponseWriter) {
	if s.node != "" {
		w.Header().Set(HeaderNode, s.node)
	}
}

func (s *server) writeValue(w http.ResponseWriter, value []byte, version uint64) {
	s.nodeHeader(w)
	h := w.Header()
	h.Set("Content-Type", "application/octet-stream")
	h.Set("Content-Length", strconv.Itoa(len(value)))
	h.Set(HeaderVersion, strconv.FormatUint(version, 10))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(value)
}

// statusFor maps coordinator errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, nearcache.ErrNotFound), errors.Is(err, nearcache.ErrUnknownNamespace):
		return http.StatusNotFound
	case errors.Is(err, nearcache.ErrInvalidKey):
		return http.StatusBadRequest
	case errors.Is(err, nearcache.ErrBackendUnavailable), errors.Is(err, nearcache.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Warn("request failed", nearcache.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
			"status": status,
			"err":    err,
		})
	}
	s.nodeHeader(w)
	s.writeError(w, status, err)
}

func (s *server) writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
