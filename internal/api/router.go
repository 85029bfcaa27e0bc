package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rcourtman/fritzmesh/internal/cache"
	fmerrors "github.com/rcourtman/fritzmesh/internal/errors"
	"github.com/rcourtman/fritzmesh/internal/logging"
	"github.com/rcourtman/fritzmesh/internal/rewrite"
)

// IngressPathHeader carries the prefix the UI is mounted under.
const IngressPathHeader = "X-Ingress-Path"

// Resolver returns cached upstream responses.
type Resolver interface {
	Resolve(ctx context.Context, requestURI string) (*cache.Entry, error)
}

// TelemetrySource returns the latest telemetry document.
type TelemetrySource interface {
	Load() ([]byte, bool)
}

// Router serves the mirrored UI and the live telemetry document.
type Router struct {
	resolver  Resolver
	telemetry TelemetrySource
	mux       *chi.Mux
}

// NewRouter builds the HTTP handler.
func NewRouter(resolver Resolver, telemetry TelemetrySource) *Router {
	r := &Router{
		resolver:  resolver,
		telemetry: telemetry,
		mux:       chi.NewRouter(),
	}

	r.mux.Use(RequestLogger)
	r.mux.Use(middleware.GetHead)

	r.mux.Post("/data.lua", r.handleTelemetry)
	r.mux.Get("/*", r.handleAsset)

	r.mux.NotFound(r.handleNotFound)
	r.mux.MethodNotAllowed(r.handleNotFound)

	return r
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func (r *Router) handleAsset(w http.ResponseWriter, req *http.Request) {
	entry, err := r.resolver.Resolve(req.Context(), req.URL.RequestURI())
	if err != nil {
		logger := logging.FromContext(req.Context())
		logger.Warn().Err(err).Str("path", req.URL.RequestURI()).Msg("Upstream fetch failed")
		writeProxyError(w, err)
		return
	}

	body := entry.Body
	if entry.NeedsIngress() {
		body = rewrite.SubstituteIngress(body, req.Header.Get(IngressPathHeader))
	}

	header := w.Header()
	for name, values := range entry.Header {
		// The upstream Etag does not identify a substituted body.
		if entry.NeedsIngress() && http.CanonicalHeaderKey(name) == "Etag" {
			continue
		}
		for _, value := range values {
			header.Add(name, value)
		}
	}
	if contentType := servedContentType(entry); contentType != "" {
		header.Set("Content-Type", contentType)
	}

	status := entry.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if req.Method != http.MethodHead {
		_, _ = w.Write(body)
	}
}

func servedContentType(entry *cache.Entry) string {
	mediaType := entry.MediaType()
	if mediaType == "" {
		return ""
	}
	if entry.Rewritten {
		return mediaType + "; charset=utf-8"
	}
	return mediaType
}

func (r *Router) handleTelemetry(w http.ResponseWriter, req *http.Request) {
	header := w.Header()
	header.Set("Cache-Control", "no-cache")
	header.Set("Expires", "-1")
	header.Set("Pragma", "no-cache")

	body, ok := r.telemetry.Load()
	if !ok {
		writeErrorResponse(w, http.StatusServiceUnavailable, "telemetry_unavailable", "No telemetry received from the router yet")
		return
	}

	header.Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (r *Router) handleNotFound(w http.ResponseWriter, req *http.Request) {
	writeProxyError(w, fmerrors.NewProxyError(fmerrors.ErrorTypeNotFound, "route", req.Method+" "+req.URL.Path, fmerrors.ErrNotFound))
}
