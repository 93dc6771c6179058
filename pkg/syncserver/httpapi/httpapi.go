// Package httpapi exposes pkg/syncserver's version-chain store over
// the HTTP wire protocol a remote replica speaks (pkg/syncclient's
// RemoteServer). It never inspects the bodies it stores or returns —
// every history segment and snapshot arrives and leaves as an opaque,
// already-sealed envelope.
package httpapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/taskchampion/tc/pkg/metrics"
	"github.com/taskchampion/tc/pkg/syncproto"
	"github.com/taskchampion/tc/pkg/syncserver"
	"github.com/taskchampion/tc/pkg/tcerr"
	"github.com/taskchampion/tc/pkg/tclog"
	"github.com/taskchampion/tc/pkg/types"
)

const (
	contentTypeHistorySegment = "application/vnd.taskchampion.history-segment"
	contentTypeSnapshot       = "application/vnd.taskchampion.snapshot"

	headerClientID        = "X-Client-Id"
	headerVersionID       = "X-Version-Id"
	headerParentVersionID = "X-Parent-Version-Id"
	headerSnapshotRequest = "X-Snapshot-Request"

	maxRequestBodyBytes = 100 << 20 // 100 MiB, per the external interfaces spec
)

// Handler wires a syncserver.Store to the four fixed HTTP routes. It
// satisfies http.Handler and can be mounted directly or wrapped by a
// caller's own TLS/logging stack.
type Handler struct {
	store *syncserver.Store
	mux   *http.ServeMux
}

// New builds a Handler backed by store.
func New(store *syncserver.Store) *Handler {
	h := &Handler{store: store, mux: http.NewServeMux()}
	h.mux.HandleFunc("/v1/client/add-version/", h.withMiddleware("add_version", h.handleAddVersion))
	h.mux.HandleFunc("/v1/client/get-child-version/", h.withMiddleware("get_child_version", h.handleGetChildVersion))
	h.mux.HandleFunc("/v1/client/add-snapshot/", h.withMiddleware("add_snapshot", h.handleAddSnapshot))
	h.mux.HandleFunc("/v1/client/snapshot", h.withMiddleware("get_snapshot", h.handleGetSnapshot))
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// withMiddleware chains panic recovery, the request-size cap, client
// id extraction, and per-request metrics/logging around a route
// handler, matching the order spec'd for the sync server.
func (h *Handler) withMiddleware(route string, next func(w http.ResponseWriter, r *http.Request, clientID types.Uuid)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		status := http.StatusOK
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		defer func() {
			if rec := recover(); rec != nil {
				tclog.WithComponent("httpapi").Error().
					Str("route", route).
					Interface("panic", rec).
					Msg("recovered from panic handling request")
				if !rw.wroteHeader {
					rw.WriteHeader(http.StatusInternalServerError)
				}
			}
			status = rw.status
			metrics.HTTPRequestsTotal.WithLabelValues(route, fmt.Sprintf("%d", status)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
			tclog.WithComponent("httpapi").Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("route", route).
				Int("status", status).
				Dur("duration", time.Since(start)).
				Msg("handled request")
		}()

		r.Body = http.MaxBytesReader(rw, r.Body, maxRequestBodyBytes)

		clientID, err := uuid.Parse(r.Header.Get(headerClientID))
		if err != nil {
			writeError(rw, http.StatusBadRequest, fmt.Sprintf("missing or invalid %s header", headerClientID))
			return
		}

		next(rw, r, clientID)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(status int) {
	if r.wroteHeader {
		return
	}
	r.status = status
	r.wroteHeader = true
	r.ResponseWriter.WriteHeader(status)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	_, _ = w.Write([]byte(msg))
}

func pathSuffix(r *http.Request, prefix string) (types.Uuid, error) {
	suffix := r.URL.Path[len(prefix):]
	return uuid.Parse(suffix)
}

func (h *Handler) handleAddVersion(w http.ResponseWriter, r *http.Request, clientID types.Uuid) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	parentVersionID, err := pathSuffix(r, "/v1/client/add-version/")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid parent_version_id")
		return
	}
	if r.Header.Get("Content-Type") != contentTypeHistorySegment {
		writeError(w, http.StatusBadRequest, "unexpected content type")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading request body: "+err.Error())
		return
	}
	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, "empty history segment")
		return
	}

	versionID := uuid.New()
	urgency, err := h.store.AddVersion(clientID, parentVersionID, versionID, body)
	var conflict *syncproto.ConflictError
	if errors.As(err, &conflict) {
		w.Header().Set(headerParentVersionID, conflict.Expected.String())
		w.WriteHeader(http.StatusConflict)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set(headerVersionID, versionID.String())
	if urgency != syncproto.SnapshotNone {
		w.Header().Set(headerSnapshotRequest, "urgency="+urgency.String())
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleGetChildVersion(w http.ResponseWriter, r *http.Request, clientID types.Uuid) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}
	parentVersionID, err := pathSuffix(r, "/v1/client/get-child-version/")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid parent_version_id")
		return
	}

	child, err := h.store.GetChildVersion(clientID, parentVersionID)
	if tcerr.KindOf(err) == tcerr.Gone {
		w.WriteHeader(http.StatusGone)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if child.Kind == syncproto.ChildNotFound {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	w.Header().Set(headerVersionID, child.VersionID.String())
	w.Header().Set(headerParentVersionID, child.Parent.String())
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(child.HistorySegment)
}

func (h *Handler) handleAddSnapshot(w http.ResponseWriter, r *http.Request, clientID types.Uuid) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	versionID, err := pathSuffix(r, "/v1/client/add-snapshot/")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid version_id")
		return
	}
	if r.Header.Get("Content-Type") != contentTypeSnapshot {
		writeError(w, http.StatusBadRequest, "unexpected content type")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading request body: "+err.Error())
		return
	}

	// AddSnapshot failures are discarded silently, matching the spec's
	// allowance for a best-effort snapshot upload: the client always
	// sees 200 either way.
	_ = h.store.AddSnapshot(clientID, versionID, body)
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleGetSnapshot(w http.ResponseWriter, r *http.Request, clientID types.Uuid) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}

	versionID, data, ok, err := h.store.GetSnapshot(clientID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	w.Header().Set(headerVersionID, versionID.String())
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
