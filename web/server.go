// Package web exposes the HTTP interface: log submission, live buffer reads,
// archive management, snapshot downloads, and the WebSocket subscription
// endpoint.
package web

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/klauspost/compress/gzip"
	"github.com/valyala/fastjson"

	"loghub/archive"
	"loghub/engine"
	"loghub/hub"
	"loghub/stats"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Server wires the HTTP routes to the engine, archive store, and hub.
type Server struct {
	engine  *engine.Engine
	archive *archive.Store
	hub     *hub.Hub
	tracker *stats.Tracker
	webDir  string
	parsers fastjson.ParserPool
	srv     *http.Server
}

// NewServer creates the HTTP server. webDir optionally serves the static
// viewer page; it carries no logic of its own.
func NewServer(e *engine.Engine, ar *archive.Store, h *hub.Hub, tracker *stats.Tracker, webDir string) *Server {
	return &Server{
		engine:  e,
		archive: ar,
		hub:     h,
		tracker: tracker,
		webDir:  webDir,
	}
}

// Handler builds the route table. Split out from Start so tests can drive
// the handler without a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/log", s.handleSubmit)
	mux.HandleFunc("/logs/data", s.handleData)
	mux.HandleFunc("/logs/archives", s.handleArchives)
	mux.HandleFunc("/logs/archives/clear", s.handleArchivesClear)
	mux.HandleFunc("/logs/archives/", s.handleArchiveItem)
	mux.HandleFunc("/logs/download/", s.handleDownload)
	if s.hub != nil {
		mux.HandleFunc("/ws", s.hub.ServeWS)
	}
	if s.webDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(s.webDir)))
	}
	return mux
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.srv = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv != nil {
		return s.srv.Shutdown(ctx)
	}
	return nil
}

// handleSubmit processes POST /log submissions.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read body")
		return
	}

	p := s.parsers.Get()
	defer s.parsers.Put(p)

	v, err := p.ParseBytes(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	payload, ok := submissionPayload(v)
	if !ok {
		if s.tracker != nil {
			s.tracker.IncrementRejected()
		}
		writeError(w, http.StatusBadRequest, "No log provided")
		return
	}

	res := s.engine.Submit(payload)
	if s.tracker != nil {
		s.tracker.IncrementIngested()
		if res.Archived {
			s.tracker.IncrementArchived()
		}
	}

	if res.Archived {
		var archived *string
		if res.ArchiveID != "" {
			archived = &res.ArchiveID
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"message":  "Log received and archived (shutdown detected)",
			"archived": archived,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Log received"})
}

// submissionPayload extracts the log field under the source's truthiness
// rules: an absent field, null, false, numeric zero, and the empty string all
// count as "no log provided". Non-string truthy values are kept as their
// compact JSON text.
func submissionPayload(v *fastjson.Value) (string, bool) {
	field := v.Get("log")
	if field == nil {
		return "", false
	}
	switch field.Type() {
	case fastjson.TypeNull, fastjson.TypeFalse:
		return "", false
	case fastjson.TypeTrue:
		return "true", true
	case fastjson.TypeString:
		b, err := field.StringBytes()
		if err != nil || len(b) == 0 {
			return "", false
		}
		return string(b), true
	case fastjson.TypeNumber:
		if field.GetFloat64() == 0 {
			return "", false
		}
		return string(field.MarshalTo(nil)), true
	default:
		// Arrays and objects are always truthy.
		return string(field.MarshalTo(nil)), true
	}
}

// handleData returns the live buffer, reloading from the durable store first.
func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	records, err := s.engine.Reload()
	if err != nil {
		log.Printf("web: reload live buffer: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to load logs")
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// handleArchives lists snapshot identifiers, newest first.
func (s *Server) handleArchives(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	names, err := s.archive.List()
	if err != nil {
		log.Printf("web: list archives: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to list archives")
		return
	}
	writeJSON(w, http.StatusOK, names)
}

// handleArchivesClear deletes every snapshot and reports what was removed.
func (s *Server) handleArchivesClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	deleted, err := s.archive.DeleteAll()
	if err != nil {
		log.Printf("web: clear archives: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to clear archives")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted})
}

// handleArchiveItem deletes a single snapshot.
func (s *Server) handleArchiveItem(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	name, ok := pathName(r, "/logs/archives/")
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid archive name")
		return
	}
	switch err := s.archive.Delete(name); {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"message": "Archive deleted"})
	case errors.Is(err, archive.ErrInvalidName):
		writeError(w, http.StatusBadRequest, "Invalid archive name")
	case errors.Is(err, os.ErrNotExist):
		writeError(w, http.StatusNotFound, "Archive not found")
	default:
		log.Printf("web: delete archive %q: %v", name, err)
		writeError(w, http.StatusInternalServerError, "Failed to delete archive")
	}
}

// handleDownload streams a snapshot with attachment disposition, compressing
// the transfer when the client accepts gzip.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	name, ok := pathName(r, "/logs/download/")
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid archive name")
		return
	}
	f, info, err := s.archive.Open(name)
	switch {
	case errors.Is(err, archive.ErrInvalidName):
		writeError(w, http.StatusBadRequest, "Invalid archive name")
		return
	case errors.Is(err, os.ErrNotExist):
		writeError(w, http.StatusNotFound, "Archive not found")
		return
	case err != nil:
		log.Printf("web: open archive %q: %v", name, err)
		writeError(w, http.StatusInternalServerError, "Failed to open archive")
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", "attachment; filename=\""+name+"\"")

	if strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		defer gz.Close()
		if _, err := io.Copy(gz, f); err != nil {
			log.Printf("web: stream archive %q: %v", name, err)
		}
		return
	}

	w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	if _, err := io.Copy(w, f); err != nil {
		log.Printf("web: stream archive %q: %v", name, err)
	}
}

// pathName extracts and decodes the trailing path element, preserving any
// encoded separators so the archive store can reject escapes. It reports
// false when the element is empty or undecodable.
func pathName(r *http.Request, prefix string) (string, bool) {
	raw := strings.TrimPrefix(r.URL.EscapedPath(), prefix)
	if raw == "" || raw == r.URL.EscapedPath() {
		// Fall back to the decoded path for requests built without an
		// escaped form (e.g. in tests).
		raw = strings.TrimPrefix(r.URL.Path, prefix)
	}
	if raw == "" {
		return "", false
	}
	name, err := url.PathUnescape(raw)
	if err != nil {
		return "", false
	}
	return name, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("web: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
