package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/conneroisu/wasmscope/internal/errors"
	"github.com/conneroisu/wasmscope/internal/services"
	"github.com/conneroisu/wasmscope/internal/types"
)

// AnalyzeRequest is the body of POST /api/analyze.
type AnalyzeRequest struct {
	Path string `json:"path"`
}

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes one failure.
type ErrorDetail struct {
	Type    string                 `json:"type"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// DependencyGraph is the body of GET /api/dependencies.
type DependencyGraph struct {
	Components []services.DependencyInfo `json:"components"`
	Cycles     [][]string                `json:"cycles"`
}

// StatsResponse is the body of GET /api/stats.
type StatsResponse struct {
	States      map[types.ComponentState]int `json:"states"`
	Total       int                          `json:"total"`
	Subscribers int                          `json:"subscribers"`
	Streams     int                          `json:"streams"`
	Running     bool                         `json:"running"`
	LastScan    *time.Time                   `json:"last_scan,omitempty"`
}

func (s *Server) handleListComponents(w http.ResponseWriter, r *http.Request) {
	list := s.service.ListComponents()
	if state := r.URL.Query().Get("state"); state != "" {
		filtered := list[:0]
		for _, c := range list {
			if string(c.State) == state {
				filtered = append(filtered, c)
			}
		}
		list = filtered
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetComponent(w http.ResponseWriter, r *http.Request) {
	name, ok := componentName(w, r)
	if !ok {
		return
	}
	rec, err := s.service.GetComponent(name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteComponent(w http.ResponseWriter, r *http.Request) {
	name, ok := componentName(w, r)
	if !ok {
		return
	}
	if err := s.service.RemoveComponent(name); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDependencies(w http.ResponseWriter, r *http.Request) {
	name, ok := componentName(w, r)
	if !ok {
		return
	}
	info, err := s.service.Dependencies(name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleDependencyGraph(w http.ResponseWriter, r *http.Request) {
	graph := DependencyGraph{Components: []services.DependencyInfo{}, Cycles: s.service.DependencyCycles()}
	if graph.Cycles == nil {
		graph.Cycles = [][]string{}
	}
	for _, c := range s.service.ListComponents() {
		info, err := s.service.Dependencies(c.Name)
		if err != nil {
			// Removed between the list and the lookup.
			continue
		}
		graph.Components = append(graph.Components, *info)
	}
	writeJSON(w, http.StatusOK, graph)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	states := s.service.Stats()
	total := 0
	for _, n := range states {
		total += n
	}
	resp := StatsResponse{
		States:      states,
		Total:       total,
		Subscribers: s.service.SubscriberCount(),
		Streams:     s.streams.GetConnectedClients(),
		Running:     s.service.Running(),
	}
	if last := s.service.LastScan(); !last.IsZero() {
		resp.LastScan = &last
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRecentChanges(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.fail(w, r, errors.NewValidationError(errors.ErrCodeValidationFailed, "limit must be a positive integer"))
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, s.service.RecentChanges(limit))
}

// handleLookup finds a record by file path (?path=) or by a loosely
// spelled name (?name=).
func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	path, name := strings.TrimSpace(q.Get("path")), strings.TrimSpace(q.Get("name"))

	var (
		rec *types.ComponentRecord
		err error
	)
	switch {
	case path != "" && name != "":
		err = errors.NewValidationError(errors.ErrCodeValidationFailed, "use either path or name, not both")
	case path != "":
		rec, err = s.service.GetComponentByPath(path)
	case name != "":
		rec, err = s.service.FindComponent(name)
	default:
		err = errors.NewValidationError(errors.ErrCodeValidationFailed, "path or name is required")
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.fail(w, r, errors.NewValidationError(errors.ErrCodeValidationFailed, "invalid request body: "+err.Error()))
		return
	}
	if strings.TrimSpace(req.Path) == "" {
		s.fail(w, r, errors.NewValidationError(errors.ErrCodeValidationFailed, "path is required"))
		return
	}

	path, err := s.service.ResolveInRoot(req.Path)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	graph, err := s.service.AnalyzeFile(r.Context(), path)
	if err != nil {
		s.logger.Debug(r.Context(), "On-demand analysis failed", "path", path, "error", err.Error())
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, graph)
}

// componentName extracts the {name...} wildcard, writing 400 when empty.
func componentName(w http.ResponseWriter, r *http.Request) (string, bool) {
	name := strings.Trim(r.PathValue("name"), "/")
	if name == "" {
		writeError(w, errors.NewValidationError(errors.ErrCodeInvalidName, "component name is required"))
		return "", false
	}
	return name, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps an error onto an HTTP status.
func statusFor(err error) int {
	var we *errors.WatchError
	if !errors.As(err, &we) {
		return http.StatusInternalServerError
	}
	switch {
	case errors.IsNotFound(err):
		return http.StatusNotFound
	case we.Code == errors.ErrCodeInvalidOrigin:
		return http.StatusForbidden
	case we.Code == errors.ErrCodePermissionDenied:
		return http.StatusForbidden
	case we.Type == errors.ErrorTypeValidation:
		return http.StatusBadRequest
	case we.Type == errors.ErrorTypeAnalysis:
		return http.StatusUnprocessableEntity
	case we.Code == errors.ErrCodeWatcherClosed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err as a JSON error body. Server-side failures are also logged.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	if statusFor(err) >= http.StatusInternalServerError {
		s.errors.Handle(r.Context(), err)
	}
	writeError(w, err)
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	detail := ErrorDetail{Type: string(errors.ErrorTypeInternal), Code: errors.ErrCodeInternalError, Message: err.Error()}

	var we *errors.WatchError
	if errors.As(err, &we) {
		detail.Type = string(we.Type)
		detail.Code = we.Code
		detail.Message = we.Message
		if len(we.Context) > 0 {
			detail.Context = we.Context
		}
	}
	if status == http.StatusInternalServerError {
		detail.Message = "internal server error"
		detail.Context = nil
	}
	writeJSON(w, status, ErrorBody{Error: detail})
}
