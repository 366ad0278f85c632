package http

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/ghealysr/nicole-assistant-sub000/internal/log"
	"github.com/ghealysr/nicole-assistant-sub000/pkg/engine"
	"github.com/ghealysr/nicole-assistant-sub000/pkg/models"
	"github.com/ghealysr/nicole-assistant-sub000/pkg/storage"
	"github.com/ghealysr/nicole-assistant-sub000/pkg/workflow"
)

// Server exposes the engine over HTTP: definition upload and listing,
// execution triggering and inspection.
type Server struct {
	engine *engine.Engine
}

func NewServer(eng *engine.Engine) *Server {
	return &Server{engine: eng}
}

// Router builds the HTTP routes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	r.HandleFunc("/workflows", s.createWorkflow).Methods(http.MethodPost)
	r.HandleFunc("/workflows", s.listWorkflows).Methods(http.MethodGet)
	r.HandleFunc("/workflows/{name}/execute", s.executeWorkflow).Methods(http.MethodPost)
	r.HandleFunc("/executions", s.listExecutions).Methods(http.MethodGet)
	r.HandleFunc("/executions/{id}", s.getExecution).Methods(http.MethodGet)
	return r
}

// StartServer runs the HTTP API until the listener fails.
func StartServer(addr string, eng *engine.Engine) error {
	srv := NewServer(eng)
	log.GetLogger().Infof("starting nicole server on %s", addr)
	return http.ListenAndServe(addr, srv.Router())
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) createWorkflow(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	def, err := s.engine.LoadDefinition(body)
	if err != nil {
		var defErr *workflow.DefinitionError
		if errors.As(err, &defErr) {
			writeError(w, http.StatusUnprocessableEntity, err)
			return
		}
		log.GetLogger().Errorf("failed to register workflow: %v", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, def)
}

func (s *Server) listWorkflows(w http.ResponseWriter, r *http.Request) {
	defs, err := s.engine.ListDefinitions()
	if err != nil {
		log.GetLogger().Errorf("failed to list workflows: %v", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, defs)
}

type executeRequest struct {
	UserID  string         `json:"user_id"`
	Context map[string]any `json:"context"`
}

func (s *Server) executeWorkflow(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var req executeRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	ex, err := s.engine.Execute(r.Context(), name, req.UserID, req.Context)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		log.GetLogger().Errorf("failed to execute workflow %q: %v", name, err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, ex)
}

func (s *Server) listExecutions(w http.ResponseWriter, r *http.Request) {
	executions, err := s.engine.ListExecutions(r.URL.Query().Get("user_id"))
	if err != nil {
		log.GetLogger().Errorf("failed to list executions: %v", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if executions == nil {
		executions = []*models.WorkflowExecution{}
	}
	writeJSON(w, http.StatusOK, executions)
}

func (s *Server) getExecution(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ex, err := s.engine.GetExecution(id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		log.GetLogger().Errorf("failed to get execution %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, ex)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.GetLogger().Errorf("failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
