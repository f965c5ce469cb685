package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/metrolab/wafersample/pkg/engine"
	"github.com/metrolab/wafersample/pkg/errcode"
	"github.com/metrolab/wafersample/pkg/repository"
	"github.com/metrolab/wafersample/pkg/strategy"
	"github.com/metrolab/wafersample/pkg/wafer"
)

// decodeJSONBody decodes the request body, rejecting unknown shapes with a
// validation error rather than a 500.
func decodeJSONBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return errcode.Wrap(errcode.ValidationError, err, "malformed JSON body")
	}
	return nil
}

func (s *Server) handleCreateStrategy(w http.ResponseWriter, r *http.Request) {
	var def strategy.Definition
	if err := decodeJSONBody(r, &def); err != nil {
		s.writeError(w, r, err)
		return
	}
	created, err := s.svc.CreateStrategy(r.Context(), &def)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListStrategies(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.StrategyFilter{
		Author:         q.Get("author"),
		StrategyType:   strategy.Type(q.Get("strategyType")),
		ProcessStep:    q.Get("processStep"),
		LifecycleState: strategy.State(q.Get("lifecycleState")),
	}
	list, err := s.svc.ListStrategies(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"strategies": list, "count": len(list)})
}

func (s *Server) handleGetStrategy(w http.ResponseWriter, r *http.Request) {
	def, err := s.svc.GetStrategy(r.Context(), mux.Vars(r)["id"], r.URL.Query().Get("version"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

func (s *Server) handleUpdateStrategy(w http.ResponseWriter, r *http.Request) {
	var update strategy.Definition
	if err := decodeJSONBody(r, &update); err != nil {
		s.writeError(w, r, err)
		return
	}
	bump := strategy.BumpLevel(r.URL.Query().Get("bump"))
	updated, err := s.svc.UpdateStrategy(r.Context(), mux.Vars(r)["id"], &update, bump)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteStrategy(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteStrategy(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListStrategyVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := s.svc.ListStrategyVersions(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"versions": versions})
}

type simulateRequest struct {
	WaferMap        *wafer.Map             `json:"waferMap"`
	ExecContext     strategy.ExecContext   `json:"execContext"`
	ToolConstraints engine.ToolConstraints `json:"toolConstraints"`
	Version         string                 `json:"version,omitempty"`
}

func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	var req simulateRequest
	if err := decodeJSONBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.WaferMap == nil {
		s.writeError(w, r, errcode.New(errcode.ValidationError, "waferMap is required").
			WithFieldErrors(errcode.FieldError{Field: "waferMap", Message: "required"}))
		return
	}

	result, err := s.svc.Simulate(r.Context(), mux.Vars(r)["id"], req.Version, req.WaferMap, req.ExecContext, req.ToolConstraints)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handlePromote(w http.ResponseWriter, r *http.Request) {
	def, err := s.svc.PromoteStrategy(r.Context(), mux.Vars(r)["id"], r.URL.Query().Get("user"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

func (s *Server) handleRetract(w http.ResponseWriter, r *http.Request) {
	def, err := s.svc.RetractStrategy(r.Context(), mux.Vars(r)["id"], r.URL.Query().Get("user"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

func (s *Server) handleClone(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	clone, err := s.svc.CloneStrategy(r.Context(), mux.Vars(r)["id"], q.Get("newName"), q.Get("author"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, clone)
}

type exportRequest struct {
	WaferMap    *wafer.Map           `json:"waferMap"`
	ExecContext strategy.ExecContext `json:"execContext"`
	SchematicID string               `json:"schematicId,omitempty"`
}

func (s *Server) handleExportStrategy(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if err := decodeJSONBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.WaferMap == nil {
		s.writeError(w, r, errcode.New(errcode.ValidationError, "waferMap is required").
			WithFieldErrors(errcode.FieldError{Field: "waferMap", Message: "required"}))
		return
	}

	vars := mux.Vars(r)
	out, err := s.svc.ExportStrategy(r.Context(), vars["id"], vars["vendor"], req.WaferMap, req.ExecContext, req.SchematicID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", out.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+out.Filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out.Bytes)
}
