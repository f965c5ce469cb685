package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/metrolab/wafersample/pkg/errcode"
	"github.com/metrolab/wafersample/pkg/schematic/parser"
	"github.com/metrolab/wafersample/pkg/validation"
)

func (s *Server) handleUploadSchematic(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.limits.MaxUploadBytes)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.writeError(w, r, errcode.New(errcode.PayloadTooLarge,
				"upload exceeds the %d byte limit", s.limits.MaxUploadBytes).
				WithDetail("limit", s.limits.MaxUploadBytes))
			return
		}
		s.writeError(w, r, errcode.Wrap(errcode.FileUploadError, err, "reading multipart form"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, r, errcode.New(errcode.FileUploadError, "multipart field %q is required", "file").
			WithFieldErrors(errcode.FieldError{Field: "file", Message: "required"}))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.writeError(w, r, errcode.New(errcode.PayloadTooLarge,
				"upload exceeds the %d byte limit", s.limits.MaxUploadBytes).
				WithDetail("limit", s.limits.MaxUploadBytes))
			return
		}
		s.writeError(w, r, errcode.Wrap(errcode.FileUploadError, err, "reading upload"))
		return
	}

	q := r.URL.Query()
	hints := parser.Hints{
		TargetCell:  q.Get("targetCell"),
		TargetLayer: q.Get("targetLayer"),
	}
	var fieldErrs []errcode.FieldError
	hints.CoordinateScale = parseFloatQuery(q.Get("coordinateScale"), "coordinateScale", &fieldErrs)
	hints.DieSizeMin = parseFloatQuery(q.Get("dieSizeFilterMin"), "dieSizeFilterMin", &fieldErrs)
	hints.DieSizeMax = parseFloatQuery(q.Get("dieSizeFilterMax"), "dieSizeFilterMax", &fieldErrs)
	if len(fieldErrs) > 0 {
		s.writeError(w, r, errcode.New(errcode.ValidationError, "invalid query parameters").
			WithFieldErrors(fieldErrs...))
		return
	}

	parsed, err := s.svc.UploadSchematic(r.Context(), header.Filename, data, hints, q.Get("createdBy"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, parsed)
}

func parseFloatQuery(raw, field string, fieldErrs *[]errcode.FieldError) float64 {
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		*fieldErrs = append(*fieldErrs, errcode.FieldError{Field: field, Message: "must be a number"})
		return 0
	}
	return v
}

func (s *Server) handleListSchematics(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.ListSchematics(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"schematics": list, "count": len(list)})
}

func (s *Server) handleGetSchematic(w http.ResponseWriter, r *http.Request) {
	rec, err := s.svc.GetSchematic(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"schematic":  rec,
		"statistics": rec.Data.GetStatistics(),
	})
}

func (s *Server) handleDeleteSchematic(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteSchematic(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDieBoundaries(w http.ResponseWriter, r *http.Request) {
	dies, err := s.svc.GetDieBoundaries(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dies": dies, "count": len(dies)})
}

func (s *Server) handleExportSchematic(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	body, contentType, err := s.svc.ExportSchematic(r.Context(), vars["id"], vars["format"], nil)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

type validateRequest struct {
	StrategyID     string          `json:"strategyId"`
	ValidationMode validation.Mode `json:"validationMode"`
	ValidatedBy    string          `json:"validatedBy"`
}

func (s *Server) handleValidateSchematic(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := decodeJSONBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.StrategyID == "" {
		s.writeError(w, r, errcode.New(errcode.ValidationError, "strategyId is required").
			WithFieldErrors(errcode.FieldError{Field: "strategyId", Message: "required"}))
		return
	}

	result, err := s.svc.ValidateStrategy(r.Context(), mux.Vars(r)["id"], req.StrategyID, req.ValidationMode, req.ValidatedBy)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListValidations(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.ListValidations(r.Context(), mux.Vars(r)["id"], "")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"validations": list, "count": len(list)})
}
