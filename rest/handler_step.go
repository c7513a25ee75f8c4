package rest

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/ispkit/stepflow/logger"
	"github.com/ispkit/stepflow/model"
)

func stepVars(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	vars := mux.Vars(r)
	id, ok := vars["id"]
	if !ok {
		respondWithError(w, http.StatusBadRequest, "instance id missing")
		return "", "", false
	}
	stepId, ok := vars["stepId"]
	if !ok {
		respondWithError(w, http.StatusBadRequest, "step id missing")
		return "", "", false
	}
	return id, stepId, true
}

func (s *Server) HandleGetStep(w http.ResponseWriter, r *http.Request) {
	id, stepId, ok := stepVars(w, r)
	if !ok {
		return
	}
	view, err := s.executionService.GetStepView(id, stepId)
	if err != nil {
		logger.Error("error getting step", zap.String("id", id), zap.String("step", stepId), zap.Error(err))
		respondError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, view)
}

func (s *Server) HandleDecision(w http.ResponseWriter, r *http.Request) {
	id, stepId, ok := stepVars(w, r)
	if !ok {
		return
	}
	var req model.DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid decision payload")
		return
	}
	defer r.Body.Close()
	decision, err := s.executionService.RecordDecision(id, stepId, req)
	if err != nil {
		logger.Error("error recording decision", zap.String("id", id), zap.String("step", stepId), zap.String("approver", req.Approver), zap.Error(err))
		respondError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, decision)
}

func (s *Server) HandleDelegate(w http.ResponseWriter, r *http.Request) {
	id, stepId, ok := stepVars(w, r)
	if !ok {
		return
	}
	var req model.DelegateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid delegate payload")
		return
	}
	defer r.Body.Close()
	if err := s.executionService.Delegate(id, stepId, req); err != nil {
		logger.Error("error delegating approver", zap.String("id", id), zap.String("step", stepId), zap.Error(err))
		respondError(w, err)
		return
	}
	respondOKWithoutBody(w)
}

func (s *Server) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	id, stepId, ok := stepVars(w, r)
	if !ok {
		return
	}
	var req model.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid submit payload")
		return
	}
	defer r.Body.Close()
	step, err := s.executionService.SubmitForm(id, stepId, req)
	if err != nil {
		logger.Error("error submitting form", zap.String("id", id), zap.String("step", stepId), zap.Error(err))
		respondError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, step)
}
