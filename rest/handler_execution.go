package rest

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/ispkit/stepflow/logger"
	"github.com/ispkit/stepflow/model"
)

func (s *Server) HandleCreateInstance(w http.ResponseWriter, r *http.Request) {
	var runReq model.InstanceRunRequest
	if err := json.NewDecoder(r.Body).Decode(&runReq); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid run request")
		return
	}
	defer r.Body.Close()
	instance, err := s.executionService.CreateInstance(runReq.TemplateId, runReq.Input)
	if err != nil {
		logger.Error("error creating instance", zap.String("template", runReq.TemplateId), zap.Error(err))
		respondError(w, err)
		return
	}
	respondOK(w, map[string]any{"instanceId": instance.Id})
}

func (s *Server) HandleGetInstance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, ok := vars["id"]
	if !ok {
		respondWithError(w, http.StatusBadRequest, "instance id missing")
		return
	}
	instance, err := s.executionService.GetInstance(id)
	if err != nil {
		logger.Error("error getting instance", zap.String("id", id), zap.Error(err))
		respondError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, instance)
}

func (s *Server) HandleStartInstance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, ok := vars["id"]
	if !ok {
		respondWithError(w, http.StatusBadRequest, "instance id missing")
		return
	}
	instance, err := s.executionService.StartInstance(id)
	if err != nil {
		logger.Error("error starting instance", zap.String("id", id), zap.Error(err))
		respondError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, instance)
}

func (s *Server) HandleCancelInstance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, ok := vars["id"]
	if !ok {
		respondWithError(w, http.StatusBadRequest, "instance id missing")
		return
	}
	if err := s.executionService.CancelInstance(id); err != nil {
		logger.Error("error cancelling instance", zap.String("id", id), zap.Error(err))
		respondError(w, err)
		return
	}
	respondOKWithoutBody(w)
}
