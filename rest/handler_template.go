package rest

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/ispkit/stepflow/logger"
	"github.com/ispkit/stepflow/model"
)

func (s *Server) HandleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var tpl model.WorkflowTemplate
	if err := json.NewDecoder(r.Body).Decode(&tpl); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid template payload")
		return
	}
	defer r.Body.Close()
	if err := s.templateService.SaveTemplate(tpl); err != nil {
		logger.Error("error creating template", zap.String("id", tpl.Id), zap.Error(err))
		respondError(w, err)
		return
	}
	respondOK(w, map[string]any{"created": true})
}

func (s *Server) HandleGetTemplate(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, ok := vars["id"]
	if !ok {
		respondWithError(w, http.StatusBadRequest, "template id missing")
		return
	}
	tpl, err := s.templateService.GetTemplate(id)
	if err != nil {
		logger.Info("template does not exist", zap.String("id", id))
		respondError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, tpl)
}

func (s *Server) HandleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, ok := vars["id"]
	if !ok {
		respondWithError(w, http.StatusBadRequest, "template id missing")
		return
	}
	if err := s.templateService.DeleteTemplate(id); err != nil {
		logger.Error("error deleting template", zap.String("id", id), zap.Error(err))
		respondError(w, err)
		return
	}
	respondOKWithoutBody(w)
}
