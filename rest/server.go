package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/ispkit/stepflow/approval"
	"github.com/ispkit/stepflow/flow"
	"github.com/ispkit/stepflow/form"
	"github.com/ispkit/stepflow/logger"
	"github.com/ispkit/stepflow/metadata"
	"github.com/ispkit/stepflow/persistence"
	"github.com/ispkit/stepflow/service"
)

type Server struct {
	http.Server
	Port             int
	templateService  metadata.TemplateService
	executionService *service.ExecutionService
}

func NewServer(httpPort int, templateService metadata.TemplateService, executionService *service.ExecutionService) (*Server, error) {

	s := &Server{
		Server: http.Server{
			Addr:        fmt.Sprintf(":%d", httpPort),
			IdleTimeout: 2 * time.Second,
		},
		templateService:  templateService,
		executionService: executionService,
		Port:             httpPort,
	}

	router := mux.NewRouter()
	router.HandleFunc("/metadata/template", s.HandleCreateTemplate).Methods(http.MethodPost)
	router.HandleFunc("/metadata/template/{id}", s.HandleGetTemplate).Methods(http.MethodGet)
	router.HandleFunc("/metadata/template/{id}", s.HandleDeleteTemplate).Methods(http.MethodDelete)

	router.HandleFunc("/execution", s.HandleCreateInstance).Methods(http.MethodPost)
	router.HandleFunc("/execution/{id}", s.HandleGetInstance).Methods(http.MethodGet)
	router.HandleFunc("/execution/{id}/start", s.HandleStartInstance).Methods(http.MethodPost)
	router.HandleFunc("/execution/{id}/cancel", s.HandleCancelInstance).Methods(http.MethodPost)

	router.HandleFunc("/execution/{id}/step/{stepId}", s.HandleGetStep).Methods(http.MethodGet)
	router.HandleFunc("/execution/{id}/step/{stepId}/decision", s.HandleDecision).Methods(http.MethodPost)
	router.HandleFunc("/execution/{id}/step/{stepId}/delegate", s.HandleDelegate).Methods(http.MethodPost)
	router.HandleFunc("/execution/{id}/step/{stepId}/submit", s.HandleSubmit).Methods(http.MethodPost)

	router.Use(loggingMiddleware)
	s.Handler = router
	return s, nil
}

func (s *Server) Start() error {
	logger.Info("starting http server on", zap.Int("port", s.Port))
	if err := s.ListenAndServe(); err != nil {
		return err
	}
	return nil
}

func (s *Server) Stop() error {
	logger.Info("stopping http server")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err := s.Shutdown(ctx)
	if err != nil {
		logger.Error("error shutting down http server")
	}
	return nil
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Info(r.RequestURI)
		next.ServeHTTP(w, r)
	})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondOK(w http.ResponseWriter, message map[string]any) {
	respondWithJSON(w, http.StatusOK, message)
}

func respondOKWithoutBody(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(200)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

// respondError maps the engine's error taxonomy onto status codes: missing
// records are 404, permission guards 403, stale or out-of-order actions 409,
// field validation 400 with per-field messages, storage trouble 500.
func respondError(w http.ResponseWriter, err error) {
	var validationErrs form.ValidationErrors
	if errors.As(err, &validationErrs) {
		respondWithJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "validation failed",
			"fields": validationErrs,
		})
		return
	}
	var instanceNotFound persistence.InstanceNotFoundError
	var templateNotFound metadata.TemplateNotFoundError
	if errors.As(err, &instanceNotFound) || errors.As(err, &templateNotFound) {
		respondWithError(w, http.StatusNotFound, err.Error())
		return
	}
	var storageErr persistence.StorageLayerError
	if errors.As(err, &storageErr) {
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}
	switch {
	case errors.Is(err, approval.ErrNotApprover):
		respondWithError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, approval.ErrAlreadyActed),
		errors.Is(err, approval.ErrWaitingTurn),
		errors.Is(err, flow.ErrStepResolved),
		errors.Is(err, flow.ErrOutOfOrder),
		errors.Is(err, flow.ErrInstanceTerminal),
		errors.Is(err, flow.ErrInstanceNotStarted):
		respondWithError(w, http.StatusConflict, err.Error())
	default:
		respondWithError(w, http.StatusBadRequest, err.Error())
	}
}
