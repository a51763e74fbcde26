package server

import (
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/CZERTAINLY/cipher-lens/internal/log"
	"github.com/CZERTAINLY/cipher-lens/internal/model"
	"github.com/CZERTAINLY/cipher-lens/internal/report"
	"github.com/CZERTAINLY/cipher-lens/internal/sslscan"
	"github.com/CZERTAINLY/cipher-lens/internal/store"

	uuidpkg "github.com/google/uuid"
	"github.com/gorilla/mux"
	pd "github.com/kodeart/go-problem/v2"
)

// maxDocument limits the size of an uploaded cipher-scan document
const maxDocument = 8 << 20

type healthResponse struct {
	Status    string     `json:"status"`
	Entries   int        `json:"catalog_entries"`
	Refreshed *time.Time `json:"catalog_refreshed,omitempty"`
}

type assessmentResponse struct {
	UUID     string          `json:"uuid"`
	Created  time.Time       `json:"created"`
	NoSecure bool            `json:"nosecure"`
	Report   json.RawMessage `json:"report"`
}

type catalogResponse struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	OpenSSLName string         `json:"openssl_name"`
	Strength    model.Strength `json:"strength"`
}

func (s *Server) Handler() *mux.Router {
	r := mux.NewRouter()
	r.Use(httpInfoContext)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/assessments", s.createAssessment).Methods(http.MethodPost)
	api.HandleFunc("/assessments/{uuid}", s.getAssessment).Methods(http.MethodGet)
	api.HandleFunc("/assessments/{uuid}", s.deleteAssessment).Methods(http.MethodDelete)
	api.HandleFunc("/catalog/{id}", s.getCatalogEntry).Methods(http.MethodGet)

	r.HandleFunc("/healthz", s.checkHealth).Methods(http.MethodGet)
	r.Handle("/debug/vars", expvar.Handler()).Methods(http.MethodGet)
	return r
}

func httpInfoContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := log.ContextAttrs(r.Context(), slog.Group("http-info",
			slog.String("method", r.Method),
			slog.String("url-path", r.URL.Path),
		))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) createAssessment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	nosecure := false
	if v := r.URL.Query().Get("nosecure"); v != "" {
		var err error
		nosecure, err = strconv.ParseBool(v)
		if err != nil {
			toProblem(ctx, w, pd.Problem{Status: http.StatusBadRequest, Detail: fmt.Sprintf("invalid nosecure value %q", v)})
			return
		}
	}

	strengths, _ := s.catalog()
	if strengths.Len() == 0 {
		toProblem(ctx, w, pd.Problem{Status: http.StatusServiceUnavailable, Detail: model.ErrClassificationUnavailable.Error()})
		return
	}

	doc, err := sslscan.Parse(http.MaxBytesReader(w, r.Body, maxDocument))
	if err != nil {
		s.stats.IncErrDocuments()
		slog.DebugContext(ctx, "parsing cipher-scan document failed", "error", err)
		toProblem(ctx, w, pd.Problem{Status: http.StatusBadRequest, Detail: err.Error()})
		return
	}
	s.stats.IncDocuments()

	rep, err := report.Build(sslscan.Records(doc), strengths, nosecure)
	if err != nil {
		if errors.Is(err, model.ErrUnknownCipherID) {
			toProblem(ctx, w, pd.Problem{Status: http.StatusUnprocessableEntity, Detail: err.Error()})
			return
		}
		slog.ErrorContext(ctx, "building report failed", "error", err)
		http.Error(w, "Internal server error.", http.StatusInternalServerError)
		return
	}
	listed, suppressed := rep.Ciphers()
	s.stats.AddCiphers(listed + suppressed)
	s.stats.AddSuppressedCiphers(suppressed)

	b, err := report.Render(rep, report.Options{Format: report.FormatJSON})
	if err != nil {
		slog.ErrorContext(ctx, "rendering report failed", "error", err)
		http.Error(w, "Internal server error.", http.StatusInternalServerError)
		return
	}

	a := store.Assessment{
		UUID:     uuidpkg.New().String(),
		Created:  time.Now().UTC(),
		NoSecure: nosecure,
		Report:   b,
	}
	if err := store.SaveAssessment(ctx, s.db, a); err != nil {
		slog.ErrorContext(ctx, "Calling `store.SaveAssessment()` failed", slog.String("error", err.Error()), slog.String("uuid", a.UUID))
		http.Error(w, "Internal server error.", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Location", "/api/v1/assessments/"+a.UUID)
	toJSON(ctx, w, http.StatusCreated, toAssessmentResponse(a))
}

func (s *Server) getAssessment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uuid := mux.Vars(r)["uuid"]

	row, err := store.GetAssessment(ctx, s.db, uuid)
	switch {
	case errors.Is(err, store.ErrNotFound):
		toProblem(ctx, w, pd.Problem{Status: http.StatusNotFound, Detail: fmt.Sprintf("UUID %q not found.", uuid)})
		return
	case err != nil:
		slog.ErrorContext(ctx, "Calling `store.GetAssessment()` failed", slog.String("error", err.Error()))
		http.Error(w, "Internal server error.", http.StatusInternalServerError)
		return
	}

	toJSON(ctx, w, http.StatusOK, toAssessmentResponse(row.Assessment))
}

func (s *Server) deleteAssessment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uuid := mux.Vars(r)["uuid"]

	err := store.DeleteAssessment(ctx, s.db, uuid)
	switch {
	case errors.Is(err, store.ErrNotFound):
		toProblem(ctx, w, pd.Problem{Status: http.StatusNotFound, Detail: fmt.Sprintf("UUID %q not found.", uuid)})
		return
	case err != nil:
		slog.ErrorContext(ctx, "Calling `store.DeleteAssessment()` failed", slog.String("error", err.Error()))
		http.Error(w, "Internal server error.", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getCatalogEntry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	strengths, _ := s.catalog()
	if strengths.Len() == 0 {
		toProblem(ctx, w, pd.Problem{Status: http.StatusServiceUnavailable, Detail: model.ErrClassificationUnavailable.Error()})
		return
	}
	e, err := strengths.Lookup(id)
	if err != nil {
		toProblem(ctx, w, pd.Problem{Status: http.StatusNotFound, Detail: err.Error()})
		return
	}
	toJSON(ctx, w, http.StatusOK, catalogResponse(e))
}

func (s *Server) checkHealth(w http.ResponseWriter, r *http.Request) {
	strengths, refreshed := s.catalog()
	resp := healthResponse{
		Status:  "ok",
		Entries: strengths.Len(),
	}
	if !refreshed.IsZero() {
		resp.Refreshed = &refreshed
	}
	toJSON(r.Context(), w, http.StatusOK, resp)
}

func toAssessmentResponse(a store.Assessment) assessmentResponse {
	return assessmentResponse{
		UUID:     a.UUID,
		Created:  a.Created.UTC(),
		NoSecure: a.NoSecure,
		Report:   json.RawMessage(a.Report),
	}
}

func toJSON(ctx context.Context, w http.ResponseWriter, statusCode int, resp any) {
	b, err := json.Marshal(resp)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to marshal structure to json.", slog.String("error", err.Error()))
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("Internal server error."))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(b)
}

func toProblem(ctx context.Context, w http.ResponseWriter, p pd.Problem) {
	b, err := json.Marshal(p)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to marshal problem to json.", slog.String("error", err.Error()))
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("Internal server error."))
		return
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(int(p.Status))
	_, _ = w.Write(b)
}
