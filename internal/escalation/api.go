package escalation

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hostelhub/notifyrouter/internal/shared/auth"
	"github.com/hostelhub/notifyrouter/internal/shared/errors"
)

// Handler provides HTTP handlers for escalations
type Handler struct {
	service *Service
}

// NewHandler creates a new escalation handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes registers the escalation routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.ListEscalations)
	r.Route("/{notificationID}", func(r chi.Router) {
		r.Get("/", h.GetEscalation)
		r.Post("/resolve", h.ResolveEscalation)
	})

	return r
}

// stateResponse adds the derived status to a state
type stateResponse struct {
	*State
	Status Status `json:"status"`
}

func newStateResponse(st *State) stateResponse {
	return stateResponse{State: st, Status: st.Status()}
}

// ListEscalations lists escalations by status. Only exhausted is supported.
func (h *Handler) ListEscalations(w http.ResponseWriter, r *http.Request) {
	status := strings.ToUpper(r.URL.Query().Get("status"))
	if status != string(StatusExhausted) {
		writeError(w, errors.BadRequest("status must be exhausted"))
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	states, err := h.service.ListExhausted(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}

	data := make([]stateResponse, len(states))
	for i := range states {
		data[i] = newStateResponse(&states[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  data,
		"total": len(data),
	})
}

// GetEscalation returns the escalation of one notification
func (h *Handler) GetEscalation(w http.ResponseWriter, r *http.Request) {
	st, err := h.service.Get(r.Context(), chi.URLParam(r, "notificationID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newStateResponse(st))
}

// ResolveRequest is the body of a resolve call
type ResolveRequest struct {
	ResolvedBy string `json:"resolved_by"`
}

// ResolveEscalation acknowledges a notification. resolved_by defaults to the
// authenticated user.
func (h *Handler) ResolveEscalation(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, errors.BadRequest("invalid request body"))
			return
		}
	}
	if req.ResolvedBy == "" {
		if user := auth.GetUser(r.Context()); user != nil {
			req.ResolvedBy = user.ID
		}
	}

	st, err := h.service.Resolve(r.Context(), chi.URLParam(r, "notificationID"), req.ResolvedBy)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newStateResponse(st))
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")

	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		w.WriteHeader(appErr.HTTPStatus)
		json.NewEncoder(w).Encode(map[string]any{
			"error":   appErr.Message,
			"code":    appErr.Code,
			"details": appErr.Details,
		})
		return
	}

	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(map[string]string{"error": "internal server error"})
}
