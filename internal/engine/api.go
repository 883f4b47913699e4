package engine

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hostelhub/notifyrouter/internal/routing"
	"github.com/hostelhub/notifyrouter/internal/shared/errors"
)

// Handler provides HTTP handlers for events and routes
type Handler struct {
	engine *Engine
}

// NewHandler creates a new handler
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

// EventRoutes registers the inbound event routes
func (h *Handler) EventRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.SubmitEvent)
	return r
}

// RouteRoutes registers the route inspection routes
func (h *Handler) RouteRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.ListRoutes)
	r.Get("/{notificationID}", h.GetRoute)
	return r
}

// routeResponse adds the effective escalation flag to a route
type routeResponse struct {
	*routing.NotificationRoute
	EffectiveEscalationEnabled bool `json:"effective_escalation_enabled"`
}

func newRouteResponse(route *routing.NotificationRoute) routeResponse {
	return routeResponse{
		NotificationRoute:          route,
		EffectiveEscalationEnabled: route.EffectiveEscalationEnabled(),
	}
}

// SubmitEvent routes an inbound event
func (h *Handler) SubmitEvent(w http.ResponseWriter, r *http.Request) {
	var event routing.Event
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	result, err := h.engine.Route(r.Context(), event)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"route":      newRouteResponse(result.Route),
		"escalation": result.Escalation,
	})
}

// GetRoute returns the routing decision for a notification
func (h *Handler) GetRoute(w http.ResponseWriter, r *http.Request) {
	route, err := h.engine.GetRoute(r.Context(), chi.URLParam(r, "notificationID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newRouteResponse(route))
}

// ListRoutes lists unroutable notifications for operator review
func (h *Handler) ListRoutes(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("unroutable") != "true" {
		writeError(w, errors.BadRequest("only unroutable=true listing is supported"))
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	routes, err := h.engine.ListUnroutable(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}

	data := make([]routeResponse, len(routes))
	for i := range routes {
		data[i] = newRouteResponse(&routes[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  data,
		"total": len(data),
	})
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
