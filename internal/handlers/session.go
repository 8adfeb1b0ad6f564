package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/sixcolors/gofiber-react-session-csrf-example/internal/guardian"
	"github.com/sixcolors/gofiber-react-session-csrf-example/internal/models"
)

// TabController is the slice of *guardian.Tab the session routes drive.
type TabController interface {
	Status() guardian.Status
	Login(ctx context.Context, username, password string) error
	Logout(ctx context.Context) error
	Extend(ctx context.Context) error
	Dismiss()
}

// SessionHandler exposes the tab's session and alert over HTTP.
type SessionHandler struct {
	tab    TabController
	logger *logrus.Logger
}

// NewSessionHandler creates a session handler for tab.
func NewSessionHandler(tab TabController, logger *logrus.Logger) *SessionHandler {
	return &SessionHandler{tab: tab, logger: logger}
}

// RegisterRoutes registers the session endpoints.
func (h *SessionHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/session", h.Status).Methods(http.MethodGet)
	router.HandleFunc("/session/login", h.Login).Methods(http.MethodPost)
	router.HandleFunc("/session/logout", h.Logout).Methods(http.MethodPost)
	router.HandleFunc("/session/extend", h.Extend).Methods(http.MethodPost)
	router.HandleFunc("/session/dismiss", h.Dismiss).Methods(http.MethodPost)
}

// Status returns the tab's current state.
func (h *SessionHandler) Status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, h.tab.Status())
}

// Login submits credentials on behalf of the tab.
func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	var creds models.Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_request", "Invalid JSON format")
		return
	}

	if err := h.tab.Login(r.Context(), creds.Username, creds.Password); err != nil {
		var validation models.ValidationErrors
		switch {
		case errors.As(err, &validation):
			writeError(w, h.logger, http.StatusUnprocessableEntity, "validation_error", validation.Error())
		case models.IsKind(err, models.KindNetwork):
			writeError(w, h.logger, http.StatusBadGateway, "api_unreachable", err.Error())
		default:
			writeError(w, h.logger, http.StatusUnauthorized, "login_failed", err.Error())
		}
		return
	}

	writeJSON(w, h.logger, http.StatusOK, h.tab.Status())
}

// Logout ends the session. The local state is reset even if the server
// could not be reached, so the response is always the new status.
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.tab.Logout(r.Context()); err != nil {
		h.logger.WithError(err).Warn("Logout did not reach the server")
	}
	writeJSON(w, h.logger, http.StatusOK, h.tab.Status())
}

// Extend answers the expiry alert with "stay signed in".
func (h *SessionHandler) Extend(w http.ResponseWriter, r *http.Request) {
	if err := h.tab.Extend(r.Context()); err != nil {
		writeError(w, h.logger, http.StatusBadGateway, "extend_failed", err.Error())
		return
	}
	writeJSON(w, h.logger, http.StatusOK, h.tab.Status())
}

// Dismiss closes the alert without extending the session.
func (h *SessionHandler) Dismiss(w http.ResponseWriter, _ *http.Request) {
	h.tab.Dismiss()
	writeJSON(w, h.logger, http.StatusOK, h.tab.Status())
}
