// Package api exposes the local agent's HTTP surface: sync status and
// triggers, the leaderboard, session sign-in, and record edits.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"example.com/learnsync/internal/domain"
	"example.com/learnsync/internal/identity"
	"example.com/learnsync/internal/syncengine"
)

// Syncer is the engine surface the handlers use.
type Syncer interface {
	SyncNow(ctx context.Context) syncengine.Report
	Status() syncengine.Status
	Leaderboard() []domain.LeaderboardEntry
	PullLeaderboard(ctx context.Context) ([]domain.LeaderboardEntry, error)
}

// Sessions signs identities in and out.
type Sessions interface {
	Current() (string, bool)
	SetToken(token string) (*identity.Claims, error)
	Clear()
}

// Handler coordinates HTTP requests with the sync engine and the local mutation service.
type Handler struct {
	engine   Syncer
	service  *domain.Service
	sessions Sessions
	logger   zerolog.Logger
}

// NewHandler builds a Handler.
func NewHandler(engine Syncer, service *domain.Service, sessions Sessions, logger zerolog.Logger) *Handler {
	return &Handler{engine: engine, service: service, sessions: sessions, logger: logger}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", healthz)
	mux.HandleFunc("/v1/sync", h.sync)
	mux.HandleFunc("/v1/sync/status", h.status)
	mux.HandleFunc("/v1/leaderboard", h.leaderboard)
	mux.HandleFunc("/v1/session", h.session)
	mux.HandleFunc("/v1/profile", h.profile)
	mux.HandleFunc("/v1/activities", h.activities)
	mux.HandleFunc("/v1/activities/", h.activityByID)
	mux.HandleFunc("/v1/feedback", h.feedback)
	mux.HandleFunc("/v1/checkins", h.checkIns)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) sync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	report := h.engine.SyncNow(r.Context())

	status := http.StatusOK
	switch report.Outcome {
	case syncengine.OutcomeInFlight:
		status = http.StatusAccepted
	case syncengine.OutcomeNoIdentity:
		status = http.StatusConflict
	case syncengine.OutcomeFailed:
		status = http.StatusBadGateway
	}
	writeJSON(w, status, report)
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	writeJSON(w, http.StatusOK, h.engine.Status())
}

func (h *Handler) leaderboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	entries := h.engine.Leaderboard()
	if r.URL.Query().Get("refresh") == "true" {
		pulled, err := h.engine.PullLeaderboard(r.Context())
		if err != nil {
			h.logger.Warn().Err(err).Msg("leaderboard refresh failed")
			writeError(w, http.StatusBadGateway, "remote_error", err.Error())
			return
		}
		entries = pulled
	}
	if entries == nil {
		entries = []domain.LeaderboardEntry{}
	}
	writeJSON(w, http.StatusOK, LeaderboardResponse{Items: entries})
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		id, ok := h.sessions.Current()
		writeJSON(w, http.StatusOK, SessionResponse{UserID: id, SignedIn: ok})
	case http.MethodPut:
		var req SessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
			return
		}
		claims, err := h.sessions.SetToken(req.Token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, SessionResponse{UserID: claims.Subject, SignedIn: true, ExpiresAt: claims.ExpiresAt})
	case http.MethodDelete:
		h.sessions.Clear()
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) profile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	var req ProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	profile, err := h.service.SaveProfile(r.Context(), domain.ProfileInput{
		DisplayName:      req.DisplayName,
		TargetLanguage:   req.TargetLanguage,
		Level:            req.Level,
		DailyGoalMinutes: req.DailyGoalMinutes,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfileView(*profile))
}

func (h *Handler) activities(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createActivity(w, r)
	case http.MethodGet:
		h.listActivities(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) activityByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/activities/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing activity id")
		return
	}

	switch r.Method {
	case http.MethodPut:
		h.updateActivity(w, r, id)
	case http.MethodDelete:
		if err := h.service.DeleteActivity(r.Context(), id); err != nil {
			h.writeDomainError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) createActivity(w http.ResponseWriter, r *http.Request) {
	var req ActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	var (
		activity *domain.Activity
		err      error
	)
	if req.StartedAt != nil && req.EndedAt != nil {
		activity, err = h.service.CompleteTimedActivity(r.Context(), domain.TimedSession{
			StartedAt: *req.StartedAt,
			EndedAt:   *req.EndedAt,
			Category:  domain.ActivityCategory(req.Category),
			Language:  req.Language,
			Comment:   req.Comment,
		})
	} else {
		input, perr := req.input()
		if perr != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", perr.Error())
			return
		}
		activity, err = h.service.CreateActivity(r.Context(), input)
	}
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toActivityView(*activity))
}

func (h *Handler) updateActivity(w http.ResponseWriter, r *http.Request, id string) {
	var req ActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	input, err := req.input()
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}
	activity, err := h.service.UpdateActivity(r.Context(), id, input)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toActivityView(*activity))
}

func (h *Handler) listActivities(w http.ResponseWriter, r *http.Request) {
	activities, err := h.service.ListActivities(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	items := make([]ActivityView, 0, len(activities))
	for _, a := range activities {
		items = append(items, toActivityView(a))
	}
	writeJSON(w, http.StatusOK, ListActivitiesResponse{Items: items})
}

func (h *Handler) feedback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	var req FeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	date, err := parseDay(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}
	fb, err := h.service.RecordFeedback(r.Context(), domain.FeedbackInput{Date: date, Rating: req.Rating, Note: req.Note})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FeedbackView{
		ID:       fb.ID,
		Date:     fb.Date.Format(dayLayout),
		Rating:   fb.Rating,
		Note:     fb.Note,
		IsSynced: fb.IsSynced,
	})
}

func (h *Handler) checkIns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	var req CheckInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	date, err := parseDay(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}
	c, err := h.service.RecordCheckIn(r.Context(), domain.CheckInInput{
		Date:          date,
		HourMilestone: req.HourMilestone,
		Ratings:       req.Ratings,
		Reflections:   req.Reflections,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, CheckInView{
		ID:            c.ID,
		HourMilestone: c.HourMilestone,
		Ratings:       c.Ratings,
		Reflections:   c.Reflections,
		IsSynced:      c.IsSynced,
	})
}

func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, "validation_failed", verr.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "record not found")
	default:
		h.logger.Error().Err(err).Msg("local store operation failed")
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
