package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"traffic-control-backend/internal/config"
	"traffic-control-backend/internal/lifecycle"
	"traffic-control-backend/internal/models"
	"traffic-control-backend/internal/ratelimit"
	"traffic-control-backend/internal/schedule"
	"traffic-control-backend/internal/scheduler"
	"traffic-control-backend/internal/store"
	"traffic-control-backend/internal/telemetry"
)

// Server wires HTTP handlers for the scheduling API.
type Server struct {
	cfg       config.Config
	store     *store.Store
	scheduler *scheduler.Scheduler
	lifecycle *lifecycle.Manager
	limiter   *ratelimit.Limiter
}

// New constructs the API server.
func New(cfg config.Config, st *store.Store, sched *scheduler.Scheduler, lc *lifecycle.Manager, limiter *ratelimit.Limiter) *Server {
	return &Server{
		cfg:       cfg,
		store:     st,
		scheduler: sched,
		lifecycle: lc,
		limiter:   limiter,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Post("/trafficcontrol", s.handleSubmit)
	r.Get("/confirm-additional-flagger", s.handleConfirm)
	r.Patch("/manage-job/{id}", s.handleUpdate)
	r.Patch("/reschedule-job/{id}", s.handleReschedule)
	r.Delete("/cancel-job/{id}", s.handleCancel)

	r.Get("/jobs", s.handleJobsByDay)
	r.Get("/jobs/month", s.handleJobsByMonth)
	r.Get("/jobs/full-dates", s.handleFullDates)
	r.Get("/jobs/cancelled", s.handleCancelledJobs)
	return r
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req scheduler.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if s.limiter != nil {
		allowed, _, err := s.limiter.Allow(r.Context(), clientIP(r))
		if err != nil {
			log.Printf("api: rate limit check failed: %v", err)
		} else if !allowed {
			telemetry.RateLimitRejects.Inc()
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
	}

	result, err := s.scheduler.Submit(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// handleConfirm consumes an emailed confirmation link. The caller is a
// browser following a link, so every outcome is a redirect to the client
// status page, never JSON.
func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	tok := r.URL.Query().Get("token")
	confirm := r.URL.Query().Get("confirm")

	result, err := s.scheduler.Confirm(r.Context(), tok, confirm)
	if err != nil {
		msg := "This confirmation link is invalid or has expired."
		switch {
		case errors.Is(err, models.ErrCapacity):
			msg = err.Error()
		case errors.Is(err, models.ErrToken), errors.Is(err, models.ErrValidation):
		default:
			log.Printf("api: confirm failed: %v", err)
			msg = "Something went wrong; please contact the office."
		}
		s.redirectStatus(w, r, "error", msg)
		return
	}
	s.redirectStatus(w, r, "success", result.Message)
}

func (s *Server) redirectStatus(w http.ResponseWriter, r *http.Request, status, message string) {
	target := fmt.Sprintf("%s?status=%s&message=%s", s.cfg.ClientStatusURL, status, url.QueryEscape(message))
	http.Redirect(w, r, target, http.StatusFound)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body struct {
		UpdatedJob lifecycle.UpdateJobParams `json:"updatedJob"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	job, err := s.lifecycle.Update(r.Context(), id, body.UpdatedJob)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "job updated", "job": job})
}

func (s *Server) handleReschedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body struct {
		OldDate string `json:"oldDate"`
		NewDate string `json:"newDate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if body.OldDate == "" || body.NewDate == "" {
		writeError(w, http.StatusBadRequest, "oldDate and newDate are required")
		return
	}
	job, err := s.lifecycle.Reschedule(r.Context(), id, body.OldDate, body.NewDate)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "job rescheduled", "job": job})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	date := r.URL.Query().Get("date")

	if date != "" {
		job, err := s.lifecycle.CancelDate(r.Context(), id, date)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"message": "date cancelled", "job": job})
		return
	}

	_, cancelled, err := s.lifecycle.CancelJob(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	days := make([]string, len(cancelled))
	for i, d := range cancelled {
		days[i] = d.ISO()
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "job cancelled", "cancelledDates": days})
}

func (s *Server) handleJobsByDay(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("date")
	day, err := schedule.Normalize(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid date")
		return
	}
	jobs, err := s.store.JobsOnDay(r.Context(), day)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handleJobsByMonth(w http.ResponseWriter, r *http.Request) {
	month, err1 := strconv.Atoi(r.URL.Query().Get("month"))
	year, err2 := strconv.Atoi(r.URL.Query().Get("year"))
	if err1 != nil || err2 != nil || month < 1 || month > 12 {
		writeError(w, http.StatusBadRequest, "month and year are required")
		return
	}
	jobs, err := s.store.JobsInMonth(r.Context(), year, time.Month(month))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handleFullDates(w http.ResponseWriter, r *http.Request) {
	today := schedule.Today(time.Now())
	dates, err := s.store.FullDates(r.Context(), today, s.cfg.DailyJobCap)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	out := make([]string, len(dates))
	for i, d := range dates {
		out[i] = schedule.FromKey(d).ISO()
	}
	writeJSON(w, http.StatusOK, map[string]any{"fullDates": out})
}

func (s *Server) handleCancelledJobs(w http.ResponseWriter, r *http.Request) {
	year, err := strconv.Atoi(r.URL.Query().Get("year"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "year is required")
		return
	}
	jobs, err := s.store.CancelledJobs(r.Context(), year)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

// writeDomainError maps core error categories onto HTTP statuses. Unknown
// errors are logged in full and surface as a generic 500.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrValidation),
		errors.Is(err, models.ErrCapacity),
		errors.Is(err, models.ErrConflict),
		errors.Is(err, models.ErrDuplicateSubmission):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, models.ErrVersionConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		log.Printf("api: internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func clientIP(r *http.Request) string {
	if v := r.Header.Get("X-Forwarded-For"); v != "" {
		if i := strings.IndexByte(v, ','); i >= 0 {
			v = v[:i]
		}
		return strings.TrimSpace(v)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
