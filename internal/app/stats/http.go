package stats

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// StatisticsResponse is the externally consumed read shape of the
// statistics singleton.
type StatisticsResponse struct {
	TotalTasks int `json:"totalTasks"`
	ByStatus   struct {
		Todo       int `json:"todo"`
		InProgress int `json:"inProgress"`
		Done       int `json:"done"`
	} `json:"byStatus"`
	ByPriority struct {
		Low    int `json:"low"`
		Medium int `json:"medium"`
		High   int `json:"high"`
	} `json:"byPriority"`
	Today struct {
		Created   int `json:"created"`
		Completed int `json:"completed"`
	} `json:"today"`
	LastUpdated string `json:"lastUpdated"`
}

// Handler serves the statistics read API and the recompute-from-scratch
// reset endpoint.
type Handler struct {
	Repo Repository
	Now  func() time.Time
}

func NewHandler(repo Repository) *Handler {
	return &Handler{
		Repo: repo,
		Now:  func() time.Time { return time.Now().UTC() },
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/", h.handleGet)
	r.Post("/reset", h.handleReset)
	return r
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	current, err := h.Repo.Statistics(r.Context())
	if err != nil {
		if errors.Is(err, ErrStatisticsNotFound) {
			h.writeError(w, http.StatusNotFound, "statistics not found")
			return
		}
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, shapeStatistics(current))
}

// handleReset recomputes every counter from the authoritative task store
// and zeroes the daily counters. Intended for test and debug use.
func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	recomputed, err := h.Repo.Recompute(r.Context(), h.Now())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	log.Printf("statistics recomputed from task store: total=%d", recomputed.TotalTasks)
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"message": "statistics reset",
		"data": map[string]int{
			"totalTasks":      recomputed.TotalTasks,
			"todoTasks":       recomputed.TodoTasks,
			"inProgressTasks": recomputed.InProgressTasks,
			"doneTasks":       recomputed.DoneTasks,
		},
	})
}

func shapeStatistics(s Statistics) StatisticsResponse {
	var resp StatisticsResponse
	resp.TotalTasks = s.TotalTasks
	resp.ByStatus.Todo = s.TodoTasks
	resp.ByStatus.InProgress = s.InProgressTasks
	resp.ByStatus.Done = s.DoneTasks
	resp.ByPriority.Low = s.LowPriority
	resp.ByPriority.Medium = s.MediumPriority
	resp.ByPriority.High = s.HighPriority
	resp.Today.Created = s.CreatedToday
	resp.Today.Completed = s.CompletedToday
	resp.LastUpdated = s.LastUpdated.Format(time.RFC3339)
	return resp
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"status": "error", "message": msg})
}
