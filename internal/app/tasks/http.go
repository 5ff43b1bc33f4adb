package tasks

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/taskboard/service/internal/contracts"
)

// Handler serves the task CRUD API.
type Handler struct {
	Service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{Service: service}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/", h.handleList)
	r.Post("/", h.handleCreate)
	r.Get("/{id}", h.handleGet)
	r.Put("/{id}", h.handleUpdate)
	r.Patch("/{id}/status", h.handleUpdateStatus)
	r.Delete("/{id}", h.handleDelete)
	return r
}

type createTaskBody struct {
	Title       string  `json:"title"`
	Description *string `json:"description"`
	Priority    string  `json:"priority"`
	DueDate     *string `json:"dueDate"`
}

type updateTaskBody struct {
	Title       *string         `json:"title"`
	Description *string         `json:"description"`
	Priority    *string         `json:"priority"`
	DueDate     json.RawMessage `json:"dueDate"`
}

type updateStatusBody struct {
	Status string `json:"status"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var body createTaskBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	task, err := h.Service.Create(r.Context(), CreateTaskRequest{
		Title:       body.Title,
		Description: body.Description,
		Priority:    body.Priority,
		DueDate:     body.DueDate,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]any{
		"status":  "success",
		"data":    map[string]any{"task": task},
		"message": "task created",
	})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{
		Status:    q.Get("status"),
		Priority:  q.Get("priority"),
		Search:    q.Get("search"),
		SortBy:    q.Get("sortBy"),
		SortOrder: q.Get("sortOrder"),
		Page:      queryInt(q.Get("page"), 1),
		Limit:     queryInt(q.Get("limit"), 10),
	}
	if filter.Status != "" && !contracts.ValidStatus(filter.Status) {
		h.writeError(w, http.StatusBadRequest, "invalid status filter")
		return
	}
	if filter.Priority != "" && !contracts.ValidPriority(filter.Priority) {
		h.writeError(w, http.StatusBadRequest, "invalid priority filter")
		return
	}

	result, total, err := h.Service.List(r.Context(), filter)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	totalPages := (total + limit - 1) / limit
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"data": map[string]any{
			"tasks": result,
			"pagination": map[string]int{
				"total":      total,
				"page":       filter.Page,
				"limit":      limit,
				"totalPages": totalPages,
			},
		},
	})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	task, err := h.Service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"data":   map[string]any{"task": task},
	})
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var body updateTaskBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	req := UpdateTaskRequest{
		Title:       body.Title,
		Description: body.Description,
		Priority:    body.Priority,
	}
	// An explicit JSON null clears the due date; an absent field leaves it.
	if len(body.DueDate) > 0 {
		if string(body.DueDate) == "null" {
			req.ClearDueDate = true
		} else {
			var raw string
			if err := json.Unmarshal(body.DueDate, &raw); err != nil {
				h.writeError(w, http.StatusBadRequest, ErrInvalidDueDate.Error())
				return
			}
			req.DueDate = &raw
		}
	}

	task, err := h.Service.Update(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"data":    map[string]any{"task": task},
		"message": "task updated",
	})
}

func (h *Handler) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var body updateStatusBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	task, err := h.Service.UpdateStatus(r.Context(), chi.URLParam(r, "id"), body.Status)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"data":    map[string]any{"task": task},
		"message": "task status updated",
	})
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"message": "task deleted",
	})
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrTaskNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrTitleRequired),
		errors.Is(err, ErrTitleTooLong),
		errors.Is(err, ErrDescriptionTooLong),
		errors.Is(err, ErrInvalidStatus),
		errors.Is(err, ErrInvalidPriority),
		errors.Is(err, ErrInvalidDueDate):
		h.writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"status": "error", "message": msg})
}

func queryInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
