package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/marcus/offtask/internal/models"
)

type createTaskRequest struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Completed   bool       `json:"completed"`
	Priority    string     `json:"priority"`
	Category    string     `json:"category"`
	DueDate     string     `json:"dueDate"`
	CreatedAt   *time.Time `json:"createdAt"`
	UpdatedAt   *time.Time `json:"updatedAt"`
}

type updateTaskRequest struct {
	Title       *string    `json:"title"`
	Description *string    `json:"description"`
	Completed   *bool      `json:"completed"`
	Priority    *string    `json:"priority"`
	Category    *string    `json:"category"`
	DueDate     *string    `json:"dueDate"`
	UpdatedAt   *time.Time `json:"updatedAt"`
}

// decodeBody decodes the JSON request body into v, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large", err.Error())
			return false
		}
		writeError(w, http.StatusBadRequest, "Invalid JSON body", err.Error())
		return false
	}
	return true
}

func writeValidation(w http.ResponseWriter, err error) {
	writeError(w, http.StatusBadRequest, "Validation failed", err.Error())
}

func writeNotFound(w http.ResponseWriter, id string) {
	writeError(w, http.StatusNotFound, "Task not found", "no task with id "+id)
}

func filtersFromQuery(r *http.Request) (models.TaskFilters, error) {
	q := r.URL.Query()
	var f models.TaskFilters
	if v := q.Get("completed"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, &models.ValidationError{Field: "completed", Message: "must be true or false"}
		}
		f.Completed = &b
	}
	if v := q.Get("priority"); v != "" {
		p, err := models.ParsePriority(v)
		if err != nil {
			return f, err
		}
		f.Priority = p
	}
	f.Category = q.Get("category")
	f.Search = q.Get("search")
	return f, nil
}

// handleListTasks handles GET /api/tasks.
func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	f, err := filtersFromQuery(r)
	if err != nil {
		writeValidation(w, err)
		return
	}
	s.metrics.RecordList()
	tasks := s.store.List(f)
	total := len(tasks)
	writeJSON(w, http.StatusOK, Response{Success: true, Data: tasks, Total: &total})
}

// handleGetTask handles GET /api/tasks/{id}.
func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	t, ok := s.store.Get(id)
	if !ok {
		writeNotFound(w, id)
		return
	}
	writeData(w, http.StatusOK, t)
}

// handleCreateTask handles POST /api/tasks. A create carrying an id that
// already exists is treated as a replay and answered with the stored task.
func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := models.ValidateTitle(req.Title); err != nil {
		writeValidation(w, err)
		return
	}
	priority, err := models.ParsePriority(req.Priority)
	if err != nil {
		writeValidation(w, err)
		return
	}
	due, err := models.ParseDueDate(req.DueDate)
	if err != nil {
		writeValidation(w, err)
		return
	}
	category := req.Category
	if category == "" {
		category = models.DefaultCategory
	}

	t := models.Task{
		ID:          req.ID,
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		Completed:   req.Completed,
		Priority:    priority,
		Category:    category,
		DueDate:     due,
	}
	if req.CreatedAt != nil {
		t.CreatedAt = *req.CreatedAt
	}
	if req.UpdatedAt != nil {
		t.UpdatedAt = *req.UpdatedAt
	}

	stored, created := s.store.Create(t)
	if !created {
		s.metrics.RecordReplay()
		logFor(r.Context()).Info("create replay", "id", stored.ID)
		writeData(w, http.StatusOK, stored)
		return
	}
	s.metrics.RecordCreate()
	writeData(w, http.StatusCreated, stored)
}

// handleUpdateTask handles PUT /api/tasks/{id}.
func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req updateTaskRequest
	if !decodeBody(w, r, &req) {
		return
	}

	patch := models.TaskPatch{
		Title:       req.Title,
		Description: req.Description,
		Completed:   req.Completed,
		Category:    req.Category,
	}
	if req.Priority != nil {
		p, err := models.ParsePriority(*req.Priority)
		if err != nil {
			writeValidation(w, err)
			return
		}
		patch.Priority = &p
	}
	if req.DueDate != nil {
		if *req.DueDate == "" {
			patch.ClearDueDate = true
		} else {
			patch.DueDate = req.DueDate
		}
	}
	if err := models.ValidatePatch(patch); err != nil {
		writeValidation(w, err)
		return
	}

	t, ok := s.store.Update(id, patch, req.UpdatedAt)
	if !ok {
		writeNotFound(w, id)
		return
	}
	s.metrics.RecordUpdate()
	writeData(w, http.StatusOK, t)
}

// handleToggleTask handles PATCH /api/tasks/{id}/toggle.
func (s *Server) handleToggleTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	t, ok := s.store.Toggle(id)
	if !ok {
		writeNotFound(w, id)
		return
	}
	s.metrics.RecordUpdate()
	writeData(w, http.StatusOK, t)
}

// handleDeleteTask handles DELETE /api/tasks/{id}.
func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	t, ok := s.store.Delete(id)
	if !ok {
		writeNotFound(w, id)
		return
	}
	s.metrics.RecordDelete()
	writeData(w, http.StatusOK, t)
}

// handleStats handles GET /api/stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, s.store.Stats())
}
