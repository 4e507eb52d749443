package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/CodeBTHS/app/middleware"
	"github.com/CodeBTHS/app/models"
	"github.com/CodeBTHS/app/services"

	"github.com/gorilla/mux"
)

type TaskHandler struct {
	service *services.TaskService
	timeout time.Duration
}

func NewTaskHandler(service *services.TaskService, timeout time.Duration) *TaskHandler {
	return &TaskHandler{service: service, timeout: timeout}
}

type createTaskRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	BaseID      string `json:"baseId"`
	DueDate     string `json:"dueDate"`
}

type updateTaskRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	// DueDate is absent to keep the due date, null or "" to clear it.
	DueDate json.RawMessage `json:"dueDate"`
}

type assignmentRequest struct {
	TaskID string `json:"taskId"`
	UserID string `json:"userId"`
}

type toggleRequest struct {
	TaskID string `json:"taskId"`
	Value  *bool  `json:"value"`
}

func (h *TaskHandler) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	if h.timeout <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), h.timeout)
}

func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	task, err := h.service.GetTask(ctx, mux.Vars(r)["taskId"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	var req createTaskRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.BaseID == "" {
		writeError(w, r, fmt.Errorf("%w: baseId is required", models.ErrValidation))
		return
	}
	input, err := req.toNewTask()
	if err != nil {
		writeError(w, r, err)
		return
	}
	input.EventID = req.BaseID

	task, err := h.service.CreateTask(ctx, input)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (h *TaskHandler) CreateSubTask(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	var req createTaskRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.BaseID == "" {
		writeError(w, r, fmt.Errorf("%w: baseId is required", models.ErrValidation))
		return
	}
	input, err := req.toNewTask()
	if err != nil {
		writeError(w, r, err)
		return
	}

	parent, err := h.service.CreateSubTask(ctx, req.BaseID, input)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, parent)
}

func (h *TaskHandler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	var req updateTaskRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	patch := models.TaskPatch{Name: req.Name, Description: req.Description}
	if req.DueDate != nil {
		var value *string
		if err := json.Unmarshal(req.DueDate, &value); err != nil {
			writeError(w, r, fmt.Errorf("%w: dueDate must be a string or null", models.ErrValidation))
			return
		}
		if value != nil {
			due, err := parseDueDate(*value)
			if err != nil {
				writeError(w, r, err)
				return
			}
			patch.DueDate = due
		}
		patch.ClearDueDate = patch.DueDate == nil
	}

	task, err := h.service.UpdateTask(ctx, mux.Vars(r)["taskId"], patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *TaskHandler) AssignUser(w http.ResponseWriter, r *http.Request) {
	h.changeAssignment(w, r, h.service.AssignUser)
}

func (h *TaskHandler) UnassignUser(w http.ResponseWriter, r *http.Request) {
	h.changeAssignment(w, r, h.service.UnassignUser)
}

func (h *TaskHandler) changeAssignment(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, taskID, userID string) (*models.Task, error)) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	var req assignmentRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.TaskID == "" || req.UserID == "" {
		writeError(w, r, fmt.Errorf("%w: taskId and userId are required", models.ErrValidation))
		return
	}

	task, err := apply(ctx, req.TaskID, req.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *TaskHandler) GetAssignees(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	users, err := h.service.GetAssignees(ctx, mux.Vars(r)["taskId"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *TaskHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	task, err := h.service.DeleteTask(ctx, mux.Vars(r)["taskId"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *TaskHandler) ToggleTask(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	var req toggleRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.TaskID == "" || req.Value == nil {
		writeError(w, r, fmt.Errorf("%w: taskId and value are required", models.ErrValidation))
		return
	}

	task, err := h.service.ToggleTask(ctx, req.TaskID, *req.Value)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *TaskHandler) GetEventTasks(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	tasks, err := h.service.ListEventTasks(ctx, mux.Vars(r)["eventId"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

// GetAssignedTasks lists the tasks assigned to the authenticated caller.
func (h *TaskHandler) GetAssignedTasks(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	principal, ok := middleware.PrincipalFrom(ctx)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "UNAUTHORIZED", Description: "Not authenticated"})
		return
	}
	tasks, err := h.service.ListAssignedTasks(ctx, principal.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (req createTaskRequest) toNewTask() (models.NewTask, error) {
	due, err := parseDueDate(req.DueDate)
	if err != nil {
		return models.NewTask{}, err
	}
	return models.NewTask{
		Name:        req.Name,
		Description: req.Description,
		DueDate:     due,
	}, nil
}

// parseDueDate accepts RFC 3339 timestamps. An empty string means no due date.
func parseDueDate(value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	due, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, fmt.Errorf("%w: dueDate must be an RFC 3339 timestamp", models.ErrValidation)
	}
	due = due.UTC()
	return &due, nil
}

func decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: malformed JSON body: %v", models.ErrValidation, err)
	}
	return nil
}
