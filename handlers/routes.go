package handlers

import (
	"net/http"

	"github.com/CodeBTHS/app/logging"
	"github.com/CodeBTHS/app/middleware"

	"github.com/gorilla/mux"
)

// NewRouter wires the task routes behind the access gate. Fixed paths are
// registered before the {taskId} routes so they take precedence.
func NewRouter(h *TaskHandler, tokens *middleware.TokenManager, allowedRoles []string) *mux.Router {
	r := mux.NewRouter()
	r.Use(logging.RequestLogger)

	authenticated := middleware.Authenticate(tokens)
	privileged := func(f http.HandlerFunc) http.Handler {
		return authenticated(middleware.RequireRoles(allowedRoles...)(f))
	}

	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	r.Handle("/api/tasks", privileged(h.CreateTask)).Methods(http.MethodPost)
	r.Handle("/api/tasks/", privileged(h.CreateTask)).Methods(http.MethodPost)
	r.Handle("/api/tasks/sub-task", privileged(h.CreateSubTask)).Methods(http.MethodPost)
	r.Handle("/api/tasks/assign", privileged(h.AssignUser)).Methods(http.MethodPatch)
	r.Handle("/api/tasks/unassign", privileged(h.UnassignUser)).Methods(http.MethodPatch)
	r.Handle("/api/tasks/toggle", privileged(h.ToggleTask)).Methods(http.MethodPatch)
	r.Handle("/api/tasks/assigned", authenticated(http.HandlerFunc(h.GetAssignedTasks))).Methods(http.MethodGet)
	r.Handle("/api/tasks/assignees/{taskId}", privileged(h.GetAssignees)).Methods(http.MethodGet)
	r.Handle("/api/tasks/event/{eventId}", privileged(h.GetEventTasks)).Methods(http.MethodGet)
	r.Handle("/api/tasks/{taskId}", privileged(h.GetTask)).Methods(http.MethodGet)
	r.Handle("/api/tasks/{taskId}", privileged(h.UpdateTask)).Methods(http.MethodPatch)
	r.Handle("/api/tasks/{taskId}", privileged(h.DeleteTask)).Methods(http.MethodDelete)

	return r
}
