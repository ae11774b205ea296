package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"microtask-backend/core/marketplace"
	"microtask-backend/middleware/marketplace/middleware"
	"microtask-backend/services"
	storemkt "microtask-backend/storage/marketplace"
)

// TaskHandler handles task lifecycle HTTP endpoints.
type TaskHandler struct {
	store    storemkt.Store
	notifier *services.Notifier
	log      *logrus.Logger
}

// NewTaskHandler creates a new task handler.
func NewTaskHandler(store storemkt.Store, notifier *services.Notifier, log *logrus.Logger) *TaskHandler {
	return &TaskHandler{store: store, notifier: notifier, log: log}
}

// Tasks handles /tasks and /tasks/{id}.
func (h *TaskHandler) Tasks(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/marketplace/tasks")
	path = strings.Trim(path, "/")

	switch r.Method {
	case http.MethodGet:
		if path == "" {
			h.handleListTasks(w, r)
			return
		}
		h.handleGetTask(w, r, path)
	case http.MethodPost:
		if path != "" {
			middleware.Error(w, http.StatusNotFound, "unknown task action")
			return
		}
		h.handleCreateTask(w, r)
	case http.MethodPut:
		if path == "" {
			middleware.Error(w, http.StatusBadRequest, "expected /tasks/{id}")
			return
		}
		h.handleUpdateTask(w, r, path)
	case http.MethodDelete:
		if path == "" {
			middleware.Error(w, http.StatusBadRequest, "expected /tasks/{id}")
			return
		}
		h.handleDeleteTask(w, r, path)
	default:
		middleware.Error(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleListTasks handles GET /tasks. Buyers can scope to their own
// tasks; workers only ever see tasks with open capacity.
func (h *TaskHandler) handleListTasks(w http.ResponseWriter, r *http.Request) {
	acct, _ := middleware.AccountFrom(r.Context())

	filter := marketplace.TaskFilter{}
	if buyerEmail := r.URL.Query().Get("buyerEmail"); buyerEmail == "true" && acct.Role == marketplace.RoleBuyer {
		filter.BuyerEmail = acct.Email
	} else if buyerEmail != "" && buyerEmail != "true" {
		filter.BuyerEmail = buyerEmail
	}
	if acct.Role == marketplace.RoleWorker || r.URL.Query().Get("open") == "true" {
		filter.OpenOnly = true
	}

	tasks, err := h.store.ListTasks(r.Context(), filter)
	if err != nil {
		middleware.Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	if tasks == nil {
		tasks = []marketplace.Task{}
	}
	middleware.JSON(w, http.StatusOK, tasks)
}

// handleGetTask handles GET /tasks/{id}.
func (h *TaskHandler) handleGetTask(w http.ResponseWriter, r *http.Request, taskID string) {
	task, err := h.store.GetTask(r.Context(), taskID)
	if err != nil {
		middleware.DomainError(w, err)
		return
	}
	middleware.JSON(w, http.StatusOK, task)
}

// handleCreateTask handles POST /tasks. Funding is all-or-nothing: on
// insufficient coins no task is created.
func (h *TaskHandler) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	acct, _ := middleware.AccountFrom(r.Context())
	if acct.Role != marketplace.RoleBuyer {
		middleware.Error(w, http.StatusForbidden, "only buyers create tasks")
		return
	}

	var body struct {
		Title          string    `json:"title"`
		Detail         string    `json:"detail"`
		Capacity       int       `json:"capacity"`
		PayableAmount  int64     `json:"payable_amount"`
		Deadline       time.Time `json:"deadline"`
		SubmissionInfo string    `json:"submission_info"`
		ImageURL       string    `json:"image_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		middleware.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	task, err := h.store.CreateTask(r.Context(), acct, marketplace.TaskDraft{
		Title:          body.Title,
		Detail:         body.Detail,
		Capacity:       body.Capacity,
		PayableAmount:  body.PayableAmount,
		Deadline:       body.Deadline,
		SubmissionInfo: body.SubmissionInfo,
		ImageURL:       body.ImageURL,
	})
	if err != nil {
		middleware.DomainError(w, err)
		return
	}

	h.log.WithFields(logrus.Fields{"task": task.ID, "buyer": acct.Email, "escrow": int64(task.Capacity) * task.PayableAmount}).Info("task funded")
	middleware.JSON(w, http.StatusCreated, map[string]interface{}{
		"task_id": task.ID,
		"task":    task,
	})
}

// handleUpdateTask handles PUT /tasks/{id}.
func (h *TaskHandler) handleUpdateTask(w http.ResponseWriter, r *http.Request, taskID string) {
	acct, _ := middleware.AccountFrom(r.Context())
	if acct.Role != marketplace.RoleBuyer {
		middleware.Error(w, http.StatusForbidden, "only buyers edit tasks")
		return
	}

	var update marketplace.TaskUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		middleware.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.store.UpdateTask(r.Context(), acct, taskID, update); err != nil {
		middleware.DomainError(w, err)
		return
	}
	middleware.JSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleDeleteTask handles DELETE /tasks/{id}. The store enforces the
// owner-or-admin rule and refunds the unconsumed escrow to the owner.
func (h *TaskHandler) handleDeleteTask(w http.ResponseWriter, r *http.Request, taskID string) {
	acct, _ := middleware.AccountFrom(r.Context())

	refund, err := h.store.DeleteTask(r.Context(), acct, taskID)
	if err != nil {
		middleware.DomainError(w, err)
		return
	}

	h.log.WithFields(logrus.Fields{"task": taskID, "requester": acct.Email, "refund": refund}).Info("task deleted")
	middleware.JSON(w, http.StatusOK, map[string]interface{}{
		"refunded":      refund > 0,
		"refund_amount": refund,
	})
}
