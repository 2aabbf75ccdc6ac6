package offboardinghandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"hrportal/internal/domain/audit"
	"hrportal/internal/domain/auth"
	"hrportal/internal/domain/offboarding"
	"hrportal/internal/requestctx"
	"hrportal/internal/transport/http/api"
	"hrportal/internal/transport/http/middleware"
	"hrportal/internal/transport/http/shared"
)

type Orchestrator interface {
	DeleteEmployee(ctx context.Context, userID, requestedBy string) (offboarding.Report, error)
	Remaining(ctx context.Context, userID string) (map[string]int64, bool, error)
	Runs(ctx context.Context, limit, offset int) ([]offboarding.Run, error)
	Run(ctx context.Context, runID string) (offboarding.Run, error)
}

type Handler struct {
	Service Orchestrator
	Roles   middleware.RoleStore
	Audit   audit.Recorder
}

func NewHandler(service Orchestrator, roles middleware.RoleStore, recorder audit.Recorder) *Handler {
	return &Handler{Service: service, Roles: roles, Audit: recorder}
}

type deleteUserRequest struct {
	UserID string `json:"user_id" validate:"required,uuid"`
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/admin", func(r chi.Router) {
		r.Use(middleware.RequireAnyRole(h.Roles, auth.PrivilegedRoles...))
		r.Post("/delete-user", h.handleDeleteUser)
		r.Get("/users/{userID}/remaining", h.handleRemaining)
		r.Get("/deletion-runs", h.handleListRuns)
		r.Get("/deletion-runs/{runID}", h.handleGetRun)
		r.Get("/deletion-runs/{runID}/certificate", h.handleCertificate)
	})
}

func (h *Handler) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	var payload deleteUserRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		api.Operation(w, http.StatusBadRequest, api.OperationResult{Error: "invalid request payload", Code: "invalid_payload", RequestID: requestID})
		return
	}
	payload.UserID = strings.TrimSpace(payload.UserID)
	if issues := shared.Validate(&payload); len(issues) > 0 {
		api.Operation(w, http.StatusBadRequest, api.OperationResult{
			Error:     issues[0].Field + " " + issues[0].Reason,
			Code:      "validation_error",
			RequestID: requestID,
		})
		return
	}

	actor, _ := middleware.GetUser(r.Context())
	report, err := h.Service.DeleteEmployee(r.Context(), payload.UserID, actor.UserID)
	h.record(r, actor.UserID, payload.UserID, report, err)

	if err != nil {
		h.writeDeleteError(w, r, report, err)
		return
	}
	api.Operation(w, http.StatusOK, api.OperationResult{
		Success:   true,
		Message:   fmt.Sprintf("user %s deleted", payload.UserID),
		Data:      report,
		RequestID: requestID,
	})
}

func (h *Handler) writeDeleteError(w http.ResponseWriter, r *http.Request, report offboarding.Report, err error) {
	result := api.OperationResult{RequestID: middleware.GetRequestID(r.Context()), Data: report}

	var depErr *offboarding.DependentDeletionError
	var idErr *offboarding.IdentityDeletionError
	switch {
	case errors.Is(err, offboarding.ErrInvalidUserID):
		result.Error = "user_id must be a valid uuid"
		result.Code = "validation_error"
		result.Data = nil
		api.Operation(w, http.StatusBadRequest, result)
		return
	case errors.As(err, &depErr):
		result.Error = fmt.Sprintf("%s: %v", depErr.Table, depErr.Err)
		result.Code = "dependent_deletion_failed"
		result.Table = depErr.Table
	case errors.As(err, &idErr):
		result.Error = fmt.Sprintf("identity: %v", idErr.Err)
		result.Code = "identity_deletion_failed"
		result.Severity = "critical"
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("employee deletion failed")
		result.Error = "deletion failed"
		result.Code = "deletion_failed"
	}
	api.Operation(w, http.StatusInternalServerError, result)
}

func (h *Handler) record(r *http.Request, actorID, userID string, report offboarding.Report, cause error) {
	if h.Audit == nil || errors.Is(cause, offboarding.ErrInvalidUserID) {
		return
	}
	after := map[string]any{
		"runId":        report.RunID,
		"status":       report.Status,
		"totalDeleted": report.TotalDeleted,
	}
	if cause != nil {
		after["failedStep"] = offboarding.FailedStep(cause)
	}
	err := h.Audit.Record(context.WithoutCancel(r.Context()), audit.Entry{
		ActorID:    actorID,
		Action:     audit.ActionEmployeeDelete,
		EntityType: "employee",
		EntityID:   userID,
		RequestID:  middleware.GetRequestID(r.Context()),
		IP:         requestctx.ClientIP(r),
		After:      after,
	})
	if err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Str("user_id", userID).Msg("audit record failed")
	}
}

func (h *Handler) handleRemaining(w http.ResponseWriter, r *http.Request) {
	remaining, identity, err := h.Service.Remaining(r.Context(), chi.URLParam(r, "userID"))
	if errors.Is(err, offboarding.ErrInvalidUserID) {
		api.Fail(w, http.StatusBadRequest, "validation_error", "userID must be a valid uuid", middleware.GetRequestID(r.Context()))
		return
	}
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("remaining rows lookup failed")
		api.Fail(w, http.StatusInternalServerError, "remaining_failed", "failed to count remaining rows", middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, map[string]any{
		"remaining":      remaining,
		"identityExists": identity,
		"clean":          len(remaining) == 0 && !identity,
	}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	page := shared.ParsePagination(r, 50, 200)
	runs, err := h.Service.Runs(r.Context(), page.Limit, page.Offset)
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("deletion run list failed")
		api.Fail(w, http.StatusInternalServerError, "run_list_failed", "failed to list deletion runs", middleware.GetRequestID(r.Context()))
		return
	}
	if runs == nil {
		runs = []offboarding.Run{}
	}
	api.Success(w, runs, middleware.GetRequestID(r.Context()))
}

func (h *Handler) loadRun(w http.ResponseWriter, r *http.Request) (offboarding.Run, bool) {
	run, err := h.Service.Run(r.Context(), chi.URLParam(r, "runID"))
	if errors.Is(err, offboarding.ErrRunNotFound) {
		api.Fail(w, http.StatusNotFound, "not_found", "deletion run not found", middleware.GetRequestID(r.Context()))
		return offboarding.Run{}, false
	}
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("deletion run lookup failed")
		api.Fail(w, http.StatusInternalServerError, "run_lookup_failed", "failed to load deletion run", middleware.GetRequestID(r.Context()))
		return offboarding.Run{}, false
	}
	return run, true
}

func (h *Handler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := h.loadRun(w, r)
	if !ok {
		return
	}
	api.Success(w, run, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleCertificate(w http.ResponseWriter, r *http.Request) {
	run, ok := h.loadRun(w, r)
	if !ok {
		return
	}
	if run.Status != offboarding.StatusCompleted {
		api.Fail(w, http.StatusConflict, "run_incomplete", "certificate is only issued for completed runs", middleware.GetRequestID(r.Context()))
		return
	}
	pdf, err := offboarding.Certificate(run)
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("run_id", run.ID).Msg("certificate render failed")
		api.Fail(w, http.StatusInternalServerError, "certificate_failed", "failed to render certificate", middleware.GetRequestID(r.Context()))
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=erasure-%s.pdf", run.ID))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(pdf); err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("certificate write failed")
	}
}
