package httptransport

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"checkline/internal/accounts"
	"checkline/internal/checklist"
	"checkline/internal/compliance/models"
	"checkline/internal/livecache"
	dErrors "checkline/pkg/domain-errors"
	"checkline/pkg/platform/httputil"
	"checkline/pkg/platform/middleware/metadata"
	"checkline/pkg/requestcontext"
)

func (h *Handler) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadiness is 200 only while every open subscription is LIVE.
func (h *Handler) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	ready := true
	report := make(map[string]map[string]string)
	for collection, states := range h.health.Health() {
		report[collection] = make(map[string]string, len(states))
		for key, state := range states {
			report[collection][key] = state.String()
			if state != livecache.StateLive {
				ready = false
			}
		}
	}
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, status, map[string]any{"ready": ready, "subscriptions": report})
}

func (h *Handler) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, "sign in", err)
		return
	}
	ctx := r.Context()
	address := strings.TrimSpace(req.Email)
	ip := metadata.ClientIP(ctx)

	if err := h.checkLockout(r, address, ip); err != nil {
		var locked retryAfter
		if errors.As(err, &locked) {
			w.Header().Set("Retry-After", strconv.Itoa(locked.RetryAfter()))
		}
		h.fail(w, r, "sign in", err)
		return
	}

	c, err := h.sessions.SignIn(ctx, address, req.Password)
	if err != nil {
		if h.limiter != nil && dErrors.HasCode(err, dErrors.CodeAuth) {
			if lerr := h.limiter.RecordFailure(ctx, address, ip); lerr != nil {
				h.logger.WarnContext(ctx, "failed to record sign-in failure", "error", lerr)
			}
		}
		h.fail(w, r, "sign in", err)
		return
	}
	if h.limiter != nil {
		if lerr := h.limiter.Clear(ctx, address, ip); lerr != nil {
			h.logger.WarnContext(ctx, "failed to clear sign-in failures", "error", lerr)
		}
	}
	httputil.WriteJSON(w, http.StatusOK, signInResponse{
		Token: c.Identity.Token,
		User:  toUserResponse(*c.Profile),
	})
}

type retryAfter interface {
	RetryAfter() int
}

// checkLockout fails open when the limiter itself errors.
func (h *Handler) checkLockout(r *http.Request, address, ip string) error {
	if h.limiter == nil {
		return nil
	}
	err := h.limiter.Check(r.Context(), address, ip)
	if err == nil || dErrors.HasCode(err, dErrors.CodeRateLimited) {
		return err
	}
	h.logger.WarnContext(r.Context(), "sign-in lockout check failed", "error", err)
	return nil
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	httputil.WriteJSON(w, http.StatusOK, userResponse{
		ID:     p.UserID,
		Name:   p.Name,
		Email:  p.Email,
		Role:   models.Role(p.Role),
		Active: true,
	})
}

func (h *Handler) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	unreadOnly := r.URL.Query().Get("unread") == "true"
	notes, err := h.inbox.List(r.Context(), principal(r).UserID, unreadOnly)
	if err != nil {
		h.fail(w, r, "list notifications", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toNotificationResponses(notes))
}

func (h *Handler) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.inbox.UnreadCount(r.Context(), principal(r).UserID)
	if err != nil {
		h.fail(w, r, "count unread", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]int{"unread": n})
}

func (h *Handler) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	if err := h.inbox.MarkRead(r.Context(), principal(r).UserID, chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, "mark read", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.inbox.MarkAllRead(r.Context(), principal(r).UserID)
	if err != nil {
		h.fail(w, r, "mark all read", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]int{"marked": n})
}

// handleSubmitChecklist answers 201 even when some notifications could not
// be written; the failed recipients are listed in the body.
func (h *Handler) handleSubmitChecklist(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, "submit checklist", err)
		return
	}
	sub := checklist.Submission{
		TemplateID:   req.TemplateID,
		UnitID:       req.UnitID,
		TechnicianID: principal(r).UserID,
		Results:      make([]models.ChecklistResult, len(req.Results)),
	}
	for i, res := range req.Results {
		sub.Results[i] = models.ChecklistResult{ItemID: res.ItemID, Status: res.Status, Observation: res.Observation}
	}

	out, err := h.checklists.Submit(r.Context(), sub)
	if err != nil {
		h.fail(w, r, "submit checklist", err)
		return
	}
	resp := submitResponse{
		Checklist:        toChecklistResponse(out.Checklist),
		Notified:         make([]string, 0, len(out.Fanout.Created)),
		FailedRecipients: out.Fanout.Failed,
	}
	for _, n := range out.Fanout.Created {
		resp.Notified = append(resp.Notified, n.UserID)
	}
	httputil.WriteJSON(w, http.StatusCreated, resp)
}

func (h *Handler) handleValidateChecklist(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, "validate checklist", err)
		return
	}
	c, err := h.checklists.Validate(r.Context(), chi.URLParam(r, "id"), principal(r).UserID, req.Comment)
	if err != nil {
		h.fail(w, r, "validate checklist", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toChecklistResponse(c))
}

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, "create user", err)
		return
	}
	u, err := h.accounts.CreateUser(r.Context(), accounts.NewUser{
		Name:      req.Name,
		Email:     req.Email,
		Password:  req.Password,
		Role:      req.Role,
		ManagerID: req.ManagerID,
	})
	if err != nil {
		h.fail(w, r, "create user", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toUserResponse(u))
}

func (h *Handler) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	body, err := decodePatch(r, "name", "email", "role", "managerId", "active")
	if err != nil {
		h.fail(w, r, "update user", err)
		return
	}
	patch, err := userPatchFrom(body)
	if err != nil {
		h.fail(w, r, "update user", err)
		return
	}
	u, err := h.accounts.UpdateUser(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		h.fail(w, r, "update user", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toUserResponse(u))
}

func (h *Handler) handleDeactivateUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == principal(r).UserID {
		h.fail(w, r, "deactivate user", dErrors.New(dErrors.CodeValidation, "you cannot deactivate yourself"))
		return
	}
	if err := h.accounts.DeactivateUser(r.Context(), id); err != nil {
		h.fail(w, r, "deactivate user", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == principal(r).UserID {
		h.fail(w, r, "delete user", dErrors.New(dErrors.CodeValidation, "you cannot delete yourself"))
		return
	}
	if err := h.accounts.DeleteUser(r.Context(), id); err != nil {
		h.fail(w, r, "delete user", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, "reset password", err)
		return
	}
	if err := h.accounts.ResetPassword(r.Context(), chi.URLParam(r, "id"), req.Password); err != nil {
		h.fail(w, r, "reset password", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) handleCreateUnit(w http.ResponseWriter, r *http.Request) {
	var req unitRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, "create unit", err)
		return
	}
	u, err := h.accounts.CreateUnit(r.Context(), models.Unit{Name: req.Name, ManagerID: req.ManagerID})
	if err != nil {
		h.fail(w, r, "create unit", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, unitResponse{ID: u.ID, Name: u.Name, ManagerID: u.ManagerID, Active: u.IsActive()})
}

func (h *Handler) handleUpdateUnit(w http.ResponseWriter, r *http.Request) {
	body, err := decodePatch(r, "name", "managerId", "active")
	if err != nil {
		h.fail(w, r, "update unit", err)
		return
	}
	patch, err := unitPatchFrom(body)
	if err != nil {
		h.fail(w, r, "update unit", err)
		return
	}
	if err := h.accounts.UpdateUnit(r.Context(), chi.URLParam(r, "id"), patch); err != nil {
		h.fail(w, r, "update unit", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	h.saveTemplate(w, r, "", http.StatusCreated)
}

func (h *Handler) handleReplaceTemplate(w http.ResponseWriter, r *http.Request) {
	h.saveTemplate(w, r, chi.URLParam(r, "id"), http.StatusOK)
}

func (h *Handler) saveTemplate(w http.ResponseWriter, r *http.Request, id string, status int) {
	var req templateRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, "save template", err)
		return
	}
	t, err := h.accounts.SaveTemplate(r.Context(), req.toModel(id))
	if err != nil {
		h.fail(w, r, "save template", err)
		return
	}
	httputil.WriteJSON(w, status, toTemplateResponse(t))
}

// fail logs and writes err. Caller mistakes log at WARN, the rest at ERROR.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	ctx := r.Context()
	attrs := []any{
		"op", op,
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	}
	switch dErrors.CodeOf(err) {
	case dErrors.CodeInternal, dErrors.CodeNetwork:
		h.logger.ErrorContext(ctx, "request failed", attrs...)
	default:
		h.logger.WarnContext(ctx, "request rejected", attrs...)
	}
	httputil.WriteError(w, err)
}
