package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"partnerhub/internal/verification/models"
	id "partnerhub/pkg/domain"
	dErrors "partnerhub/pkg/domain-errors"
	"partnerhub/pkg/platform/httputil"
	"partnerhub/pkg/requestcontext"
)

const (
	statusAccepted        = "accepted"
	statusVerified        = "verified"
	statusAlreadyVerified = "already_verified"
)

// Service defines the verification workflow used by the handler.
type Service interface {
	StartSignup(ctx context.Context, req models.SignupRequest) (*models.IssueResult, error)
	Resend(ctx context.Context, email string) (*models.IssueResult, error)
	Verify(ctx context.Context, value, email string) (*models.VerifyResult, error)
	Status(ctx context.Context, subjectID id.SubjectID) (*models.StatusResult, error)
}

// Handler wires affiliate verification endpoints to the workflow service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the public affiliate endpoints.
func (h *Handler) Register(r chi.Router) {
	r.Post("/affiliates/signup", h.HandleSignup)
	r.Post("/affiliates/verification/resend", h.HandleResend)
	r.Get("/affiliates/verify", h.HandleVerify)
}

// RegisterInternal mounts endpoints meant for platform services. The caller
// is responsible for guarding r.
func (h *Handler) RegisterInternal(r chi.Router) {
	r.Get("/affiliates/{subjectID}/verification", h.HandleStatus)
}

// HandleSignup handles POST /affiliates/signup.
func (h *Handler) HandleSignup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[SignupRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	result, err := h.service.StartSignup(ctx, models.SignupRequest{
		Email:       req.Email,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		h.logFailure(ctx, "signup failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, fromIssueResult(result))
}

// HandleResend handles POST /affiliates/verification/resend. Every accepted
// request gets the same 202 body whether or not a mail went out.
func (h *Handler) HandleResend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[ResendRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	if _, err := h.service.Resend(ctx, req.Email); err != nil {
		h.logFailure(ctx, "resend failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, AcceptedResponse{Status: statusAccepted})
}

// HandleVerify handles GET /affiliates/verify?token=&email=.
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	result, err := h.service.Verify(ctx, query.Get("token"), query.Get("email"))
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeTokenConsumed) && result != nil && result.AccountVerified {
			httputil.WriteJSON(w, http.StatusOK, fromVerifyResult(statusAlreadyVerified, result))
			return
		}
		h.logFailure(ctx, "verification failed", err)
		httputil.WriteError(w, externalVerifyError(err))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromVerifyResult(statusVerified, result))
}

// HandleStatus handles GET /affiliates/{subjectID}/verification.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	subjectID, err := id.ParseSubjectID(chi.URLParam(r, "subjectID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	result, err := h.service.Status(ctx, subjectID)
	if err != nil {
		h.logFailure(ctx, "verification status failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromStatusResult(result))
}

// externalVerifyError collapses every user-facing link failure into one
// not_found response so callers cannot tell a stale link from a guessed one.
func externalVerifyError(err error) error {
	de, ok := dErrors.As(err)
	if !ok {
		return err
	}
	switch de.Code {
	case dErrors.CodeNotFound, dErrors.CodeTokenExpired, dErrors.CodeTokenConsumed, dErrors.CodeSubjectMismatch:
		return dErrors.Wrap(err, dErrors.CodeNotFound, de.Message)
	default:
		return err
	}
}

// logFailure logs client errors at warn and everything else at error.
func (h *Handler) logFailure(ctx context.Context, msg string, err error) {
	level := slog.LevelWarn
	if status := httputil.StatusFor(dErrors.CodeOf(err)); status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger.Log(ctx, level, msg,
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
}
