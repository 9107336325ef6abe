package handler

import (
	"strings"
	"time"

	"partnerhub/internal/verification/models"
	dErrors "partnerhub/pkg/domain-errors"
)

// SignupRequest is the body of POST /affiliates/signup.
type SignupRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

// Validate implements httputil.Validatable. Address syntax is checked by the
// service so both entry points share one rule.
func (r *SignupRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.Email = strings.TrimSpace(r.Email)
	if r.Email == "" {
		return dErrors.New(dErrors.CodeValidation, "email is required")
	}
	r.DisplayName = strings.TrimSpace(r.DisplayName)
	return nil
}

// ResendRequest is the body of POST /affiliates/verification/resend.
type ResendRequest struct {
	Email string `json:"email"`
}

func (r *ResendRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.Email = strings.TrimSpace(r.Email)
	if r.Email == "" {
		return dErrors.New(dErrors.CodeValidation, "email is required")
	}
	return nil
}

type SignupResponse struct {
	SubjectID string    `json:"subject_id"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
	MailSent  bool      `json:"mail_sent"`
}

// AcceptedResponse is the only body resend ever returns on success.
type AcceptedResponse struct {
	Status string `json:"status"`
}

type VerifyResponse struct {
	Status     string     `json:"status"`
	SubjectID  string     `json:"subject_id"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`
}

type StatusResponse struct {
	SubjectID      string     `json:"subject_id"`
	State          string     `json:"state"`
	TokenExpiresAt *time.Time `json:"token_expires_at,omitempty"`
}

func fromIssueResult(result *models.IssueResult) SignupResponse {
	return SignupResponse{
		SubjectID: result.SubjectID.String(),
		Email:     result.Email,
		ExpiresAt: result.ExpiresAt,
		MailSent:  result.MailSent,
	}
}

func fromVerifyResult(status string, result *models.VerifyResult) VerifyResponse {
	resp := VerifyResponse{Status: status, SubjectID: result.SubjectID.String()}
	if !result.VerifiedAt.IsZero() {
		verifiedAt := result.VerifiedAt
		resp.VerifiedAt = &verifiedAt
	}
	return resp
}

func fromStatusResult(result *models.StatusResult) StatusResponse {
	return StatusResponse{
		SubjectID:      result.SubjectID.String(),
		State:          result.State.String(),
		TokenExpiresAt: result.TokenExpiresAt,
	}
}
