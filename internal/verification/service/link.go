package service

import (
	"net/url"

	dErrors "partnerhub/pkg/domain-errors"
)

// BuildVerifyURL appends token and email to base as query parameters.
func BuildVerifyURL(base, token, email string) (string, error) {
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", dErrors.New(dErrors.CodeInvariantViolation, "verification base url must be absolute")
	}
	q := u.Query()
	q.Set("token", token)
	q.Set("email", email)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
