package auth

import (
	"errors"
	"net/http"
	"strings"
)

// HeaderAuthToken is the custom header browsers send the account token in.
const HeaderAuthToken = "x-auth-token"

const bearerPrefix = "Bearer "

var (
	// ErrMissingCredential indicates the request carried no token at all.
	ErrMissingCredential = errors.New("auth: credential required")
	// ErrInvalidCredential indicates the token failed validation.
	ErrInvalidCredential = errors.New("auth: invalid credential")
)

// TokenValidator resolves a token string to an account id.
type TokenValidator interface {
	ValidateToken(token string) (string, error)
}

// CredentialReader extracts and validates the account token attached to a request.
type CredentialReader struct {
	validator TokenValidator
}

// NewCredentialReader constructs a reader backed by the provided validator.
func NewCredentialReader(validator TokenValidator) *CredentialReader {
	return &CredentialReader{validator: validator}
}

// ExtractToken returns the raw token from the x-auth-token header, falling back to a
// bearer Authorization header.
func ExtractToken(r *http.Request) (string, error) {
	if r == nil {
		return "", ErrMissingCredential
	}
	if token := strings.TrimSpace(r.Header.Get(HeaderAuthToken)); token != "" {
		return token, nil
	}
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, bearerPrefix) {
		if token := strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix)); token != "" {
			return token, nil
		}
	}
	return "", ErrMissingCredential
}

// ResolveRequest returns the account id of the request's credential. Validation
// errors are joined with ErrInvalidCredential so callers can inspect the cause.
func (r *CredentialReader) ResolveRequest(request *http.Request) (string, error) {
	token, err := ExtractToken(request)
	if err != nil {
		return "", err
	}
	subject, err := r.validator.ValidateToken(token)
	if err != nil {
		return "", errors.Join(ErrInvalidCredential, err)
	}
	return subject, nil
}
