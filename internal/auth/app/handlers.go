package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-webauthn/webauthn/protocol"

	"github.com/wglabs/lifeos/internal/auth/service"
	"github.com/wglabs/lifeos/internal/auth/user"
	apperrors "github.com/wglabs/lifeos/internal/platform/errors"
)

// authService is the slice of the auth domain the HTTP handlers call.
type authService interface {
	Register(ctx context.Context, input service.RegisterInput) (user.User, error)
	Login(ctx context.Context, email, password string, method service.LoginMethod) (service.AuthResult, error)
	BeginWebAuthnRegistration(ctx context.Context, email string) (*protocol.CredentialCreation, error)
	FinishWebAuthnRegistration(ctx context.Context, email string, response []byte) (service.WebAuthnRegistrationResult, error)
	BeginWebAuthnAuthentication(ctx context.Context, email string) (*protocol.CredentialAssertion, error)
	FinishWebAuthnAuthentication(ctx context.Context, email string, response []byte) (service.AuthResult, error)
}

type handlers struct {
	auth authService
}

// RegisterRoutes wires the auth endpoints onto the mux.
func RegisterRoutes(mux *http.ServeMux, auth authService) {
	h := handlers{auth: auth}
	mux.HandleFunc("/healthz", h.handleHealthz)
	mux.HandleFunc("/auth/register", h.handleRegister)
	mux.HandleFunc("/auth/login", h.handleLogin)
	mux.HandleFunc("/webauthn/register/options", h.handleRegistrationOptions)
	mux.HandleFunc("/webauthn/register/verify", h.handleRegistrationVerify)
	mux.HandleFunc("/webauthn/authenticate/options", h.handleAuthenticationOptions)
	mux.HandleFunc("/webauthn/authenticate/verify", h.handleAuthenticationVerify)
}

type userResponse struct {
	ID               string `json:"id"`
	Email            string `json:"email"`
	Role             string `json:"role"`
	BiometricEnabled bool   `json:"biometric_enabled"`
}

func userResponseFromRecord(u user.User) userResponse {
	return userResponse{
		ID:               u.ID,
		Email:            u.Email,
		Role:             u.Role,
		BiometricEnabled: u.BiometricEnabled,
	}
}

func (h handlers) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h handlers) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, apperrors.New(apperrors.CodeInvalidInput, "invalid request body"))
		return
	}

	created, err := h.auth.Register(r.Context(), service.RegisterInput{
		Email:    payload.Email,
		Password: payload.Password,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user": userResponseFromRecord(created)})
}

func (h handlers) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Method   string `json:"method"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, apperrors.New(apperrors.CodeInvalidInput, "invalid request body"))
		return
	}

	result, err := h.auth.Login(r.Context(), payload.Email, payload.Password, service.LoginMethod(payload.Method))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token": result.Token,
		"user": userResponse{
			ID:               result.User.UserID,
			Email:            result.User.Email,
			Role:             result.User.Role,
			BiometricEnabled: result.User.BiometricEnabled,
		},
	})
}

func (h handlers) handleRegistrationOptions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var payload struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, apperrors.New(apperrors.CodeInvalidInput, "invalid request body"))
		return
	}

	creation, err := h.auth.BeginWebAuthnRegistration(r.Context(), payload.Email)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, creation)
}

func (h handlers) handleRegistrationVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var payload struct {
		Email    string          `json:"email"`
		Response json.RawMessage `json:"response"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, apperrors.New(apperrors.CodeInvalidInput, "invalid request body"))
		return
	}

	result, err := h.auth.FinishWebAuthnRegistration(r.Context(), payload.Email, payload.Response)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"verified":      true,
		"credential_id": result.CredentialID,
		"user":          userResponseFromRecord(result.User),
	})
}

func (h handlers) handleAuthenticationOptions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var payload struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, apperrors.New(apperrors.CodeInvalidInput, "invalid request body"))
		return
	}

	assertion, err := h.auth.BeginWebAuthnAuthentication(r.Context(), payload.Email)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, assertion)
}

func (h handlers) handleAuthenticationVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var payload struct {
		Email    string          `json:"email"`
		Response json.RawMessage `json:"response"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, apperrors.New(apperrors.CodeInvalidInput, "invalid request body"))
		return
	}

	result, err := h.auth.FinishWebAuthnAuthentication(r.Context(), payload.Email, payload.Response)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"verified": true,
		"token":    result.Token,
		"user": userResponse{
			ID:               result.User.UserID,
			Email:            result.User.Email,
			Role:             result.User.Role,
			BiometricEnabled: result.User.BiometricEnabled,
		},
	})
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
}

// writeJSON writes JSON responses with a consistent content type.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode response: %v", err)
	}
}

// writeError maps a domain error to an HTTP status and a JSON body. Unknown
// errors are logged and surfaced as a bare 500 so internals never leak.
func writeError(w http.ResponseWriter, err error) {
	var domainErr *apperrors.Error
	if !errors.As(err, &domainErr) {
		log.Printf("internal error: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
		return
	}

	body := map[string]any{"error": domainErr.Message}
	if len(domainErr.Metadata) > 0 {
		body["details"] = domainErr.Metadata
	}
	writeJSON(w, domainErr.Code.HTTPStatus(), body)
}
