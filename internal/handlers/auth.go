package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/foodior/apiserver/internal/auth"
	"github.com/foodior/apiserver/internal/metrics"
	"github.com/foodior/apiserver/internal/services"
)

// AuthHandler serves sign-up and sign-in.
type AuthHandler struct {
	accounts  *services.UserService
	maxUpload int64
	logger    *slog.Logger
}

// NewAuthHandler constructs an AuthHandler. maxUpload caps how much of the
// avatar file is read from the request.
func NewAuthHandler(accounts *services.UserService, maxUpload int64, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{accounts: accounts, maxUpload: maxUpload, logger: logger}
}

// AuthRouter registers auth routes on the given router. limiter, when set,
// throttles both credential endpoints.
func AuthRouter(
	r chi.Router,
	accounts *services.UserService,
	maxUpload int64,
	logger *slog.Logger,
	limiter func(http.Handler) http.Handler,
) {
	handler := NewAuthHandler(accounts, maxUpload, logger)

	if limiter != nil {
		r = r.With(limiter)
	}
	r.Post("/sign-up", handler.SignUp)
	r.Post("/sign-in", handler.SignIn)
}

// RequireAuth resolves the bearer credential to an identity before the
// wrapped handler runs. Missing and invalid credentials both get 401.
func RequireAuth(tokens *auth.TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := bearerToken(r)
			if err != nil {
				metrics.AuthFailures.WithLabelValues("missing").Inc()
				writeMessage(w, http.StatusUnauthorized, "Unauthenticated")
				return
			}

			identity, err := tokens.Verify(token)
			if err != nil {
				metrics.AuthFailures.WithLabelValues("invalid").Inc()
				writeMessage(w, http.StatusUnauthorized, "Unauthenticated")
				return
			}

			next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), identity)))
		})
	}
}

// SignUp registers an account from a multipart form and returns a token.
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	if err := parseForm(w, r, h.maxUpload); err != nil {
		writeFormError(w, err)
		return
	}

	avatar, err := formFile(r.MultipartForm, "avatar", h.maxUpload)
	if err != nil {
		writeServiceError(w, r, h.logger, uploadFieldError(err, "avatar", services.AvatarTooLarge), "")
		return
	}

	result, err := h.accounts.SignUp(r.Context(), services.SignUpInput{
		Name:            r.FormValue("name"),
		Email:           r.FormValue("email"),
		Password:        r.FormValue("password"),
		ConfirmPassword: r.FormValue("cnfPassword"),
	}, avatar)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "User not found")
		return
	}

	writeJSON(w, http.StatusCreated, SignUpResponse{
		Message:    "Registered successfully",
		Token:      result.Token,
		UserAvatar: result.Avatar,
	})
}

// SignIn checks credentials posted as JSON and returns a token.
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req SignInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.accounts.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "User not found")
		return
	}

	writeJSON(w, http.StatusOK, SignInResponse{
		Message:    "Logged in",
		Token:      result.Token,
		UserAvatar: result.Avatar,
		UserID:     result.UserID.Hex(),
	})
}

type SignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type SignUpResponse struct {
	Message    string `json:"message"`
	Token      string `json:"token"`
	UserAvatar string `json:"userAvatar"`
}

type SignInResponse struct {
	Message    string `json:"message"`
	Token      string `json:"token"`
	UserAvatar string `json:"userAvatar"`
	UserID     string `json:"userId"`
}
