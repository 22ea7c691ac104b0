package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/foodior/apiserver/internal/services"
)

const userNotFound = "User not found"

// UserHandler serves profile reads, profile edits and follow toggles.
type UserHandler struct {
	accounts  *services.UserService
	relations *services.RelationService
	maxUpload int64
	logger    *slog.Logger
}

// NewUserHandler constructs a UserHandler.
func NewUserHandler(accounts *services.UserService, relations *services.RelationService, maxUpload int64, logger *slog.Logger) *UserHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &UserHandler{accounts: accounts, relations: relations, maxUpload: maxUpload, logger: logger}
}

// UserRouter registers user routes on the given router. Only the creator
// profile is public.
func UserRouter(
	r chi.Router,
	accounts *services.UserService,
	relations *services.RelationService,
	authMiddleware func(http.Handler) http.Handler,
	maxUpload int64,
	logger *slog.Logger,
) {
	handler := NewUserHandler(accounts, relations, maxUpload, logger)

	r.Get("/creator-profile/{userID}", handler.CreatorProfile)

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Get("/profile", handler.Profile)
		r.Put("/update-avatar", handler.UpdateAvatar)
		r.Put("/update-user", handler.UpdateUser)
		r.Get("/liked-recipes", handler.LikedRecipes)
		r.Get("/follow-unfollow/{userID}", handler.ToggleFollow)
	})
}

func (h *UserHandler) Profile(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFromContext(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "Unauthenticated")
		return
	}

	profile, err := h.accounts.Profile(r.Context(), identity.UserID)
	if err != nil {
		writeServiceError(w, r, h.logger, err, userNotFound)
		return
	}
	writeJSON(w, http.StatusOK, DataResponse{Message: "User data", Data: profile})
}

func (h *UserHandler) CreatorProfile(w http.ResponseWriter, r *http.Request) {
	id, err := parseObjectID(r, "userID")
	if err != nil {
		writeMessage(w, http.StatusNotFound, userNotFound)
		return
	}

	profile, err := h.accounts.CreatorProfile(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err, userNotFound)
		return
	}
	writeJSON(w, http.StatusOK, DataResponse{Message: "Creator profile", Data: profile})
}

func (h *UserHandler) UpdateAvatar(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFromContext(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "Unauthenticated")
		return
	}
	if err := parseForm(w, r, h.maxUpload); err != nil {
		writeFormError(w, err)
		return
	}

	avatar, err := formFile(r.MultipartForm, "avatar", h.maxUpload)
	if err != nil {
		writeServiceError(w, r, h.logger, uploadFieldError(err, "avatar", services.AvatarTooLarge), userNotFound)
		return
	}

	url, err := h.accounts.UpdateAvatar(r.Context(), identity.UserID, avatar)
	if err != nil {
		writeServiceError(w, r, h.logger, err, userNotFound)
		return
	}
	writeJSON(w, http.StatusOK, AvatarResponse{Message: "Avatar updated successfully", NewAvatarURL: url})
}

// UpdateUser accepts the profile fields as JSON or as a form.
func (h *UserHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFromContext(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "Unauthenticated")
		return
	}

	var req UpdateUserRequest
	if isJSON(r) {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeMessage(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	} else {
		if err := parseForm(w, r, h.maxUpload); err != nil {
			writeFormError(w, err)
			return
		}
		req = UpdateUserRequest{
			Name:            r.FormValue("name"),
			Email:           r.FormValue("email"),
			Password:        r.FormValue("password"),
			ConfirmPassword: r.FormValue("cnfPassword"),
		}
	}

	err := h.accounts.UpdateProfile(r.Context(), identity.UserID, services.UpdateProfileInput{
		Name:            req.Name,
		Email:           req.Email,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err, userNotFound)
		return
	}
	writeMessage(w, http.StatusOK, "User updated successfully")
}

func (h *UserHandler) LikedRecipes(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFromContext(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "Unauthenticated")
		return
	}

	views, err := h.accounts.LikedRecipes(r.Context(), identity.UserID)
	if err != nil {
		writeServiceError(w, r, h.logger, err, userNotFound)
		return
	}
	writeJSON(w, http.StatusOK, DataResponse{Message: "User recipes", Data: views})
}

func (h *UserHandler) ToggleFollow(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFromContext(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "Unauthenticated")
		return
	}
	target, err := parseObjectID(r, "userID")
	if err != nil {
		writeMessage(w, http.StatusNotFound, userNotFound)
		return
	}

	result, err := h.relations.ToggleFollow(r.Context(), identity.UserID, target)
	if errors.Is(err, services.ErrInvalidOperation) {
		writeMessage(w, http.StatusBadRequest, "You cannot follow yourself")
		return
	}
	if err != nil {
		writeServiceError(w, r, h.logger, err, userNotFound)
		return
	}

	message := "Unfollowed successfully"
	if result.Following {
		message = "Followed successfully"
	}
	writeJSON(w, http.StatusOK, FollowResponse{
		Message:       message,
		Following:     result.Following,
		FollowerCount: result.TargetFollowerCount,
	})
}

type UpdateUserRequest struct {
	Name            string `json:"name"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"cnfPassword"`
}

type AvatarResponse struct {
	Message      string `json:"message"`
	NewAvatarURL string `json:"newavatarURL"`
}

type FollowResponse struct {
	Message       string `json:"message"`
	Following     bool   `json:"following"`
	FollowerCount int    `json:"followerCount"`
}
