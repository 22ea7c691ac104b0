package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/foodior/apiserver/internal/services"
	"github.com/foodior/apiserver/internal/storage"
)

const recipeNotFound = "Recipe not found"

// RecipeHandler provides HTTP handlers for recipes and likes.
type RecipeHandler struct {
	recipes   *services.RecipeService
	relations *services.RelationService
	maxUpload int64
	logger    *slog.Logger
}

// NewRecipeHandler constructs a RecipeHandler.
func NewRecipeHandler(recipes *services.RecipeService, relations *services.RelationService, maxUpload int64, logger *slog.Logger) *RecipeHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecipeHandler{recipes: recipes, relations: relations, maxUpload: maxUpload, logger: logger}
}

// RecipeRouter registers recipe routes on the given router. Reads are
// public; every mutation goes through authMiddleware.
func RecipeRouter(
	r chi.Router,
	recipes *services.RecipeService,
	relations *services.RelationService,
	authMiddleware func(http.Handler) http.Handler,
	maxUpload int64,
	logger *slog.Logger,
) {
	handler := NewRecipeHandler(recipes, relations, maxUpload, logger)

	r.Get("/", handler.ListRecipes)
	r.Get("/search-recipe", handler.SearchRecipes)
	r.Get("/{recipeID}", handler.GetRecipe)

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Post("/create-recipe", handler.CreateRecipe)
		r.Put("/edit-recipe/{recipeID}", handler.UpdateRecipe)
		r.Delete("/delete-recipe/{recipeID}", handler.DeleteRecipe)
		r.Get("/likes/{recipeID}", handler.ToggleLike)
	})
}

func (h *RecipeHandler) ListRecipes(w http.ResponseWriter, r *http.Request) {
	views, err := h.recipes.List(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, err, recipeNotFound)
		return
	}
	writeJSON(w, http.StatusOK, DataResponse{Message: "All recipes", Data: views})
}

func (h *RecipeHandler) SearchRecipes(w http.ResponseWriter, r *http.Request) {
	views, err := h.recipes.Search(r.Context(), r.URL.Query().Get("recipeName"))
	if err != nil {
		writeServiceError(w, r, h.logger, err, recipeNotFound)
		return
	}
	writeJSON(w, http.StatusOK, DataResponse{Message: "Getting search results", Data: views})
}

func (h *RecipeHandler) GetRecipe(w http.ResponseWriter, r *http.Request) {
	id, err := parseObjectID(r, "recipeID")
	if err != nil {
		writeMessage(w, http.StatusNotFound, recipeNotFound)
		return
	}

	view, err := h.recipes.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err, recipeNotFound)
		return
	}
	writeJSON(w, http.StatusOK, DataResponse{Message: "Single recipe", Data: view})
}

func (h *RecipeHandler) CreateRecipe(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFromContext(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "Unauthenticated")
		return
	}

	in, photo, err := h.parseRecipeForm(w, r)
	if err != nil {
		writeServiceError(w, r, h.logger, err, recipeNotFound)
		return
	}

	if _, err := h.recipes.Create(r.Context(), identity.UserID, in, photo); err != nil {
		writeServiceError(w, r, h.logger, err, "User not found")
		return
	}
	writeMessage(w, http.StatusCreated, "Recipe created successfully")
}

func (h *RecipeHandler) UpdateRecipe(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFromContext(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "Unauthenticated")
		return
	}
	id, err := parseObjectID(r, "recipeID")
	if err != nil {
		writeMessage(w, http.StatusNotFound, recipeNotFound)
		return
	}

	in, photo, err := h.parseRecipeForm(w, r)
	if err != nil {
		writeServiceError(w, r, h.logger, err, recipeNotFound)
		return
	}

	if _, err := h.recipes.Update(r.Context(), identity.UserID, id, in, photo); err != nil {
		writeServiceError(w, r, h.logger, err, recipeNotFound)
		return
	}
	writeMessage(w, http.StatusOK, "Recipe updated successfully")
}

func (h *RecipeHandler) DeleteRecipe(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFromContext(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "Unauthenticated")
		return
	}
	id, err := parseObjectID(r, "recipeID")
	if err != nil {
		writeMessage(w, http.StatusNotFound, recipeNotFound)
		return
	}

	if err := h.recipes.Delete(r.Context(), identity.UserID, id); err != nil {
		writeServiceError(w, r, h.logger, err, recipeNotFound)
		return
	}
	writeMessage(w, http.StatusOK, "Recipe deleted successfully")
}

func (h *RecipeHandler) ToggleLike(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFromContext(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "Unauthenticated")
		return
	}
	id, err := parseObjectID(r, "recipeID")
	if err != nil {
		writeMessage(w, http.StatusNotFound, recipeNotFound)
		return
	}

	liked, err := h.relations.ToggleLike(r.Context(), identity.UserID, id)
	if err != nil {
		writeServiceError(w, r, h.logger, err, recipeNotFound)
		return
	}

	message := "Recipe unliked"
	if liked {
		message = "Recipe liked"
	}
	writeJSON(w, http.StatusOK, LikeResponse{Message: message, Liked: liked})
}

// parseRecipeForm reads the recipe fields and the optional photo. The
// ingredients field holds a JSON array.
func (h *RecipeHandler) parseRecipeForm(w http.ResponseWriter, r *http.Request) (services.RecipeInput, *storage.File, error) {
	if err := parseForm(w, r, h.maxUpload); err != nil {
		if errors.Is(err, errBodyTooLarge) {
			return services.RecipeInput{}, nil, err
		}
		return services.RecipeInput{}, nil, fieldsError("general", "Invalid form data")
	}

	in := services.RecipeInput{
		Title:          r.FormValue("title"),
		Category:       r.FormValue("category"),
		Content:        r.FormValue("content"),
		RecipeImageURL: r.FormValue("recipeImageURL"),
	}
	if raw := strings.TrimSpace(r.FormValue("ingredients")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &in.Ingredients); err != nil {
			return services.RecipeInput{}, nil, fieldsError("ingredients", "Ingredients must be a list")
		}
	}

	photo, err := formFile(r.MultipartForm, "recipePhoto", h.maxUpload)
	if err != nil {
		return services.RecipeInput{}, nil, uploadFieldError(err, "image", services.RecipePhotoTooLarge)
	}
	return in, photo, nil
}

func fieldsError(field, msg string) error {
	v := &services.ValidationError{}
	v.Add(field, msg)
	return v
}

type LikeResponse struct {
	Message string `json:"message"`
	Liked   bool   `json:"liked"`
}
