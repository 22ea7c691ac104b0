package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/foodior/apiserver/internal/storage"
	"github.com/foodior/apiserver/internal/store"
	"github.com/foodior/apiserver/types"
)

// RecipePhotoTooLarge is reported on the image field for oversized photos.
const RecipePhotoTooLarge = "Recipe Photo should be less than 500KB"

// RecipeService encapsulates recipe use-cases. Every mutation is restricted
// to the recipe's creator.
type RecipeService struct {
	recipes RecipeRepository
	users   UserRepository
	media   *MediaJanitor
	logger  *slog.Logger
}

func NewRecipeService(recipes RecipeRepository, users UserRepository, media *MediaJanitor, logger *slog.Logger) *RecipeService {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecipeService{recipes: recipes, users: users, media: media, logger: logger}
}

func (s *RecipeService) List(ctx context.Context) ([]types.RecipeView, error) {
	recipes, err := s.recipes.List(ctx)
	if err != nil {
		return nil, err
	}
	return populate(ctx, s.users, recipes)
}

func (s *RecipeService) Get(ctx context.Context, id primitive.ObjectID) (types.RecipeView, error) {
	recipe, err := s.recipes.Get(ctx, id)
	if err != nil {
		return types.RecipeView{}, err
	}
	views, err := populate(ctx, s.users, []types.Recipe{recipe})
	if err != nil {
		return types.RecipeView{}, err
	}
	return views[0], nil
}

// Search matches recipes whose title contains query, ignoring case.
func (s *RecipeService) Search(ctx context.Context, query string) ([]types.RecipeView, error) {
	recipes, err := s.recipes.SearchByTitle(ctx, query)
	if err != nil {
		return nil, err
	}
	return populate(ctx, s.users, recipes)
}

// Create validates and stores a recipe owned by subjectID, then records it
// on the owner. Nothing is uploaded or stored when validation fails.
func (s *RecipeService) Create(ctx context.Context, subjectID primitive.ObjectID, in RecipeInput, photo *storage.File) (types.Recipe, error) {
	in = in.normalized()
	if err := validateRecipe(in, photo != nil).Err(); err != nil {
		return types.Recipe{}, err
	}
	if err := checkMediaSize(photo, "image", RecipePhotoTooLarge); err != nil {
		return types.Recipe{}, err
	}

	var photoURL string
	if photo != nil {
		url, err := s.media.Upload(ctx, "image", *photo)
		if err != nil {
			return types.Recipe{}, err
		}
		photoURL = url
	}

	recipe, err := s.recipes.Create(ctx, types.Recipe{
		Title:          in.Title,
		Category:       in.Category,
		Content:        in.Content,
		Ingredients:    in.Ingredients,
		Creator:        subjectID,
		RecipeImageURL: in.RecipeImageURL,
		RecipePhoto:    photoURL,
	})
	if err != nil {
		s.media.Release(ctx, photoURL, "recipe create failed")
		return types.Recipe{}, fmt.Errorf("create recipe: %w", err)
	}

	if _, err := s.users.AddToSet(ctx, subjectID, store.SetRecipes, recipe.ID); err != nil {
		if delErr := s.recipes.Delete(ctx, recipe.ID); delErr != nil {
			s.logger.Error("orphaned recipe after failed back-reference",
				"recipe", recipe.ID.Hex(), "creator", subjectID.Hex(), "error", delErr)
		}
		s.media.Release(ctx, photoURL, "recipe create failed")
		return types.Recipe{}, fmt.Errorf("attach recipe to creator: %w", err)
	}

	s.logger.Info("recipe created", "recipe", recipe.ID.Hex(), "creator", subjectID.Hex())
	return recipe, nil
}

// Update replaces the editable fields of a recipe owned by subjectID. A new
// photo replaces the stored one, which is released once the record points
// at the new photo.
func (s *RecipeService) Update(ctx context.Context, subjectID, recipeID primitive.ObjectID, in RecipeInput, photo *storage.File) (types.Recipe, error) {
	current, err := s.ownedRecipe(ctx, subjectID, recipeID)
	if err != nil {
		return types.Recipe{}, err
	}

	in = in.normalized()
	if err := validateRecipe(in, photo != nil || current.RecipePhoto != "").Err(); err != nil {
		return types.Recipe{}, err
	}
	if err := checkMediaSize(photo, "image", RecipePhotoTooLarge); err != nil {
		return types.Recipe{}, err
	}

	photoURL := current.RecipePhoto
	if photo != nil {
		url, err := s.media.Upload(ctx, "image", *photo)
		if err != nil {
			return types.Recipe{}, err
		}
		photoURL = url
	}

	next := current
	next.Title = in.Title
	next.Category = in.Category
	next.Content = in.Content
	next.Ingredients = in.Ingredients
	next.RecipeImageURL = in.RecipeImageURL
	next.RecipePhoto = photoURL

	updated, err := s.recipes.Update(ctx, next)
	if err != nil {
		if photo != nil {
			s.media.Release(ctx, photoURL, "recipe update failed")
		}
		return types.Recipe{}, fmt.Errorf("update recipe: %w", err)
	}

	if photo != nil && current.RecipePhoto != "" {
		s.media.Release(ctx, current.RecipePhoto, "recipe photo replaced")
	}
	return updated, nil
}

// Delete removes a recipe owned by subjectID. The owner's back-reference is
// detached before the record is deleted, so an interrupted delete leaves at
// worst a dangling back-reference for the reconciliation sweep.
func (s *RecipeService) Delete(ctx context.Context, subjectID, recipeID primitive.ObjectID) error {
	current, err := s.ownedRecipe(ctx, subjectID, recipeID)
	if err != nil {
		return err
	}

	detached, err := s.users.RemoveFromSet(ctx, current.Creator, store.SetRecipes, recipeID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("detach recipe from creator: %w", err)
	}

	if err := s.recipes.Delete(ctx, recipeID); err != nil {
		if detached {
			if _, undoErr := s.users.AddToSet(ctx, current.Creator, store.SetRecipes, recipeID); undoErr != nil {
				s.logger.Error("recipe back-reference lost", "recipe", recipeID.Hex(), "error", undoErr)
			}
		}
		return fmt.Errorf("delete recipe: %w", err)
	}

	s.media.Release(ctx, current.RecipePhoto, "recipe deleted")
	s.logger.Info("recipe deleted", "recipe", recipeID.Hex(), "creator", subjectID.Hex())
	return nil
}

func (s *RecipeService) ownedRecipe(ctx context.Context, subjectID, recipeID primitive.ObjectID) (types.Recipe, error) {
	recipe, err := s.recipes.Get(ctx, recipeID)
	if err != nil {
		return types.Recipe{}, err
	}
	if !recipe.OwnedBy(subjectID) {
		return types.Recipe{}, ErrForbidden
	}
	return recipe, nil
}
