package services

import (
	"context"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/foodior/apiserver/internal/store"
	"github.com/foodior/apiserver/types"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id primitive.ObjectID) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	GetMany(ctx context.Context, ids []primitive.ObjectID) ([]types.User, error)
	List(ctx context.Context) ([]types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	UpdateProfile(ctx context.Context, id primitive.ObjectID, name, email, passwordHash string) error
	UpdateAvatar(ctx context.Context, id primitive.ObjectID, avatar string) error
	AddToSet(ctx context.Context, id primitive.ObjectID, set store.UserSet, value primitive.ObjectID) (bool, error)
	RemoveFromSet(ctx context.Context, id primitive.ObjectID, set store.UserSet, value primitive.ObjectID) (bool, error)
}

// RecipeRepository defines persistence operations for recipes.
type RecipeRepository interface {
	List(ctx context.Context) ([]types.Recipe, error)
	Get(ctx context.Context, id primitive.ObjectID) (types.Recipe, error)
	GetMany(ctx context.Context, ids []primitive.ObjectID) ([]types.Recipe, error)
	SearchByTitle(ctx context.Context, query string) ([]types.Recipe, error)
	ListLikedBy(ctx context.Context, userID primitive.ObjectID) ([]types.Recipe, error)
	Create(ctx context.Context, recipe types.Recipe) (types.Recipe, error)
	Update(ctx context.Context, recipe types.Recipe) (types.Recipe, error)
	Delete(ctx context.Context, id primitive.ObjectID) error
	AddLike(ctx context.Context, recipeID, userID primitive.ObjectID) (bool, error)
	RemoveLike(ctx context.Context, recipeID, userID primitive.ObjectID) (bool, error)
}

// populate attaches creator summaries to recipes. Creators that no longer
// exist are left nil.
func populate(ctx context.Context, users UserRepository, recipes []types.Recipe) ([]types.RecipeView, error) {
	ids := make([]primitive.ObjectID, 0, len(recipes))
	for _, recipe := range recipes {
		ids = types.AddID(ids, recipe.Creator)
	}

	creators, err := users.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[primitive.ObjectID]types.CreatorSummary, len(creators))
	for _, creator := range creators {
		byID[creator.ID] = creator.Summary()
	}

	views := make([]types.RecipeView, 0, len(recipes))
	for _, recipe := range recipes {
		view := types.RecipeView{Recipe: recipe}
		if summary, ok := byID[recipe.Creator]; ok {
			view.Creator = &summary
		}
		views = append(views, view)
	}
	return views, nil
}
