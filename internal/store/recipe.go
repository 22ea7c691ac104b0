package store

import (
	"context"
	"errors"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/foodior/apiserver/types"
)

const recipesCollection = "recipes"

// RecipeRepository handles persistence for recipes.
type RecipeRepository struct {
	col *mongo.Collection
}

func NewRecipeRepository(db *mongo.Database) *RecipeRepository {
	return &RecipeRepository{col: db.Collection(recipesCollection)}
}

// List returns all recipes, oldest first.
func (r *RecipeRepository) List(ctx context.Context) ([]types.Recipe, error) {
	return r.find(ctx, bson.M{})
}

func (r *RecipeRepository) Get(ctx context.Context, id primitive.ObjectID) (types.Recipe, error) {
	var recipe types.Recipe
	if err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&recipe); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return types.Recipe{}, ErrNotFound
		}
		return types.Recipe{}, err
	}
	return recipe, nil
}

// GetMany returns the recipes with the given ids that still exist.
func (r *RecipeRepository) GetMany(ctx context.Context, ids []primitive.ObjectID) ([]types.Recipe, error) {
	if len(ids) == 0 {
		return []types.Recipe{}, nil
	}
	return r.find(ctx, bson.M{"_id": bson.M{"$in": ids}})
}

// SearchByTitle returns recipes whose title contains query, ignoring case.
func (r *RecipeRepository) SearchByTitle(ctx context.Context, query string) ([]types.Recipe, error) {
	filter := bson.M{"title": primitive.Regex{Pattern: regexp.QuoteMeta(query), Options: "i"}}
	return r.find(ctx, filter)
}

// ListLikedBy returns recipes whose likes contain userID.
func (r *RecipeRepository) ListLikedBy(ctx context.Context, userID primitive.ObjectID) ([]types.Recipe, error) {
	return r.find(ctx, bson.M{"likes": userID})
}

func (r *RecipeRepository) Create(ctx context.Context, recipe types.Recipe) (types.Recipe, error) {
	now := time.Now().UTC()
	recipe.ID = primitive.NewObjectID()
	recipe.CreatedAt = now
	recipe.UpdatedAt = now
	if recipe.Likes == nil {
		recipe.Likes = []primitive.ObjectID{}
	}

	if _, err := r.col.InsertOne(ctx, recipe); err != nil {
		return types.Recipe{}, err
	}
	return recipe, nil
}

// Update replaces the editable fields of a recipe. Creator and likes are
// never touched.
func (r *RecipeRepository) Update(ctx context.Context, recipe types.Recipe) (types.Recipe, error) {
	recipe.UpdatedAt = time.Now().UTC()

	set := bson.M{
		"title":          recipe.Title,
		"category":       recipe.Category,
		"content":        recipe.Content,
		"ingredients":    recipe.Ingredients,
		"recipeImageURL": recipe.RecipeImageURL,
		"recipePhoto":    recipe.RecipePhoto,
		"updatedAt":      recipe.UpdatedAt,
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var updated types.Recipe
	err := r.col.FindOneAndUpdate(ctx, bson.M{"_id": recipe.ID}, bson.M{"$set": set}, opts).Decode(&updated)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return types.Recipe{}, ErrNotFound
		}
		return types.Recipe{}, err
	}
	return updated, nil
}

func (r *RecipeRepository) Delete(ctx context.Context, id primitive.ObjectID) error {
	result, err := r.col.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if result.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// AddLike adds userID to the recipe likes unless already present. The
// guard and the $addToSet run as one atomic document update.
func (r *RecipeRepository) AddLike(ctx context.Context, recipeID, userID primitive.ObjectID) (bool, error) {
	result, err := r.col.UpdateOne(ctx,
		bson.M{"_id": recipeID, "likes": bson.M{"$ne": userID}},
		bson.M{"$addToSet": bson.M{"likes": userID}},
	)
	if err != nil {
		return false, err
	}
	if result.MatchedCount > 0 {
		return true, nil
	}
	return false, r.ensureExists(ctx, recipeID)
}

// RemoveLike pulls userID from the recipe likes. It reports whether the
// user had liked the recipe.
func (r *RecipeRepository) RemoveLike(ctx context.Context, recipeID, userID primitive.ObjectID) (bool, error) {
	result, err := r.col.UpdateOne(ctx,
		bson.M{"_id": recipeID, "likes": userID},
		bson.M{"$pull": bson.M{"likes": userID}},
	)
	if err != nil {
		return false, err
	}
	if result.MatchedCount > 0 {
		return true, nil
	}
	return false, r.ensureExists(ctx, recipeID)
}

func (r *RecipeRepository) ensureExists(ctx context.Context, id primitive.ObjectID) error {
	count, err := r.col.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *RecipeRepository) find(ctx context.Context, filter bson.M) ([]types.Recipe, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}})
	cur, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	recipes := []types.Recipe{}
	for cur.Next(ctx) {
		var recipe types.Recipe
		if err := cur.Decode(&recipe); err != nil {
			return nil, err
		}
		recipes = append(recipes, recipe)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return recipes, nil
}
