package types

import (
	"encoding/json"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Recipe represents a recipe shared by a user.
// It contains the recipe body, its ingredients, image references, and the
// set of users who liked it.
type Recipe struct {
	// ID is the unique identifier of the recipe.
	ID primitive.ObjectID `json:"id" bson:"_id,omitempty"`

	// Title is the human-readable name of the recipe.
	Title string `json:"title" bson:"title"`

	// Category is a single alphabetic word grouping similar recipes
	// (e.g., "dessert").
	Category string `json:"category" bson:"category"`

	// Content is the rich-text body with the preparation steps.
	Content string `json:"content" bson:"content"`

	// Ingredients is the ordered list of ingredients.
	Ingredients []Ingredient `json:"ingredients" bson:"ingredients"`

	// Creator identifies the user who created the recipe. It never changes
	// after creation.
	Creator primitive.ObjectID `json:"creator" bson:"creator"`

	// RecipeImageURL is an optional external image URL supplied by the creator.
	RecipeImageURL string `json:"recipeImageURL,omitempty" bson:"recipeImageURL,omitempty"`

	// RecipePhoto is the URL of an uploaded photo on the media host.
	RecipePhoto string `json:"recipePhoto,omitempty" bson:"recipePhoto,omitempty"`

	// Likes references the users who liked the recipe. A user appears at
	// most once.
	Likes []primitive.ObjectID `json:"likes" bson:"likes"`

	// CreatedAt is the timestamp at which the recipe was created.
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`

	// UpdatedAt is the timestamp of the most recent update to the recipe.
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
}

// Ingredient is a single line of a recipe's ingredient list.
type Ingredient struct {
	// Name is the ingredient name.
	Name string `json:"ingredientName" bson:"ingredientName"`

	// Quantity is the amount, kept as free text (e.g., "1/2").
	Quantity string `json:"ingredientQuantity" bson:"ingredientQuantity"`

	// Unit is the optional unit of measure.
	Unit string `json:"ingredientUnit,omitempty" bson:"ingredientUnit,omitempty"`
}

// LikeCount returns the number of users who liked the recipe.
func (r Recipe) LikeCount() int { return len(r.Likes) }

// LikedBy reports whether the user identified by id liked the recipe.
func (r Recipe) LikedBy(id primitive.ObjectID) bool {
	return ContainsID(r.Likes, id)
}

// OwnedBy reports whether the user identified by id created the recipe.
func (r Recipe) OwnedBy(id primitive.ObjectID) bool {
	return !r.Creator.IsZero() && r.Creator == id
}

// RecipeView is a recipe with its creator populated, as returned by the
// read endpoints.
type RecipeView struct {
	Recipe
	Creator *CreatorSummary `json:"creator"`
}

// MarshalJSON serializes the recipe with the derived like count and the
// populated creator. A creator that no longer exists serializes as null.
func (v RecipeView) MarshalJSON() ([]byte, error) {
	type plain Recipe
	recipe := v.Recipe
	if recipe.Likes == nil {
		recipe.Likes = []primitive.ObjectID{}
	}
	if recipe.Ingredients == nil {
		recipe.Ingredients = []Ingredient{}
	}
	return json.Marshal(struct {
		plain
		Creator   *CreatorSummary `json:"creator"`
		LikeCount int             `json:"likeCount"`
	}{
		plain:     plain(recipe),
		Creator:   v.Creator,
		LikeCount: recipe.LikeCount(),
	})
}
