package types

import (
	"encoding/json"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Role is the coarse authorization level carried by an account and its
// bearer credentials.
type Role string

// Supported roles.
const (
	// RoleUser is the default role assigned at sign-up.
	RoleUser Role = "user"

	// RoleAdmin marks an elevated account. Ownership checks ignore it.
	RoleAdmin Role = "admin"
)

// Valid reports whether r is one of the supported roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAdmin:
		return true
	default:
		return false
	}
}

// User represents an account in the system.
// It contains identity, profile fields, and the relationship sets that
// link the account to recipes and to other accounts.
type User struct {
	// ID is the unique identifier of the user.
	ID primitive.ObjectID `json:"id" bson:"_id,omitempty"`

	// Name is the user's display name.
	Name string `json:"name" bson:"name"`

	// Email is the user's email address. It is unique and always stored
	// lower-cased.
	Email string `json:"email" bson:"email"`

	// PasswordHash stores the bcrypt hash of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" bson:"password"`

	// Avatar is the URL of the user's avatar on the media host.
	Avatar string `json:"avatar" bson:"avatar"`

	// Role indicates the user's authorization level.
	Role Role `json:"role" bson:"role"`

	// Recipes references the recipes created by the user. It is a
	// denormalized back-reference; the recipes collection is authoritative.
	Recipes []primitive.ObjectID `json:"recipes" bson:"recipes"`

	// Followers references the users following this user.
	Followers []primitive.ObjectID `json:"followers" bson:"followers"`

	// Following references the users this user follows. It mirrors the
	// Followers sets of those users.
	Following []primitive.ObjectID `json:"following" bson:"following"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`

	// UpdatedAt is the timestamp of the most recent update to the user account.
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
}

// RecipeCount returns the number of recipes the user has created.
func (u User) RecipeCount() int { return len(u.Recipes) }

// FollowerCount returns the number of users following the user.
func (u User) FollowerCount() int { return len(u.Followers) }

// FollowingCount returns the number of users the user follows.
func (u User) FollowingCount() int { return len(u.Following) }

// HasFollower reports whether id is present in the user's followers.
func (u User) HasFollower(id primitive.ObjectID) bool {
	return ContainsID(u.Followers, id)
}

// HasRecipe reports whether id is present in the user's recipe references.
func (u User) HasRecipe(id primitive.ObjectID) bool {
	return ContainsID(u.Recipes, id)
}

// IsFollowing reports whether id is present in the user's following set.
func (u User) IsFollowing(id primitive.ObjectID) bool {
	return ContainsID(u.Following, id)
}

// MarshalJSON adds the derived counts to the serialized user.
func (u User) MarshalJSON() ([]byte, error) {
	type plain User
	return json.Marshal(struct {
		plain
		RecipeCount    int `json:"recipeCount"`
		FollowerCount  int `json:"followerCount"`
		FollowingCount int `json:"followingCount"`
	}{
		plain:          plain(u.withEmptySets()),
		RecipeCount:    u.RecipeCount(),
		FollowerCount:  u.FollowerCount(),
		FollowingCount: u.FollowingCount(),
	})
}

func (u User) withEmptySets() User {
	if u.Recipes == nil {
		u.Recipes = []primitive.ObjectID{}
	}
	if u.Followers == nil {
		u.Followers = []primitive.ObjectID{}
	}
	if u.Following == nil {
		u.Following = []primitive.ObjectID{}
	}
	return u
}

// CreatorSummary is the public subset of a user embedded in recipe views.
type CreatorSummary struct {
	ID     primitive.ObjectID `json:"id"`
	Name   string             `json:"name"`
	Avatar string             `json:"avatar"`
}

// Summary returns the public subset of the user.
func (u User) Summary() CreatorSummary {
	return CreatorSummary{ID: u.ID, Name: u.Name, Avatar: u.Avatar}
}

// Profile is a user together with their populated recipes.
type Profile struct {
	User
	Recipes []RecipeView `json:"recipes"`
}

// MarshalJSON serializes the user with its recipe ids replaced by the
// populated recipe views. recipeCount follows the populated list, since a
// stale back-reference has no recipe behind it.
func (p Profile) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(p.User)
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	recipes := p.Recipes
	if recipes == nil {
		recipes = []RecipeView{}
	}
	populated, err := json.Marshal(recipes)
	if err != nil {
		return nil, err
	}
	count, err := json.Marshal(len(recipes))
	if err != nil {
		return nil, err
	}
	fields["recipes"] = populated
	fields["recipeCount"] = count
	return json.Marshal(fields)
}

// ContainsID reports whether id is present in ids.
func ContainsID(ids []primitive.ObjectID, id primitive.ObjectID) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

// RemoveID returns ids without any occurrence of id.
func RemoveID(ids []primitive.ObjectID, id primitive.ObjectID) []primitive.ObjectID {
	out := make([]primitive.ObjectID, 0, len(ids))
	for _, candidate := range ids {
		if candidate != id {
			out = append(out, candidate)
		}
	}
	return out
}

// AddID returns ids with id appended unless it is already present.
func AddID(ids []primitive.ObjectID, id primitive.ObjectID) []primitive.ObjectID {
	if ContainsID(ids, id) {
		return ids
	}
	return append(ids, id)
}
