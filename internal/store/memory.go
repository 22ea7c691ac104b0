package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/foodior/apiserver/types"
)

// MemoryUserRepository is an in-memory twin of UserRepository used by unit
// tests and local runs without MongoDB.
type MemoryUserRepository struct {
	mu    sync.RWMutex
	users map[primitive.ObjectID]types.User
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{users: make(map[primitive.ObjectID]types.User)}
}

func (m *MemoryUserRepository) GetByID(_ context.Context, id primitive.ObjectID) (types.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	user, ok := m.users[id]
	if !ok {
		return types.User{}, ErrNotFound
	}
	return cloneUser(user), nil
}

func (m *MemoryUserRepository) GetByEmail(_ context.Context, email string) (types.User, error) {
	email = normalizeEmail(email)
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, user := range m.users {
		if user.Email == email {
			return cloneUser(user), nil
		}
	}
	return types.User{}, ErrNotFound
}

func (m *MemoryUserRepository) GetMany(_ context.Context, ids []primitive.ObjectID) ([]types.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []types.User{}
	for _, id := range ids {
		if user, ok := m.users[id]; ok {
			out = append(out, cloneUser(user))
		}
	}
	return out, nil
}

func (m *MemoryUserRepository) List(_ context.Context) ([]types.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.User, 0, len(m.users))
	for _, user := range m.users {
		out = append(out, cloneUser(user))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Hex() < out[j].ID.Hex() })
	return out, nil
}

func (m *MemoryUserRepository) Create(_ context.Context, user types.User) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user.Email = normalizeEmail(user.Email)
	for _, existing := range m.users {
		if existing.Email == user.Email {
			return types.User{}, ErrDuplicate
		}
	}
	now := time.Now().UTC()
	user.ID = primitive.NewObjectID()
	user.CreatedAt = now
	user.UpdatedAt = now
	m.users[user.ID] = cloneUser(user)
	return cloneUser(user), nil
}

func (m *MemoryUserRepository) UpdateProfile(_ context.Context, id primitive.ObjectID, name, email, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	email = normalizeEmail(email)
	for otherID, other := range m.users {
		if otherID != id && other.Email == email {
			return ErrDuplicate
		}
	}
	user.Name = name
	user.Email = email
	user.PasswordHash = passwordHash
	user.UpdatedAt = time.Now().UTC()
	m.users[id] = user
	return nil
}

func (m *MemoryUserRepository) UpdateAvatar(_ context.Context, id primitive.ObjectID, avatar string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	user.Avatar = avatar
	user.UpdatedAt = time.Now().UTC()
	m.users[id] = user
	return nil
}

func (m *MemoryUserRepository) AddToSet(_ context.Context, id primitive.ObjectID, set UserSet, value primitive.ObjectID) (bool, error) {
	return m.mutateSet(id, set, func(ids []primitive.ObjectID) ([]primitive.ObjectID, bool) {
		if types.ContainsID(ids, value) {
			return ids, false
		}
		return append(ids, value), true
	})
}

func (m *MemoryUserRepository) RemoveFromSet(_ context.Context, id primitive.ObjectID, set UserSet, value primitive.ObjectID) (bool, error) {
	return m.mutateSet(id, set, func(ids []primitive.ObjectID) ([]primitive.ObjectID, bool) {
		if !types.ContainsID(ids, value) {
			return ids, false
		}
		return types.RemoveID(ids, value), true
	})
}

func (m *MemoryUserRepository) mutateSet(id primitive.ObjectID, set UserSet, fn func([]primitive.ObjectID) ([]primitive.ObjectID, bool)) (bool, error) {
	if !set.valid() {
		return false, errors.New("unknown user set")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	if !ok {
		return false, ErrNotFound
	}
	var changed bool
	switch set {
	case SetRecipes:
		user.Recipes, changed = fn(user.Recipes)
	case SetFollowers:
		user.Followers, changed = fn(user.Followers)
	case SetFollowing:
		user.Following, changed = fn(user.Following)
	}
	if changed {
		user.UpdatedAt = time.Now().UTC()
		m.users[id] = user
	}
	return changed, nil
}

// MemoryRecipeRepository is an in-memory twin of RecipeRepository.
type MemoryRecipeRepository struct {
	mu      sync.RWMutex
	recipes map[primitive.ObjectID]types.Recipe
	// seq orders recipes created within the same clock tick.
	seq   int
	order map[primitive.ObjectID]int
}

func NewMemoryRecipeRepository() *MemoryRecipeRepository {
	return &MemoryRecipeRepository{
		recipes: make(map[primitive.ObjectID]types.Recipe),
		order:   make(map[primitive.ObjectID]int),
	}
}

func (m *MemoryRecipeRepository) List(_ context.Context) ([]types.Recipe, error) {
	return m.filter(func(types.Recipe) bool { return true }), nil
}

func (m *MemoryRecipeRepository) Get(_ context.Context, id primitive.ObjectID) (types.Recipe, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	recipe, ok := m.recipes[id]
	if !ok {
		return types.Recipe{}, ErrNotFound
	}
	return cloneRecipe(recipe), nil
}

func (m *MemoryRecipeRepository) GetMany(_ context.Context, ids []primitive.ObjectID) ([]types.Recipe, error) {
	return m.filter(func(recipe types.Recipe) bool {
		return types.ContainsID(ids, recipe.ID)
	}), nil
}

func (m *MemoryRecipeRepository) SearchByTitle(_ context.Context, query string) ([]types.Recipe, error) {
	query = strings.ToLower(query)
	return m.filter(func(recipe types.Recipe) bool {
		return strings.Contains(strings.ToLower(recipe.Title), query)
	}), nil
}

func (m *MemoryRecipeRepository) ListLikedBy(_ context.Context, userID primitive.ObjectID) ([]types.Recipe, error) {
	return m.filter(func(recipe types.Recipe) bool {
		return recipe.LikedBy(userID)
	}), nil
}

func (m *MemoryRecipeRepository) Create(_ context.Context, recipe types.Recipe) (types.Recipe, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	recipe.ID = primitive.NewObjectID()
	recipe.CreatedAt = now
	recipe.UpdatedAt = now
	if recipe.Likes == nil {
		recipe.Likes = []primitive.ObjectID{}
	}
	m.seq++
	m.order[recipe.ID] = m.seq
	m.recipes[recipe.ID] = cloneRecipe(recipe)
	return cloneRecipe(recipe), nil
}

func (m *MemoryRecipeRepository) Update(_ context.Context, recipe types.Recipe) (types.Recipe, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.recipes[recipe.ID]
	if !ok {
		return types.Recipe{}, ErrNotFound
	}
	current.Title = recipe.Title
	current.Category = recipe.Category
	current.Content = recipe.Content
	current.Ingredients = append([]types.Ingredient(nil), recipe.Ingredients...)
	current.RecipeImageURL = recipe.RecipeImageURL
	current.RecipePhoto = recipe.RecipePhoto
	current.UpdatedAt = time.Now().UTC()
	m.recipes[recipe.ID] = current
	return cloneRecipe(current), nil
}

func (m *MemoryRecipeRepository) Delete(_ context.Context, id primitive.ObjectID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.recipes[id]; !ok {
		return ErrNotFound
	}
	delete(m.recipes, id)
	delete(m.order, id)
	return nil
}

func (m *MemoryRecipeRepository) AddLike(_ context.Context, recipeID, userID primitive.ObjectID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	recipe, ok := m.recipes[recipeID]
	if !ok {
		return false, ErrNotFound
	}
	if recipe.LikedBy(userID) {
		return false, nil
	}
	recipe.Likes = append(recipe.Likes, userID)
	m.recipes[recipeID] = recipe
	return true, nil
}

func (m *MemoryRecipeRepository) RemoveLike(_ context.Context, recipeID, userID primitive.ObjectID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	recipe, ok := m.recipes[recipeID]
	if !ok {
		return false, ErrNotFound
	}
	if !recipe.LikedBy(userID) {
		return false, nil
	}
	recipe.Likes = types.RemoveID(recipe.Likes, userID)
	m.recipes[recipeID] = recipe
	return true, nil
}

func (m *MemoryRecipeRepository) filter(keep func(types.Recipe) bool) []types.Recipe {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []types.Recipe{}
	for _, recipe := range m.recipes {
		if keep(recipe) {
			out = append(out, cloneRecipe(recipe))
		}
	}
	sort.Slice(out, func(i, j int) bool { return m.order[out[i].ID] < m.order[out[j].ID] })
	return out
}

func cloneUser(user types.User) types.User {
	user.Recipes = append([]primitive.ObjectID{}, user.Recipes...)
	user.Followers = append([]primitive.ObjectID{}, user.Followers...)
	user.Following = append([]primitive.ObjectID{}, user.Following...)
	return user
}

func cloneRecipe(recipe types.Recipe) types.Recipe {
	recipe.Likes = append([]primitive.ObjectID{}, recipe.Likes...)
	recipe.Ingredients = append([]types.Ingredient{}, recipe.Ingredients...)
	return recipe
}
