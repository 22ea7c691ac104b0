package services

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/crypto/bcrypt"

	"github.com/foodior/apiserver/internal/auth"
	"github.com/foodior/apiserver/internal/storage"
	"github.com/foodior/apiserver/internal/store"
	"github.com/foodior/apiserver/types"
)

const testPassword = "secret1"

var pngData = []byte("\x89PNG\r\n\x1a\n0000")

func photo() *storage.File {
	return &storage.File{Filename: "dish.png", Data: pngData}
}

// flakyUsers injects failures into selected set operations.
type flakyUsers struct {
	*store.MemoryUserRepository
	mu         sync.Mutex
	failAdd    map[store.UserSet]error
	failRemove map[store.UserSet]error
}

func (f *flakyUsers) AddToSet(ctx context.Context, id primitive.ObjectID, set store.UserSet, value primitive.ObjectID) (bool, error) {
	f.mu.Lock()
	err := f.failAdd[set]
	f.mu.Unlock()
	if err != nil {
		return false, err
	}
	return f.MemoryUserRepository.AddToSet(ctx, id, set, value)
}

func (f *flakyUsers) RemoveFromSet(ctx context.Context, id primitive.ObjectID, set store.UserSet, value primitive.ObjectID) (bool, error) {
	f.mu.Lock()
	err := f.failRemove[set]
	f.mu.Unlock()
	if err != nil {
		return false, err
	}
	return f.MemoryUserRepository.RemoveFromSet(ctx, id, set, value)
}

func (f *flakyUsers) heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failAdd = map[store.UserSet]error{}
	f.failRemove = map[store.UserSet]error{}
}

type recordingQueue struct {
	mu   sync.Mutex
	jobs []MediaCleanup
}

func (q *recordingQueue) PublishJSON(_ context.Context, channel string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	var job MediaCleanup
	if err := json.Unmarshal(data, &job); err != nil {
		return "", err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return channel, nil
}

type fixture struct {
	users     *flakyUsers
	recipes   *store.MemoryRecipeRepository
	backend   *storage.MemoryStorage
	host      *storage.MediaHost
	queue     *recordingQueue
	tokens    *auth.TokenService
	recipeSvc *RecipeService
	relations *RelationService
	accounts  *UserService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	f := &fixture{
		users:   &flakyUsers{MemoryUserRepository: store.NewMemoryUserRepository()},
		recipes: store.NewMemoryRecipeRepository(),
		backend: storage.NewMemoryStorage(),
		queue:   &recordingQueue{},
		tokens:  auth.NewTokenService("test-secret", time.Hour),
	}
	f.users.heal()
	f.host = storage.NewMediaHost(f.backend, "https://media.test/foodior")
	janitor := NewMediaJanitor(f.host, f.queue, "media-cleanup", logger)

	f.recipeSvc = NewRecipeService(f.recipes, f.users, janitor, logger)
	f.relations = NewRelationService(f.recipes, f.users, store.NoopTransactor{}, logger)
	f.accounts = NewUserService(f.users, f.recipes, f.tokens, janitor, logger)
	f.accounts.hashCost = bcrypt.MinCost
	return f
}

func (f *fixture) user(t *testing.T, name, email string) types.User {
	t.Helper()
	hashed, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(t, err)
	user, err := f.users.Create(context.Background(), types.User{
		Name:         name,
		Email:        email,
		PasswordHash: string(hashed),
		Avatar:       "https://media.test/foodior/avatars/" + name + ".png",
		Role:         types.RoleUser,
	})
	require.NoError(t, err)
	return user
}

func (f *fixture) reload(t *testing.T, id primitive.ObjectID) types.User {
	t.Helper()
	user, err := f.users.GetByID(context.Background(), id)
	require.NoError(t, err)
	return user
}

func validRecipe() RecipeInput {
	return RecipeInput{
		Title:    "Pancakes",
		Category: "breakfast",
		Content:  "<p>Mix and fry.</p>",
		Ingredients: []types.Ingredient{
			{Name: "flour", Quantity: "200", Unit: "g"},
			{Name: "eggs", Quantity: "2"},
		},
	}
}

func (f *fixture) recipe(t *testing.T, owner primitive.ObjectID) types.Recipe {
	t.Helper()
	recipe, err := f.recipeSvc.Create(context.Background(), owner, validRecipe(), photo())
	require.NoError(t, err)
	return recipe
}

func requireFieldError(t *testing.T, err error, field, msg string) *ValidationError {
	t.Helper()
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, msg, verr.Fields[field], "fields: %v", verr.Fields)
	return verr
}
