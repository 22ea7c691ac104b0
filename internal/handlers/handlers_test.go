package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/crypto/bcrypt"

	"github.com/foodior/apiserver/internal/auth"
	"github.com/foodior/apiserver/internal/services"
	"github.com/foodior/apiserver/internal/storage"
	"github.com/foodior/apiserver/internal/store"
	"github.com/foodior/apiserver/types"
)

const (
	testPassword  = "secret1"
	testMaxUpload = 1 << 20
)

var pngData = []byte("\x89PNG\r\n\x1a\n0000")

type testEnv struct {
	router  http.Handler
	users   *store.MemoryUserRepository
	recipes *store.MemoryRecipeRepository
	backend *storage.MemoryStorage
	tokens  *auth.TokenService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	env := &testEnv{
		users:   store.NewMemoryUserRepository(),
		recipes: store.NewMemoryRecipeRepository(),
		backend: storage.NewMemoryStorage(),
		tokens:  auth.NewTokenService("handler-secret", time.Hour),
	}
	host := storage.NewMediaHost(env.backend, "https://media.test/foodior")
	janitor := services.NewMediaJanitor(host, nil, "", logger)

	recipeSvc := services.NewRecipeService(env.recipes, env.users, janitor, logger)
	relations := services.NewRelationService(env.recipes, env.users, store.NoopTransactor{}, logger)
	accounts := services.NewUserService(env.users, env.recipes, env.tokens, janitor, logger)
	requireAuth := RequireAuth(env.tokens)

	r := chi.NewRouter()
	r.Route("/auth", func(r chi.Router) {
		AuthRouter(r, accounts, testMaxUpload, logger, nil)
	})
	r.Route("/recipes", func(r chi.Router) {
		RecipeRouter(r, recipeSvc, relations, requireAuth, testMaxUpload, logger)
	})
	r.Route("/users", func(r chi.Router) {
		UserRouter(r, accounts, relations, requireAuth, testMaxUpload, logger)
	})
	env.router = r
	return env
}

func (e *testEnv) user(t *testing.T, name, email string) (types.User, string) {
	t.Helper()
	hashed, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(t, err)
	user, err := e.users.Create(context.Background(), types.User{
		Name:         name,
		Email:        email,
		PasswordHash: string(hashed),
		Avatar:       "https://media.test/foodior/avatars/" + name + ".png",
		Role:         types.RoleUser,
	})
	require.NoError(t, err)
	token, err := e.tokens.Issue(user.ID, user.Role)
	require.NoError(t, err)
	return user, token
}

func (e *testEnv) do(t *testing.T, req *http.Request, token string) *httptest.ResponseRecorder {
	t.Helper()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

type multipartFile struct {
	field    string
	filename string
	data     []byte
}

func multipartRequest(t *testing.T, method, target string, fields map[string]string, files ...multipartFile) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for key, value := range fields {
		require.NoError(t, writer.WriteField(key, value))
	}
	for _, f := range files {
		part, err := writer.CreateFormFile(f.field, f.filename)
		require.NoError(t, err)
		_, err = part.Write(f.data)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(method, target, body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func jsonRequest(t *testing.T, method, target string, payload any) *http.Request {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(method, target, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func fieldErrors(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	body := decode(t, rec)
	errs, ok := body["errors"].(map[string]any)
	require.True(t, ok, rec.Body.String())
	return errs
}

func recipeFields() map[string]string {
	return map[string]string{
		"title":       "Pancakes",
		"category":    "breakfast",
		"content":     "<p>Mix and fry.</p>",
		"ingredients": `[{"ingredientName":"flour","ingredientQuantity":"200","ingredientUnit":"g"}]`,
	}
}

func photoFile() multipartFile {
	return multipartFile{field: "recipePhoto", filename: "dish.png", data: pngData}
}

func (e *testEnv) createRecipe(t *testing.T, owner primitive.ObjectID) types.Recipe {
	t.Helper()
	recipe, err := e.recipes.Create(context.Background(), types.Recipe{
		Title:       "Soup",
		Category:    "dinner",
		Content:     "<p>Boil.</p>",
		Creator:     owner,
		RecipePhoto: "https://media.test/foodior/images/soup.png",
		Ingredients: []types.Ingredient{{Name: "water", Quantity: "1"}},
	})
	require.NoError(t, err)
	_, err = e.users.AddToSet(context.Background(), owner, store.SetRecipes, recipe.ID)
	require.NoError(t, err)
	return recipe
}

func TestRequireAuth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/users/profile", nil), "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "Unauthenticated", decode(t, rec)["message"])

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/users/profile", nil), "not-a-token")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	expired := auth.NewTokenService("handler-secret", time.Nanosecond)
	token, err := expired.Issue(primitive.NewObjectID(), types.RoleUser)
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/recipes/likes/"+primitive.NewObjectID().Hex(), nil), token)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/users/profile", nil)
	req.Header.Set("Authorization", "Basic abc")
	rec = env.do(t, req, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSignUpAndSignIn(t *testing.T) {
	env := newTestEnv(t)
	fields := map[string]string{
		"name":        "Ada Lovelace",
		"email":       "Ada@Example.com",
		"password":    testPassword,
		"cnfPassword": testPassword,
	}
	avatar := multipartFile{field: "avatar", filename: "ada.png", data: pngData}

	rec := env.do(t, multipartRequest(t, http.MethodPost, "/auth/sign-up", fields, avatar), "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decode(t, rec)
	require.Equal(t, "Registered successfully", body["message"])
	require.NotEmpty(t, body["token"])
	require.True(t, strings.HasPrefix(body["userAvatar"].(string), "https://media.test/foodior/"))

	rec = env.do(t, multipartRequest(t, http.MethodPost, "/auth/sign-up", fields, avatar), "")
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "Email already exists", fieldErrors(t, rec)["email"])
	require.Len(t, env.backend.Keys(), 1)

	rec = env.do(t, jsonRequest(t, http.MethodPost, "/auth/sign-in", map[string]string{
		"email": "ada@example.com", "password": testPassword,
	}), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body = decode(t, rec)
	require.Equal(t, "Logged in", body["message"])
	require.NotEmpty(t, body["userId"])

	rec = env.do(t, jsonRequest(t, http.MethodPost, "/auth/sign-in", map[string]string{
		"email": "ada@example.com", "password": "wrong-password",
	}), "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "Invalid credentials", fieldErrors(t, rec)["general"])

	rec = env.do(t, jsonRequest(t, http.MethodPost, "/auth/sign-in", map[string]string{}), "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, fieldErrors(t, rec), "email")
}

func TestSignUpRejectsOversizedAvatar(t *testing.T) {
	env := newTestEnv(t)
	big := append(append([]byte{}, pngData...), bytes.Repeat([]byte{0}, services.MaxMediaBytes)...)

	rec := env.do(t, multipartRequest(t, http.MethodPost, "/auth/sign-up", map[string]string{
		"name": "Ada", "email": "ada@example.com", "password": testPassword, "cnfPassword": testPassword,
	}, multipartFile{field: "avatar", filename: "ada.png", data: big}), "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, services.AvatarTooLarge, fieldErrors(t, rec)["avatar"])
	require.Empty(t, env.backend.Keys())
}

func TestFormBodyOverLimitIsRejected(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.user(t, "Ada", "ada@example.com")
	huge := bytes.Repeat([]byte{0}, testMaxUpload+formOverhead+1)

	rec := env.do(t, multipartRequest(t, http.MethodPost, "/auth/sign-up", map[string]string{
		"name": "Grace", "email": "grace@example.com", "password": testPassword, "cnfPassword": testPassword,
	}, multipartFile{field: "avatar", filename: "grace.png", data: huge}), "")
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code, rec.Body.String())

	rec = env.do(t, multipartRequest(t, http.MethodPost, "/recipes/create-recipe", recipeFields(),
		multipartFile{field: "recipePhoto", filename: "dish.png", data: huge}), token)
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code, rec.Body.String())
	require.Equal(t, "Request body too large", decode(t, rec)["message"])

	list, err := env.recipes.List(context.Background())
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestRecipeLifecycle(t *testing.T) {
	env := newTestEnv(t)
	owner, ownerToken := env.user(t, "Ada", "ada@example.com")
	_, otherToken := env.user(t, "Grace", "grace@example.com")

	rec := env.do(t, multipartRequest(t, http.MethodPost, "/recipes/create-recipe", recipeFields(), photoFile()), ownerToken)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Equal(t, "Recipe created successfully", decode(t, rec)["message"])

	list, err := env.recipes.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	recipeID := list[0].ID.Hex()

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/recipes/"+recipeID, nil), "")
	require.Equal(t, http.StatusOK, rec.Code)
	data := decode(t, rec)["data"].(map[string]any)
	require.Equal(t, "Pancakes", data["title"])
	require.Equal(t, "Ada", data["creator"].(map[string]any)["name"])

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/recipes/search-recipe?recipeName=pan", nil), "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decode(t, rec)["data"], 1)

	edit := recipeFields()
	edit["title"] = "Fluffy pancakes"
	rec = env.do(t, multipartRequest(t, http.MethodPut, "/recipes/edit-recipe/"+recipeID, edit), otherToken)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, multipartRequest(t, http.MethodPut, "/recipes/edit-recipe/"+recipeID, edit), ownerToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	stored, err := env.recipes.Get(context.Background(), list[0].ID)
	require.NoError(t, err)
	require.Equal(t, "Fluffy pancakes", stored.Title)

	rec = env.do(t, httptest.NewRequest(http.MethodDelete, "/recipes/delete-recipe/"+recipeID, nil), otherToken)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, httptest.NewRequest(http.MethodDelete, "/recipes/delete-recipe/"+recipeID, nil), ownerToken)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, env.backend.Deleted(), 1)

	reloaded, err := env.users.GetByID(context.Background(), owner.ID)
	require.NoError(t, err)
	require.Empty(t, reloaded.Recipes)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/recipes/"+recipeID, nil), "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, recipeNotFound, decode(t, rec)["message"])
}

func TestCreateRecipeValidation(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.user(t, "Ada", "ada@example.com")

	fields := recipeFields()
	fields["title"] = "Ab"
	rec := env.do(t, multipartRequest(t, http.MethodPost, "/recipes/create-recipe", fields, photoFile()), token)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "Title should be atleast 3 characters long", fieldErrors(t, rec)["title"])
	require.Empty(t, env.backend.Keys())

	fields = recipeFields()
	fields["ingredients"] = "flour, eggs"
	rec = env.do(t, multipartRequest(t, http.MethodPost, "/recipes/create-recipe", fields, photoFile()), token)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, fieldErrors(t, rec), "ingredients")

	list, err := env.recipes.List(context.Background())
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestCreateRecipeUploadFailure(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.user(t, "Ada", "ada@example.com")
	env.backend.PutErr = io.ErrUnexpectedEOF

	rec := env.do(t, multipartRequest(t, http.MethodPost, "/recipes/create-recipe", recipeFields(), photoFile()), token)
	require.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestToggleLike(t *testing.T) {
	env := newTestEnv(t)
	owner, _ := env.user(t, "Ada", "ada@example.com")
	_, token := env.user(t, "Grace", "grace@example.com")
	recipe := env.createRecipe(t, owner.ID)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/recipes/likes/"+recipe.ID.Hex(), nil), token)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, decode(t, rec)["liked"])

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/recipes/likes/"+recipe.ID.Hex(), nil), token)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, false, decode(t, rec)["liked"])

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/recipes/likes/"+primitive.NewObjectID().Hex(), nil), token)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/recipes/likes/not-an-id", nil), token)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestToggleFollow(t *testing.T) {
	env := newTestEnv(t)
	ada, adaToken := env.user(t, "Ada", "ada@example.com")
	grace, _ := env.user(t, "Grace", "grace@example.com")

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/users/follow-unfollow/"+grace.ID.Hex(), nil), adaToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	require.Equal(t, true, body["following"])
	require.Equal(t, float64(1), body["followerCount"])

	reloaded, err := env.users.GetByID(context.Background(), ada.ID)
	require.NoError(t, err)
	require.True(t, reloaded.IsFollowing(grace.ID))

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/users/follow-unfollow/"+grace.ID.Hex(), nil), adaToken)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	require.Equal(t, false, body["following"])
	require.Equal(t, float64(0), body["followerCount"])

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/users/follow-unfollow/"+ada.ID.Hex(), nil), adaToken)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "You cannot follow yourself", decode(t, rec)["message"])

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/users/follow-unfollow/"+primitive.NewObjectID().Hex(), nil), adaToken)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProfileRoutes(t *testing.T) {
	env := newTestEnv(t)
	ada, adaToken := env.user(t, "Ada", "ada@example.com")
	_, graceToken := env.user(t, "Grace", "grace@example.com")
	recipe := env.createRecipe(t, ada.ID)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/users/profile", nil), adaToken)
	require.Equal(t, http.StatusOK, rec.Code)
	data := decode(t, rec)["data"].(map[string]any)
	require.Equal(t, "ada@example.com", data["email"])
	require.NotContains(t, data, "password")
	require.Len(t, data["recipes"], 1)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/users/creator-profile/"+ada.ID.Hex(), nil), "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/recipes/likes/"+recipe.ID.Hex(), nil), graceToken)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/users/liked-recipes", nil), graceToken)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decode(t, rec)["data"], 1)

	rec = env.do(t, jsonRequest(t, http.MethodPut, "/users/update-user", map[string]string{
		"name": "Ada King", "email": "grace@example.com", "password": testPassword, "cnfPassword": testPassword,
	}), adaToken)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "Email already in use", fieldErrors(t, rec)["email"])

	rec = env.do(t, jsonRequest(t, http.MethodPut, "/users/update-user", map[string]string{
		"name": "Ada King", "email": "ada@king.dev", "password": testPassword, "cnfPassword": testPassword,
	}), adaToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, multipartRequest(t, http.MethodPut, "/users/update-avatar", nil,
		multipartFile{field: "avatar", filename: "new.png", data: pngData}), adaToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	url := decode(t, rec)["newavatarURL"].(string)
	reloaded, err := env.users.GetByID(context.Background(), ada.ID)
	require.NoError(t, err)
	require.Equal(t, url, reloaded.Avatar)
	require.Equal(t, "Ada King", reloaded.Name)
}

func TestHealthz(t *testing.T) {
	rec := httptest.NewRecorder()
	Healthz(nil)(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	Healthz(failingPinger{})(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return io.EOF }
