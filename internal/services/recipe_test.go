package services

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/foodior/apiserver/internal/storage"
	"github.com/foodior/apiserver/internal/store"
	"github.com/foodior/apiserver/types"
)

func TestCreateRecipeShortTitleStoresNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	owner := f.user(t, "Ada", "ada@example.com")

	in := validRecipe()
	in.Title = "Ab"
	_, err := f.recipeSvc.Create(ctx, owner.ID, in, photo())
	verr := requireFieldError(t, err, "title", "Title should be atleast 3 characters long")
	require.Len(t, verr.Fields, 1)

	all, err := f.recipes.List(ctx)
	require.NoError(t, err)
	require.Empty(t, all)
	require.Empty(t, f.backend.Keys())
	require.Empty(t, f.reload(t, owner.ID).Recipes)
}

func TestCreateRecipeCollectsAllFieldErrors(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "Ada", "ada@example.com")

	_, err := f.recipeSvc.Create(context.Background(), owner.ID, RecipeInput{}, nil)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, map[string]string{
		"title":       "Title is required",
		"category":    "Category is required",
		"content":     "Content is required",
		"image":       "Recipe image / URL is required",
		"ingredients": "At least one ingredient is required",
	}, verr.Fields)
	require.False(t, verr.Conflict)
}

func TestCreateRecipeFieldRules(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "Ada", "ada@example.com")

	cases := []struct {
		name  string
		edit  func(*RecipeInput)
		field string
		msg   string
	}{
		{"category with digits", func(in *RecipeInput) { in.Category = "dess3rt" }, "category", "Category must only contain letters"},
		{"category with space", func(in *RecipeInput) { in.Category = "main dish" }, "category", "Category must only contain letters"},
		{"short category", func(in *RecipeInput) { in.Category = "pi" }, "category", "Category should be atleast 3 characters long"},
		{"blank content", func(in *RecipeInput) { in.Content = "   " }, "content", "Content is required"},
		{"ingredient without quantity", func(in *RecipeInput) {
			in.Ingredients = append(in.Ingredients, types.Ingredient{Name: "salt"})
		}, "ingredients", "Each ingredient should contain atleast name and quantity"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := validRecipe()
			tc.edit(&in)
			_, err := f.recipeSvc.Create(context.Background(), owner.ID, in, photo())
			requireFieldError(t, err, tc.field, tc.msg)
		})
	}
}

func TestCreateRecipeWithExternalImageOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	owner := f.user(t, "Ada", "ada@example.com")

	in := validRecipe()
	in.RecipeImageURL = "https://images.example.org/pancakes.jpg"
	recipe, err := f.recipeSvc.Create(ctx, owner.ID, in, nil)
	require.NoError(t, err)
	require.Empty(t, recipe.RecipePhoto)
	require.Equal(t, in.RecipeImageURL, recipe.RecipeImageURL)
	require.Empty(t, f.backend.Keys())
}

func TestCreateRecipeRejectsLargePhotoBeforeUpload(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "Ada", "ada@example.com")

	big := &storage.File{Filename: "big.png", Data: append(append([]byte{}, pngData...), bytes.Repeat([]byte{0}, MaxMediaBytes)...)}
	_, err := f.recipeSvc.Create(context.Background(), owner.ID, validRecipe(), big)

	var uerr *UploadError
	require.ErrorAs(t, err, &uerr)
	require.Equal(t, "image", uerr.Field)
	require.Equal(t, "Recipe Photo should be less than 500KB", uerr.Message)
	require.False(t, uerr.HostFailure())
	require.Empty(t, f.backend.Keys())
}

func TestCreateRecipeUploadFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	owner := f.user(t, "Ada", "ada@example.com")
	f.backend.PutErr = errors.New("host down")

	_, err := f.recipeSvc.Create(ctx, owner.ID, validRecipe(), photo())
	var uerr *UploadError
	require.ErrorAs(t, err, &uerr)
	require.True(t, uerr.HostFailure())

	all, err := f.recipes.List(ctx)
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestCreateRecipeAttachesBackReference(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "Ada", "ada@example.com")

	recipe := f.recipe(t, owner.ID)
	require.Equal(t, owner.ID, recipe.Creator)
	require.True(t, f.host.Owns(recipe.RecipePhoto))
	require.Equal(t, []primitive.ObjectID{recipe.ID}, f.reload(t, owner.ID).Recipes)
}

func TestCreateRecipeUndoneWhenBackReferenceFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	owner := f.user(t, "Ada", "ada@example.com")
	f.users.failAdd[store.SetRecipes] = errors.New("write failed")

	_, err := f.recipeSvc.Create(ctx, owner.ID, validRecipe(), photo())
	require.Error(t, err)

	all, err := f.recipes.List(ctx)
	require.NoError(t, err)
	require.Empty(t, all)
	require.Empty(t, f.backend.Keys())
	require.Len(t, f.backend.Deleted(), 1)
}

func TestUpdateRecipeByNonOwnerIsForbidden(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	owner := f.user(t, "Ada", "ada@example.com")
	intruder := f.user(t, "Eve", "eve@example.com")
	recipe := f.recipe(t, owner.ID)

	in := validRecipe()
	in.Title = "Hijacked"
	_, err := f.recipeSvc.Update(ctx, intruder.ID, recipe.ID, in, photo())
	require.ErrorIs(t, err, ErrForbidden)

	// An invalid payload from a non-owner is still reported as forbidden.
	_, err = f.recipeSvc.Update(ctx, intruder.ID, recipe.ID, RecipeInput{}, nil)
	require.ErrorIs(t, err, ErrForbidden)

	got, err := f.recipes.Get(ctx, recipe.ID)
	require.NoError(t, err)
	require.Equal(t, recipe, got)
	require.Len(t, f.backend.Keys(), 1)
	require.Empty(t, f.backend.Deleted())
}

func TestUpdateRecipeAdminRoleDoesNotBypassOwnership(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	owner := f.user(t, "Ada", "ada@example.com")
	admin, err := f.users.Create(ctx, types.User{Name: "Root", Email: "root@example.com", Role: types.RoleAdmin})
	require.NoError(t, err)
	recipe := f.recipe(t, owner.ID)

	_, err = f.recipeSvc.Update(ctx, admin.ID, recipe.ID, validRecipe(), nil)
	require.ErrorIs(t, err, ErrForbidden)
	require.ErrorIs(t, f.recipeSvc.Delete(ctx, admin.ID, recipe.ID), ErrForbidden)
}

func TestUpdateRecipeMissing(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "Ada", "ada@example.com")

	_, err := f.recipeSvc.Update(context.Background(), owner.ID, primitive.NewObjectID(), validRecipe(), nil)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpdateRecipeKeepsStoredPhoto(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	owner := f.user(t, "Ada", "ada@example.com")
	recipe := f.recipe(t, owner.ID)

	in := validRecipe()
	in.Title = "Fluffy pancakes"
	updated, err := f.recipeSvc.Update(ctx, owner.ID, recipe.ID, in, nil)
	require.NoError(t, err)
	require.Equal(t, "Fluffy pancakes", updated.Title)
	require.Equal(t, recipe.RecipePhoto, updated.RecipePhoto)
	require.Equal(t, owner.ID, updated.Creator)
	require.Empty(t, f.backend.Deleted())
}

func TestUpdateRecipeReplacesPhoto(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	owner := f.user(t, "Ada", "ada@example.com")
	recipe := f.recipe(t, owner.ID)
	oldKey, err := f.host.KeyFromURL(recipe.RecipePhoto)
	require.NoError(t, err)

	updated, err := f.recipeSvc.Update(ctx, owner.ID, recipe.ID, validRecipe(), photo())
	require.NoError(t, err)
	require.NotEqual(t, recipe.RecipePhoto, updated.RecipePhoto)
	require.Equal(t, []string{oldKey}, f.backend.Deleted())
	require.Len(t, f.backend.Keys(), 1)
}

func TestUpdateRecipeMediaReleaseFailureIsQueued(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	owner := f.user(t, "Ada", "ada@example.com")
	recipe := f.recipe(t, owner.ID)
	f.backend.DeleteErr = errors.New("host down")

	_, err := f.recipeSvc.Update(ctx, owner.ID, recipe.ID, validRecipe(), photo())
	require.NoError(t, err)
	require.Len(t, f.queue.jobs, 1)
	require.Equal(t, recipe.RecipePhoto, f.queue.jobs[0].URL)
}

func TestDeleteRecipeByOwner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	owner := f.user(t, "Ada", "ada@example.com")
	recipe := f.recipe(t, owner.ID)
	key, err := f.host.KeyFromURL(recipe.RecipePhoto)
	require.NoError(t, err)

	require.NoError(t, f.recipeSvc.Delete(ctx, owner.ID, recipe.ID))

	_, err = f.recipes.Get(ctx, recipe.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NotContains(t, f.reload(t, owner.ID).Recipes, recipe.ID)
	require.Equal(t, []string{key}, f.backend.Deleted())
}

func TestDeleteRecipeByNonOwnerIsForbidden(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	owner := f.user(t, "Ada", "ada@example.com")
	intruder := f.user(t, "Eve", "eve@example.com")
	recipe := f.recipe(t, owner.ID)

	require.ErrorIs(t, f.recipeSvc.Delete(ctx, intruder.ID, recipe.ID), ErrForbidden)

	got, err := f.recipes.Get(ctx, recipe.ID)
	require.NoError(t, err)
	require.Equal(t, recipe, got)
	require.Equal(t, []primitive.ObjectID{recipe.ID}, f.reload(t, owner.ID).Recipes)
	require.Empty(t, f.backend.Deleted())
}

func TestDeleteRecipeWithExternalImageLeavesMediaHostAlone(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	owner := f.user(t, "Ada", "ada@example.com")
	in := validRecipe()
	in.RecipeImageURL = "https://images.example.org/pancakes.jpg"
	recipe, err := f.recipeSvc.Create(ctx, owner.ID, in, nil)
	require.NoError(t, err)

	require.NoError(t, f.recipeSvc.Delete(ctx, owner.ID, recipe.ID))
	require.Empty(t, f.backend.Deleted())
}

func TestDeleteRecipeMediaFailureDoesNotFail(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	owner := f.user(t, "Ada", "ada@example.com")
	recipe := f.recipe(t, owner.ID)
	f.backend.DeleteErr = errors.New("host down")

	require.NoError(t, f.recipeSvc.Delete(ctx, owner.ID, recipe.ID))
	_, err := f.recipes.Get(ctx, recipe.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.Len(t, f.queue.jobs, 1)
	require.Equal(t, "recipe deleted", f.queue.jobs[0].Reason)
}

func TestRecipeReadsPopulateCreator(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	owner := f.user(t, "Ada", "ada@example.com")
	first := f.recipe(t, owner.ID)

	in := validRecipe()
	in.Title = "Tomato soup"
	_, err := f.recipeSvc.Create(ctx, owner.ID, in, photo())
	require.NoError(t, err)

	all, err := f.recipeSvc.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, first.ID, all[0].ID)
	require.NotNil(t, all[0].Creator)
	require.Equal(t, "Ada", all[0].Creator.Name)

	found, err := f.recipeSvc.Search(ctx, "SOUP")
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.True(t, strings.HasPrefix(found[0].Title, "Tomato"))

	one, err := f.recipeSvc.Get(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, owner.Avatar, one.Creator.Avatar)

	_, err = f.recipeSvc.Get(ctx, primitive.NewObjectID())
	require.ErrorIs(t, err, store.ErrNotFound)
}
