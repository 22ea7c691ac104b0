package services

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/foodior/apiserver/internal/storage"
	"github.com/foodior/apiserver/types"
)

// MaxMediaBytes is the largest accepted avatar or recipe photo.
const MaxMediaBytes = 500000

const (
	minTitleLen    = 3
	minCategoryLen = 3
	minNameLen     = 3
	minPasswordLen = 6
)

var (
	namePattern = regexp.MustCompile(`^([a-zA-Z]+\s)*[a-zA-Z]+$`)
	fieldRules  = validator.New()
)

// RecipeInput carries the editable fields of a recipe.
type RecipeInput struct {
	Title          string
	Category       string
	Content        string
	RecipeImageURL string
	Ingredients    []types.Ingredient
}

func (in RecipeInput) normalized() RecipeInput {
	in.Title = strings.TrimSpace(in.Title)
	in.Category = strings.TrimSpace(in.Category)
	in.Content = strings.TrimSpace(in.Content)
	in.RecipeImageURL = strings.TrimSpace(in.RecipeImageURL)
	ingredients := make([]types.Ingredient, 0, len(in.Ingredients))
	for _, ing := range in.Ingredients {
		ingredients = append(ingredients, types.Ingredient{
			Name:     strings.TrimSpace(ing.Name),
			Quantity: strings.TrimSpace(ing.Quantity),
			Unit:     strings.TrimSpace(ing.Unit),
		})
	}
	in.Ingredients = ingredients
	return in
}

// validateRecipe checks a normalized input. hasImage reports whether an
// uploaded or already stored photo satisfies the image rule.
func validateRecipe(in RecipeInput, hasImage bool) *ValidationError {
	v := &ValidationError{}

	switch {
	case in.Title == "":
		v.Add("title", "Title is required")
	case utf8.RuneCountInString(in.Title) < minTitleLen:
		v.Add("title", "Title should be atleast 3 characters long")
	}

	switch {
	case in.Category == "":
		v.Add("category", "Category is required")
	case fieldRules.Var(in.Category, "alpha") != nil:
		v.Add("category", "Category must only contain letters")
	case len(in.Category) < minCategoryLen:
		v.Add("category", "Category should be atleast 3 characters long")
	}

	if in.Content == "" {
		v.Add("content", "Content is required")
	}

	if !hasImage && in.RecipeImageURL == "" {
		v.Add("image", "Recipe image / URL is required")
	}

	if len(in.Ingredients) == 0 {
		v.Add("ingredients", "At least one ingredient is required")
	}
	for _, ing := range in.Ingredients {
		if ing.Name == "" || ing.Quantity == "" {
			v.Add("ingredients", "Each ingredient should contain atleast name and quantity")
			break
		}
	}
	return v
}

// SignUpInput carries the sign-up form fields.
type SignUpInput struct {
	Name            string
	Email           string
	Password        string
	ConfirmPassword string
}

func validateSignUp(in SignUpInput, avatar *storage.File) *ValidationError {
	v := &ValidationError{}
	validateName(v, in.Name)
	validateEmail(v, in.Email, "Invalid email format")
	switch {
	case strings.TrimSpace(in.Password) == "":
		v.Add("password", "Password is required")
	case len(strings.TrimSpace(in.Password)) < minPasswordLen:
		v.Add("password", "Password should have minimum of 6 characters")
	}
	validateConfirmation(v, in.Password, in.ConfirmPassword)
	if avatar == nil {
		v.Add("avatar", "Avatar is required")
	}
	return v
}

// UpdateProfileInput carries the profile form. Password must be the
// subject's current password.
type UpdateProfileInput struct {
	Name            string
	Email           string
	Password        string
	ConfirmPassword string
}

func validateUpdateProfile(in UpdateProfileInput) *ValidationError {
	v := &ValidationError{}
	validateName(v, in.Name)
	validateEmail(v, in.Email, "Enter a valid email")
	if strings.TrimSpace(in.Password) == "" {
		v.Add("password", "Password is required")
	}
	validateConfirmation(v, in.Password, in.ConfirmPassword)
	return v
}

func validateSignIn(email, password string) *ValidationError {
	v := &ValidationError{}
	if strings.TrimSpace(email) == "" {
		v.Add("email", "Email is required")
	}
	if strings.TrimSpace(password) == "" {
		v.Add("password", "Password is required")
	}
	return v
}

func validateName(v *ValidationError, name string) {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		v.Add("name", "Name is required")
	case !namePattern.MatchString(name):
		v.Add("name", "Name must only contain letters with spaces only in the middle")
	case len(name) < minNameLen:
		v.Add("name", "Name should be atleast 3 characters long")
	}
}

func validateEmail(v *ValidationError, email, invalidMsg string) {
	email = strings.TrimSpace(email)
	if email == "" {
		v.Add("email", "Email is required")
		return
	}
	if fieldRules.Var(email, "email") != nil {
		v.Add("email", invalidMsg)
	}
}

func validateConfirmation(v *ValidationError, password, confirmation string) {
	switch {
	case strings.TrimSpace(confirmation) == "":
		v.Add("cnfPassword", "Confirmation password is required")
	case password != confirmation:
		v.Add("cnfPassword", "Passwords do not match")
	}
}

// checkMediaSize rejects files over MaxMediaBytes before any upload.
func checkMediaSize(file *storage.File, field, msg string) error {
	if file != nil && file.Size() > MaxMediaBytes {
		return &UploadError{Field: field, Message: msg}
	}
	return nil
}
