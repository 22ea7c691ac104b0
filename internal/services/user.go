package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/crypto/bcrypt"

	"github.com/foodior/apiserver/internal/auth"
	"github.com/foodior/apiserver/internal/storage"
	"github.com/foodior/apiserver/internal/store"
	"github.com/foodior/apiserver/types"
)

// AvatarTooLarge is reported on the avatar field for oversized avatars.
const AvatarTooLarge = "Avatar should be less than 500KB"

// AuthResult is returned by SignUp and SignIn.
type AuthResult struct {
	Token  string
	Avatar string
	UserID primitive.ObjectID
}

// UserService encapsulates account use-cases.
type UserService struct {
	users    UserRepository
	recipes  RecipeRepository
	tokens   *auth.TokenService
	media    *MediaJanitor
	logger   *slog.Logger
	hashCost int
}

func NewUserService(users UserRepository, recipes RecipeRepository, tokens *auth.TokenService, media *MediaJanitor, logger *slog.Logger) *UserService {
	if logger == nil {
		logger = slog.Default()
	}
	return &UserService{
		users:    users,
		recipes:  recipes,
		tokens:   tokens,
		media:    media,
		logger:   logger,
		hashCost: bcrypt.DefaultCost,
	}
}

// SignUp registers a user with the ordinary role and returns a credential.
// A taken email is reported on the email field and nothing is written.
func (s *UserService) SignUp(ctx context.Context, in SignUpInput, avatar *storage.File) (AuthResult, error) {
	if err := validateSignUp(in, avatar).Err(); err != nil {
		return AuthResult{}, err
	}

	email := strings.ToLower(strings.TrimSpace(in.Email))
	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return AuthResult{}, emailTaken("Email already exists")
	} else if !errors.Is(err, store.ErrNotFound) {
		return AuthResult{}, fmt.Errorf("check email: %w", err)
	}

	if err := checkMediaSize(avatar, "avatar", AvatarTooLarge); err != nil {
		return AuthResult{}, err
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(strings.TrimSpace(in.Password)), s.hashCost)
	if err != nil {
		return AuthResult{}, fmt.Errorf("hash password: %w", err)
	}

	avatarURL, err := s.media.Upload(ctx, "avatar", *avatar)
	if err != nil {
		return AuthResult{}, err
	}

	user, err := s.users.Create(ctx, types.User{
		Name:         strings.TrimSpace(in.Name),
		Email:        email,
		PasswordHash: string(hashed),
		Avatar:       avatarURL,
		Role:         types.RoleUser,
	})
	if err != nil {
		s.media.Release(ctx, avatarURL, "sign-up failed")
		if errors.Is(err, store.ErrDuplicate) {
			return AuthResult{}, emailTaken("Email already exists")
		}
		return AuthResult{}, fmt.Errorf("create user: %w", err)
	}

	token, err := s.tokens.Issue(user.ID, user.Role)
	if err != nil {
		return AuthResult{}, fmt.Errorf("issue token: %w", err)
	}
	s.logger.Info("user registered", "user", user.ID.Hex())
	return AuthResult{Token: token, Avatar: user.Avatar, UserID: user.ID}, nil
}

// SignIn checks credentials and returns a fresh credential.
func (s *UserService) SignIn(ctx context.Context, email, password string) (AuthResult, error) {
	if err := validateSignIn(email, password).Err(); err != nil {
		return AuthResult{}, err
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return AuthResult{}, ErrInvalidCredentials
		}
		return AuthResult{}, fmt.Errorf("load user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(strings.TrimSpace(password))); err != nil {
		return AuthResult{}, ErrInvalidCredentials
	}

	token, err := s.tokens.Issue(user.ID, user.Role)
	if err != nil {
		return AuthResult{}, fmt.Errorf("issue token: %w", err)
	}
	return AuthResult{Token: token, Avatar: user.Avatar, UserID: user.ID}, nil
}

// Profile returns a user with their recipes populated.
func (s *UserService) Profile(ctx context.Context, id primitive.ObjectID) (types.Profile, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return types.Profile{}, err
	}
	recipes, err := s.recipes.GetMany(ctx, user.Recipes)
	if err != nil {
		return types.Profile{}, err
	}
	views, err := populate(ctx, s.users, recipes)
	if err != nil {
		return types.Profile{}, err
	}
	return types.Profile{User: user, Recipes: views}, nil
}

// CreatorProfile is the public view of another user's profile.
func (s *UserService) CreatorProfile(ctx context.Context, id primitive.ObjectID) (types.Profile, error) {
	return s.Profile(ctx, id)
}

// UpdateAvatar replaces the user's avatar and returns the new URL. The old
// avatar is released after the record points at the new one.
func (s *UserService) UpdateAvatar(ctx context.Context, id primitive.ObjectID, avatar *storage.File) (string, error) {
	if avatar == nil {
		return "", fieldError("avatar", "Avatar is required")
	}
	if err := checkMediaSize(avatar, "avatar", AvatarTooLarge); err != nil {
		return "", err
	}

	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return "", err
	}

	url, err := s.media.Upload(ctx, "avatar", *avatar)
	if err != nil {
		return "", err
	}
	if err := s.users.UpdateAvatar(ctx, id, url); err != nil {
		s.media.Release(ctx, url, "avatar update failed")
		return "", fmt.Errorf("update avatar: %w", err)
	}

	s.media.Release(ctx, user.Avatar, "avatar replaced")
	return url, nil
}

// UpdateProfile changes name and email. The submitted password must match
// the current one.
func (s *UserService) UpdateProfile(ctx context.Context, id primitive.ObjectID, in UpdateProfileInput) error {
	if err := validateUpdateProfile(in).Err(); err != nil {
		return err
	}

	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return err
	}

	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email != user.Email {
		other, err := s.users.GetByEmail(ctx, email)
		if err == nil && other.ID != id {
			return emailTaken("Email already in use")
		}
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("check email: %w", err)
		}
	}

	password := strings.TrimSpace(in.Password)
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return fieldError("password", "Incorrect password")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	err = s.users.UpdateProfile(ctx, id, strings.TrimSpace(in.Name), email, string(hashed))
	if errors.Is(err, store.ErrDuplicate) {
		return emailTaken("Email already in use")
	}
	return err
}

// LikedRecipes returns the recipes liked by the user.
func (s *UserService) LikedRecipes(ctx context.Context, id primitive.ObjectID) ([]types.RecipeView, error) {
	recipes, err := s.recipes.ListLikedBy(ctx, id)
	if err != nil {
		return nil, err
	}
	return populate(ctx, s.users, recipes)
}

func emailTaken(msg string) error {
	v := &ValidationError{Conflict: true}
	v.Add("email", msg)
	return v
}
