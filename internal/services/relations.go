package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/foodior/apiserver/internal/metrics"
	"github.com/foodior/apiserver/internal/store"
	"github.com/foodior/apiserver/types"
)

// FollowResult is the state after a follow toggle.
type FollowResult struct {
	Following           bool
	TargetFollowerCount int
}

// ReconcileReport counts the repairs made by Reconcile.
type ReconcileReport struct {
	Users              int
	SelfFollows        int
	MirroredFollowers  int
	MirroredFollowing  int
	DanglingFollows    int
	DanglingRecipeRefs int
	MissingRecipeRefs  int
}

// Repairs returns the total number of entries changed.
func (r ReconcileReport) Repairs() int {
	return r.SelfFollows + r.MirroredFollowers + r.MirroredFollowing +
		r.DanglingFollows + r.DanglingRecipeRefs + r.MissingRecipeRefs
}

// RelationService toggles likes and follows and repairs follow asymmetry.
type RelationService struct {
	recipes RecipeRepository
	users   UserRepository
	tx      store.Transactor
	logger  *slog.Logger
}

func NewRelationService(recipes RecipeRepository, users UserRepository, tx store.Transactor, logger *slog.Logger) *RelationService {
	if tx == nil {
		tx = store.NoopTransactor{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RelationService{recipes: recipes, users: users, tx: tx, logger: logger}
}

// ToggleLike flips subjectID's like on a recipe and returns whether the
// subject likes it afterwards. Both steps are single-document conditional
// updates, so concurrent toggles never duplicate a like.
func (s *RelationService) ToggleLike(ctx context.Context, subjectID, recipeID primitive.ObjectID) (bool, error) {
	removed, err := s.recipes.RemoveLike(ctx, recipeID, subjectID)
	if err != nil {
		return false, err
	}
	if removed {
		metrics.RelationToggles.WithLabelValues("like", "removed").Inc()
		return false, nil
	}

	// A concurrent toggle may have added the like already; either way the
	// subject likes the recipe now.
	if _, err := s.recipes.AddLike(ctx, recipeID, subjectID); err != nil {
		return false, err
	}
	metrics.RelationToggles.WithLabelValues("like", "added").Inc()
	return true, nil
}

// ToggleFollow makes actorID follow targetID, or stop following it, keeping
// target.followers and actor.following mirrored.
func (s *RelationService) ToggleFollow(ctx context.Context, actorID, targetID primitive.ObjectID) (FollowResult, error) {
	if actorID == targetID {
		return FollowResult{}, ErrInvalidOperation
	}

	target, err := s.users.GetByID(ctx, targetID)
	if err != nil {
		return FollowResult{}, err
	}
	if _, err := s.users.GetByID(ctx, actorID); err != nil {
		return FollowResult{}, err
	}

	unfollow := target.HasFollower(actorID)
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if unfollow {
			return s.mirror(ctx, actorID, targetID, s.users.RemoveFromSet, s.users.AddToSet)
		}
		return s.mirror(ctx, actorID, targetID, s.users.AddToSet, s.users.RemoveFromSet)
	})
	if err != nil {
		return FollowResult{}, err
	}

	result := FollowResult{Following: !unfollow}
	if result.Following {
		metrics.RelationToggles.WithLabelValues("follow", "added").Inc()
	} else {
		metrics.RelationToggles.WithLabelValues("follow", "removed").Inc()
	}

	refreshed, err := s.users.GetByID(ctx, targetID)
	if err != nil {
		s.logger.Warn("follower count estimated", "target", targetID.Hex(), "error", err)
		count := target.FollowerCount()
		if result.Following {
			count++
		} else {
			count--
		}
		result.TargetFollowerCount = count
		return result, nil
	}
	result.TargetFollowerCount = refreshed.FollowerCount()
	return result, nil
}

type setOp func(ctx context.Context, id primitive.ObjectID, set store.UserSet, value primitive.ObjectID) (bool, error)

// mirror applies apply to target.followers and actor.following. Without an
// atomic transaction a failed second write is undone with undo; if the undo
// fails too the pair is left for Reconcile and ErrConflictRisk is returned.
func (s *RelationService) mirror(ctx context.Context, actorID, targetID primitive.ObjectID, apply, undo setOp) error {
	changed, err := apply(ctx, targetID, store.SetFollowers, actorID)
	if err != nil {
		return fmt.Errorf("update followers: %w", err)
	}

	if _, err := apply(ctx, actorID, store.SetFollowing, targetID); err != nil {
		if s.tx.Atomic() || !changed {
			return fmt.Errorf("update following: %w", err)
		}
		if _, undoErr := undo(ctx, targetID, store.SetFollowers, actorID); undoErr != nil {
			s.logger.Error("follow relation left asymmetric",
				"actor", actorID.Hex(), "target", targetID.Hex(), "error", err, "undo_error", undoErr)
			return fmt.Errorf("%w: %v", ErrConflictRisk, err)
		}
		return fmt.Errorf("update following: %w", err)
	}
	return nil
}

// Reconcile scans every user and repairs follow asymmetry, self-follows,
// follows of missing users and stale recipe back-references. Missing mirror
// entries are added rather than the existing side removed.
func (s *RelationService) Reconcile(ctx context.Context) (ReconcileReport, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return ReconcileReport{}, fmt.Errorf("list users: %w", err)
	}
	recipes, err := s.recipes.List(ctx)
	if err != nil {
		return ReconcileReport{}, fmt.Errorf("list recipes: %w", err)
	}

	byID := make(map[primitive.ObjectID]types.User, len(users))
	for _, user := range users {
		byID[user.ID] = user
	}
	owned := make(map[primitive.ObjectID][]primitive.ObjectID)
	existing := make(map[primitive.ObjectID]bool, len(recipes))
	for _, recipe := range recipes {
		existing[recipe.ID] = true
		owned[recipe.Creator] = append(owned[recipe.Creator], recipe.ID)
	}

	report := ReconcileReport{Users: len(users)}
	for _, user := range users {
		if err := s.reconcileUser(ctx, user, byID, &report); err != nil {
			return report, err
		}

		for _, recipeID := range user.Recipes {
			if existing[recipeID] {
				continue
			}
			if err := s.repair(ctx, s.users.RemoveFromSet, user.ID, store.SetRecipes, recipeID, &report.DanglingRecipeRefs, "dangling_recipe"); err != nil {
				return report, err
			}
		}
		for _, recipeID := range owned[user.ID] {
			if user.HasRecipe(recipeID) {
				continue
			}
			if err := s.repair(ctx, s.users.AddToSet, user.ID, store.SetRecipes, recipeID, &report.MissingRecipeRefs, "missing_recipe"); err != nil {
				return report, err
			}
		}
	}

	s.logger.Info("reconciliation finished",
		"users", report.Users, "repairs", report.Repairs(),
		"self_follows", report.SelfFollows,
		"mirrored_followers", report.MirroredFollowers,
		"mirrored_following", report.MirroredFollowing,
		"dangling_follows", report.DanglingFollows,
		"dangling_recipe_refs", report.DanglingRecipeRefs,
		"missing_recipe_refs", report.MissingRecipeRefs,
	)
	return report, nil
}

func (s *RelationService) reconcileUser(ctx context.Context, user types.User, byID map[primitive.ObjectID]types.User, report *ReconcileReport) error {
	for _, followedID := range user.Following {
		followed, ok := byID[followedID]
		switch {
		case followedID == user.ID:
			if err := s.repair(ctx, s.users.RemoveFromSet, user.ID, store.SetFollowing, followedID, &report.SelfFollows, "self_follow"); err != nil {
				return err
			}
		case !ok:
			if err := s.repair(ctx, s.users.RemoveFromSet, user.ID, store.SetFollowing, followedID, &report.DanglingFollows, "dangling_follow"); err != nil {
				return err
			}
		case !followed.HasFollower(user.ID):
			if err := s.repair(ctx, s.users.AddToSet, followedID, store.SetFollowers, user.ID, &report.MirroredFollowers, "mirror_follower"); err != nil {
				return err
			}
		}
	}

	for _, followerID := range user.Followers {
		follower, ok := byID[followerID]
		switch {
		case followerID == user.ID:
			if err := s.repair(ctx, s.users.RemoveFromSet, user.ID, store.SetFollowers, followerID, &report.SelfFollows, "self_follow"); err != nil {
				return err
			}
		case !ok:
			if err := s.repair(ctx, s.users.RemoveFromSet, user.ID, store.SetFollowers, followerID, &report.DanglingFollows, "dangling_follow"); err != nil {
				return err
			}
		case !follower.IsFollowing(user.ID):
			if err := s.repair(ctx, s.users.AddToSet, followerID, store.SetFollowing, user.ID, &report.MirroredFollowing, "mirror_following"); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *RelationService) repair(ctx context.Context, op setOp, id primitive.ObjectID, set store.UserSet, value primitive.ObjectID, counter *int, kind string) error {
	changed, err := op(ctx, id, set, value)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("repair %s on %s: %w", set, id.Hex(), err)
	}
	if changed {
		*counter++
		metrics.RelationRepairs.WithLabelValues(kind).Inc()
	}
	return nil
}
