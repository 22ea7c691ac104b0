package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/foodior/apiserver/types"
)

const usersCollection = "users"

// UserSet names one of the id sets kept on a user document.
type UserSet string

const (
	SetRecipes   UserSet = "recipes"
	SetFollowers UserSet = "followers"
	SetFollowing UserSet = "following"
)

func (s UserSet) valid() bool {
	switch s {
	case SetRecipes, SetFollowers, SetFollowing:
		return true
	default:
		return false
	}
}

// UserRepository handles persistence for users.
type UserRepository struct {
	col *mongo.Collection
}

func NewUserRepository(db *mongo.Database) *UserRepository {
	return &UserRepository{col: db.Collection(usersCollection)}
}

func (r *UserRepository) GetByID(ctx context.Context, id primitive.ObjectID) (types.User, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (types.User, error) {
	return r.findOne(ctx, bson.M{"email": normalizeEmail(email)})
}

func (r *UserRepository) GetMany(ctx context.Context, ids []primitive.ObjectID) ([]types.User, error) {
	if len(ids) == 0 {
		return []types.User{}, nil
	}
	return r.find(ctx, bson.M{"_id": bson.M{"$in": ids}})
}

// List returns every user. It backs the reconciliation sweep.
func (r *UserRepository) List(ctx context.Context) ([]types.User, error) {
	return r.find(ctx, bson.M{})
}

func (r *UserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	now := time.Now().UTC()
	user.ID = primitive.NewObjectID()
	user.Email = normalizeEmail(user.Email)
	user.CreatedAt = now
	user.UpdatedAt = now
	if user.Recipes == nil {
		user.Recipes = []primitive.ObjectID{}
	}
	if user.Followers == nil {
		user.Followers = []primitive.ObjectID{}
	}
	if user.Following == nil {
		user.Following = []primitive.ObjectID{}
	}

	if _, err := r.col.InsertOne(ctx, user); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return types.User{}, ErrDuplicate
		}
		return types.User{}, err
	}
	return user, nil
}

func (r *UserRepository) UpdateProfile(ctx context.Context, id primitive.ObjectID, name, email, passwordHash string) error {
	set := bson.M{
		"name":      name,
		"email":     normalizeEmail(email),
		"password":  passwordHash,
		"updatedAt": time.Now().UTC(),
	}
	return r.updateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
}

func (r *UserRepository) UpdateAvatar(ctx context.Context, id primitive.ObjectID, avatar string) error {
	set := bson.M{"avatar": avatar, "updatedAt": time.Now().UTC()}
	return r.updateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
}

// AddToSet adds value to the named set with $addToSet. It reports whether
// the set changed.
func (r *UserRepository) AddToSet(ctx context.Context, id primitive.ObjectID, set UserSet, value primitive.ObjectID) (bool, error) {
	if !set.valid() {
		return false, errors.New("unknown user set")
	}
	update := bson.M{
		"$addToSet": bson.M{string(set): value},
		"$set":      bson.M{"updatedAt": time.Now().UTC()},
	}
	return r.modify(ctx, id, update, bson.M{"_id": id, string(set): bson.M{"$ne": value}})
}

// RemoveFromSet pulls value from the named set. It reports whether the set
// changed.
func (r *UserRepository) RemoveFromSet(ctx context.Context, id primitive.ObjectID, set UserSet, value primitive.ObjectID) (bool, error) {
	if !set.valid() {
		return false, errors.New("unknown user set")
	}
	update := bson.M{
		"$pull": bson.M{string(set): value},
		"$set":  bson.M{"updatedAt": time.Now().UTC()},
	}
	return r.modify(ctx, id, update, bson.M{"_id": id, string(set): value})
}

// modify applies update to the document matching guard. When nothing
// matches it distinguishes a missing document from a no-op.
func (r *UserRepository) modify(ctx context.Context, id primitive.ObjectID, update, guard bson.M) (bool, error) {
	result, err := r.col.UpdateOne(ctx, guard, update)
	if err != nil {
		return false, err
	}
	if result.MatchedCount > 0 {
		return true, nil
	}
	count, err := r.col.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return false, err
	}
	if count == 0 {
		return false, ErrNotFound
	}
	return false, nil
}

func (r *UserRepository) updateOne(ctx context.Context, filter, update bson.M) error {
	result, err := r.col.UpdateOne(ctx, filter, update)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return err
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *UserRepository) findOne(ctx context.Context, filter bson.M) (types.User, error) {
	var user types.User
	if err := r.col.FindOne(ctx, filter).Decode(&user); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	return user, nil
}

func (r *UserRepository) find(ctx context.Context, filter bson.M) ([]types.User, error) {
	cur, err := r.col.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	users := []types.User{}
	for cur.Next(ctx) {
		var user types.User
		if err := cur.Decode(&user); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
