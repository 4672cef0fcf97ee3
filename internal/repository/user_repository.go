package repository

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/entraide-ong/backoffice/internal/model"
)

// UserRepository reads the identity store's profile collection. Profiles are
// owned elsewhere; nothing here writes them.
type UserRepository struct {
	col *mongo.Collection
}

func NewUserRepository(db *mongo.Database) *UserRepository {
	return &UserRepository{col: db.Collection(profilesCollection)}
}

func (r *UserRepository) GetProfile(ctx context.Context, id string) (*model.UserProfile, error) {
	var u model.UserProfile
	if err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&u); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// ListProfiles returns every staff profile, for the directory and for
// notification fan-out.
func (r *UserRepository) ListProfiles(ctx context.Context) ([]model.UserProfile, error) {
	cur, err := r.col.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []model.UserProfile
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
