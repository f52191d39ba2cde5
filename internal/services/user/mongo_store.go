package user

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gameserver/internal/database/mongo_client"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

type mongoUser struct {
	ID            string    `bson:"_id"`
	UserName      string    `bson:"userName"`
	Password      string    `bson:"password"`
	CreateTime    time.Time `bson:"createTime"`
	LastLoginTime time.Time `bson:"lastLoginTime,omitempty"`
	LoginCount    int       `bson:"loginCount"`
	RegisterIP    string    `bson:"registerIp"`
	LastLoginIP   string    `bson:"lastLoginIp"`
}

func (u *mongoUser) dto() *UserDTO {
	return &UserDTO{
		ID:          u.ID,
		Username:    u.UserName,
		CreatedAt:   u.CreateTime,
		LastLoginAt: u.LastLoginTime,
		LoginCount:  u.LoginCount,
	}
}

type mongoStore struct {
	users  *mongo.Collection
	hasher hasher
}

// NewMongoStore expects the unique userName index from
// mongo_client.EnsureIndexes.
func NewMongoStore(db *mongo.Database) IUserService {
	return newMongoStore(db, defaultHashCost)
}

func newMongoStore(db *mongo.Database, cost int) *mongoStore {
	return &mongoStore{users: db.Collection(mongo_client.UsersCollection), hasher: hasher{cost: cost}}
}

func (s *mongoStore) Register(ctx context.Context, cred Credentials) (*UserDTO, error) {
	hashed, err := s.hasher.hash(cred.Password)
	if err != nil {
		return nil, err
	}

	doc := &mongoUser{
		ID:         uuid.NewString(),
		UserName:   normalizeUsername(cred.Username),
		Password:   hashed,
		CreateTime: time.Now().UTC(),
		RegisterIP: remoteHost(cred.RemoteAddr),
	}
	if _, err := s.users.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return doc.dto(), nil
}

func (s *mongoStore) Authenticate(ctx context.Context, cred Credentials) (*UserDTO, error) {
	var doc mongoUser
	err := s.users.FindOne(ctx, bson.M{"userName": normalizeUsername(cred.Username)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrBadCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if !s.hasher.verify(cred.Password, doc.Password) {
		return nil, ErrBadCredentials
	}

	now := time.Now().UTC()
	update := bson.M{
		"$set": bson.M{"lastLoginTime": now, "lastLoginIp": remoteHost(cred.RemoteAddr)},
		"$inc": bson.M{"loginCount": 1},
	}
	if _, err := s.users.UpdateByID(ctx, doc.ID, update); err != nil {
		zap.L().Warn("user.login_stats", zap.String("user", doc.ID), zap.Error(err))
	} else {
		doc.LastLoginTime = now
		doc.LoginCount++
	}
	return doc.dto(), nil
}
