package db

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	usersCollection    = "users"
	analysesCollection = "analyses"
)

type mongoStore struct {
	uri     string
	name    string
	timeout time.Duration

	mu       sync.RWMutex
	client   *mongo.Client
	database *mongo.Database
}

func newMongoStore(uri, name string, timeout time.Duration) *mongoStore {
	return &mongoStore{uri: uri, name: name, timeout: timeout}
}

func (s *mongoStore) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(s.uri))
	if err != nil {
		return fmt.Errorf("could not connect to mongo: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return fmt.Errorf("could not ping mongo: %w", err)
	}

	database := client.Database(s.name)
	if err := ensureIndexes(ctx, database); err != nil {
		_ = client.Disconnect(context.Background())
		return err
	}

	s.client = client
	s.database = database
	return nil
}

func ensureIndexes(ctx context.Context, database *mongo.Database) error {
	_, err := database.Collection(usersCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "username", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("could not create users index: %w", err)
	}

	_, err = database.Collection(analysesCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "owner", Value: 1}, {Key: "created_at", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("could not create analyses index: %w", err)
	}

	return nil
}

func (s *mongoStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	client := s.client
	s.mu.RUnlock()

	if client == nil {
		return ErrNotConnected
	}
	return client.Ping(ctx, readpref.Primary())
}

func (s *mongoStore) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		return nil
	}

	err := s.client.Disconnect(ctx)
	s.client = nil
	s.database = nil
	return err
}

func (s *mongoStore) collection(name string) (*mongo.Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.database == nil {
		return nil, ErrNotConnected
	}
	return s.database.Collection(name), nil
}

func (s *mongoStore) CreateUser(ctx context.Context, user *User) error {
	users, err := s.collection(usersCollection)
	if err != nil {
		return err
	}

	prepareUser(user)

	_, err = users.InsertOne(ctx, user)
	if mongo.IsDuplicateKeyError(err) {
		return ErrUserExists
	}
	if err != nil {
		return fmt.Errorf("could not insert user: %w", err)
	}

	return nil
}

func (s *mongoStore) GetUser(ctx context.Context, username string) (*User, error) {
	users, err := s.collection(usersCollection)
	if err != nil {
		return nil, err
	}

	var user User
	err = users.FindOne(ctx, bson.M{"username": username}).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("could not find user: %w", err)
	}

	return &user, nil
}

func (s *mongoStore) UpsertGitHubUser(ctx context.Context, user *User) (*User, error) {
	existing, err := s.GetUser(ctx, user.Username)
	if errors.Is(err, ErrNotFound) {
		if err := s.CreateUser(ctx, user); err != nil {
			return nil, err
		}
		return user, nil
	}
	if err != nil {
		return nil, err
	}

	if !existing.IsGitHub() {
		return nil, ErrUserExists
	}

	users, err := s.collection(usersCollection)
	if err != nil {
		return nil, err
	}

	existing.Name = user.Name
	existing.Email = user.Email
	existing.AvatarURL = user.AvatarURL
	existing.GitHubID = user.GitHubID
	existing.UpdatedAt = time.Now().UTC()

	_, err = users.UpdateOne(ctx, bson.M{"_id": existing.ID}, bson.M{
		"$set": bson.M{
			"name":       existing.Name,
			"email":      existing.Email,
			"avatar_url": existing.AvatarURL,
			"github_id":  existing.GitHubID,
			"updated_at": existing.UpdatedAt,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("could not update user: %w", err)
	}

	return existing, nil
}

func (s *mongoStore) SaveAnalysis(ctx context.Context, analysis *Analysis) error {
	analyses, err := s.collection(analysesCollection)
	if err != nil {
		return err
	}

	prepareAnalysis(analysis)

	if _, err := analyses.InsertOne(ctx, analysis); err != nil {
		return fmt.Errorf("could not insert analysis: %w", err)
	}
	return nil
}

func (s *mongoStore) GetAnalysis(ctx context.Context, owner, id string) (*Analysis, error) {
	analyses, err := s.collection(analysesCollection)
	if err != nil {
		return nil, err
	}

	var analysis Analysis
	err = analyses.FindOne(ctx, bson.M{"_id": id, "owner": owner}).Decode(&analysis)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("could not find analysis: %w", err)
	}

	return &analysis, nil
}

func (s *mongoStore) ListAnalyses(ctx context.Context, owner string, limit int) ([]*Analysis, error) {
	analyses, err := s.collection(analysesCollection)
	if err != nil {
		return nil, err
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := analyses.Find(ctx, bson.M{"owner": owner}, opts)
	if err != nil {
		return nil, fmt.Errorf("could not list analyses: %w", err)
	}

	result := []*Analysis{}
	if err := cursor.All(ctx, &result); err != nil {
		return nil, fmt.Errorf("could not decode analyses: %w", err)
	}

	return result, nil
}

func (s *mongoStore) DeleteAnalysis(ctx context.Context, owner, id string) error {
	analyses, err := s.collection(analysesCollection)
	if err != nil {
		return err
	}

	res, err := analyses.DeleteOne(ctx, bson.M{"_id": id, "owner": owner})
	if err != nil {
		return fmt.Errorf("could not delete analysis: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}

	return nil
}

func (s *mongoStore) PurgeAnalyses(ctx context.Context, before time.Time) (int64, error) {
	analyses, err := s.collection(analysesCollection)
	if err != nil {
		return 0, err
	}

	res, err := analyses.DeleteMany(ctx, bson.M{"created_at": bson.M{"$lt": before}})
	if err != nil {
		return 0, fmt.Errorf("could not purge analyses: %w", err)
	}

	return res.DeletedCount, nil
}
