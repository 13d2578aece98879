package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

// newMockStore wires a mongoStore to the mocked deployment of mt.
func newMockStore(mt *mtest.T) *mongoStore {
	return &mongoStore{
		name:     mt.DB.Name(),
		timeout:  time.Second,
		client:   mt.Client,
		database: mt.DB,
	}
}

func userDoc(username string, githubID int64) bson.D {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	doc := bson.D{
		{Key: "_id", Value: "id-" + username},
		{Key: "username", Value: username},
		{Key: "name", Value: "Old Name"},
		{Key: "email", Value: username + "@example.com"},
		{Key: "avatar_url", Value: ""},
		{Key: "created_at", Value: now},
		{Key: "updated_at", Value: now},
	}
	if githubID != 0 {
		doc = append(doc, bson.E{Key: "github_id", Value: githubID})
	} else {
		doc = append(doc, bson.E{Key: "password_hash", Value: []byte("hash")})
	}
	return doc
}

func TestMongoNotConnected(t *testing.T) {
	store := newMongoStore("mongodb://127.0.0.1:1", "repolens", time.Second)
	ctx := context.Background()

	if err := store.Ping(ctx); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Ping() = %v, want ErrNotConnected", err)
	}
	if _, err := store.GetUser(ctx, "alice"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("GetUser() = %v, want ErrNotConnected", err)
	}
	if err := store.SaveAnalysis(ctx, &Analysis{Owner: "alice"}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("SaveAnalysis() = %v, want ErrNotConnected", err)
	}
	if err := store.Close(ctx); err != nil {
		t.Errorf("Close() on an unconnected store = %v", err)
	}
}

func TestMongoConnectUnreachable(t *testing.T) {
	uri := "mongodb://127.0.0.1:1/?serverSelectionTimeoutMS=100&connectTimeoutMS=100"
	store := newMongoStore(uri, "repolens", 100*time.Millisecond)
	ctx := context.Background()

	if err := store.Connect(ctx); err == nil {
		t.Fatal("Expected Connect() to fail against an unreachable server")
	}
	if err := store.Ping(ctx); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Ping() after a failed connect = %v, want ErrNotConnected", err)
	}
	if _, err := store.GetUser(ctx, "alice"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("GetUser() after a failed connect = %v, want ErrNotConnected", err)
	}
}

func TestMongoUsers(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	ctx := context.Background()

	mt.Run("create", func(mt *mtest.T) {
		store := newMockStore(mt)
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		user := &User{Username: "alice"}
		if err := store.CreateUser(ctx, user); err != nil {
			mt.Fatalf("CreateUser() error = %v", err)
		}
		if user.ID == "" || user.CreatedAt.IsZero() {
			mt.Errorf("Expected id and timestamps to be set, got %+v", user)
		}
	})

	mt.Run("duplicate username", func(mt *mtest.T) {
		store := newMockStore(mt)
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{
			Index:   0,
			Code:    11000,
			Message: "E11000 duplicate key error",
		}))

		if err := store.CreateUser(ctx, &User{Username: "alice"}); !errors.Is(err, ErrUserExists) {
			mt.Errorf("CreateUser() = %v, want ErrUserExists", err)
		}
	})

	mt.Run("get", func(mt *mtest.T) {
		store := newMockStore(mt)
		ns := mt.DB.Name() + "." + usersCollection
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, userDoc("alice", 0)))

		user, err := store.GetUser(ctx, "alice")
		if err != nil {
			mt.Fatalf("GetUser() error = %v", err)
		}
		if user.Username != "alice" || user.IsGitHub() || string(user.PasswordHash) != "hash" {
			mt.Errorf("Unexpected user %+v", user)
		}
	})

	mt.Run("get missing", func(mt *mtest.T) {
		store := newMockStore(mt)
		ns := mt.DB.Name() + "." + usersCollection
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch))

		if _, err := store.GetUser(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
			mt.Errorf("GetUser() = %v, want ErrNotFound", err)
		}
	})
}

func TestMongoUpsertGitHubUser(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	ctx := context.Background()

	mt.Run("new user", func(mt *mtest.T) {
		store := newMockStore(mt)
		ns := mt.DB.Name() + "." + usersCollection
		mt.AddMockResponses(
			mtest.CreateCursorResponse(0, ns, mtest.FirstBatch),
			mtest.CreateSuccessResponse(),
		)

		user, err := store.UpsertGitHubUser(ctx, &User{Username: "octo", GitHubID: 7})
		if err != nil {
			mt.Fatalf("UpsertGitHubUser() error = %v", err)
		}
		if user.ID == "" || user.GitHubID != 7 {
			mt.Errorf("Unexpected user %+v", user)
		}
	})

	mt.Run("existing github user", func(mt *mtest.T) {
		store := newMockStore(mt)
		ns := mt.DB.Name() + "." + usersCollection
		mt.AddMockResponses(
			mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, userDoc("octo", 7)),
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}, bson.E{Key: "nModified", Value: 1}),
		)

		user, err := store.UpsertGitHubUser(ctx, &User{Username: "octo", Name: "New Name", GitHubID: 7})
		if err != nil {
			mt.Fatalf("UpsertGitHubUser() error = %v", err)
		}
		if user.ID != "id-octo" || user.Name != "New Name" {
			mt.Errorf("Expected the stored user to be updated, got %+v", user)
		}
		if !user.UpdatedAt.After(user.CreatedAt) {
			mt.Errorf("Expected updated_at to move forward, got %v", user.UpdatedAt)
		}
	})

	mt.Run("local account keeps its name", func(mt *mtest.T) {
		store := newMockStore(mt)
		ns := mt.DB.Name() + "." + usersCollection
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, userDoc("alice", 0)))

		if _, err := store.UpsertGitHubUser(ctx, &User{Username: "alice", GitHubID: 9}); !errors.Is(err, ErrUserExists) {
			mt.Errorf("UpsertGitHubUser() = %v, want ErrUserExists", err)
		}
	})
}

func TestMongoAnalyses(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	ctx := context.Background()

	analysisDoc := func(id string, createdAt time.Time) bson.D {
		return bson.D{
			{Key: "_id", Value: id},
			{Key: "owner", Value: "alice"},
			{Key: "repository", Value: "octo/hello"},
			{Key: "report", Value: bson.D{{Key: "full_name", Value: "octo/hello"}, {Key: "stars", Value: 42}}},
			{Key: "created_at", Value: createdAt},
		}
	}

	mt.Run("save", func(mt *mtest.T) {
		store := newMockStore(mt)
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		analysis := &Analysis{Owner: "alice", Repository: "octo/hello"}
		if err := store.SaveAnalysis(ctx, analysis); err != nil {
			mt.Fatalf("SaveAnalysis() error = %v", err)
		}
		if analysis.ID == "" || analysis.CreatedAt.IsZero() {
			mt.Errorf("Expected id and created_at to be set, got %+v", analysis)
		}
	})

	mt.Run("get", func(mt *mtest.T) {
		store := newMockStore(mt)
		ns := mt.DB.Name() + "." + analysesCollection
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, analysisDoc("a1", time.Now().UTC())))

		analysis, err := store.GetAnalysis(ctx, "alice", "a1")
		if err != nil {
			mt.Fatalf("GetAnalysis() error = %v", err)
		}
		if analysis.Report.FullName != "octo/hello" || analysis.Report.Stars != 42 {
			mt.Errorf("Unexpected analysis %+v", analysis)
		}
	})

	mt.Run("get missing", func(mt *mtest.T) {
		store := newMockStore(mt)
		ns := mt.DB.Name() + "." + analysesCollection
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch))

		if _, err := store.GetAnalysis(ctx, "bob", "a1"); !errors.Is(err, ErrNotFound) {
			mt.Errorf("GetAnalysis() = %v, want ErrNotFound", err)
		}
	})

	mt.Run("list", func(mt *mtest.T) {
		store := newMockStore(mt)
		ns := mt.DB.Name() + "." + analysesCollection
		newer := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
		older := newer.Add(-time.Hour)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch,
			analysisDoc("a2", newer), analysisDoc("a1", older)))

		list, err := store.ListAnalyses(ctx, "alice", 10)
		if err != nil {
			mt.Fatalf("ListAnalyses() error = %v", err)
		}
		if len(list) != 2 || list[0].ID != "a2" || list[1].ID != "a1" {
			mt.Errorf("Unexpected list %+v", list)
		}
	})

	mt.Run("list empty", func(mt *mtest.T) {
		store := newMockStore(mt)
		ns := mt.DB.Name() + "." + analysesCollection
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch))

		list, err := store.ListAnalyses(ctx, "alice", 10)
		if err != nil {
			mt.Fatalf("ListAnalyses() error = %v", err)
		}
		if list == nil || len(list) != 0 {
			mt.Errorf("Expected an empty, non-nil list, got %#v", list)
		}
	})

	mt.Run("delete", func(mt *mtest.T) {
		store := newMockStore(mt)
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}))

		if err := store.DeleteAnalysis(ctx, "alice", "a1"); err != nil {
			mt.Errorf("DeleteAnalysis() error = %v", err)
		}
	})

	mt.Run("delete missing", func(mt *mtest.T) {
		store := newMockStore(mt)
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 0}))

		if err := store.DeleteAnalysis(ctx, "bob", "a1"); !errors.Is(err, ErrNotFound) {
			mt.Errorf("DeleteAnalysis() = %v, want ErrNotFound", err)
		}
	})

	mt.Run("purge", func(mt *mtest.T) {
		store := newMockStore(mt)
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 3}))

		n, err := store.PurgeAnalyses(ctx, time.Now())
		if err != nil {
			mt.Fatalf("PurgeAnalyses() error = %v", err)
		}
		if n != 3 {
			mt.Errorf("Expected 3 purged analyses, got %d", n)
		}
	})
}
