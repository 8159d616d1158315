// Package testutil wires a real MongoDB instance for integration tests. The
// tests are skipped unless TEST_MONGO_URI is set.
package testutil

import (
	"context"
	"os"
	"testing"
	"time"

	"roomview/pkg/client"
	"roomview/pkg/config"
	"roomview/pkg/logger"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	DefaultDatabaseName = "roomview_test"
	ConnectionTimeout   = 10 * time.Second
)

// Setup connects to the MongoDB named by TEST_MONGO_URI and returns a config
// ready for repository construction. The database is dropped before and after
// the test. Skips the test when TEST_MONGO_URI is unset.
func Setup(t *testing.T) *config.Config {
	t.Helper()

	mongoURI := os.Getenv("TEST_MONGO_URI")
	if mongoURI == "" {
		t.Skip("TEST_MONGO_URI not set; skipping integration test")
	}

	dbName := os.Getenv("TEST_DB_NAME")
	if dbName == "" {
		dbName = DefaultDatabaseName
	}

	ctx, cancel := context.WithTimeout(context.Background(), ConnectionTimeout)
	defer cancel()

	mc, err := mongo.Connect(ctx, options.Client().ApplyURI(mongoURI))
	if err != nil {
		t.Fatalf("failed to connect to MongoDB: %v", err)
	}
	if err := mc.Ping(ctx, nil); err != nil {
		t.Fatalf("failed to ping MongoDB: %v", err)
	}

	dropDatabase(t, mc, dbName)
	t.Cleanup(func() {
		dropDatabase(t, mc, dbName)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := mc.Disconnect(ctx); err != nil {
			t.Logf("warning: failed to disconnect from MongoDB: %v", err)
		}
	})

	log := logger.New(logger.Config{
		Level:   logger.ERROR,
		Format:  logger.JSON,
		Service: "integration-test",
	})

	return &config.Config{
		MongoURI:          mongoURI,
		MongoDatabaseName: dbName,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      5 * time.Second,
		Location:          time.UTC,
		Log:               log,
		Client:            &client.Client{Mongo: mc},
	}
}

func dropDatabase(t *testing.T, mc *mongo.Client, dbName string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), ConnectionTimeout)
	defer cancel()

	if err := mc.Database(dbName).Drop(ctx); err != nil {
		t.Fatalf("failed to drop database %s: %v", dbName, err)
	}
}
