package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Connect opens a client and pings the primary before handing back the
// named database.
func Connect(ctx context.Context, uri, dbName string) (*mongo.Client, *mongo.Database, error) {
	if uri == "" || dbName == "" {
		return nil, nil, fmt.Errorf("mongo: uri and database name are required")
	}
	cli, err := mongo.Connect(ctx, options.Client().
		ApplyURI(uri).
		SetServerSelectionTimeout(5*time.Second))
	if err != nil {
		return nil, nil, err
	}

	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := cli.Ping(pctx, readpref.Primary()); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, nil, err
	}
	return cli, cli.Database(dbName), nil
}
