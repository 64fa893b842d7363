// Package mongo implements the metadata catalog on MongoDB. Documents live
// in a GridFS-compatible files collection so existing tooling can read
// them; only the metadata is stored here, payloads live in the object
// store.
package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	mongodrv "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/marmos91/sensorsink/pkg/model"
	"github.com/marmos91/sensorsink/pkg/store/catalog"
)

const collectionName = "fs.files"

// Store is a MongoDB-backed catalog over one database.
type Store struct {
	files *mongodrv.Collection
}

// Connect dials the MongoDB deployment at uri and returns a catalog over
// the named database. The connection is verified with a ping so
// misconfiguration fails at startup, not on the first upload.
func Connect(ctx context.Context, uri, database string) (*Store, *mongodrv.Client, error) {
	client, err := mongodrv.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to mongodb: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, fmt.Errorf("pinging mongodb: %w", err)
	}

	return New(client.Database(database)), client, nil
}

// New creates a catalog over an already connected database handle.
func New(db *mongodrv.Database) *Store {
	return &Store{files: db.Collection(collectionName)}
}

// Store inserts the document. The unique index on (deviceId,
// measurementId) makes the insert the decider when two sessions race to
// commit the same measurement; the loser gets a duplicate key error.
func (s *Store) Store(ctx context.Context, doc *model.CatalogDoc) (string, error) {
	res, err := s.files.InsertOne(ctx, doc)
	if err != nil {
		return "", fmt.Errorf("inserting catalog document: %w", err)
	}

	switch id := res.InsertedID.(type) {
	case primitive.ObjectID:
		return id.Hex(), nil
	case string:
		return id, nil
	default:
		return fmt.Sprint(id), nil
	}
}

// Exists counts measurement documents (no attachmentId) for the pair.
func (s *Store) Exists(ctx context.Context, deviceID, measurementID string) (bool, error) {
	return s.exists(ctx, bson.M{
		"metadata.deviceId":      deviceID,
		"metadata.measurementId": measurementID,
		"metadata.attachmentId":  bson.M{"$exists": false},
	})
}

// ExistsAttachment counts attachment documents for the triple.
func (s *Store) ExistsAttachment(ctx context.Context, deviceID, measurementID, attachmentID string) (bool, error) {
	return s.exists(ctx, bson.M{
		"metadata.deviceId":      deviceID,
		"metadata.measurementId": measurementID,
		"metadata.attachmentId":  attachmentID,
	})
}

func (s *Store) exists(ctx context.Context, filter bson.M) (bool, error) {
	// Capped at 2: one more than allowed is already fatal, no need to
	// count the rest.
	n, err := s.files.CountDocuments(ctx, filter, options.Count().SetLimit(2))
	if err != nil {
		return false, fmt.Errorf("counting catalog documents: %w", err)
	}
	if n > 1 {
		return true, fmt.Errorf("%w: %v", catalog.ErrDuplicates, filter)
	}
	return n == 1, nil
}

// EnsureIndices creates the uniqueness and lookup indices. Mongo treats
// index creation as idempotent when the definition matches.
func (s *Store) EnsureIndices(ctx context.Context) error {
	_, err := s.files.Indexes().CreateMany(ctx, []mongodrv.IndexModel{
		{
			Keys: bson.D{
				{Key: "metadata.deviceId", Value: 1},
				{Key: "metadata.measurementId", Value: 1},
			},
			Options: options.Index().
				SetName("unique_measurement").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{
					"metadata.attachmentId": bson.M{"$exists": false},
				}),
		},
		{
			Keys: bson.D{
				{Key: "metadata.deviceId", Value: 1},
				{Key: "metadata.measurementId", Value: 1},
				{Key: "metadata.attachmentId", Value: 1},
			},
			Options: options.Index().
				SetName("unique_attachment").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{
					"metadata.attachmentId": bson.M{"$exists": true},
				}),
		},
		{
			Keys:    bson.D{{Key: "metadata.userId", Value: 1}},
			Options: options.Index().SetName("by_user"),
		},
	})
	if err != nil {
		return fmt.Errorf("creating catalog indices: %w", err)
	}
	return nil
}

// IsDuplicateKey reports whether an insert failed on a unique index.
func IsDuplicateKey(err error) bool {
	return mongodrv.IsDuplicateKeyError(err)
}

var _ catalog.Store = (*Store)(nil)
