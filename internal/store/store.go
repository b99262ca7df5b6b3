// Package store is the durable document store: a thin, optimistic-
// concurrency layer over MongoDB, grounded on nodestorage/v2's
// Storage[T]/EditFunc pattern but trimmed to the one shape the persistence
// pipeline needs (spec §4.5): load a document, and replace it conditioned
// on the revision the caller last read.
package store

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"collabdocs/internal/document"
)

// EditFunc mutates a copy of the loaded document in place. The store calls
// it once per attempt, so it must be idempotent with respect to retries.
type EditFunc func(doc *document.Document) error

// RetryOptions configures the bounded-retry, exponential-backoff-with-
// jitter loop FindOneAndUpdate uses on a revision conflict, mirroring
// nodestorage/v2's Options.
type RetryOptions struct {
	MaxRetries    int
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
	RetryJitter   float64
}

// DefaultRetryOptions matches nodestorage/v2's typical configuration.
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		MaxRetries:    5,
		RetryDelay:    50 * time.Millisecond,
		MaxRetryDelay: 2 * time.Second,
		RetryJitter:   0.2,
	}
}

func (o RetryOptions) delay(attempt int) time.Duration {
	d := o.RetryDelay << attempt
	if o.MaxRetryDelay > 0 && d > o.MaxRetryDelay {
		d = o.MaxRetryDelay
	}
	if o.RetryJitter > 0 {
		jitter := float64(d) * o.RetryJitter * rand.Float64()
		d += time.Duration(jitter)
	}
	return d
}

// Store persists documents in a single Mongo collection, keyed by
// document.Document.ID, using Revision for optimistic concurrency.
type Store struct {
	collection *mongo.Collection
	logger     *zap.Logger
	retry      RetryOptions
}

// New wraps an existing Mongo collection.
func New(collection *mongo.Collection, logger *zap.Logger, retry RetryOptions) *Store {
	return &Store{collection: collection, logger: logger, retry: retry}
}

// FindOne loads a document by id.
func (s *Store) FindOne(ctx context.Context, id string) (*document.Document, error) {
	var doc document.Document
	err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, document.ErrNotFound
	}
	if err != nil {
		return nil, document.ErrTransientStore
	}
	return &doc, nil
}

// Upsert inserts doc if it doesn't exist yet, used when a document is
// created for the first time.
func (s *Store) Upsert(ctx context.Context, doc *document.Document) error {
	_, err := s.collection.UpdateOne(ctx,
		bson.M{"_id": doc.ID},
		bson.M{"$setOnInsert": doc},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return document.ErrTransientStore
	}
	return nil
}

// FindOneAndUpdate loads the document, applies fn to an in-memory copy, and
// writes it back conditioned on the revision it was read at, retrying with
// backoff on conflict, per spec §4.5's optimistic-concurrency flush note.
func (s *Store) FindOneAndUpdate(ctx context.Context, id string, fn EditFunc) (*document.Document, error) {
	var lastErr error

	for attempt := 0; s.retry.MaxRetries == 0 || attempt < s.retry.MaxRetries; attempt++ {
		doc, err := s.FindOne(ctx, id)
		if err != nil {
			return nil, err
		}

		working := doc.Copy()
		if err := fn(working); err != nil {
			return nil, err
		}

		matchRevision := doc.Revision
		working.Revision = matchRevision + 1
		working.UpdatedAt = time.Now()

		res, err := s.collection.ReplaceOne(ctx,
			bson.M{"_id": id, "revision": matchRevision},
			working,
		)
		if err != nil {
			lastErr = document.ErrTransientStore
		} else if res.MatchedCount == 0 {
			lastErr = document.ErrTransientStore
			s.logger.Debug("store: revision conflict, retrying",
				zap.String("documentId", id), zap.Int("attempt", attempt))
		} else {
			return working, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.retry.delay(attempt)):
		}
	}

	return nil, errors.Join(document.ErrDegradedPersistence, lastErr)
}

// DeleteOne removes a document by id.
func (s *Store) DeleteOne(ctx context.Context, id string) error {
	_, err := s.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return document.ErrTransientStore
	}
	return nil
}
