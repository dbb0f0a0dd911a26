// Package store persists tables in MongoDB collections and executes compiled
// conditions and selections against them.
package store

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// Client is the part of a store client a table session needs.
type Client interface {
	Database(name string) Database
	Ping(ctx context.Context) error
	Disconnect(ctx context.Context) error
}

// Database is a handle on one store database.
type Database interface {
	ListCollectionNames(ctx context.Context) ([]string, error)
	CreateCollection(ctx context.Context, name string) error
	Collection(name string) Collection
}

// Collection exposes the primitives table operations are built from.
// BulkWrite executes ops in order and reports per-item failures as *BulkWriteError.
type Collection interface {
	BulkWrite(ctx context.Context, ops []WriteOp) error
	Find(ctx context.Context, filter bson.D) (Cursor, error)
	CountDocuments(ctx context.Context, filter bson.D, limit int64) (int64, error)
	Aggregate(ctx context.Context, pipeline mongo.Pipeline) (Cursor, error)
	ListIndexes(ctx context.Context) ([]bson.D, error)
	CreateIndexes(ctx context.Context, specs []IndexSpec) error
}

// Cursor iterates over result documents. *mongo.Cursor satisfies it.
type Cursor interface {
	Next(ctx context.Context) bool
	Decode(v any) error
	Err() error
	Close(ctx context.Context) error
}

// Dialer opens a client for a connection descriptor.
type Dialer interface {
	Dial(ctx context.Context) (Client, error)
}

// WriteKind is the kind of a bulk-write item.
type WriteKind string

const (
	WriteInsert WriteKind = "insert"
	WriteUpdate WriteKind = "update"
	WriteDelete WriteKind = "delete"
)

// WriteOp is one item of a bulk write. Update is an update pipeline.
type WriteOp struct {
	Kind     WriteKind
	Filter   bson.D
	Document bson.D
	Update   mongo.Pipeline
}

// Payload renders the filter and document of the operation for log messages.
func (op WriteOp) Payload() string {
	var parts []string

	if op.Filter != nil {
		parts = append(parts, "filter="+extJSON(op.Filter))
	}

	if op.Document != nil {
		parts = append(parts, "document="+extJSON(op.Document))
	}

	if op.Update != nil {
		parts = append(parts, "update="+extJSON(bson.D{{Key: "pipeline", Value: op.Update}}))
	}

	return strings.Join(parts, " ")
}

func extJSON(v any) string {
	data, err := bson.MarshalExtJSON(v, false, false)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}

	return string(data)
}

// BulkItemError is the failure of a single bulk-write item.
type BulkItemError struct {
	Index   int // Position within the submitted batch
	Code    int
	Message string
}

// BulkWriteError reports the items of an ordered bulk write that failed.
// Items before the first failed index were applied.
type BulkWriteError struct {
	Items []BulkItemError
}

func (e *BulkWriteError) Error() string {
	messages := make([]string, len(e.Items))
	for i, item := range e.Items {
		messages[i] = fmt.Sprintf("#%d: %s", item.Index, item.Message)
	}

	return "bulk write failed: " + strings.Join(messages, "; ")
}

// LastIndex returns the highest failed position.
func (e *BulkWriteError) LastIndex() int {
	last := -1
	for _, item := range e.Items {
		last = max(last, item.Index)
	}

	return last
}
