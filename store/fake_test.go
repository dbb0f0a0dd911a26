package store

import (
	"context"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// fakeStore is an in-memory stand-in for one MongoDB deployment.
type fakeStore struct {
	mu sync.Mutex

	collections    []string
	indexes        []bson.D
	createdIndexes []IndexSpec

	dials       int
	pings       int
	listCalls   int
	disconnects int

	dialErr  error
	pingErr  error
	findErr  error
	cursorErr error

	// reject reports whether the store refuses a single write (e.g. duplicate key)
	reject  func(op WriteOp) bool
	bulkErr error
	batches [][]WriteOp
	applied []WriteOp

	docs      []bson.M
	pipelines []mongo.Pipeline
	filters   []bson.D
}

func (s *fakeStore) Dial(context.Context) (Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dials++
	if s.dialErr != nil {
		return nil, s.dialErr
	}

	return &fakeClient{store: s}, nil
}

func (s *fakeStore) counts() (dials, listCalls, disconnects int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.dials, s.listCalls, s.disconnects
}

type fakeClient struct {
	store *fakeStore
}

func (c *fakeClient) Database(string) Database {
	return &fakeDatabase{store: c.store}
}

func (c *fakeClient) Ping(context.Context) error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	c.store.pings++

	return c.store.pingErr
}

func (c *fakeClient) Disconnect(context.Context) error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	c.store.disconnects++

	return nil
}

type fakeDatabase struct {
	store *fakeStore
}

func (d *fakeDatabase) ListCollectionNames(context.Context) ([]string, error) {
	d.store.mu.Lock()
	defer d.store.mu.Unlock()

	d.store.listCalls++

	return append([]string(nil), d.store.collections...), nil
}

func (d *fakeDatabase) CreateCollection(_ context.Context, name string) error {
	d.store.mu.Lock()
	defer d.store.mu.Unlock()

	d.store.collections = append(d.store.collections, name)

	return nil
}

func (d *fakeDatabase) Collection(string) Collection {
	return &fakeCollection{store: d.store}
}

type fakeCollection struct {
	store *fakeStore
}

// BulkWrite applies ops in order and stops at the first rejected one.
func (c *fakeCollection) BulkWrite(_ context.Context, ops []WriteOp) error {
	s := c.store

	s.mu.Lock()
	defer s.mu.Unlock()

	s.batches = append(s.batches, append([]WriteOp(nil), ops...))

	if s.bulkErr != nil {
		return s.bulkErr
	}

	for i, op := range ops {
		if s.reject != nil && s.reject(op) {
			return &BulkWriteError{Items: []BulkItemError{{Index: i, Code: 11000, Message: "E11000 duplicate key error"}}}
		}

		s.applied = append(s.applied, op)
	}

	return nil
}

func (c *fakeCollection) Find(_ context.Context, filter bson.D) (Cursor, error) {
	s := c.store

	s.mu.Lock()
	defer s.mu.Unlock()

	s.filters = append(s.filters, filter)
	if s.findErr != nil {
		return nil, s.findErr
	}

	return &fakeCursor{docs: s.docs, err: s.cursorErr}, nil
}

func (c *fakeCollection) CountDocuments(_ context.Context, filter bson.D, limit int64) (int64, error) {
	s := c.store

	s.mu.Lock()
	defer s.mu.Unlock()

	s.filters = append(s.filters, filter)
	if s.findErr != nil {
		return 0, s.findErr
	}

	return min(int64(len(s.docs)), limit), nil
}

func (c *fakeCollection) Aggregate(_ context.Context, pipeline mongo.Pipeline) (Cursor, error) {
	s := c.store

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pipelines = append(s.pipelines, pipeline)
	if s.findErr != nil {
		return nil, s.findErr
	}

	return &fakeCursor{docs: s.docs, err: s.cursorErr}, nil
}

func (c *fakeCollection) ListIndexes(context.Context) ([]bson.D, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	return c.store.indexes, nil
}

func (c *fakeCollection) CreateIndexes(_ context.Context, specs []IndexSpec) error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	c.store.createdIndexes = append(c.store.createdIndexes, specs...)

	return nil
}

type fakeCursor struct {
	docs []bson.M
	pos  int
	err  error
}

func (c *fakeCursor) Next(context.Context) bool {
	if c.pos >= len(c.docs) {
		return false
	}

	c.pos++

	return true
}

func (c *fakeCursor) Decode(v any) error {
	*(v.(*bson.M)) = c.docs[c.pos-1]
	return nil
}

func (c *fakeCursor) Err() error {
	return c.err
}

func (c *fakeCursor) Close(context.Context) error {
	return nil
}
