package store

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/shibukawa/snapmongo"
	"github.com/shibukawa/snapmongo/compiler"
	"github.com/shibukawa/snapmongo/expr"
)

const releaseTimeout = 5 * time.Second

// State is the lifecycle state of a table session.
type State int

const (
	StateUninitialized State = iota // No client
	StateConnected                  // Client held, topology not verified yet
	StateReady                      // Client held, topology verified
	StateClosed                     // Released by Destroy or Close
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConnected:
		return "connected"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// session is one established client and the handles derived from it.
type session struct {
	client     Client
	database   Database
	collection Collection
}

// Table persists one table definition in one collection.
// Its operations are safe for concurrent use.
type Table struct {
	def        *snapmongo.TableDefinition
	collection string
	attributes []string
	database   string
	dialer     Dialer
	expected   []IndexSpec

	mu        sync.Mutex // Serializes connect and topology verification
	session   atomic.Pointer[session]
	verified  atomic.Bool
	destroyed atomic.Bool
	closed    atomic.Bool

	logger  *slog.Logger
	metrics *Metrics
	pool    *resolverPool

	workers   int
	threshold int
}

// Option configures a Table.
type Option func(*Table)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(t *Table) {
		t.logger = logger
	}
}

// WithMetrics makes the table count its operations on m.
func WithMetrics(m *Metrics) Option {
	return func(t *Table) {
		t.metrics = m
	}
}

// WithResolveWorkers resolves delete and update batches of at least
// threshold rows on a pool of workers goroutines.
func WithResolveWorkers(workers, threshold int) Option {
	return func(t *Table) {
		t.workers = workers
		t.threshold = threshold
	}
}

// NewTable validates def, derives its expected indexes and returns an
// unconnected table. Errors are configuration errors.
func NewTable(def *snapmongo.TableDefinition, dialer Dialer, database string, opts ...Option) (*Table, error) {
	if def == nil {
		return nil, fmt.Errorf("%w: table definition is required", snapmongo.ErrInvalidTableDefinition)
	}

	if err := def.Validate(); err != nil {
		return nil, err
	}

	if database == "" {
		return nil, fmt.Errorf("%w: table '%s'", snapmongo.ErrMissingDatabase, def.Name)
	}

	t := &Table{
		def:        def,
		collection: def.CollectionName(),
		attributes: def.AttributeNames(),
		database:   database,
		dialer:     dialer,
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(t)
	}

	t.logger = t.logger.With(slog.String("table", def.Name))

	expected, err := ExpectedIndexes(def, t.logger)
	if err != nil {
		return nil, err
	}

	t.expected = expected

	pool, err := newResolverPool(t.workers, t.threshold, t.logger)
	if err != nil {
		return nil, err
	}

	t.pool = pool

	return t, nil
}

// OpenTable builds the named table of cfg with a MongoDB dialer. The resolve
// settings of cfg apply unless opts override them.
func OpenTable(cfg *snapmongo.Config, name string, opts ...Option) (*Table, error) {
	def, ok := cfg.Table(name)
	if !ok {
		return nil, fmt.Errorf("%w: table '%s' is not defined", snapmongo.ErrInvalidTableDefinition, name)
	}

	dialer, err := NewMongoDialer(cfg.Connection, cfg.Client)
	if err != nil {
		return nil, err
	}

	opts = append([]Option{WithResolveWorkers(cfg.Resolve.Workers, cfg.Resolve.ParallelThreshold)}, opts...)

	return NewTable(def, dialer, dialer.Database(), opts...)
}

// Definition returns the table definition.
func (t *Table) Definition() *snapmongo.TableDefinition {
	return t.def
}

// ExpectedIndexes returns the indexes derived from the table definition.
func (t *Table) ExpectedIndexes() []IndexSpec {
	return slices.Clone(t.expected)
}

// State returns the current lifecycle state.
func (t *Table) State() State {
	switch {
	case t.closed.Load():
		return StateClosed
	case t.session.Load() != nil && t.verified.Load():
		return StateReady
	case t.session.Load() != nil:
		return StateConnected
	case t.destroyed.Load():
		return StateClosed
	default:
		return StateUninitialized
	}
}

// Connect establishes the client and verifies the collection topology once:
// a missing collection is created with its indexes, an existing one has its
// indexes reconciled. Later calls only probe liveness.
func (t *Table) Connect(ctx context.Context) (err error) {
	defer t.observe("connect", &err)

	if t.closed.Load() {
		return snapmongo.ErrTableClosed
	}

	if s := t.session.Load(); s != nil && t.verified.Load() {
		if err := s.client.Ping(ctx); err != nil {
			return t.fail(ctx, "connect", s, err)
		}

		return nil
	}

	_, err = t.establish(ctx)

	return err
}

// establish returns the current session, dialing and verifying under the
// lock when there is none.
func (t *Table) establish(ctx context.Context) (*session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed.Load() {
		return nil, snapmongo.ErrTableClosed
	}

	s := t.session.Load()
	if s == nil {
		client, err := t.dialer.Dial(ctx)
		if err != nil {
			return nil, t.fail(ctx, "connect", nil, err)
		}

		db := client.Database(t.database)
		s = &session{client: client, database: db, collection: db.Collection(t.collection)}
		t.session.Store(s)
		t.destroyed.Store(false)

		t.logger.Debug("connected", slog.String("collection", t.collection))
	}

	if t.verified.Load() {
		return s, nil
	}

	if err := t.verifyTopology(ctx, s); err != nil {
		return nil, t.fail(ctx, "connect", s, err)
	}

	t.verified.Store(true)

	return s, nil
}

func (t *Table) verifyTopology(ctx context.Context, s *session) error {
	names, err := s.database.ListCollectionNames(ctx)
	if err != nil {
		return err
	}

	if !slices.Contains(names, t.collection) {
		if err := s.database.CreateCollection(ctx, t.collection); err != nil {
			return err
		}

		if err := s.collection.CreateIndexes(ctx, t.expected); err != nil {
			return err
		}

		t.logger.Info("collection created", slog.String("collection", t.collection), slog.Int("indexes", len(t.expected)))

		return nil
	}

	existing, err := s.collection.ListIndexes(ctx)
	if err != nil {
		return err
	}

	for _, drift := range ReconcileIndexes(t.expected, existing) {
		t.logger.Warn("index drift", slog.String("collection", t.collection), slog.String("drift", drift.String()))

		if t.metrics != nil {
			t.metrics.IndexDrift.WithLabelValues(t.def.Name).Inc()
		}
	}

	return nil
}

// CheckIndexes compares the collection's current indexes with the expected ones.
func (t *Table) CheckIndexes(ctx context.Context) (_ []IndexDrift, err error) {
	defer t.observe("check_indexes", &err)

	s, err := t.acquire(ctx)
	if err != nil {
		return nil, err
	}

	existing, err := s.collection.ListIndexes(ctx)
	if err != nil {
		return nil, t.fail(ctx, "check_indexes", s, err)
	}

	return ReconcileIndexes(t.expected, existing), nil
}

// acquire returns the session without locking once the table is ready.
func (t *Table) acquire(ctx context.Context) (*session, error) {
	if t.closed.Load() {
		return nil, snapmongo.ErrTableClosed
	}

	if s := t.session.Load(); s != nil && t.verified.Load() {
		return s, nil
	}

	return t.establish(ctx)
}

// fail classifies a store error. Connectivity faults drop the session and
// keep the verified flag; any other error releases the session too.
func (t *Table) fail(ctx context.Context, operation string, s *session, err error) error {
	if IsConnectivityFault(err) {
		t.release(ctx, s)

		if t.metrics != nil {
			t.metrics.ConnectivityFaults.WithLabelValues(t.def.Name).Inc()
		}

		t.logger.Warn("connectivity fault, connection dropped", slog.String("operation", operation), slog.Any("error", err))

		return fmt.Errorf("%w: %s on table '%s': %w", snapmongo.ErrConnectionUnavailable, operation, t.def.Name, err)
	}

	t.release(ctx, s)

	return fmt.Errorf("%w: %s on table '%s': %w", snapmongo.ErrStoreOperation, operation, t.def.Name, err)
}

// release disconnects s if it is still the current session.
func (t *Table) release(ctx context.Context, s *session) {
	if s == nil || !t.session.CompareAndSwap(s, nil) {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	if err := s.client.Disconnect(ctx); err != nil {
		t.logger.Debug("disconnect failed", slog.Any("error", err))
	}
}

func (t *Table) observe(operation string, errp *error) {
	if t.metrics == nil {
		return
	}

	outcome := outcomeSuccess

	switch {
	case *errp == nil:
	case snapmongo.IsRetryable(*errp):
		outcome = outcomeConnectivity
	default:
		outcome = outcomeError
	}

	t.metrics.Operations.WithLabelValues(t.def.Name, operation, outcome).Inc()
}

// Destroy releases the connection. The next operation reconnects without
// verifying the topology again.
func (t *Table) Destroy(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.destroyed.Store(true)
	t.release(ctx, t.session.Load())

	return nil
}

// Close destroys the table for good and stops its resolver pool.
func (t *Table) Close(ctx context.Context) error {
	err := t.Destroy(ctx)

	if !t.closed.Swap(true) {
		t.pool.release()
	}

	return err
}

// CompileCondition compiles a filter against the table's attributes.
func (t *Table) CompileCondition(node expr.Node) (*compiler.CompiledCondition, error) {
	return compiler.CompileCondition(node, t.def)
}

// CompileSelection compiles a selection against the table's attributes.
func (t *Table) CompileSelection(req compiler.SelectionRequest) (*compiler.CompiledSelection, error) {
	return compiler.CompileSelection(req, t.def)
}

// CompileUpdateSet compiles a set clause against the table's attributes.
func (t *Table) CompileUpdateSet(assignments []compiler.SetAssignment) (*compiler.CompiledUpdateSet, error) {
	return compiler.CompileUpdateSet(assignments, t.def)
}

// document maps a positional record onto the attribute names in order.
func (t *Table) document(record []any) (bson.D, error) {
	if len(record) != len(t.attributes) {
		return nil, fmt.Errorf("%w: record has %d values for %d attributes", snapmongo.ErrInvalidParameter, len(record), len(t.attributes))
	}

	doc := make(bson.D, len(t.attributes))
	for i, name := range t.attributes {
		doc[i] = bson.E{Key: name, Value: record[i]}
	}

	return doc, nil
}

// checkOpen fails fast on a closed table, before any row is resolved.
func (t *Table) checkOpen() error {
	if t.closed.Load() {
		return snapmongo.ErrTableClosed
	}

	return nil
}

// Add inserts records as one bulk write.
func (t *Table) Add(ctx context.Context, records [][]any) (err error) {
	defer t.observe("add", &err)

	if err := t.checkOpen(); err != nil {
		return err
	}

	ops := make([]WriteOp, len(records))
	for i, record := range records {
		doc, err := t.document(record)
		if err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}

		ops[i] = WriteOp{Kind: WriteInsert, Document: doc}
	}

	return t.bulkWrite(ctx, "add", ops)
}

// Find returns the documents matching cond as rows ordered by the attribute list.
func (t *Table) Find(ctx context.Context, cond *compiler.CompiledCondition, params map[string]any) (_ *RowIterator, err error) {
	defer t.observe("find", &err)

	filter, err := compiler.Resolve(cond, params)
	if err != nil {
		return nil, err
	}

	s, err := t.acquire(ctx)
	if err != nil {
		return nil, err
	}

	t.debugDocument(ctx, "find", "filter", filter)

	cursor, err := s.collection.Find(ctx, filter)
	if err != nil {
		return nil, t.fail(ctx, "find", s, err)
	}

	return newRowIterator(cursor, t.attributes, func(err error) error {
		return t.fail(ctx, "find", s, err)
	}), nil
}

// Contains reports whether any document matches cond.
func (t *Table) Contains(ctx context.Context, cond *compiler.CompiledCondition, params map[string]any) (_ bool, err error) {
	defer t.observe("contains", &err)

	filter, err := compiler.Resolve(cond, params)
	if err != nil {
		return false, err
	}

	s, err := t.acquire(ctx)
	if err != nil {
		return false, err
	}

	t.debugDocument(ctx, "contains", "filter", filter)

	count, err := s.collection.CountDocuments(ctx, filter, 1)
	if err != nil {
		return false, t.fail(ctx, "contains", s, err)
	}

	return count > 0, nil
}

// Delete removes the documents matching cond once per parameter map.
func (t *Table) Delete(ctx context.Context, cond *compiler.CompiledCondition, rows []map[string]any) (err error) {
	defer t.observe("delete", &err)

	if err := t.checkOpen(); err != nil {
		return err
	}

	ops := make([]WriteOp, len(rows))

	err = t.pool.run(len(rows), func(i int) error {
		filter, err := compiler.Resolve(cond, rows[i])
		if err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}

		ops[i] = WriteOp{Kind: WriteDelete, Filter: filter}

		return nil
	})
	if err != nil {
		return err
	}

	return t.bulkWrite(ctx, "delete", ops)
}

// UpdateRow pairs the condition parameters selecting documents with the
// values their set clause is resolved with. Record is the full positional
// row UpdateOrAdd inserts when nothing matches.
type UpdateRow struct {
	Condition map[string]any
	Values    map[string]any
	Record    []any
}

// Update applies set to the documents matching cond, once per row.
func (t *Table) Update(ctx context.Context, cond *compiler.CompiledCondition, set *compiler.CompiledUpdateSet, rows []UpdateRow) (err error) {
	defer t.observe("update", &err)

	ops, err := t.updateOps(cond, set, rows)
	if err != nil {
		return err
	}

	return t.bulkWrite(ctx, "update", ops)
}

// UpdateOrAdd updates like Update, but a row whose condition matches nothing
// inserts its Record instead. Rows without a Record only update.
// The store refuses $expr predicates in upserts, so matches are probed first.
func (t *Table) UpdateOrAdd(ctx context.Context, cond *compiler.CompiledCondition, set *compiler.CompiledUpdateSet, rows []UpdateRow) (err error) {
	defer t.observe("update_or_add", &err)

	ops, err := t.updateOps(cond, set, rows)
	if err != nil {
		return err
	}

	s, err := t.acquire(ctx)
	if err != nil {
		return err
	}

	err = t.pool.run(len(rows), func(i int) error {
		if rows[i].Record == nil {
			return nil
		}

		count, err := s.collection.CountDocuments(ctx, ops[i].Filter, 1)
		if err != nil {
			return err
		}

		if count == 0 {
			doc, err := t.document(rows[i].Record)
			if err != nil {
				return err
			}

			ops[i] = WriteOp{Kind: WriteInsert, Document: doc}
		}

		return nil
	})
	if err != nil {
		return t.fail(ctx, "update_or_add", s, err)
	}

	return t.bulkWrite(ctx, "update_or_add", ops)
}

func (t *Table) updateOps(cond *compiler.CompiledCondition, set *compiler.CompiledUpdateSet, rows []UpdateRow) ([]WriteOp, error) {
	if set == nil {
		return nil, fmt.Errorf("%w: update set clause is required", snapmongo.ErrUnsupportedExpression)
	}

	if err := t.checkOpen(); err != nil {
		return nil, err
	}

	for i, row := range rows {
		if row.Record != nil && len(row.Record) != len(t.attributes) {
			return nil, fmt.Errorf("row %d record: %w: %d values for %d attributes", i, snapmongo.ErrInvalidParameter, len(row.Record), len(t.attributes))
		}
	}

	ops := make([]WriteOp, len(rows))

	err := t.pool.run(len(rows), func(i int) error {
		filter, err := compiler.Resolve(cond, rows[i].Condition)
		if err != nil {
			return fmt.Errorf("row %d condition: %w", i, err)
		}

		values, err := compiler.ResolveSet(set, rows[i].Values)
		if err != nil {
			return fmt.Errorf("row %d values: %w", i, err)
		}

		ops[i] = WriteOp{Kind: WriteUpdate, Filter: filter, Update: mongo.Pipeline{{{Key: "$set", Value: values}}}}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return ops, nil
}

// carryField keeps a stored field through the projection unless an output
// column already has its name.
func carryField(projection bson.D, outputs []string, attr string) bson.D {
	if slices.Contains(outputs, attr) {
		return projection
	}

	for _, e := range projection {
		if e.Key == attr {
			return projection
		}
	}

	return append(projection, bson.E{Key: attr, Value: 1})
}

// QueryPipeline resolves the aggregation pipeline of a selection:
// $project, $match, then $match on having, $sort, $skip and $limit when set.
func (t *Table) QueryPipeline(cond *compiler.CompiledCondition, sel *compiler.CompiledSelection, params map[string]any) (mongo.Pipeline, error) {
	projection, err := compiler.ResolveProjection(sel, params)
	if err != nil {
		return nil, err
	}

	filter, err := compiler.Resolve(cond, params)
	if err != nil {
		return nil, err
	}

	// $match runs after $project, so fields the filter reads must survive it
	outputs := sel.Outputs()
	if cond != nil {
		for _, attr := range cond.StoreAttributes() {
			if sel.Shadows(attr) {
				return nil, fmt.Errorf("%w: output column '%s' hides the stored attribute the condition reads", snapmongo.ErrUnsupportedExpression, attr)
			}

			projection = carryField(projection, outputs, attr)
		}
	}

	if having := sel.Having(); having != nil {
		for _, attr := range having.StoreAttributes() {
			projection = carryField(projection, outputs, attr)
		}
	}

	pipeline := mongo.Pipeline{
		{{Key: "$project", Value: projection}},
		{{Key: "$match", Value: filter}},
	}

	if having := sel.Having(); having != nil && !having.IsMatchAll() {
		havingFilter, err := compiler.Resolve(having, params)
		if err != nil {
			return nil, fmt.Errorf("having: %w", err)
		}

		pipeline = append(pipeline, bson.D{{Key: "$match", Value: havingFilter}})
	}

	if order := sel.Order(); len(order) > 0 {
		sort := make(bson.D, len(order))
		for i, key := range order {
			direction := int32(1)
			if key.Descending {
				direction = -1
			}

			sort[i] = bson.E{Key: key.Column, Value: direction}
		}

		pipeline = append(pipeline, bson.D{{Key: "$sort", Value: sort}})
	}

	if offset := sel.Offset(); offset != nil {
		pipeline = append(pipeline, bson.D{{Key: "$skip", Value: *offset}})
	}

	if limit := sel.Limit(); limit != nil {
		pipeline = append(pipeline, bson.D{{Key: "$limit", Value: *limit}})
	}

	return pipeline, nil
}

// Query runs a selection through the aggregation pipeline and returns rows
// ordered by the selection's output columns.
func (t *Table) Query(ctx context.Context, cond *compiler.CompiledCondition, sel *compiler.CompiledSelection, params map[string]any) (_ *RowIterator, err error) {
	defer t.observe("query", &err)

	if sel == nil {
		return nil, fmt.Errorf("%w: query needs a selection", snapmongo.ErrUnsupportedExpression)
	}

	pipeline, err := t.QueryPipeline(cond, sel, params)
	if err != nil {
		return nil, err
	}

	// The store rejects $limit 0
	if limit := sel.Limit(); limit != nil && *limit == 0 {
		return newRowIterator(nil, sel.Outputs(), nil), nil
	}

	s, err := t.acquire(ctx)
	if err != nil {
		return nil, err
	}

	if t.logger.Enabled(ctx, slog.LevelDebug) {
		t.logger.Debug("query", slog.String("pipeline", extJSON(bson.D{{Key: "pipeline", Value: pipeline}})))
	}

	cursor, err := s.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, t.fail(ctx, "query", s, err)
	}

	return newRowIterator(cursor, sel.Outputs(), func(err error) error {
		return t.fail(ctx, "query", s, err)
	}), nil
}

func (t *Table) debugDocument(ctx context.Context, operation, name string, doc bson.D) {
	if t.logger.Enabled(ctx, slog.LevelDebug) {
		t.logger.Debug(operation, slog.String(name, extJSON(doc)))
	}
}
