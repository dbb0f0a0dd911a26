package store

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"

	"github.com/shibukawa/snapmongo"
)

// MongoDialer opens clients with the official MongoDB driver.
type MongoDialer struct {
	uri      string
	database string
	options  *options.ClientOptions
}

// NewMongoDialer validates the connection descriptor and builds client options.
func NewMongoDialer(conn snapmongo.ConnectionConfig, client snapmongo.ClientConfig) (*MongoDialer, error) {
	if strings.TrimSpace(conn.URI) == "" {
		return nil, snapmongo.ErrMissingURI
	}

	cs, err := connstring.ParseAndValidate(conn.URI)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", snapmongo.ErrInvalidURI, err)
	}

	database := conn.Database
	if database == "" {
		database = cs.Database
	}

	if database == "" {
		return nil, fmt.Errorf("%w: '%s' names no database and connection.database is empty", snapmongo.ErrMissingDatabase, redactURI(conn.URI))
	}

	opts, err := clientOptions(conn.URI, client)
	if err != nil {
		return nil, err
	}

	return &MongoDialer{uri: conn.URI, database: database, options: opts}, nil
}

// Database returns the database name tables are stored in.
func (d *MongoDialer) Database() string {
	return d.database
}

// Dial connects a new client. The driver connects lazily, so connectivity
// faults usually surface on the first operation instead.
func (d *MongoDialer) Dial(ctx context.Context) (Client, error) {
	client, err := mongo.Connect(ctx, d.options)
	if err != nil {
		return nil, err
	}

	return &mongoClient{client: client}, nil
}

func (d *MongoDialer) String() string {
	return redactURI(d.uri)
}

func clientOptions(uri string, cfg snapmongo.ClientConfig) (*options.ClientOptions, error) {
	opts := options.Client().ApplyURI(uri)

	if cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(cfg.ConnectTimeout)
	}

	if cfg.SocketTimeout > 0 {
		opts.SetSocketTimeout(cfg.SocketTimeout)
	}

	if cfg.ServerSelectionTimeout > 0 {
		opts.SetServerSelectionTimeout(cfg.ServerSelectionTimeout)
	}

	if cfg.HeartbeatInterval > 0 {
		opts.SetHeartbeatInterval(cfg.HeartbeatInterval)
	}

	if cfg.LocalThreshold > 0 {
		opts.SetLocalThreshold(cfg.LocalThreshold)
	}

	if cfg.MaxConnIdleTime > 0 {
		opts.SetMaxConnIdleTime(cfg.MaxConnIdleTime)
	}

	if cfg.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(cfg.MaxPoolSize)
	}

	if cfg.MinPoolSize > 0 {
		opts.SetMinPoolSize(cfg.MinPoolSize)
	}

	if cfg.ReplicaSet != "" {
		opts.SetReplicaSet(cfg.ReplicaSet)
	}

	if cfg.AppName != "" {
		opts.SetAppName(cfg.AppName)
	}

	if cfg.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	if cfg.ReadPreference != "" {
		mode, err := readpref.ModeFromString(cfg.ReadPreference)
		if err != nil {
			return nil, fmt.Errorf("%w: read preference: %w", snapmongo.ErrConfigValidation, err)
		}

		rp, err := readpref.New(mode)
		if err != nil {
			return nil, fmt.Errorf("%w: read preference: %w", snapmongo.ErrConfigValidation, err)
		}

		opts.SetReadPreference(rp)
	}

	if rc := readConcern(cfg.ReadConcern); rc != nil {
		opts.SetReadConcern(rc)
	}

	if wc := writeConcern(cfg.WriteConcern); wc != nil {
		opts.SetWriteConcern(wc)
	}

	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", snapmongo.ErrConfigValidation, err)
	}

	return opts, nil
}

func readConcern(level string) *readconcern.ReadConcern {
	switch strings.ToLower(level) {
	case "local":
		return readconcern.Local()
	case "available":
		return readconcern.Available()
	case "majority":
		return readconcern.Majority()
	case "linearizable":
		return readconcern.Linearizable()
	case "snapshot":
		return readconcern.Snapshot()
	default:
		return nil
	}
}

func writeConcern(level string) *writeconcern.WriteConcern {
	switch strings.ToLower(level) {
	case "acknowledged", "w1":
		return writeconcern.W1()
	case "w2":
		return &writeconcern.WriteConcern{W: 2}
	case "w3":
		return &writeconcern.WriteConcern{W: 3}
	case "majority":
		return writeconcern.Majority()
	case "journaled":
		return writeconcern.Journaled()
	case "unacknowledged":
		return writeconcern.Unacknowledged()
	default:
		return nil
	}
}

// redactURI hides the password of a connection URI.
func redactURI(uri string) string {
	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok {
		return uri
	}

	userinfo, host, ok := strings.Cut(rest, "@")
	if !ok {
		return uri
	}

	if user, _, hasPassword := strings.Cut(userinfo, ":"); hasPassword {
		userinfo = user + ":xxxxx"
	}

	return scheme + "://" + userinfo + "@" + host
}

type mongoClient struct {
	client *mongo.Client
}

func (c *mongoClient) Database(name string) Database {
	return &mongoDatabase{db: c.client.Database(name)}
}

func (c *mongoClient) Ping(ctx context.Context) error {
	return c.client.Ping(ctx, nil)
}

func (c *mongoClient) Disconnect(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

type mongoDatabase struct {
	db *mongo.Database
}

func (d *mongoDatabase) ListCollectionNames(ctx context.Context) ([]string, error) {
	return d.db.ListCollectionNames(ctx, bson.D{})
}

func (d *mongoDatabase) CreateCollection(ctx context.Context, name string) error {
	return d.db.CreateCollection(ctx, name)
}

func (d *mongoDatabase) Collection(name string) Collection {
	return &mongoCollection{coll: d.db.Collection(name)}
}

type mongoCollection struct {
	coll *mongo.Collection
}

func (c *mongoCollection) BulkWrite(ctx context.Context, ops []WriteOp) error {
	models := make([]mongo.WriteModel, len(ops))
	for i, op := range ops {
		models[i] = writeModel(op)
	}

	_, err := c.coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(true))
	if err == nil {
		return nil
	}

	var bwe mongo.BulkWriteException
	if errors.As(err, &bwe) && len(bwe.WriteErrors) > 0 && bwe.WriteConcernError == nil {
		items := make([]BulkItemError, len(bwe.WriteErrors))
		for i, we := range bwe.WriteErrors {
			items[i] = BulkItemError{Index: we.Index, Code: we.Code, Message: we.Message}
		}

		return &BulkWriteError{Items: items}
	}

	return err
}

func writeModel(op WriteOp) mongo.WriteModel {
	switch op.Kind {
	case WriteInsert:
		return mongo.NewInsertOneModel().SetDocument(op.Document)
	case WriteUpdate:
		return mongo.NewUpdateManyModel().SetFilter(op.Filter).SetUpdate(op.Update)
	default:
		return mongo.NewDeleteManyModel().SetFilter(op.Filter)
	}
}

func (c *mongoCollection) Find(ctx context.Context, filter bson.D) (Cursor, error) {
	cursor, err := c.coll.Find(ctx, filter, options.Find().SetProjection(bson.D{{Key: "_id", Value: 0}}))
	if err != nil {
		return nil, err
	}

	return cursor, nil
}

func (c *mongoCollection) CountDocuments(ctx context.Context, filter bson.D, limit int64) (int64, error) {
	opts := options.Count()
	if limit > 0 {
		opts.SetLimit(limit)
	}

	return c.coll.CountDocuments(ctx, filter, opts)
}

func (c *mongoCollection) Aggregate(ctx context.Context, pipeline mongo.Pipeline) (Cursor, error) {
	cursor, err := c.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}

	return cursor, nil
}

func (c *mongoCollection) ListIndexes(ctx context.Context) ([]bson.D, error) {
	cursor, err := c.coll.Indexes().List(ctx)
	if err != nil {
		return nil, err
	}

	var indexes []bson.D
	if err := cursor.All(ctx, &indexes); err != nil {
		return nil, err
	}

	return indexes, nil
}

// CreateIndexes issues createIndexes directly so every listed option reaches
// the server under the name reconciliation compares against.
func (c *mongoCollection) CreateIndexes(ctx context.Context, specs []IndexSpec) error {
	if len(specs) == 0 {
		return nil
	}

	indexes := make(bson.A, len(specs))
	for i, spec := range specs {
		doc := bson.D{
			{Key: "key", Value: spec.KeyDocument()},
			{Key: "name", Value: spec.Name()},
		}

		for _, opt := range spec.Options {
			if opt.Key != "name" {
				doc = append(doc, opt)
			}
		}

		indexes[i] = doc
	}

	cmd := bson.D{
		{Key: "createIndexes", Value: c.coll.Name()},
		{Key: "indexes", Value: indexes},
	}

	return c.coll.Database().RunCommand(ctx, cmd).Err()
}
