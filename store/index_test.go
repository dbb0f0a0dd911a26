package store

import (
	"log/slog"
	"testing"

	"github.com/alecthomas/assert/v2"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/shibukawa/snapmongo"
	"github.com/shibukawa/snapmongo/testhelper"
)

func TestExpectedIndexes(t *testing.T) {
	def := tradesDefinition()
	def.PrimaryKey = []string{"symbol", "volume"}
	def.Indexes = []snapmongo.IndexAnnotation{
		{Fields: []string{"price:-1"}},
		{Fields: []string{"symbol", "price: -1", `{"unique": true, "name": "by_symbol_price"}`}},
		{Fields: []string{"volume", `{"expireAfterSeconds": 3600, "sparse": false}`}},
		{Fields: []string{"symbol", `{"collation": {"locale": "en_US", "strength": 2}}`}},
	}

	specs, err := ExpectedIndexes(def, nil)
	assert.NoError(t, err)

	var documents []string
	for _, spec := range specs {
		documents = append(documents, spec.String())
	}

	assert.Equal(t, []string{
		`{"v":2,"key":{"symbol":1,"volume":1},"name":"symbol_1_volume_1","unique":true}`,
		`{"v":2,"key":{"price":-1},"name":"price_-1"}`,
		`{"v":2,"key":{"symbol":1,"price":-1},"name":"by_symbol_price","unique":true}`,
		`{"v":2,"key":{"volume":1},"name":"volume_1","expireAfterSeconds":3600}`,
		`{"v":2,"key":{"symbol":1},"name":"symbol_1","collation":{"locale":"en_US","strength":2}}`,
	}, documents)

	assert.Equal(t, bson.D{{Key: "symbol", Value: int32(1)}, {Key: "price", Value: int32(-1)}}, specs[2].KeyDocument())
}

func TestExpectedIndexes_OptionAliases(t *testing.T) {
	def := tradesDefinition()
	def.PrimaryKey = nil
	def.Indexes = []snapmongo.IndexAnnotation{
		{Fields: []string{"price", `{"version": 1, "sphereVersion": 3}`}},
	}

	specs, err := ExpectedIndexes(def, nil)
	assert.NoError(t, err)
	assert.Equal(t, 1, len(specs))
	assert.Equal(t, `{"v":1,"key":{"price":1},"name":"price_1","2dsphereIndexVersion":3}`, specs[0].String())
}

func TestExpectedIndexes_UnknownOptionsWarn(t *testing.T) {
	logger, recorder := testhelper.NewLogRecorder()

	def := tradesDefinition()
	def.PrimaryKey = nil
	def.Indexes = []snapmongo.IndexAnnotation{
		{Fields: []string{"symbol", `{"unique": true, "clustered": true, "collation": {"locale": "fr", "shouting": true}}`}},
	}

	specs, err := ExpectedIndexes(def, logger)
	assert.NoError(t, err)
	assert.Equal(t, `{"v":2,"key":{"symbol":1},"name":"symbol_1","unique":true,"collation":{"locale":"fr"}}`, specs[0].String())

	assert.Equal(t, []string{"unknown index option ignored", "unknown collation option ignored"}, recorder.Messages(slog.LevelWarn))
}

func TestExpectedIndexes_Errors(t *testing.T) {
	tests := []struct {
		name    string
		fields  []string
		wantErr error
	}{
		{name: "no fields", fields: []string{`{"unique": true}`}, wantErr: snapmongo.ErrInvalidIndexAnnotation},
		{name: "bad direction", fields: []string{"price:2"}, wantErr: snapmongo.ErrInvalidIndexAnnotation},
		{name: "not an element", fields: []string{"price asc"}, wantErr: snapmongo.ErrInvalidIndexAnnotation},
		{name: "field twice", fields: []string{"price", "price:-1"}, wantErr: snapmongo.ErrInvalidIndexAnnotation},
		{name: "unknown field", fields: []string{"exchange"}, wantErr: snapmongo.ErrUnknownAttribute},
		{name: "broken json", fields: []string{"price", `{"unique": }`}, wantErr: snapmongo.ErrMalformedIndexOption},
		{name: "wrong type", fields: []string{"price", `{"unique": 1}`}, wantErr: snapmongo.ErrMalformedIndexOption},
		{name: "negative ttl", fields: []string{"price", `{"expireAfterSeconds": -1}`}, wantErr: snapmongo.ErrMalformedIndexOption},
		{name: "collation without locale", fields: []string{"price", `{"collation": {"strength": 2}}`}, wantErr: snapmongo.ErrMalformedIndexOption},
		{name: "bad locale", fields: []string{"price", `{"collation": {"locale": "not a locale!"}}`}, wantErr: snapmongo.ErrMalformedIndexOption},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := tradesDefinition()
			def.Indexes = []snapmongo.IndexAnnotation{{Fields: tt.fields}}

			_, err := ExpectedIndexes(def, nil)
			assert.IsError(t, err, tt.wantErr, testhelper.Caller(t))
			assert.True(t, snapmongo.IsConfigurationError(err))
		})
	}
}
