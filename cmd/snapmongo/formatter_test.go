package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func sampleResult() *QueryResult {
	return &QueryResult{
		Columns: []string{"symbol", "price", "tags"},
		Rows: [][]any{
			{"IBM", 120.5, bson.A{"tech", "nyse"}},
			{"ACME", nil, bson.M{"note": "new"}},
		},
		Duration: 1500 * time.Microsecond,
	}
}

func TestFormatter(t *testing.T) {
	tests := []struct {
		format   string
		expected string
	}{
		{
			format: "table",
			expected: "symbol  price  tags\n" +
				"IBM     120.5  [\"tech\",\"nyse\"]\n" +
				"ACME    NULL   {\"note\":\"new\"}\n" +
				"(2 rows, 2ms)\n",
		},
		{
			format: "csv",
			expected: "symbol,price,tags\n" +
				"IBM,120.5,\"[\"\"tech\"\",\"\"nyse\"\"]\"\n" +
				"ACME,NULL,\"{\"\"note\"\":\"\"new\"\"}\"\n",
		},
		{
			format: "json",
			expected: `{
  "count": 2,
  "data": [
    {
      "price": 120.5,
      "symbol": "IBM",
      "tags": [
        "tech",
        "nyse"
      ]
    },
    {
      "price": null,
      "symbol": "ACME",
      "tags": {
        "note": "new"
      }
    }
  ],
  "duration": "1.5ms"
}
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			f, err := NewFormatter(tt.format)
			require.NoError(t, err)

			var out bytes.Buffer
			require.NoError(t, f.Format(sampleResult(), &out))
			assert.Equal(t, tt.expected, out.String())
		})
	}
}

func TestFormatter_YAML(t *testing.T) {
	f, err := NewFormatter("YAML")
	require.NoError(t, err)
	assert.Equal(t, FormatYAML, f.Output)

	var out bytes.Buffer
	require.NoError(t, f.Format(sampleResult(), &out))

	assert.Contains(t, out.String(), "count: 2")
	assert.Contains(t, out.String(), "symbol: IBM")
	assert.Contains(t, out.String(), "note: new")
}

func TestFormatter_EmptyTable(t *testing.T) {
	f, err := NewFormatter("table")
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, f.Format(&QueryResult{Columns: []string{"symbol"}}, &out))
	assert.Equal(t, "No results\n", out.String())
}

func TestNewFormatter_Unsupported(t *testing.T) {
	_, err := NewFormatter("markdown")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}
