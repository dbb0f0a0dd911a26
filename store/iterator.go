package store

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
)

// RowIterator walks result documents as positional rows. Columns missing
// from a document come back as nil.
type RowIterator struct {
	cursor  Cursor
	columns []string
	doc     bson.M
	row     []any
	err     error
	onError func(error) error
}

func newRowIterator(cursor Cursor, columns []string, onError func(error) error) *RowIterator {
	return &RowIterator{cursor: cursor, columns: columns, onError: onError}
}

// Columns returns the names of the row positions.
func (it *RowIterator) Columns() []string {
	return it.columns
}

// Next advances to the next document. It returns false at the end of the
// results or on failure; check Err afterwards.
func (it *RowIterator) Next(ctx context.Context) bool {
	if it.err != nil || it.cursor == nil {
		return false
	}

	if !it.cursor.Next(ctx) {
		if err := it.cursor.Err(); err != nil {
			it.fail(err)
		}

		return false
	}

	var doc bson.M
	if err := it.cursor.Decode(&doc); err != nil {
		it.fail(err)
		return false
	}

	it.doc = doc
	it.row = make([]any, len(it.columns))

	for i, column := range it.columns {
		it.row[i] = doc[column]
	}

	return true
}

func (it *RowIterator) fail(err error) {
	if it.onError != nil {
		err = it.onError(err)
	}

	it.err = err
}

// Row returns the current row.
func (it *RowIterator) Row() []any {
	return it.row
}

// Document returns the current document as decoded from the store.
func (it *RowIterator) Document() bson.M {
	return it.doc
}

// Err returns the error that stopped the iteration, if any.
func (it *RowIterator) Err() error {
	return it.err
}

// Close releases the cursor.
func (it *RowIterator) Close(ctx context.Context) error {
	if it.cursor == nil {
		return nil
	}

	return it.cursor.Close(ctx)
}

// All drains the iterator and closes it.
func (it *RowIterator) All(ctx context.Context) ([][]any, error) {
	defer it.Close(ctx)

	var rows [][]any
	for it.Next(ctx) {
		rows = append(rows, it.Row())
	}

	if err := it.Err(); err != nil {
		return nil, err
	}

	return rows, nil
}
