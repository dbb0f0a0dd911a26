package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// bulkWrite submits ops as ordered bulk writes. A rejected item is logged
// and counted, then the batch resumes right after the last rejected
// position. Applied items are never resubmitted and rejected ones are not retried.
func (t *Table) bulkWrite(ctx context.Context, operation string, ops []WriteOp) error {
	if len(ops) == 0 {
		return nil
	}

	s, err := t.acquire(ctx)
	if err != nil {
		return err
	}

	failed := 0

	for offset := 0; offset < len(ops); {
		err := s.collection.BulkWrite(ctx, ops[offset:])
		if err == nil {
			break
		}

		var bwe *BulkWriteError
		if !errors.As(err, &bwe) {
			return t.fail(ctx, operation, s, err)
		}

		last := bwe.LastIndex()
		if last < 0 || offset+last >= len(ops) {
			return t.fail(ctx, operation, s, fmt.Errorf("bulk write reported position %d of %d", offset+last, len(ops)))
		}

		for _, item := range bwe.Items {
			position := offset + item.Index
			op := ops[position]

			t.logger.Error("bulk write item failed",
				slog.String("operation", operation),
				slog.Int("position", position),
				slog.String("kind", string(op.Kind)),
				slog.Int("code", item.Code),
				slog.String("message", item.Message),
				slog.String("payload", op.Payload()),
			)

			if t.metrics != nil {
				t.metrics.BulkItemFailures.WithLabelValues(t.def.Name, string(op.Kind)).Inc()
			}

			failed++
		}

		offset += last + 1
	}

	if failed > 0 {
		t.logger.Warn("bulk write completed with rejected items", slog.String("operation", operation), slog.Int("total", len(ops)), slog.Int("failed", failed))
	}

	return nil
}
