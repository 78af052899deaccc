package changedetect

import (
	"context"
	"fmt"
	"strings"

	"github.com/codeindex-dev/codeindex/internal/vectorstore"
)

const defaultDeleteBatchSize = 100

// DeleteStalePaths removes every vector document whose relativePath
// matches one of paths (the union of removed and modified files ahead of
// a reindex), by querying each path for its ids and deleting them in
// batches. Rows with an empty id are skipped. batchSize <= 0 uses a
// built-in default.
func DeleteStalePaths(ctx context.Context, store vectorstore.Store, collection string, paths []string, batchSize int) error {
	if batchSize <= 0 {
		batchSize = defaultDeleteBatchSize
	}

	var pending []string
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		if err := store.Delete(ctx, collection, pending); err != nil {
			return err
		}
		pending = pending[:0]
		return nil
	}

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		expr := fmt.Sprintf(`relativePath == "%s"`, escapeFilterValue(path))
		rows, err := store.Query(ctx, collection, expr, []string{"id"}, 0)
		if err != nil {
			return err
		}
		for _, row := range rows {
			id := row["id"]
			if id == "" {
				continue
			}
			pending = append(pending, id)
			if len(pending) >= batchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
	}
	return flush()
}

func escapeFilterValue(s string) string {
	return strings.ReplaceAll(s, `"`, `\"`)
}
