package sink

import (
	"fmt"
	"strings"

	"github.com/tornflow/tornflow/pkg/schema"
)

// dedupColumns resolves the append-mode merge key: the endpoint's
// explicit key when declared, otherwise every TIMESTAMP column in
// warehouse schema order.
func dedupColumns(s schema.TableSchema, declared []string) ([]string, error) {
	if len(declared) > 0 {
		for _, name := range declared {
			if _, ok := s.Get(name); !ok {
				return nil, fmt.Errorf("dedup key column %q not in table schema", name)
			}
		}
		return declared, nil
	}

	cols := s.TimestampColumns()
	if len(cols) == 0 {
		return nil, fmt.Errorf("append mode needs a dedup key: no explicit key and no TIMESTAMP columns")
	}
	return cols, nil
}

// buildMergeSQL renders the append-mode statement: insert staging rows
// whose key tuple is absent from the target. NULL key components match
// NULL, so repeated loads of the same rows stay idempotent.
func buildMergeSQL(target, staging schema.TableID, keys []string) string {
	conds := make([]string, len(keys))
	for i, k := range keys {
		conds[i] = fmt.Sprintf("(T.`%s` = S.`%s` OR (T.`%s` IS NULL AND S.`%s` IS NULL))", k, k, k, k)
	}

	return fmt.Sprintf(
		"MERGE `%s.%s.%s` T USING `%s.%s.%s` S ON %s WHEN NOT MATCHED THEN INSERT ROW",
		target.Project, target.Dataset, target.Table,
		staging.Project, staging.Dataset, staging.Table,
		strings.Join(conds, " AND "))
}
