package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// insertChunkSize bounds rows per multi-row VALUES statement.
const insertChunkSize = 2000

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// insertChunked writes n rows as multi-row INSERT statements of at most
// insertChunkSize rows. rowArgs returns the column values of row i; rows
// returning nil are skipped. suffix is appended to every statement (e.g. an
// upsert clause) and rebind adapts placeholders for the driver.
func insertChunked(ctx context.Context, db execer, table string, cols []string, n int,
	rowArgs func(i int) []interface{}, suffix string, rebind func(string) string) error {
	if n == 0 {
		return nil
	}
	placeholder := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ") + ")"
	head := fmt.Sprintf("INSERT INTO %s (%s) VALUES ", table, strings.Join(cols, ", "))

	for start := 0; start < n; start += insertChunkSize {
		end := start + insertChunkSize
		if end > n {
			end = n
		}

		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*len(cols))
		for i := start; i < end; i++ {
			row := rowArgs(i)
			if row == nil {
				continue
			}
			values = append(values, placeholder)
			args = append(args, row...)
		}
		if len(values) == 0 {
			continue
		}
		q := head + strings.Join(values, ", ") + suffix
		if rebind != nil {
			q = rebind(q)
		}
		if _, err := db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("insert %s: %w", table, err)
		}
	}
	return nil
}

// nullable unwraps an optional value for drivers that do not follow pointers.
func nullable[T any](p *T) interface{} {
	if p == nil {
		return nil
	}
	return *p
}
