package dbops

import (
	"context"
	"fmt"
	"os"

	"github.com/go-pg/pg/v10"
)

// Defines the go-pg hooks to enable the SQL query logging. It
// implements the pg.QueryHook interface.
type DBLogger struct{}

// The type used to define context keys for database handling.
type contextKeywordDB string

const suppressQueryLoggingKeyword contextKeywordDB = "suppress-query-logging"

// Returns a context which suppresses the query logging. It is used for
// the queries carrying credentials.
func SuppressQueryLogging(ctx context.Context) context.Context {
	return context.WithValue(ctx, suppressQueryLoggingKeyword, true)
}

// Checks if the context suppresses the query logging.
func HasSuppressedQueryLogging(ctx context.Context) bool {
	value, ok := ctx.Value(suppressQueryLoggingKeyword).(bool)
	return ok && value
}

// Hook run before SQL query execution.
func (d DBLogger) BeforeQuery(c context.Context, q *pg.QueryEvent) (context.Context, error) {
	if HasSuppressedQueryLogging(c) {
		return c, nil
	}

	query, err := q.FormattedQuery()
	// All regular logging goes to stdout. The queries are printed to
	// stderr, so it is possible to redirect just them to a file.
	if err != nil {
		// Print errors as SQL comments, so the output still runs as a
		// script.
		fmt.Fprintf(os.Stderr, "%s -- error:%s\n", string(query), err)
	} else {
		fmt.Fprintln(os.Stderr, string(query))
	}
	return c, nil
}

// Hook run after SQL query execution.
func (d DBLogger) AfterQuery(c context.Context, q *pg.QueryEvent) error {
	return nil
}
