package postgres

import (
	"context"
	"fmt"
)

// TruncateForTest removes all rows from every table. It lives in the postgres
// package (not the _test package) so it can reach the unexported db field,
// and is exported so the postgres_test package can call it between tests.
func (s *Store) TruncateForTest(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		"TRUNCATE TABLE relationships, memory_tags, memories RESTART IDENTITY CASCADE")
	if err != nil {
		return fmt.Errorf("postgres: failed to truncate tables: %w", err)
	}
	return nil
}
