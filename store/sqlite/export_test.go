package sqlite

import "context"

// ExecRaw runs a statement against the underlying database, bypassing the
// typed write paths.
func ExecRaw(ctx context.Context, s *Store, query string, args ...any) error {
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}
