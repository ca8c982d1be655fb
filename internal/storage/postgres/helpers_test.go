package postgres

import (
	"context"
	"fmt"
)

// TruncateForTest wipes the memories table between test cases.
func (s *MemoryStore) TruncateForTest(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "TRUNCATE TABLE memories"); err != nil {
		return fmt.Errorf("failed to truncate memories: %w", err)
	}
	return nil
}
