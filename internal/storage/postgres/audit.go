package postgres

import (
	"context"
	"fmt"

	"github.com/fleetinfo/portal/internal/portal"
)

// AuditStore appends to audit_log.
type AuditStore struct {
	db dbtx
}

// Record inserts one audit row.
func (s *AuditStore) Record(ctx context.Context, e portal.AuditEntry) error {
	const query = `INSERT INTO audit_log (user_id, method, path, status, message, created_at) VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := s.db.Exec(ctx, query, e.UserID, e.Method, e.Path, e.Status, e.Message, e.CreatedAt); err != nil {
		return fmt.Errorf("insert audit entry: %w", mapError(err))
	}
	return nil
}
