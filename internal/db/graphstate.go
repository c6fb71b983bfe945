package db

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/casetrail/backend/pkg/common"

	"github.com/jackc/pgx/v5"
)

// GraphStateStore persists the per-case graph state as one jsonb row per
// case. It implements graph.SnapshotStore.
type GraphStateStore struct {
	conn pgxIConn
}

// NewGraphStateStore creates a GraphStateStore over a pool, connection or
// transaction.
func NewGraphStateStore(conn pgxIConn) *GraphStateStore {
	return &GraphStateStore{conn: conn}
}

// LoadState returns the persisted graph state for a case, or (nil, nil)
// when the case has none yet.
func (s *GraphStateStore) LoadState(ctx context.Context, caseID string) (*common.CaseGraphState, error) {
	var raw []byte
	err := s.conn.QueryRow(ctx, loadGraphStateSQL, caseID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var state common.CaseGraphState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// SaveState upserts the graph state for a case.
func (s *GraphStateStore) SaveState(ctx context.Context, caseID string, state *common.CaseGraphState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	_, err = s.conn.Exec(ctx, saveGraphStateSQL, caseID, raw)
	return err
}

const loadGraphStateSQL = `
SELECT state
FROM case_graphs
WHERE case_id = $1;
`

const saveGraphStateSQL = `
INSERT INTO case_graphs (case_id, state, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (case_id) DO UPDATE
SET state      = EXCLUDED.state,
    updated_at = now();
`
