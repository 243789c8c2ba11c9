// Package store persists sessions, turns and feedback reports. Turns are
// kept arena-style, keyed by (session id, seq), so a crashed process can
// reload per-turn state without walking an object graph.
package store

import (
	"context"

	"github.com/davidsunday2/careersim/internal/session"
)

// Store is the persisted-session collaborator consumed by the sequencer and
// the HTTP layer. Implementations must be safe for concurrent use; write
// serialization per session is the sequencer's job, not the store's.
type Store interface {
	CreateSession(ctx context.Context, s *session.Session) error
	GetSession(ctx context.Context, id string) (*session.Session, error)
	UpdateSession(ctx context.Context, s *session.Session) error

	// SaveTurn upserts by (session id, seq). Called at every status
	// transition so a crash mid-turn leaves recoverable state.
	SaveTurn(ctx context.Context, t *session.Turn) error
	GetTurn(ctx context.Context, sessionID string, seq int) (*session.Turn, error)
	// ListTurns returns all turns of a session ordered by seq.
	ListTurns(ctx context.Context, sessionID string) ([]session.Turn, error)

	// SaveReport stores the session report; a report is written at most once.
	SaveReport(ctx context.Context, r *session.FeedbackReport) error
	GetReport(ctx context.Context, sessionID string) (*session.FeedbackReport, error)
}
