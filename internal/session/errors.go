package session

import (
	"errors"
	"fmt"
)

// Stage names the pipeline stage a turn error occurred in.
type Stage string

const (
	StageValidate      Stage = "validate"
	StageTranscription Stage = "transcription"
	StageGeneration    Stage = "generation"
	StageSynthesis     Stage = "synthesis"
)

// Error taxonomy. Adapter validation errors are surfaced immediately and
// never retried; GenerationUnavailable and stage timeouts are transient and
// retried by the sequencer before the turn fails.
var (
	ErrInvalidArgument        = errors.New("invalid request argument")
	ErrInvalidSessionState    = errors.New("invalid session state")
	ErrSequenceConflict       = errors.New("turn already in flight for session")
	ErrUnsupportedFormat      = errors.New("unsupported audio format")
	ErrAudioTooLong           = errors.New("audio exceeds maximum duration")
	ErrInvalidVoiceSelector   = errors.New("voice selector not in enumerated set")
	ErrGenerationUnavailable  = errors.New("generation collaborator unavailable")
	ErrSessionAborted         = errors.New("session aborted")
	ErrSessionNotFound        = errors.New("session not found")
	ErrTurnNotFound           = errors.New("turn not found")
	ErrReportNotFound         = errors.New("report not found")
	ErrReportAlreadyGenerated = errors.New("report already generated")
)

// StageTimeoutError marks a stage that exceeded its deadline.
type StageTimeoutError struct {
	Stage Stage
}

func (e *StageTimeoutError) Error() string {
	return fmt.Sprintf("stage %s timed out", e.Stage)
}

// IsStageTimeout reports whether err is a stage timeout, returning the stage.
func IsStageTimeout(err error) (Stage, bool) {
	var te *StageTimeoutError
	if errors.As(err, &te) {
		return te.Stage, true
	}
	return "", false
}

// TurnError wraps a failure with the identifiers needed for diagnosis:
// session id, sequence number and failing stage.
type TurnError struct {
	SessionID string
	Seq       int
	Stage     Stage
	Err       error
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("session=%s seq=%d stage=%s: %v", e.SessionID, e.Seq, e.Stage, e.Err)
}

func (e *TurnError) Unwrap() error { return e.Err }
