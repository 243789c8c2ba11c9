package sequencer

import (
	"context"
	"time"

	"github.com/davidsunday2/careersim/internal/persona"
	"github.com/davidsunday2/careersim/internal/session"
	"github.com/davidsunday2/careersim/internal/synthesize"
	"github.com/davidsunday2/careersim/internal/transcribe"
)

// Transcriber is the minimal interface for the speech-to-text collaborator.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, format string, duration time.Duration) (*transcribe.Result, error)
}

// Synthesizer is the minimal interface for the text-to-speech collaborator.
type Synthesizer interface {
	Synthesize(ctx context.Context, key string, req synthesize.Request) (*synthesize.Result, error)
}

// Generator produces persona responses and per-turn annotations.
type Generator interface {
	Generate(ctx context.Context, sess *session.Session, history []session.Turn, lowConfidenceHint bool) (*persona.Result, error)
	Opening(ctx context.Context, sess *session.Session) (string, error)
}

// BlobStore holds audio payloads; the core keeps only keys.
type BlobStore interface {
	Upload(ctx context.Context, key, contentType string, body []byte) error
}

// Event is a turn status transition, published for live observers.
type Event struct {
	SessionID  string             `json:"session_id"`
	Seq        int                `json:"seq"`
	Status     session.TurnStatus `json:"status"`
	FailReason string             `json:"fail_reason,omitempty"`
	At         time.Time          `json:"at"`
}

// Notifier receives turn events. Publish must not block.
type Notifier interface {
	Publish(Event)
}

type nopNotifier struct{}

func (nopNotifier) Publish(Event) {}

// Config tunes the sequencer's stage timeouts and retry policy.
type Config struct {
	// ConfidenceThreshold flags transcripts below it as low-confidence.
	ConfidenceThreshold float64
	TranscribeTimeout   time.Duration
	GenerateTimeout     time.Duration
	SynthesizeTimeout   time.Duration
	// MaxRetries is how many times a transient stage failure is retried
	// before the turn fails.
	MaxRetries uint64
	// InitialBackoff seeds the exponential backoff between retries.
	InitialBackoff time.Duration
	// ConsecutiveFailLimit aborts the session once this many turns in a
	// row have failed.
	ConsecutiveFailLimit int
}

// DefaultConfig returns the documented production policy.
func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold:  0.55,
		TranscribeTimeout:    15 * time.Second,
		GenerateTimeout:      30 * time.Second,
		SynthesizeTimeout:    20 * time.Second,
		MaxRetries:           2,
		InitialBackoff:       250 * time.Millisecond,
		ConsecutiveFailLimit: 3,
	}
}

// TurnInput is one submitted turn payload.
type TurnInput struct {
	Modality session.InputModality
	// Text is the literal utterance for text turns.
	Text string
	// Audio fields apply to audio turns.
	Audio         []byte
	AudioFormat   string
	AudioDuration time.Duration
	// VoiceOverride optionally replaces the persona voice for this turn's
	// reply; it must be in the enumerated voice set.
	VoiceOverride string
}

// TurnResult is the committed outcome of a successful submission.
type TurnResult struct {
	Turn    session.Turn    `json:"turn"`
	Session session.Session `json:"session"`
}

// EndResult is the outcome of ending a session. Report is nil while
// aggregation is still running; repeated calls return the stored report.
type EndResult struct {
	Session session.Session         `json:"session"`
	Report  *session.FeedbackReport `json:"report,omitempty"`
}
