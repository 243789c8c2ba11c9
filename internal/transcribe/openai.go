// Package transcribe converts bounded audio segments into text with a
// confidence score and detected language, using OpenAI Whisper. Payloads are
// validated locally before any remote call so malformed requests never cost
// an external round-trip.
package transcribe

import (
	"bytes"
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	openai "github.com/sashabaranov/go-openai"

	"github.com/davidsunday2/careersim/internal/session"
)

// MaxDuration bounds a single audio segment.
const MaxDuration = 5 * time.Minute

// supportedFormats is the closed set of accepted container formats.
var supportedFormats = map[string]struct{}{
	"wav": {}, "mp3": {}, "mp4": {}, "m4a": {}, "ogg": {}, "webm": {}, "flac": {},
}

// ValidateAudio checks format membership and the duration bound. It is
// called by the sequencer before a turn is driven into the pipeline.
func ValidateAudio(format string, duration time.Duration) error {
	if _, ok := supportedFormats[strings.ToLower(format)]; !ok {
		return errors.Wrap(session.ErrUnsupportedFormat, format)
	}
	if duration > MaxDuration {
		return errors.Wrapf(session.ErrAudioTooLong, "%s exceeds %s", duration, MaxDuration)
	}
	return nil
}

// Result is a completed transcription.
type Result struct {
	Text       string
	Confidence float64
	Language   string
	Duration   float64
}

// transcriptionAPI is the slice of the OpenAI client this adapter needs.
type transcriptionAPI interface {
	CreateTranscription(ctx context.Context, request openai.AudioRequest) (openai.AudioResponse, error)
}

// Client is a stateless adapter over the Whisper speech collaborator.
type Client struct {
	api   transcriptionAPI
	model string
}

// NewClient constructs a Whisper-backed transcription client.
func NewClient(apiKey string) *Client {
	return &Client{api: openai.NewClient(apiKey), model: openai.Whisper1}
}

// Transcribe converts the audio bytes into text. The format must already
// have passed ValidateAudio; it is re-checked here so the adapter stays safe
// when called directly.
func (c *Client) Transcribe(ctx context.Context, audio []byte, format string, duration time.Duration) (*Result, error) {
	if err := ValidateAudio(format, duration); err != nil {
		return nil, err
	}
	resp, err := c.api.CreateTranscription(ctx, openai.AudioRequest{
		Model:       c.model,
		FilePath:    "turn." + strings.ToLower(format),
		Reader:      bytes.NewReader(audio),
		Format:      openai.AudioResponseFormatVerboseJSON,
		Temperature: 0.2,
	})
	if err != nil {
		return nil, errors.Wrap(err, "whisper transcription")
	}
	return &Result{
		Text:       strings.TrimSpace(resp.Text),
		Confidence: confidence(&resp),
		Language:   resp.Language,
		Duration:   resp.Duration,
	}, nil
}

// confidence derives a 0-1 score from the verbose response. Whisper reports
// no confidence directly; average segment log-probability shifted into [0,1]
// is a usable proxy, with a text-length fallback when segments are absent.
func confidence(resp *openai.AudioResponse) float64 {
	if len(resp.Segments) > 0 {
		var sum float64
		for _, seg := range resp.Segments {
			sum += seg.AvgLogprob
		}
		avg := sum/float64(len(resp.Segments)) + 1.0
		if avg < 0 {
			return 0
		}
		if avg > 1 {
			return 1
		}
		return avg
	}
	text := strings.TrimSpace(resp.Text)
	switch {
	case text == "":
		return 0.0
	case len(text) < 10:
		return 0.7
	default:
		return 0.85
	}
}
