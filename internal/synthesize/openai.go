// Package synthesize turns persona replies into audio artifacts using the
// OpenAI TTS collaborator. Voice selectors, speed and quality tier are
// validated locally before the remote call; the resulting audio is handed to
// blob storage and only its key is returned.
package synthesize

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
	openai "github.com/sashabaranov/go-openai"

	"github.com/davidsunday2/careersim/internal/session"
)

// Speed multiplier bounds accepted by the speech collaborator.
const (
	MinSpeed = 0.25
	MaxSpeed = 4.0
)

// voices is the closed set of selectable voice personas.
var voices = map[string]openai.SpeechVoice{
	"alloy":   openai.VoiceAlloy,
	"echo":    openai.VoiceEcho,
	"fable":   openai.VoiceFable,
	"onyx":    openai.VoiceOnyx,
	"nova":    openai.VoiceNova,
	"shimmer": openai.VoiceShimmer,
}

// ValidateVoice checks the selector against the enumerated voice set.
func ValidateVoice(voice string) error {
	if _, ok := voices[strings.ToLower(voice)]; !ok {
		return errors.Wrap(session.ErrInvalidVoiceSelector, voice)
	}
	return nil
}

// Quality selects the synthesis model tier.
type Quality string

const (
	QualityStandard Quality = "standard"
	QualityHD       Quality = "hd"
)

func (q Quality) model() openai.SpeechModel {
	if q == QualityHD {
		return openai.TTSModel1HD
	}
	return openai.TTSModel1
}

// Request describes one synthesis call.
type Request struct {
	Text    string
	Voice   string
	Speed   float64 // 0 means 1.0
	Quality Quality
}

// Result references the synthesized artifact; the blob store owns the bytes.
type Result struct {
	AudioKey string
	// EstimatedDuration approximates playback length in seconds from word
	// count at an average speaking rate of 150 wpm.
	EstimatedDuration float64
}

// BlobStore is the storage collaborator that owns audio payload lifetime.
type BlobStore interface {
	Upload(ctx context.Context, key, contentType string, body []byte) error
}

type speechAPI interface {
	CreateSpeech(ctx context.Context, request openai.CreateSpeechRequest) (openai.RawResponse, error)
}

// Client is a stateless adapter over the TTS collaborator.
type Client struct {
	api   speechAPI
	blobs BlobStore
}

// NewClient constructs a TTS client that stores artifacts in blobs.
func NewClient(apiKey string, blobs BlobStore) *Client {
	return &Client{api: openai.NewClient(apiKey), blobs: blobs}
}

// Synthesize validates the request, generates speech and uploads the mp3
// artifact under key, returning a weak reference to it.
func (c *Client) Synthesize(ctx context.Context, key string, req Request) (*Result, error) {
	if err := ValidateVoice(req.Voice); err != nil {
		return nil, err
	}
	speed := req.Speed
	if speed == 0 {
		speed = 1.0
	}
	if speed < MinSpeed || speed > MaxSpeed {
		return nil, fmt.Errorf("speed %.2f out of range [%.2f, %.2f]", speed, MinSpeed, MaxSpeed)
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, fmt.Errorf("synthesis text empty")
	}

	stream, err := c.api.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          req.Quality.model(),
		Input:          req.Text,
		Voice:          voices[strings.ToLower(req.Voice)],
		Speed:          speed,
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return nil, errors.Wrap(err, "tts synthesis")
	}
	defer stream.Close()

	audio, err := io.ReadAll(stream)
	if err != nil {
		return nil, errors.Wrap(err, "read tts stream")
	}
	if err := c.blobs.Upload(ctx, key, "audio/mpeg", audio); err != nil {
		return nil, errors.Wrap(err, "store audio artifact")
	}
	return &Result{
		AudioKey:          key,
		EstimatedDuration: estimateDuration(req.Text, speed),
	}, nil
}

// estimateDuration assumes ~150 spoken words per minute.
func estimateDuration(text string, speed float64) float64 {
	words := len(strings.Fields(text))
	return (float64(words) / 150.0) * 60.0 / speed
}
