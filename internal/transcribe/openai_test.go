package transcribe

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	openai "github.com/sashabaranov/go-openai"

	"github.com/davidsunday2/careersim/internal/session"
)

type fakeAPI struct {
	calls int
	resp  openai.AudioResponse
	err   error
}

func (f *fakeAPI) CreateTranscription(ctx context.Context, req openai.AudioRequest) (openai.AudioResponse, error) {
	f.calls++
	return f.resp, f.err
}

func TestValidateAudio(t *testing.T) {
	assert.NoError(t, ValidateAudio("wav", 10*time.Second))
	assert.NoError(t, ValidateAudio("WEBM", 5*time.Minute))
	assert.ErrorIs(t, ValidateAudio("aiff", time.Second), session.ErrUnsupportedFormat)
	assert.ErrorIs(t, ValidateAudio("mp3", 6*time.Minute), session.ErrAudioTooLong)
}

func TestTranscribe_NoRemoteCallOnInvalidInput(t *testing.T) {
	api := &fakeAPI{}
	c := &Client{api: api, model: openai.Whisper1}

	_, err := c.Transcribe(context.Background(), []byte{1}, "mp3", 6*time.Minute)
	assert.ErrorIs(t, err, session.ErrAudioTooLong)
	assert.Equal(t, 0, api.calls, "remote must not be called for oversized audio")

	_, err = c.Transcribe(context.Background(), []byte{1}, "aiff", time.Second)
	assert.ErrorIs(t, err, session.ErrUnsupportedFormat)
	assert.Equal(t, 0, api.calls)
}

func TestTranscribe_SegmentConfidence(t *testing.T) {
	api := &fakeAPI{}
	raw := `{
		"text": " tell me about your experience ",
		"language": "english",
		"duration": 10,
		"segments": [{"avg_logprob": -0.2}, {"avg_logprob": -0.4}]
	}`
	require.NoError(t, json.Unmarshal([]byte(raw), &api.resp))
	c := &Client{api: api, model: openai.Whisper1}

	res, err := c.Transcribe(context.Background(), []byte{1, 2}, "wav", 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "tell me about your experience", res.Text)
	assert.InDelta(t, 0.7, res.Confidence, 1e-9) // mean logprob -0.3 shifted by 1
	assert.Equal(t, "english", res.Language)
}

func TestConfidence_Fallbacks(t *testing.T) {
	assert.Equal(t, 0.0, confidence(&openai.AudioResponse{Text: "  "}))
	assert.Equal(t, 0.7, confidence(&openai.AudioResponse{Text: "yes"}))
	assert.Equal(t, 0.85, confidence(&openai.AudioResponse{Text: "a longer utterance here"}))
}
