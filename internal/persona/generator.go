package persona

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"

	"github.com/davidsunday2/careersim/internal/session"
)

// DefaultHistoryCap bounds how many recent turns are replayed to the model.
const DefaultHistoryCap = 20

// Retriever supplies optional grounding snippets (job-market/RAG context).
// Snippets are passed through into the prompt; ranking is the collaborator's
// problem, and retrieval failures never fail a turn.
type Retriever interface {
	Snippets(ctx context.Context, scenario session.Scenario, topics []string) ([]string, error)
}

// Result is one generated persona turn.
type Result struct {
	ResponseText string
	Annotation   session.Annotation
}

type chatAPI interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Generator produces in-character persona responses plus per-turn feedback
// annotations from an LLM collaborator.
type Generator struct {
	api        chatAPI
	model      string
	retriever  Retriever
	historyCap int
}

// NewGenerator constructs a Generator over the OpenAI chat collaborator.
// retriever may be nil.
func NewGenerator(apiKey, model string, retriever Retriever) *Generator {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &Generator{
		api:        openai.NewClient(apiKey),
		model:      model,
		retriever:  retriever,
		historyCap: DefaultHistoryCap,
	}
}

// generatedPayload is the JSON contract the model is instructed to follow.
type generatedPayload struct {
	Response   string             `json:"response"`
	Annotation session.Annotation `json:"annotation"`
}

// Generate produces the persona's next utterance and its feedback annotation
// for the latest user turn in history. history must be ordered by seq and
// belong to a single session; only the most recent historyCap turns are sent.
func (g *Generator) Generate(ctx context.Context, sess *session.Session, history []session.Turn, lowConfidenceHint bool) (*Result, error) {
	messages := []openai.ChatCompletionMessage{{
		Role:    openai.ChatMessageRoleSystem,
		Content: g.systemPrompt(ctx, sess, lowConfidenceHint),
	}}
	if len(history) > g.historyCap {
		history = history[len(history)-g.historyCap:]
	}
	for _, t := range history {
		content := t.OutputText
		role := openai.ChatMessageRoleAssistant
		if t.Speaker == session.SpeakerUser {
			role = openai.ChatMessageRoleUser
			content = t.Transcript
			if t.Input == session.InputText {
				content = t.InputRef
			}
		}
		if strings.TrimSpace(content) == "" {
			continue
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: content})
	}

	resp, err := g.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.model,
		Messages:    messages,
		Temperature: 0.7,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, mapGenerationErr(err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.Wrap(session.ErrGenerationUnavailable, "empty choices")
	}

	raw := strings.TrimSpace(resp.Choices[0].Message.Content)
	var payload generatedPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil || strings.TrimSpace(payload.Response) == "" {
		// Model broke the contract; keep the turn alive with the raw text and
		// a neutral annotation rather than dropping it.
		log.Warn().Str("session_id", sess.ID).Msg("persona reply was not valid JSON, using raw text")
		return &Result{
			ResponseText: raw,
			Annotation: session.Annotation{
				Strengths:    []string{"Engaged with the question"},
				Improvements: []string{"Keep building on this exchange"},
				Score:        70,
			},
		}, nil
	}
	payload.Annotation.Score = clampScore(payload.Annotation.Score)
	return &Result{ResponseText: strings.TrimSpace(payload.Response), Annotation: payload.Annotation}, nil
}

// Opening generates the persona's opening statement for a new session.
func (g *Generator) Opening(ctx context.Context, sess *session.Session) (string, error) {
	cfg, _ := ScenarioFor(sess.Scenario)
	style := StyleFor(sess.Persona.Style)
	prompt := fmt.Sprintf(
		"You are %s, a %s, opening a %s simulation.\nYour manner: %s.\nUser instructions for this scenario: %s\nGenerate a short, natural opening statement to start the conversation. Stay in character and set expectations. Respond with plain text only.",
		sess.Persona.Name, sess.Persona.Role, sess.Scenario,
		strings.Join(style.Directives, "; "),
		cfg.UserInstructions,
	)
	resp, err := g.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.model,
		Messages:    []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleSystem, Content: prompt}},
		Temperature: 0.7,
	})
	if err != nil {
		return "", mapGenerationErr(err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.Wrap(session.ErrGenerationUnavailable, "empty choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func (g *Generator) systemPrompt(ctx context.Context, sess *session.Session, lowConfidenceHint bool) string {
	style := StyleFor(sess.Persona.Style)
	cfg, _ := ScenarioFor(sess.Scenario)

	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a %s, in a %s simulation with a career-coaching user.\n", sess.Persona.Name, sess.Persona.Role, sess.Scenario)
	fmt.Fprintf(&b, "Current phase: %s.\n", sess.Phase)
	b.WriteString("Behavioral directives:\n")
	for _, d := range style.Directives {
		fmt.Fprintf(&b, "- %s\n", d)
	}
	fmt.Fprintf(&b, "Your typical concerns: %s.\n", strings.Join(style.Concerns, ", "))
	if len(sess.Persona.Topics) > 0 {
		fmt.Fprintf(&b, "Scenario topics: %s.\n", strings.Join(sess.Persona.Topics, ", "))
	}
	if sess.Persona.Difficulty != "" {
		fmt.Fprintf(&b, "Difficulty: %s.\n", sess.Persona.Difficulty)
	}
	if len(cfg.Objectives) > 0 {
		fmt.Fprintf(&b, "The user is practicing: %s.\n", strings.Join(cfg.Objectives, "; "))
	}
	if g.retriever != nil {
		snippets, err := g.retriever.Snippets(ctx, sess.Scenario, sess.Persona.Topics)
		if err != nil {
			log.Warn().Err(err).Str("session_id", sess.ID).Msg("grounding retrieval failed, continuing without")
		}
		if len(snippets) > 0 {
			b.WriteString("Current market context you may draw on:\n")
			for _, s := range snippets {
				fmt.Fprintf(&b, "- %s\n", s)
			}
		}
	}
	if lowConfidenceHint {
		b.WriteString("The user's last utterance was transcribed with LOW confidence and may be garbled. Ask for clarification instead of answering content you are unsure you heard correctly.\n")
	}
	b.WriteString(`Respond with a single JSON object: {"response": "<your in-character reply>", "annotation": {"strengths": ["..."], "improvements": ["..."], "score": <0-100 clarity/relevance score for the user's latest answer>}}`)
	return b.String()
}

// mapGenerationErr folds transport, rate-limit and server-side failures into
// the GenerationUnavailable taxonomy entry so the sequencer's retry policy
// applies; anything else surfaces as-is.
func mapGenerationErr(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500 {
			return errors.Wrap(session.ErrGenerationUnavailable, apiErr.Message)
		}
		return err
	}
	// Non-API errors are transport-level: connection refused, DNS, EOF.
	return errors.Wrap(session.ErrGenerationUnavailable, err.Error())
}

func clampScore(s int) int {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}
