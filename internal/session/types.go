package session

import (
	"time"
)

// Scenario enumerates the professional-practice scenarios a session can run.
type Scenario string

const (
	ScenarioTechnicalInterview Scenario = "technical_interview"
	ScenarioStakeholderMeeting Scenario = "stakeholder_meeting"
	ScenarioPresentation       Scenario = "presentation"
	ScenarioCrisisManagement   Scenario = "crisis_management"
)

// ValidScenario reports whether s is one of the supported scenarios.
func ValidScenario(s Scenario) bool {
	switch s {
	case ScenarioTechnicalInterview, ScenarioStakeholderMeeting, ScenarioPresentation, ScenarioCrisisManagement:
		return true
	}
	return false
}

// Status is the session lifecycle state. Only the sequencer mutates it.
type Status string

const (
	StatusCreated   Status = "created"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusAborted   Status = "aborted"
)

// Modality selects how turns are exchanged within a session.
type Modality string

const (
	ModalityVoice Modality = "voice"
	ModalityText  Modality = "text"
	ModalityMixed Modality = "mixed"
)

// ValidModality reports whether m is a supported session modality.
func ValidModality(m Modality) bool {
	switch m {
	case ModalityVoice, ModalityText, ModalityMixed:
		return true
	}
	return false
}

// IncludesVoice reports whether sessions in this modality synthesize audio replies.
func (m Modality) IncludesVoice() bool {
	return m == ModalityVoice || m == ModalityMixed
}

// PersonaConfig describes the AI character driving responses.
// It is fixed at session creation and never changes afterwards.
type PersonaConfig struct {
	Name       string   `json:"name"`
	Role       string   `json:"role"`
	Voice      string   `json:"voice"`
	Style      string   `json:"style"`
	Topics     []string `json:"topics,omitempty"`
	Difficulty string   `json:"difficulty,omitempty"`
	Audience   string   `json:"audience,omitempty"`
}

// Session is one end-to-end simulation run between a user and an AI persona.
type Session struct {
	ID        string        `json:"id"`
	UserID    string        `json:"user_id"`
	Scenario  Scenario      `json:"scenario"`
	Persona   PersonaConfig `json:"persona"`
	Status    Status        `json:"status"`
	Modality  Modality      `json:"modality"`
	Phase     string        `json:"phase"`
	CreatedAt time.Time     `json:"created_at"`
}

// Speaker identifies which party produced a turn.
type Speaker string

const (
	SpeakerUser Speaker = "user"
	SpeakerAI   Speaker = "ai"
)

// InputModality is how the submitted payload arrived.
type InputModality string

const (
	InputAudio InputModality = "audio"
	InputText  InputModality = "text"
)

// TurnStatus is the processing state of a single turn.
type TurnStatus string

const (
	TurnPending      TurnStatus = "pending"
	TurnTranscribing TurnStatus = "transcribing"
	TurnGenerating   TurnStatus = "generating"
	TurnSynthesizing TurnStatus = "synthesizing"
	TurnComplete     TurnStatus = "complete"
	TurnFailed       TurnStatus = "failed"
)

// Terminal reports whether a turn in this status will never advance again.
func (s TurnStatus) Terminal() bool {
	return s == TurnComplete || s == TurnFailed
}

// Annotation is the structured per-turn feedback produced alongside every
// persona response. It is surfaced only in the session-level report, but it
// is recorded on every turn so the aggregator has full granularity.
type Annotation struct {
	Strengths    []string `json:"strengths"`
	Improvements []string `json:"improvements"`
	Score        int      `json:"score"` // 0-100 clarity/relevance
}

// Turn is one exchange unit within a session. Turns are keyed by
// (SessionID, Seq); seq numbers are contiguous from 0 with no gaps.
type Turn struct {
	SessionID     string        `json:"session_id"`
	Seq           int           `json:"seq"`
	Speaker       Speaker       `json:"speaker"`
	Input         InputModality `json:"input"`
	InputRef      string        `json:"input_ref"` // blob key for audio, literal text otherwise
	Transcript    string        `json:"transcript,omitempty"`
	Confidence    float64       `json:"confidence,omitempty"`
	LowConfidence bool          `json:"low_confidence,omitempty"`
	Language      string        `json:"language,omitempty"`
	OutputText    string        `json:"output_text,omitempty"`
	OutputAudio   string        `json:"output_audio,omitempty"` // blob key, weak reference
	Annotation    *Annotation   `json:"annotation,omitempty"`
	Status        TurnStatus    `json:"status"`
	FailReason    string        `json:"fail_reason,omitempty"`
	// StatusTimes records when each status was entered.
	StatusTimes map[TurnStatus]time.Time `json:"status_times,omitempty"`
}

// CategoryScores are the session-level aggregate scores of a feedback report.
type CategoryScores struct {
	TechnicalAccuracy    float64 `json:"technical_accuracy"`
	CommunicationClarity float64 `json:"communication_clarity"`
	BusinessFraming      float64 `json:"business_framing"`
}

// FeedbackReport is the session-level summary aggregated from turn
// annotations. Created exactly once after the session completes and never
// mutated afterwards.
type FeedbackReport struct {
	SessionID    string         `json:"session_id"`
	Scores       CategoryScores `json:"scores"`
	OverallScore float64        `json:"overall_score"`
	Strengths    []string       `json:"strengths"`
	Improvements []string       `json:"improvements"`
	Summary      string         `json:"summary"`
	TurnCount    int            `json:"turn_count"`
	GeneratedAt  time.Time      `json:"generated_at"`
}
