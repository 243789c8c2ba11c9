// Package persona holds the data-driven persona and scenario registry and
// the response generator that drives the AI side of a simulation. Behavioral
// "polymorphism" is a mapping from style tag to prompt-shaping parameters,
// not a type hierarchy, so new personas are plain data.
package persona

import (
	"github.com/davidsunday2/careersim/internal/session"
)

// Style shapes how a persona speaks and challenges the user.
type Style struct {
	Tag        string
	Directives []string
	Concerns   []string
	// Voice settings applied when the session modality includes voice.
	Voice string
	Speed float64
}

// styles maps a behavioral style tag to its prompt-shaping parameters.
var styles = map[string]Style{
	"analytical": {
		Tag: "analytical",
		Directives: []string{
			"Ask probing technical follow-up questions",
			"Explore edge cases and trade-offs in the user's answers",
			"Evaluate problem-solving methodology, not just the result",
			"Test depth of understanding before moving on",
		},
		Concerns: []string{"Code quality", "Scalability", "Best practices", "Problem-solving approach"},
		Voice:    "echo",
		Speed:    0.9,
	},
	"executive": {
		Tag: "executive",
		Directives: []string{
			"Ask for the business translation of technical points",
			"Focus on metrics, outcomes and bottom-line impact",
			"Challenge unnecessary technical complexity",
			"Push for clear action items",
		},
		Concerns: []string{"Budget impact", "Timeline", "User experience", "ROI"},
		Voice:    "nova",
		Speed:    1.1,
	},
	"supportive_coach": {
		Tag: "supportive_coach",
		Directives: []string{
			"Frame feedback constructively and encourage elaboration",
			"Probe for self-reflection and learning",
			"Acknowledge strengths before raising gaps",
			"Keep the user talking through their reasoning",
		},
		Concerns: []string{"Growth mindset", "Communication skills", "Confidence", "Structure"},
		Voice:    "alloy",
		Speed:    0.95,
	},
	"professional": {
		Tag: "professional",
		Directives: []string{
			"Stay outcome-focused and time-pressed",
			"Escalate concerns when answers are vague",
			"Ask what happens next and who owns it",
			"Expect concrete commitments",
		},
		Concerns: []string{"Impact on customers", "Accountability", "Next steps", "Risk"},
		Voice:    "shimmer",
		Speed:    1.0,
	},
}

// StyleFor returns the style parameters for a tag, defaulting to
// supportive_coach for unknown tags so a bad tag degrades rather than fails.
func StyleFor(tag string) Style {
	if s, ok := styles[tag]; ok {
		return s
	}
	return styles["supportive_coach"]
}

// ScenarioConfig is the static configuration of one simulation scenario.
type ScenarioConfig struct {
	Scenario         session.Scenario
	DefaultPersona   session.PersonaConfig
	UserInstructions string
	Objectives       []string
	// Phases in order; progression is by exchange count (see NextPhase).
	Phases []string
	// MinExchanges[i] is the number of committed turns after which the
	// session moves past Phases[i].
	MinExchanges []int
}

var scenarios = map[session.Scenario]ScenarioConfig{
	session.ScenarioTechnicalInterview: {
		Scenario: session.ScenarioTechnicalInterview,
		DefaultPersona: session.PersonaConfig{
			Name: "Alex Chen", Role: "Senior Software Engineer",
			Voice: "echo", Style: "analytical", Difficulty: "intermediate",
		},
		UserInstructions: "You're in a technical interview. Answer questions clearly and demonstrate your problem-solving approach.",
		Objectives: []string{
			"Explain technical concepts clearly",
			"Demonstrate problem-solving methodology",
			"Handle technical pressure effectively",
			"Show depth of understanding",
		},
		Phases:       []string{"warm_up", "technical_questions", "problem_solving", "design_discussion", "conclusion"},
		MinExchanges: []int{2, 4, 6, 8},
	},
	session.ScenarioStakeholderMeeting: {
		Scenario: session.ScenarioStakeholderMeeting,
		DefaultPersona: session.PersonaConfig{
			Name: "Sarah Johnson", Role: "Product Manager",
			Voice: "nova", Style: "executive", Audience: "non_technical",
		},
		UserInstructions: "You've completed your analysis. Present your findings to a non-technical manager who needs to understand the business impact.",
		Objectives: []string{
			"Translate technical concepts to business language",
			"Handle non-technical questions effectively",
			"Present data in an understandable way",
			"Address business concerns and objections",
		},
		Phases:       []string{"introduction", "presentation", "questions", "objections", "wrap_up"},
		MinExchanges: []int{2, 4, 6, 8},
	},
	session.ScenarioPresentation: {
		Scenario: session.ScenarioPresentation,
		DefaultPersona: session.PersonaConfig{
			Name: "Morgan Lee", Role: "Panel Moderator",
			Voice: "alloy", Style: "supportive_coach", Audience: "mixed",
		},
		UserInstructions: "Deliver your presentation section by section. The moderator will interject with audience questions.",
		Objectives: []string{
			"Structure content for a mixed audience",
			"Keep a clear narrative thread",
			"Handle interruptions gracefully",
			"Land a memorable closing",
		},
		Phases:       []string{"introduction", "delivery", "q_and_a", "feedback", "wrap_up"},
		MinExchanges: []int{2, 5, 7, 9},
	},
	session.ScenarioCrisisManagement: {
		Scenario: session.ScenarioCrisisManagement,
		DefaultPersona: session.PersonaConfig{
			Name: "Dana Brooks", Role: "Client Account Director",
			Voice: "shimmer", Style: "professional", Difficulty: "high",
		},
		UserInstructions: "A production incident is affecting a key client. Brief the account director, triage priorities and commit to a plan.",
		Objectives: []string{
			"Communicate status without jargon under pressure",
			"Prioritize actions and own decisions",
			"Keep stakeholders informed proactively",
			"Commit to concrete follow-ups",
		},
		Phases:       []string{"briefing", "triage", "decision", "stakeholder_update", "debrief"},
		MinExchanges: []int{2, 4, 6, 8},
	},
}

// ScenarioFor returns the configuration for a scenario.
func ScenarioFor(s session.Scenario) (ScenarioConfig, bool) {
	cfg, ok := scenarios[s]
	return cfg, ok
}

// NextPhase returns the phase a session should be in after exchanges
// committed turns, and whether that differs from current.
func NextPhase(s session.Scenario, current string, exchanges int) (string, bool) {
	cfg, ok := scenarios[s]
	if !ok {
		return current, false
	}
	phase := cfg.Phases[0]
	for i, min := range cfg.MinExchanges {
		if exchanges >= min && i+1 < len(cfg.Phases) {
			phase = cfg.Phases[i+1]
		}
	}
	return phase, phase != current
}

// DefaultVoice returns the voice and speed matching a style tag.
func DefaultVoice(styleTag string) (voice string, speed float64) {
	s := StyleFor(styleTag)
	return s.Voice, s.Speed
}
