// Package feedback folds per-turn annotations into a session-level report.
// Aggregate is a pure function of the committed turns, so re-running it for
// the same session always produces the same report; the sequencer relies on
// that for end-session idempotence.
package feedback

import (
	"fmt"
	"math"

	"github.com/davidsunday2/careersim/internal/session"
)

// categoryEmphasis is the fixed per-scenario emphasis applied to the
// recency-weighted score when deriving category scores. A technical
// interview weighs technical accuracy fully and business framing less;
// a stakeholder meeting is the reverse.
var categoryEmphasis = map[session.Scenario]session.CategoryScores{
	session.ScenarioTechnicalInterview: {TechnicalAccuracy: 1.0, CommunicationClarity: 0.95, BusinessFraming: 0.85},
	session.ScenarioStakeholderMeeting: {TechnicalAccuracy: 0.85, CommunicationClarity: 1.0, BusinessFraming: 1.0},
	session.ScenarioPresentation:       {TechnicalAccuracy: 0.9, CommunicationClarity: 1.0, BusinessFraming: 0.9},
	session.ScenarioCrisisManagement:   {TechnicalAccuracy: 0.9, CommunicationClarity: 0.95, BusinessFraming: 1.0},
}

const maxListedItems = 5

// Aggregate computes the feedback report for a completed session from its
// committed turns. Turns without an annotation (failed turns, AI turns that
// never scored) are skipped. The recency curve is linear: with n annotated
// turns, turn i (0-based) gets weight 1 + i/(n-1), so the last turn counts
// twice as much as the first, reflecting improvement over the session.
func Aggregate(sess *session.Session, turns []session.Turn) *session.FeedbackReport {
	var (
		annotated []session.Annotation
		count     int
	)
	for _, t := range turns {
		if t.Annotation == nil || t.Status != session.TurnComplete {
			continue
		}
		annotated = append(annotated, *t.Annotation)
		count++
	}

	weighted := recencyWeightedScore(annotated)
	emphasis, ok := categoryEmphasis[sess.Scenario]
	if !ok {
		emphasis = session.CategoryScores{TechnicalAccuracy: 1, CommunicationClarity: 1, BusinessFraming: 1}
	}
	scores := session.CategoryScores{
		TechnicalAccuracy:    round1(weighted * emphasis.TechnicalAccuracy),
		CommunicationClarity: round1(weighted * emphasis.CommunicationClarity),
		BusinessFraming:      round1(weighted * emphasis.BusinessFraming),
	}
	overall := round1(0.3*scores.TechnicalAccuracy + 0.4*scores.CommunicationClarity + 0.3*scores.BusinessFraming)

	return &session.FeedbackReport{
		SessionID:    sess.ID,
		Scores:       scores,
		OverallScore: overall,
		Strengths:    collect(annotated, func(a session.Annotation) []string { return a.Strengths }),
		Improvements: collect(annotated, func(a session.Annotation) []string { return a.Improvements }),
		Summary:      summary(sess, count, overall),
		TurnCount:    count,
	}
}

func recencyWeightedScore(annotated []session.Annotation) float64 {
	n := len(annotated)
	if n == 0 {
		return 0
	}
	var sum, weightSum float64
	for i, a := range annotated {
		w := 1.0
		if n > 1 {
			w = 1.0 + float64(i)/float64(n-1)
		}
		sum += float64(a.Score) * w
		weightSum += w
	}
	return sum / weightSum
}

// collect gathers items most-recent-first, dropping duplicates, capped.
func collect(annotated []session.Annotation, pick func(session.Annotation) []string) []string {
	seen := make(map[string]struct{})
	var out []string
	for i := len(annotated) - 1; i >= 0; i-- {
		for _, item := range pick(annotated[i]) {
			if item == "" {
				continue
			}
			if _, dup := seen[item]; dup {
				continue
			}
			seen[item] = struct{}{}
			out = append(out, item)
			if len(out) == maxListedItems {
				return out
			}
		}
	}
	return out
}

func summary(sess *session.Session, count int, overall float64) string {
	if count == 0 {
		return fmt.Sprintf("No scored exchanges were completed in this %s session.", sess.Scenario)
	}
	var grade string
	switch {
	case overall >= 85:
		grade = "strong"
	case overall >= 70:
		grade = "solid"
	case overall >= 50:
		grade = "developing"
	default:
		grade = "early-stage"
	}
	return fmt.Sprintf("Across %d scored exchanges in this %s simulation with %s, performance was %s (%.1f overall). Later responses weigh more than earlier ones, so the score reflects the trajectory of the session.",
		count, sess.Scenario, sess.Persona.Name, grade, overall)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
