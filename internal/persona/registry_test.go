package persona

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidsunday2/careersim/internal/session"
)

func TestScenarioFor_AllScenariosConfigured(t *testing.T) {
	for _, s := range []session.Scenario{
		session.ScenarioTechnicalInterview,
		session.ScenarioStakeholderMeeting,
		session.ScenarioPresentation,
		session.ScenarioCrisisManagement,
	} {
		cfg, ok := ScenarioFor(s)
		require.True(t, ok, s)
		assert.NotEmpty(t, cfg.Phases)
		assert.Len(t, cfg.MinExchanges, len(cfg.Phases)-1)
		assert.NotEmpty(t, cfg.DefaultPersona.Voice)
		assert.NotEmpty(t, cfg.DefaultPersona.Style)
	}
	_, ok := ScenarioFor("pair_programming")
	assert.False(t, ok)
}

func TestStyleFor_UnknownDefaultsToCoach(t *testing.T) {
	assert.Equal(t, "analytical", StyleFor("analytical").Tag)
	assert.Equal(t, "supportive_coach", StyleFor("belligerent").Tag)
}

func TestNextPhase_ProgressesByExchangeCount(t *testing.T) {
	phase, changed := NextPhase(session.ScenarioStakeholderMeeting, "introduction", 0)
	assert.Equal(t, "introduction", phase)
	assert.False(t, changed)

	phase, changed = NextPhase(session.ScenarioStakeholderMeeting, "introduction", 2)
	assert.Equal(t, "presentation", phase)
	assert.True(t, changed)

	phase, changed = NextPhase(session.ScenarioStakeholderMeeting, "presentation", 9)
	assert.Equal(t, "wrap_up", phase)
	assert.True(t, changed)

	// terminal phase is sticky
	phase, changed = NextPhase(session.ScenarioStakeholderMeeting, "wrap_up", 50)
	assert.Equal(t, "wrap_up", phase)
	assert.False(t, changed)
}

func TestDefaultVoice_MatchesStyle(t *testing.T) {
	v, speed := DefaultVoice("analytical")
	assert.Equal(t, "echo", v)
	assert.Equal(t, 0.9, speed)

	v, speed = DefaultVoice("executive")
	assert.Equal(t, "nova", v)
	assert.Equal(t, 1.1, speed)
}
