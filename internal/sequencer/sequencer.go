// Package sequencer owns per-session turn state. It enforces the turn
// protocol (user turn -> transcription -> generation -> synthesis ->
// delivery), serializes turns within a session while leaving unrelated
// sessions fully parallel, and applies the stage timeout and retry policy.
package sequencer

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/davidsunday2/careersim/internal/feedback"
	"github.com/davidsunday2/careersim/internal/persona"
	"github.com/davidsunday2/careersim/internal/session"
	"github.com/davidsunday2/careersim/internal/store"
	"github.com/davidsunday2/careersim/internal/synthesize"
	"github.com/davidsunday2/careersim/internal/transcribe"
)

// Sequencer drives turns through their stage pipeline. All session and turn
// mutations go through it; the store never sees concurrent writers for one
// session because at most one turn per session is ever in flight.
type Sequencer struct {
	store  store.Store
	blobs  BlobStore
	stt    Transcriber
	gen    Generator
	tts    Synthesizer
	cfg    Config
	notify Notifier

	// mu guards inflight only and is never held across I/O.
	mu       sync.Mutex
	inflight map[string]context.CancelFunc
}

// New constructs a Sequencer. notify may be nil.
func New(st store.Store, blobs BlobStore, stt Transcriber, gen Generator, tts Synthesizer, cfg Config, notify Notifier) *Sequencer {
	if notify == nil {
		notify = nopNotifier{}
	}
	return &Sequencer{
		store:    st,
		blobs:    blobs,
		stt:      stt,
		gen:      gen,
		tts:      tts,
		cfg:      cfg,
		notify:   notify,
		inflight: make(map[string]context.CancelFunc),
	}
}

// CreateSession starts a new simulation for a user. Persona fields left empty
// in override fall back to the scenario's default persona; the effective
// voice selector is validated here so a bad voice never produces a session.
// The persona's opening statement is generated best-effort as AI turn 0.
func (s *Sequencer) CreateSession(ctx context.Context, userID string, scenario session.Scenario, modality session.Modality, override *session.PersonaConfig) (*session.Session, error) {
	if !session.ValidScenario(scenario) {
		return nil, errors.Wrapf(session.ErrInvalidArgument, "unknown scenario %q", scenario)
	}
	if !session.ValidModality(modality) {
		return nil, errors.Wrapf(session.ErrInvalidArgument, "unknown modality %q", modality)
	}
	cfg, _ := persona.ScenarioFor(scenario)
	p := cfg.DefaultPersona
	if override != nil {
		mergePersona(&p, override)
	}
	if p.Voice == "" {
		p.Voice, _ = persona.DefaultVoice(p.Style)
	}
	if err := synthesize.ValidateVoice(p.Voice); err != nil {
		return nil, err
	}

	sess := &session.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Scenario:  scenario,
		Persona:   p,
		Status:    session.StatusCreated,
		Modality:  modality,
		Phase:     cfg.Phases[0],
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, errors.Wrap(err, "create session")
	}

	s.openingTurn(ctx, sess)
	return sess, nil
}

func mergePersona(dst, src *session.PersonaConfig) {
	if src.Name != "" {
		dst.Name = src.Name
	}
	if src.Role != "" {
		dst.Role = src.Role
	}
	if src.Voice != "" {
		dst.Voice = src.Voice
	}
	if src.Style != "" {
		dst.Style = src.Style
	}
	if len(src.Topics) > 0 {
		dst.Topics = src.Topics
	}
	if src.Difficulty != "" {
		dst.Difficulty = src.Difficulty
	}
	if src.Audience != "" {
		dst.Audience = src.Audience
	}
}

// openingTurn records the persona's opening statement as turn 0. Failures
// here degrade the session (it simply starts without an opening) rather than
// failing creation.
func (s *Sequencer) openingTurn(ctx context.Context, sess *session.Session) {
	logger := s.logger(sess.ID)
	text, err := s.gen.Opening(ctx, sess)
	if err != nil || strings.TrimSpace(text) == "" {
		logger.Warn().Err(err).Msg("opening statement unavailable, session starts without one")
		return
	}
	turn := &session.Turn{
		SessionID: sess.ID,
		Seq:       0,
		Speaker:   session.SpeakerAI,
		Input:     session.InputText,
		Status:    session.TurnPending,
	}
	if err := s.persist(ctx, turn); err != nil {
		logger.Warn().Err(err).Msg("persist opening turn")
		return
	}
	if err := s.advance(ctx, turn, session.TurnGenerating); err != nil {
		return
	}
	turn.OutputText = text
	if sess.Modality.IncludesVoice() {
		if err := s.advance(ctx, turn, session.TurnSynthesizing); err != nil {
			return
		}
		res, synthErr := s.tts.Synthesize(ctx, audioKey(sess.ID, 0, "reply", "mp3"), s.synthesisRequest(sess, "", text))
		if synthErr != nil {
			logger.Warn().Err(synthErr).Msg("opening synthesis failed, keeping text only")
		} else {
			turn.OutputAudio = res.AudioKey
		}
	}
	_ = s.advance(ctx, turn, session.TurnComplete)
}

// SubmitTurn validates and commits one user turn, driving it through the
// stage pipeline. It returns SequenceConflict while another turn of the same
// session is in flight; submissions are rejected, never queued.
func (s *Sequencer) SubmitTurn(ctx context.Context, sessionID string, in TurnInput) (*TurnResult, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != session.StatusCreated && sess.Status != session.StatusActive {
		return nil, errors.Wrapf(session.ErrInvalidSessionState, "session %s is %s", sessionID, sess.Status)
	}

	// Local validation happens before the turn exists and before any
	// external call.
	switch in.Modality {
	case session.InputAudio:
		if len(in.Audio) == 0 {
			return nil, errors.Wrap(session.ErrInvalidArgument, "audio payload empty")
		}
		if err := transcribe.ValidateAudio(in.AudioFormat, in.AudioDuration); err != nil {
			return nil, err
		}
	case session.InputText:
		if strings.TrimSpace(in.Text) == "" {
			return nil, errors.Wrap(session.ErrInvalidArgument, "text payload empty")
		}
	default:
		return nil, errors.Wrapf(session.ErrInvalidArgument, "unknown input modality %q", in.Modality)
	}
	if in.VoiceOverride != "" {
		if err := synthesize.ValidateVoice(in.VoiceOverride); err != nil {
			return nil, err
		}
	}

	flightCtx, release, err := s.acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	// Re-check under the flight slot: EndSession may have completed the
	// session between the first load and acquire. Completed and aborted are
	// terminal; activating from a stale snapshot would resurrect them.
	sess, err = s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != session.StatusCreated && sess.Status != session.StatusActive {
		return nil, errors.Wrapf(session.ErrInvalidSessionState, "session %s is %s", sessionID, sess.Status)
	}
	if sess.Status == session.StatusCreated {
		sess.Status = session.StatusActive
		if err := s.store.UpdateSession(ctx, sess); err != nil {
			return nil, errors.Wrap(err, "activate session")
		}
	}

	history, err := s.store.ListTurns(ctx, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "load turn history")
	}
	seq := len(history)

	turn := &session.Turn{
		SessionID: sessionID,
		Seq:       seq,
		Speaker:   session.SpeakerUser,
		Input:     in.Modality,
		Status:    session.TurnPending,
	}
	if in.Modality == session.InputText {
		turn.InputRef = in.Text
	} else {
		key := audioKey(sessionID, seq, "input", in.AudioFormat)
		if err := s.blobs.Upload(ctx, key, "audio/"+strings.ToLower(in.AudioFormat), in.Audio); err != nil {
			return nil, errors.Wrap(err, "store input audio")
		}
		turn.InputRef = key
	}
	if err := s.persist(ctx, turn); err != nil {
		return nil, errors.Wrap(err, "persist turn")
	}

	if err := s.runPipeline(flightCtx, sess, turn, in, history); err != nil {
		return nil, err
	}
	return &TurnResult{Turn: *turn, Session: *sess}, nil
}

// acquire claims the session's single flight slot.
func (s *Sequencer) acquire(ctx context.Context, sessionID string) (context.Context, func(), error) {
	flightCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if _, busy := s.inflight[sessionID]; busy {
		s.mu.Unlock()
		cancel()
		return nil, nil, errors.Wrapf(session.ErrSequenceConflict, "session %s", sessionID)
	}
	s.inflight[sessionID] = cancel
	s.mu.Unlock()

	release := func() {
		s.mu.Lock()
		delete(s.inflight, sessionID)
		s.mu.Unlock()
		cancel()
	}
	return flightCtx, release, nil
}

// CancelTurn cooperatively cancels the session's in-flight turn, if any.
// In-flight external calls are abandoned; the turn is committed as failed.
func (s *Sequencer) CancelTurn(sessionID string) bool {
	s.mu.Lock()
	cancel, ok := s.inflight[sessionID]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func (s *Sequencer) runPipeline(ctx context.Context, sess *session.Session, turn *session.Turn, in TurnInput, history []session.Turn) error {
	logger := s.logger(sess.ID)

	if turn.Input == session.InputAudio {
		if err := s.advance(ctx, turn, session.TurnTranscribing); err != nil {
			return err
		}
		var res *transcribe.Result
		err := s.runStage(ctx, session.StageTranscription, s.cfg.TranscribeTimeout, func(stageCtx context.Context) error {
			r, err := s.stt.Transcribe(stageCtx, in.Audio, in.AudioFormat, in.AudioDuration)
			if err != nil {
				return err
			}
			res = r
			return nil
		})
		if err != nil {
			return s.failTurn(ctx, sess, turn, session.StageTranscription, err)
		}
		turn.Transcript = res.Text
		turn.Confidence = res.Confidence
		turn.Language = res.Language
		if res.Confidence < s.cfg.ConfidenceThreshold {
			// Never dropped: the generator still runs, but it is told the
			// transcript may be garbled so it can ask for clarification.
			turn.LowConfidence = true
			logger.Info().Int("seq", turn.Seq).Float64("confidence", res.Confidence).Msg("low-confidence transcript flagged")
		}
	}

	if err := s.advance(ctx, turn, session.TurnGenerating); err != nil {
		return err
	}
	var genRes *persona.Result
	err := s.runStage(ctx, session.StageGeneration, s.cfg.GenerateTimeout, func(stageCtx context.Context) error {
		r, err := s.gen.Generate(stageCtx, sess, append(history, *turn), turn.LowConfidence)
		if err != nil {
			return err
		}
		genRes = r
		return nil
	})
	if err != nil {
		return s.failTurn(ctx, sess, turn, session.StageGeneration, err)
	}
	turn.OutputText = genRes.ResponseText
	annotation := genRes.Annotation
	turn.Annotation = &annotation

	if sess.Modality.IncludesVoice() {
		if err := s.advance(ctx, turn, session.TurnSynthesizing); err != nil {
			return err
		}
		var synthRes *synthesize.Result
		err := s.runStage(ctx, session.StageSynthesis, s.cfg.SynthesizeTimeout, func(stageCtx context.Context) error {
			r, err := s.tts.Synthesize(stageCtx, audioKey(sess.ID, turn.Seq, "reply", "mp3"), s.synthesisRequest(sess, in.VoiceOverride, genRes.ResponseText))
			if err != nil {
				return err
			}
			synthRes = r
			return nil
		})
		if err != nil {
			return s.failTurn(ctx, sess, turn, session.StageSynthesis, err)
		}
		turn.OutputAudio = synthRes.AudioKey
	}

	if err := s.advance(ctx, turn, session.TurnComplete); err != nil {
		return err
	}
	s.progressPhase(ctx, sess, append(history, *turn))
	return nil
}

// runStage executes one external stage under its timeout, retrying transient
// failures (collaborator unavailability and stage timeouts) with exponential
// backoff. Validation errors and caller cancellation are never retried.
func (s *Sequencer) runStage(ctx context.Context, stage session.Stage, timeout time.Duration, fn func(context.Context) error) error {
	op := func() error {
		stageCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		err := fn(stageCtx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(errors.Wrap(ctx.Err(), "cancelled"))
		}
		if errors.Is(stageCtx.Err(), context.DeadlineExceeded) {
			return &session.StageTimeoutError{Stage: stage}
		}
		if errors.Is(err, session.ErrGenerationUnavailable) {
			return err
		}
		return backoff.Permanent(err)
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.cfg.InitialBackoff
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, s.cfg.MaxRetries), ctx))
}

// failTurn commits the turn as failed with a stage-tagged reason and aborts
// the session after ConsecutiveFailLimit failed turns in a row. A single
// failed turn never aborts the session; the caller may resubmit.
func (s *Sequencer) failTurn(ctx context.Context, sess *session.Session, turn *session.Turn, stage session.Stage, cause error) error {
	// The flight context may be dead; persistence must still happen.
	persistCtx := context.WithoutCancel(ctx)

	turn.FailReason = failReason(stage, cause)
	if err := session.AdvanceTurn(turn, session.TurnFailed, time.Now().UTC()); err == nil {
		if err := s.store.SaveTurn(persistCtx, turn); err != nil {
			s.logger(sess.ID).Error().Err(err).Int("seq", turn.Seq).Msg("persist failed turn")
		}
		s.notify.Publish(Event{SessionID: sess.ID, Seq: turn.Seq, Status: turn.Status, FailReason: turn.FailReason, At: time.Now().UTC()})
	}

	if n := s.trailingFailures(persistCtx, sess.ID); n >= s.cfg.ConsecutiveFailLimit {
		if session.CanTransitionSession(sess.Status, session.StatusAborted) {
			sess.Status = session.StatusAborted
			if err := s.store.UpdateSession(persistCtx, sess); err != nil {
				s.logger(sess.ID).Error().Err(err).Msg("abort session")
			} else {
				s.logger(sess.ID).Warn().Int("consecutive_failures", n).Msg("session aborted after consecutive turn failures")
			}
			// The caller learns both what failed and that the session is gone.
			cause = stderrors.Join(cause, session.ErrSessionAborted)
		}
	}
	return &session.TurnError{SessionID: sess.ID, Seq: turn.Seq, Stage: stage, Err: cause}
}

func failReason(stage session.Stage, cause error) string {
	if errors.Is(cause, context.Canceled) {
		return "cancelled"
	}
	if st, ok := session.IsStageTimeout(cause); ok {
		return fmt.Sprintf("timeout:%s", st)
	}
	return fmt.Sprintf("%s:%s", stage, cause.Error())
}

func (s *Sequencer) trailingFailures(ctx context.Context, sessionID string) int {
	turns, err := s.store.ListTurns(ctx, sessionID)
	if err != nil {
		s.logger(sessionID).Error().Err(err).Msg("count trailing failures")
		return 0
	}
	n := 0
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Status != session.TurnFailed {
			break
		}
		n++
	}
	return n
}

// progressPhase advances the scenario phase based on committed exchanges.
func (s *Sequencer) progressPhase(ctx context.Context, sess *session.Session, turns []session.Turn) {
	exchanges := 0
	for _, t := range turns {
		if t.Status == session.TurnComplete {
			exchanges++
		}
	}
	if phase, changed := persona.NextPhase(sess.Scenario, sess.Phase, exchanges); changed {
		sess.Phase = phase
		if err := s.store.UpdateSession(ctx, sess); err != nil {
			s.logger(sess.ID).Error().Err(err).Msg("persist phase change")
		}
	}
}

// EndSession completes a session and triggers report aggregation without
// blocking the caller. Calling it again on a completed session returns the
// stored report; the report is generated exactly once.
func (s *Sequencer) EndSession(ctx context.Context, sessionID string) (*EndResult, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if res, done, err := s.endedResult(ctx, sess); done {
		return res, err
	}

	// Claim the session's flight slot so no turn can start while the status
	// flips; a turn already in flight rejects the end instead of queueing.
	_, release, err := s.acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	// Re-check under the slot; a concurrent EndSession may have won.
	sess, err = s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if res, done, err := s.endedResult(ctx, sess); done {
		return res, err
	}

	sess.Status = session.StatusCompleted
	if err := s.store.UpdateSession(ctx, sess); err != nil {
		return nil, errors.Wrap(err, "complete session")
	}
	go func() {
		if _, err := s.aggregateAndStore(context.Background(), *sess); err != nil {
			s.logger(sess.ID).Error().Err(err).Msg("aggregate feedback report")
		}
	}()
	return &EndResult{Session: *sess}, nil
}

// endedResult resolves EndSession for sessions already in a terminal state.
// done reports whether the session was terminal.
func (s *Sequencer) endedResult(ctx context.Context, sess *session.Session) (*EndResult, bool, error) {
	switch sess.Status {
	case session.StatusCompleted:
		rep, err := s.store.GetReport(ctx, sess.ID)
		if errors.Is(err, session.ErrReportNotFound) {
			// Async aggregation has not landed yet; do it inline. SaveReport's
			// write-once guarantee keeps the result identical either way.
			rep, err = s.aggregateAndStore(ctx, *sess)
		}
		if err != nil {
			return nil, true, err
		}
		return &EndResult{Session: *sess, Report: rep}, true, nil
	case session.StatusAborted:
		return nil, true, errors.Wrapf(session.ErrInvalidSessionState, "session %s is aborted", sess.ID)
	}
	return nil, false, nil
}

func (s *Sequencer) aggregateAndStore(ctx context.Context, sess session.Session) (*session.FeedbackReport, error) {
	turns, err := s.store.ListTurns(ctx, sess.ID)
	if err != nil {
		return nil, errors.Wrap(err, "load turns for aggregation")
	}
	rep := feedback.Aggregate(&sess, turns)
	rep.GeneratedAt = time.Now().UTC()
	if err := s.store.SaveReport(ctx, rep); err != nil {
		if errors.Is(err, session.ErrReportAlreadyGenerated) {
			return s.store.GetReport(ctx, sess.ID)
		}
		return nil, errors.Wrap(err, "store report")
	}
	return rep, nil
}

// Report returns the stored feedback report for a completed session.
func (s *Sequencer) Report(ctx context.Context, sessionID string) (*session.FeedbackReport, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != session.StatusCompleted {
		return nil, errors.Wrapf(session.ErrReportNotFound, "session %s is %s", sessionID, sess.Status)
	}
	return s.store.GetReport(ctx, sessionID)
}

// Session returns current session state.
func (s *Sequencer) Session(ctx context.Context, sessionID string) (*session.Session, error) {
	return s.store.GetSession(ctx, sessionID)
}

// TurnStatus returns one turn of a session.
func (s *Sequencer) TurnStatus(ctx context.Context, sessionID string, seq int) (*session.Turn, error) {
	return s.store.GetTurn(ctx, sessionID, seq)
}

func (s *Sequencer) synthesisRequest(sess *session.Session, voiceOverride, text string) synthesize.Request {
	voice := sess.Persona.Voice
	if voiceOverride != "" {
		voice = voiceOverride
	}
	_, speed := persona.DefaultVoice(sess.Persona.Style)
	return synthesize.Request{
		Text:    text,
		Voice:   voice,
		Speed:   speed,
		Quality: synthesize.QualityStandard,
	}
}

// persist saves the turn in its current status and publishes the event.
func (s *Sequencer) persist(ctx context.Context, turn *session.Turn) error {
	if turn.StatusTimes == nil {
		turn.StatusTimes = map[session.TurnStatus]time.Time{turn.Status: time.Now().UTC()}
	}
	if err := s.store.SaveTurn(ctx, turn); err != nil {
		return err
	}
	s.notify.Publish(Event{SessionID: turn.SessionID, Seq: turn.Seq, Status: turn.Status, At: time.Now().UTC()})
	return nil
}

// advance moves the turn forward one status and persists it.
func (s *Sequencer) advance(ctx context.Context, turn *session.Turn, to session.TurnStatus) error {
	if err := session.AdvanceTurn(turn, to, time.Now().UTC()); err != nil {
		return err
	}
	return s.persist(context.WithoutCancel(ctx), turn)
}

func (s *Sequencer) logger(sessionID string) *zerolog.Logger {
	l := log.With().Str("session_id", sessionID).Logger()
	return &l
}

func audioKey(sessionID string, seq int, kind, ext string) string {
	return fmt.Sprintf("%s/turns/%05d-%s.%s", sessionID, seq, kind, strings.ToLower(ext))
}
