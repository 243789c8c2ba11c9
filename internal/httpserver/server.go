// Package httpserver exposes the simulation API over HTTP: session
// lifecycle, turn submission, feedback reports and a websocket stream of
// turn-status events.
package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/davidsunday2/careersim/internal/auth"
	"github.com/davidsunday2/careersim/internal/sequencer"
	"github.com/davidsunday2/careersim/internal/session"
)

// Server bundles the echo router and its dependencies.
type Server struct {
	echo *echo.Echo
	seq  *sequencer.Sequencer
	hub  *Hub
}

// New constructs the HTTP server with all routes registered. hub may be the
// same Hub passed to the sequencer as its Notifier.
func New(seq *sequencer.Sequencer, verifier auth.Verifier, hub *Hub) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	s := &Server{echo: e, seq: seq, hub: hub}

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	g := e.Group("/sessions", auth.Middleware(verifier))
	g.POST("", s.createSession)
	g.POST("/:id/turns", s.submitTurn)
	g.POST("/:id/turns/cancel", s.cancelTurn)
	g.POST("/:id/end", s.endSession)
	g.GET("/:id", s.getSession)
	g.GET("/:id/report", s.getReport)
	g.GET("/:id/turns/:seq", s.getTurn)
	g.GET("/:id/stream", s.stream)

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Start runs the server until Shutdown.
func (s *Server) Start(addr string) error { return s.echo.Start(addr) }

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error { return s.echo.Shutdown(ctx) }

type createSessionRequest struct {
	Scenario session.Scenario       `json:"scenario"`
	Modality session.Modality       `json:"modality"`
	Persona  *session.PersonaConfig `json:"persona,omitempty"`
}

func (s *Server) createSession(c echo.Context) error {
	var req createSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed body")
	}
	sess, err := s.seq.CreateSession(c.Request().Context(), auth.UserID(c), req.Scenario, req.Modality, req.Persona)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusCreated, sess)
}

type submitTurnRequest struct {
	Modality session.InputModality `json:"modality"`
	Text     string                `json:"text,omitempty"`
	// Audio is base64 in JSON.
	Audio           []byte  `json:"audio,omitempty"`
	AudioFormat     string  `json:"audio_format,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	VoiceOverride   string  `json:"voice_override,omitempty"`
}

func (s *Server) submitTurn(c echo.Context) error {
	sess, err := s.ownedSession(c)
	if err != nil {
		return errorResponse(c, err)
	}
	var req submitTurnRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed body")
	}
	res, err := s.seq.SubmitTurn(c.Request().Context(), sess.ID, sequencer.TurnInput{
		Modality:      req.Modality,
		Text:          req.Text,
		Audio:         req.Audio,
		AudioFormat:   req.AudioFormat,
		AudioDuration: time.Duration(req.DurationSeconds * float64(time.Second)),
		VoiceOverride: req.VoiceOverride,
	})
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) cancelTurn(c echo.Context) error {
	sess, err := s.ownedSession(c)
	if err != nil {
		return errorResponse(c, err)
	}
	cancelled := s.seq.CancelTurn(sess.ID)
	return c.JSON(http.StatusOK, map[string]bool{"cancelled": cancelled})
}

func (s *Server) endSession(c echo.Context) error {
	sess, err := s.ownedSession(c)
	if err != nil {
		return errorResponse(c, err)
	}
	res, err := s.seq.EndSession(c.Request().Context(), sess.ID)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) getSession(c echo.Context) error {
	sess, err := s.ownedSession(c)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, sess)
}

func (s *Server) getReport(c echo.Context) error {
	sess, err := s.ownedSession(c)
	if err != nil {
		return errorResponse(c, err)
	}
	rep, err := s.seq.Report(c.Request().Context(), sess.ID)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, rep)
}

func (s *Server) getTurn(c echo.Context) error {
	sess, err := s.ownedSession(c)
	if err != nil {
		return errorResponse(c, err)
	}
	var seq int
	if err := echo.PathParamsBinder(c).Int("seq", &seq).BindError(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "seq must be an integer")
	}
	turn, err := s.seq.TurnStatus(c.Request().Context(), sess.ID, seq)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, turn)
}

func (s *Server) stream(c echo.Context) error {
	sess, err := s.ownedSession(c)
	if err != nil {
		return errorResponse(c, err)
	}
	return s.serveStream(c, sess.ID)
}

// ownedSession loads the path session and checks it belongs to the caller.
// Foreign sessions read as not-found so ids do not leak across users.
func (s *Server) ownedSession(c echo.Context) (*session.Session, error) {
	sess, err := s.seq.Session(c.Request().Context(), c.Param("id"))
	if err != nil {
		return nil, err
	}
	if sess.UserID != auth.UserID(c) {
		return nil, errors.Wrap(session.ErrSessionNotFound, "not owned by caller")
	}
	return sess, nil
}

type errorBody struct {
	Error     string        `json:"error"`
	SessionID string        `json:"session_id,omitempty"`
	Seq       *int          `json:"seq,omitempty"`
	Stage     session.Stage `json:"stage,omitempty"`
}

// errorResponse maps the domain error taxonomy onto HTTP statuses and keeps
// the diagnosability fields (session id, seq, stage) when present.
func errorResponse(c echo.Context, err error) error {
	body := errorBody{Error: err.Error()}
	var te *session.TurnError
	if errors.As(err, &te) {
		body.SessionID = te.SessionID
		seq := te.Seq
		body.Seq = &seq
		body.Stage = te.Stage
	}
	return c.JSON(httpStatus(err), body)
}

func httpStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, session.ErrTurnNotFound),
		errors.Is(err, session.ErrReportNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrSessionAborted):
		return http.StatusGone
	case errors.Is(err, session.ErrInvalidSessionState),
		errors.Is(err, session.ErrSequenceConflict):
		return http.StatusConflict
	case errors.Is(err, session.ErrUnsupportedFormat),
		errors.Is(err, session.ErrAudioTooLong),
		errors.Is(err, session.ErrInvalidVoiceSelector),
		errors.Is(err, session.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrGenerationUnavailable):
		return http.StatusBadGateway
	default:
		if _, ok := session.IsStageTimeout(err); ok {
			return http.StatusGatewayTimeout
		}
		return http.StatusInternalServerError
	}
}
