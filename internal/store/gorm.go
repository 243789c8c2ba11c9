package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/davidsunday2/careersim/internal/session"
)

// sessionRow is the gorm mapping for sessions. Structured fields are kept as
// JSON columns; the queryable fields get their own columns.
type sessionRow struct {
	ID        string `gorm:"primaryKey"`
	UserID    string `gorm:"index"`
	Scenario  string
	Persona   string // JSON PersonaConfig
	Status    string
	Modality  string
	Phase     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (sessionRow) TableName() string { return "sessions" }

type turnRow struct {
	SessionID     string `gorm:"primaryKey;index"`
	Seq           int    `gorm:"primaryKey"`
	Speaker       string
	Input         string
	InputRef      string
	Transcript    string
	Confidence    float64
	LowConfidence bool
	Language      string
	OutputText    string
	OutputAudio   string
	Annotation    string // JSON, empty until generated
	Status        string
	FailReason    string
	StatusTimes   string // JSON map[status]time
	UpdatedAt     time.Time
}

func (turnRow) TableName() string { return "turns" }

type reportRow struct {
	SessionID   string `gorm:"primaryKey"`
	Body        string // JSON FeedbackReport
	GeneratedAt time.Time
}

func (reportRow) TableName() string { return "reports" }

// Gorm is the sqlite-backed Store.
type Gorm struct {
	db *gorm.DB
}

// OpenSQLite opens (or creates) the sqlite database at path and migrates the
// schema. Use ":memory:" for an ephemeral database.
func OpenSQLite(path string) (*Gorm, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	if err := db.AutoMigrate(&sessionRow{}, &turnRow{}, &reportRow{}); err != nil {
		return nil, errors.Wrap(err, "migrate schema")
	}
	return &Gorm{db: db}, nil
}

func (g *Gorm) CreateSession(ctx context.Context, s *session.Session) error {
	row, err := toSessionRow(s)
	if err != nil {
		return err
	}
	return g.db.WithContext(ctx).Create(row).Error
}

func (g *Gorm) GetSession(ctx context.Context, id string) (*session.Session, error) {
	var row sessionRow
	err := g.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, session.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromSessionRow(&row)
}

func (g *Gorm) UpdateSession(ctx context.Context, s *session.Session) error {
	row, err := toSessionRow(s)
	if err != nil {
		return err
	}
	res := g.db.WithContext(ctx).Model(&sessionRow{}).Where("id = ?", s.ID).Updates(map[string]any{
		"status": row.Status,
		"phase":  row.Phase,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return session.ErrSessionNotFound
	}
	return nil
}

func (g *Gorm) SaveTurn(ctx context.Context, t *session.Turn) error {
	row, err := toTurnRow(t)
	if err != nil {
		return err
	}
	// Explicit upsert on the composite key. gorm's Save falls back to a bare
	// INSERT whenever a primary-key field is zero, and seq 0 is a legitimate
	// key for every session's first turn.
	return g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}, {Name: "seq"}},
		UpdateAll: true,
	}).Create(row).Error
}

func (g *Gorm) GetTurn(ctx context.Context, sessionID string, seq int) (*session.Turn, error) {
	var row turnRow
	err := g.db.WithContext(ctx).First(&row, "session_id = ? AND seq = ?", sessionID, seq).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, session.ErrTurnNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromTurnRow(&row)
}

func (g *Gorm) ListTurns(ctx context.Context, sessionID string) ([]session.Turn, error) {
	var rows []turnRow
	if err := g.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("seq").Find(&rows).Error; err != nil {
		return nil, err
	}
	turns := make([]session.Turn, 0, len(rows))
	for i := range rows {
		t, err := fromTurnRow(&rows[i])
		if err != nil {
			return nil, err
		}
		turns = append(turns, *t)
	}
	return turns, nil
}

func (g *Gorm) SaveReport(ctx context.Context, r *session.FeedbackReport) error {
	var existing reportRow
	err := g.db.WithContext(ctx).First(&existing, "session_id = ?", r.SessionID).Error
	if err == nil {
		return session.ErrReportAlreadyGenerated
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	body, err := json.Marshal(r)
	if err != nil {
		return errors.Wrap(err, "marshal report")
	}
	return g.db.WithContext(ctx).Create(&reportRow{
		SessionID:   r.SessionID,
		Body:        string(body),
		GeneratedAt: r.GeneratedAt,
	}).Error
}

func (g *Gorm) GetReport(ctx context.Context, sessionID string) (*session.FeedbackReport, error) {
	var row reportRow
	err := g.db.WithContext(ctx).First(&row, "session_id = ?", sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, session.ErrReportNotFound
	}
	if err != nil {
		return nil, err
	}
	var r session.FeedbackReport
	if err := json.Unmarshal([]byte(row.Body), &r); err != nil {
		return nil, errors.Wrap(err, "unmarshal report")
	}
	return &r, nil
}

func toSessionRow(s *session.Session) (*sessionRow, error) {
	persona, err := json.Marshal(s.Persona)
	if err != nil {
		return nil, errors.Wrap(err, "marshal persona")
	}
	return &sessionRow{
		ID:        s.ID,
		UserID:    s.UserID,
		Scenario:  string(s.Scenario),
		Persona:   string(persona),
		Status:    string(s.Status),
		Modality:  string(s.Modality),
		Phase:     s.Phase,
		CreatedAt: s.CreatedAt,
	}, nil
}

func fromSessionRow(row *sessionRow) (*session.Session, error) {
	var persona session.PersonaConfig
	if row.Persona != "" {
		if err := json.Unmarshal([]byte(row.Persona), &persona); err != nil {
			return nil, errors.Wrap(err, "unmarshal persona")
		}
	}
	return &session.Session{
		ID:        row.ID,
		UserID:    row.UserID,
		Scenario:  session.Scenario(row.Scenario),
		Persona:   persona,
		Status:    session.Status(row.Status),
		Modality:  session.Modality(row.Modality),
		Phase:     row.Phase,
		CreatedAt: row.CreatedAt,
	}, nil
}

func toTurnRow(t *session.Turn) (*turnRow, error) {
	row := &turnRow{
		SessionID:     t.SessionID,
		Seq:           t.Seq,
		Speaker:       string(t.Speaker),
		Input:         string(t.Input),
		InputRef:      t.InputRef,
		Transcript:    t.Transcript,
		Confidence:    t.Confidence,
		LowConfidence: t.LowConfidence,
		Language:      t.Language,
		OutputText:    t.OutputText,
		OutputAudio:   t.OutputAudio,
		Status:        string(t.Status),
		FailReason:    t.FailReason,
	}
	if t.Annotation != nil {
		b, err := json.Marshal(t.Annotation)
		if err != nil {
			return nil, errors.Wrap(err, "marshal annotation")
		}
		row.Annotation = string(b)
	}
	if t.StatusTimes != nil {
		b, err := json.Marshal(t.StatusTimes)
		if err != nil {
			return nil, errors.Wrap(err, "marshal status times")
		}
		row.StatusTimes = string(b)
	}
	return row, nil
}

func fromTurnRow(row *turnRow) (*session.Turn, error) {
	t := &session.Turn{
		SessionID:     row.SessionID,
		Seq:           row.Seq,
		Speaker:       session.Speaker(row.Speaker),
		Input:         session.InputModality(row.Input),
		InputRef:      row.InputRef,
		Transcript:    row.Transcript,
		Confidence:    row.Confidence,
		LowConfidence: row.LowConfidence,
		Language:      row.Language,
		OutputText:    row.OutputText,
		OutputAudio:   row.OutputAudio,
		Status:        session.TurnStatus(row.Status),
		FailReason:    row.FailReason,
	}
	if row.Annotation != "" {
		var a session.Annotation
		if err := json.Unmarshal([]byte(row.Annotation), &a); err != nil {
			return nil, errors.Wrap(err, "unmarshal annotation")
		}
		t.Annotation = &a
	}
	if row.StatusTimes != "" {
		if err := json.Unmarshal([]byte(row.StatusTimes), &t.StatusTimes); err != nil {
			return nil, errors.Wrap(err, "unmarshal status times")
		}
	}
	return t, nil
}
