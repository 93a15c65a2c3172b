package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/xhad/becabot/internal/models"
	"github.com/xhad/becabot/internal/types"
	"github.com/xhad/becabot/pkg/config"
	"github.com/xhad/becabot/pkg/logger"
)

var (
	ErrInvalidRole  = errors.New("invalid role")
	ErrEmptySession = errors.New("empty session key")
)

// Store is the session-scoped, append-only turn log.
type Store struct {
	db  *gorm.DB
	log *logger.Logger
	now func() time.Time
}

var _ types.TurnStore = (*Store)(nil)

type Option func(*Store)

// WithClock replaces time.Now for turn timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Open connects to the configured database and migrates the schema.
func Open(cfg config.ConversationConfig, log *logger.Logger, opts ...Option) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite", "":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown conversation driver: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening conversation db: %w", err)
	}
	if dialector.Name() == "sqlite" {
		// SQLite allows a single writer.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return New(db, log, opts...)
}

func New(db *gorm.DB, log *logger.Logger, opts ...Option) (*Store, error) {
	if log == nil {
		log = logger.Nop()
	}
	s := &Store{
		db:  db,
		log: log.With("repo", "ConversationStore"),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := db.AutoMigrate(&models.ConversationTurn{}); err != nil {
		return nil, fmt.Errorf("migrating conversation schema: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) timestamp() time.Time {
	return s.now().UTC()
}

func newTurn(session string, role models.Role, text string, at time.Time) (models.ConversationTurn, error) {
	if strings.TrimSpace(session) == "" {
		return models.ConversationTurn{}, ErrEmptySession
	}
	if !role.Valid() {
		return models.ConversationTurn{}, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	return models.ConversationTurn{SessionKey: session, Role: role, Content: text, CreatedAt: at}, nil
}

func (s *Store) AppendTurn(ctx context.Context, session string, role models.Role, text string) (models.ConversationTurn, error) {
	turn, err := newTurn(session, role, text, s.timestamp())
	if err != nil {
		return models.ConversationTurn{}, err
	}
	if err := s.db.WithContext(ctx).Create(&turn).Error; err != nil {
		return models.ConversationTurn{}, fmt.Errorf("appending turn: %w", err)
	}
	return turn, nil
}

// AppendExchange writes the user turn and the assistant turn together or
// not at all. Both share a timestamp; the id keeps them in order.
func (s *Store) AppendExchange(ctx context.Context, session, question, answer string) error {
	at := s.timestamp()
	user, err := newTurn(session, models.RoleUser, question, at)
	if err != nil {
		return err
	}
	assistant, err := newTurn(session, models.RoleAssistant, answer, at)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&user).Error; err != nil {
			return fmt.Errorf("appending user turn: %w", err)
		}
		if err := tx.Create(&assistant).Error; err != nil {
			return fmt.Errorf("appending assistant turn: %w", err)
		}
		return nil
	})
}

// History returns a session's turns in creation order.
func (s *Store) History(ctx context.Context, session string) ([]models.ConversationTurn, error) {
	var turns []models.ConversationTurn
	if session == "" {
		return turns, nil
	}
	if err := s.db.WithContext(ctx).
		Where("session_key = ?", session).
		Order("created_at ASC").
		Order("id ASC").
		Find(&turns).Error; err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	for i := range turns {
		turns[i].CreatedAt = turns[i].CreatedAt.UTC()
	}
	return turns, nil
}

// Clear deletes every turn of one session and reports how many went.
func (s *Store) Clear(ctx context.Context, session string) (int64, error) {
	if session == "" {
		return 0, nil
	}
	res := s.db.WithContext(ctx).
		Where("session_key = ?", session).
		Delete(&models.ConversationTurn{})
	if res.Error != nil {
		return 0, fmt.Errorf("clearing session: %w", res.Error)
	}
	s.log.Info("session cleared", "session_id", session, "turns", res.RowsAffected)
	return res.RowsAffected, nil
}

type activityRow struct {
	SessionKey string
	LastTurnAt scanTime
	Turns      int64
}

// Inactive lists sessions whose newest turn is older than cutoff.
func (s *Store) Inactive(ctx context.Context, cutoff time.Time) ([]models.SessionActivity, error) {
	var rows []activityRow
	if err := s.db.WithContext(ctx).
		Model(&models.ConversationTurn{}).
		Select("session_key, MAX(created_at) AS last_turn_at, COUNT(*) AS turns").
		Group("session_key").
		Having("MAX(created_at) < ?", cutoff.UTC()).
		Order("session_key").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("finding inactive sessions: %w", err)
	}

	out := make([]models.SessionActivity, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.SessionActivity{
			SessionKey: r.SessionKey,
			LastTurnAt: r.LastTurnAt.Time,
			Turns:      r.Turns,
		})
	}
	return out, nil
}

// SweepInactive purges every session with no turn at or after cutoff. A
// session that gets a new turn while the sweep runs is left alone.
func (s *Store) SweepInactive(ctx context.Context, cutoff time.Time, dryRun bool) (models.SweepResult, error) {
	sessions, err := s.Inactive(ctx, cutoff)
	if err != nil {
		return models.SweepResult{}, err
	}

	result := models.SweepResult{Sessions: sessions, DryRun: dryRun}
	if dryRun || len(sessions) == 0 {
		if dryRun {
			result.SessionsDeleted = int64(len(sessions))
			for _, a := range sessions {
				result.TurnsDeleted += a.Turns
			}
		}
		return result, nil
	}

	keys := make([]string, 0, len(sessions))
	for _, a := range sessions {
		keys = append(keys, a.SessionKey)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		active := tx.Model(&models.ConversationTurn{}).
			Select("session_key").
			Where("created_at >= ?", cutoff.UTC())

		var stillInactive []string
		if err := tx.Model(&models.ConversationTurn{}).
			Distinct("session_key").
			Where("session_key IN ?", keys).
			Where("session_key NOT IN (?)", active).
			Pluck("session_key", &stillInactive).Error; err != nil {
			return err
		}
		if len(stillInactive) == 0 {
			return nil
		}

		res := tx.Where("session_key IN ?", stillInactive).Delete(&models.ConversationTurn{})
		if res.Error != nil {
			return res.Error
		}
		result.SessionsDeleted = int64(len(stillInactive))
		result.TurnsDeleted = res.RowsAffected
		return nil
	})
	if err != nil {
		return models.SweepResult{}, fmt.Errorf("sweeping sessions: %w", err)
	}

	s.log.Info("inactive sessions swept",
		"cutoff", cutoff.UTC(),
		"sessions", result.SessionsDeleted,
		"turns", result.TurnsDeleted)
	return result, nil
}

type Stats struct {
	Turns    int64 `json:"turns"`
	Sessions int64 `json:"sessions"`
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	db := s.db.WithContext(ctx).Model(&models.ConversationTurn{})
	if err := db.Count(&st.Turns).Error; err != nil {
		return Stats{}, fmt.Errorf("counting turns: %w", err)
	}
	if err := s.db.WithContext(ctx).Model(&models.ConversationTurn{}).
		Distinct("session_key").
		Count(&st.Sessions).Error; err != nil {
		return Stats{}, fmt.Errorf("counting sessions: %w", err)
	}
	return st, nil
}
