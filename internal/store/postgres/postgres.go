// Package postgres is the durable Store: gorm over a pgx connection pool.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	migrateV4 "github.com/golang-migrate/migrate/v4"
	migratePostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	gormPostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/DoyleJ11/quiz-multiplayer-backend/internal/session"
	"github.com/DoyleJ11/quiz-multiplayer-backend/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	uniqueViolation  = "23505"
	invalidTextInput = "22P02" // e.g. a session id that is not a uuid
)

type Store struct {
	db   *gorm.DB
	pool *pgxpool.Pool
	now  func() time.Time
}

var _ store.Store = (*Store)(nil)

// Open connects through a pgx pool, applies migrations and returns a ready Store.
func Open(ctx context.Context, dsn string, log *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	sqlDB := stdlib.OpenDBFromPool(pool)
	db, err := gorm.Open(gormPostgres.New(gormPostgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: logger.New(zap.NewStdLog(log.Named("gorm")), logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
		TranslateError: true,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("open gorm: %w", err)
	}

	if err := Migrate(sqlDB, log); err != nil {
		pool.Close()
		return nil, err
	}

	s := New(db)
	s.pool = pool
	return s, nil
}

// New wraps an already opened gorm handle. Migrations are the caller's business.
func New(db *gorm.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Migrate applies the embedded schema.
func Migrate(sqlDB *sql.DB, log *zap.Logger) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := migratePostgres.WithInstance(sqlDB, &migratePostgres.Config{})
	if err != nil {
		return fmt.Errorf("migrate driver: %w", err)
	}
	m, err := migrateV4.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migrate instance: %w", err)
	}

	err = m.Up()
	switch {
	case errors.Is(err, migrateV4.ErrNoChange):
		log.Info("schema up to date")
	case err != nil:
		return fmt.Errorf("apply migrations: %w", err)
	default:
		log.Info("migrations applied")
	}
	return nil
}

func (s *Store) CreateSession(ctx context.Context, sess *session.Session) error {
	now := s.now().UTC()
	sess.CreatedAt, sess.UpdatedAt = now, now
	sess.Version = 1
	row := toSessionRow(sess)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return translate(err, session.ErrDuplicateCode)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*session.Session, error) {
	var row sessionRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, translate(err, nil)
	}
	return row.toDomain(), nil
}

func (s *Store) GetSessionByCode(ctx context.Context, code string) (*session.Session, error) {
	var row sessionRow
	err := s.db.WithContext(ctx).
		Where("join_code = ? AND is_ended = ?", code, false).
		First(&row).Error
	if err != nil {
		return nil, translate(err, nil)
	}
	return row.toDomain(), nil
}

// UpdateSession holds a row lock for the whole read-modify-write so concurrent
// roster edits on the same session serialize instead of clobbering each other.
func (s *Store) UpdateSession(ctx context.Context, id string, fn store.MutateFunc) (*session.Session, error) {
	var out *session.Session
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row sessionRow
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&row).Error; err != nil {
			return err
		}
		sess := row.toDomain()
		if err := fn(sess); err != nil {
			return err
		}
		sess.UpdatedAt = s.now().UTC()
		sess.Version = row.Version + 1
		next := toSessionRow(sess)
		if err := tx.Save(&next).Error; err != nil {
			return err
		}
		out = next.toDomain()
		return nil
	})
	if err != nil {
		return nil, translate(err, session.ErrDuplicateCode)
	}
	return out, nil
}

// InsertResult holds a share lock on the session row while it checks and inserts,
// so an UpdateSession that ends the session waits for it or is seen by it.
func (s *Store) InsertResult(ctx context.Context, r *session.Result, guard store.GuardFunc) error {
	if r.SubmittedAt.IsZero() {
		r.SubmittedAt = s.now().UTC()
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row sessionRow
		if err := tx.Clauses(clause.Locking{Strength: "SHARE"}).Where("id = ?", r.SessionID).First(&row).Error; err != nil {
			return err
		}
		if guard != nil {
			if err := guard(row.toDomain()); err != nil {
				return err
			}
		}
		res := toResultRow(r)
		return tx.Create(&res).Error
	})
	return translate(err, session.ErrDuplicateResult)
}

func (s *Store) ListResults(ctx context.Context, sessionID string) ([]session.Result, error) {
	var rows []resultRow
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("submitted_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, translate(err, nil)
	}
	out := make([]session.Result, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return translate(err, nil)
	}
	return translate(sqlDB.PingContext(ctx), nil)
}

func (s *Store) Close() error {
	var err error
	if sqlDB, dbErr := s.db.DB(); dbErr != nil {
		err = multierr.Append(err, dbErr)
	} else {
		err = multierr.Append(err, sqlDB.Close())
	}
	if s.pool != nil {
		s.pool.Close()
	}
	return err
}

// translate maps driver errors onto the session error taxonomy. dup is what a
// unique violation means for the calling operation.
func translate(err error, dup error) error {
	if err == nil {
		return nil
	}
	if session.Known(err) {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return session.ErrNotFound
	}
	var pgErr *pgconn.PgError
	isPg := errors.As(err, &pgErr)
	if isPg && pgErr.Code == invalidTextInput {
		return session.ErrNotFound
	}
	if dup != nil && (errors.Is(err, gorm.ErrDuplicatedKey) || (isPg && pgErr.Code == uniqueViolation)) {
		return dup
	}
	return fmt.Errorf("%w: %w", session.ErrTransient, err)
}
