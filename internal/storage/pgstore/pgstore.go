package pgstore

import (
	"context"
	"time"

	"github.com/BearBump/ParcelDesk/internal/apperr"
	"github.com/BearBump/ParcelDesk/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

type Storage struct {
	db *pgxpool.Pool

	txAttempts int
}

func New(connString string) (*Storage, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, errors.Wrap(err, "parse pg config")
	}

	db, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		return nil, errors.Wrap(err, "connect pg")
	}

	s := &Storage{db: db, txAttempts: defaultTxAttempts}
	if err := s.initSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Storage) Close() {
	if s.db != nil {
		s.db.Close()
	}
}

func (s *Storage) Ping(ctx context.Context) error {
	return errors.Wrap(s.db.Ping(ctx), "ping pg")
}

// CreateUser registers a user with a zero balance. Registration itself lives
// outside this service; this is used by seeding and tests.
func (s *Storage) CreateUser(ctx context.Context, name string, role models.Role) (uint64, error) {
	if !role.Valid() {
		return 0, apperr.Validation("unknown role %q", role)
	}
	var id uint64
	err := s.db.QueryRow(ctx, `
INSERT INTO users (name, role, balance, created_at)
VALUES ($1, $2, 0, $3)
RETURNING id
`, name, role, time.Now().UTC()).Scan(&id)
	if err != nil {
		return 0, errors.Wrap(err, "insert user")
	}
	return id, nil
}

func (s *Storage) GetUser(ctx context.Context, id uint64) (*models.User, error) {
	var u models.User
	err := s.db.QueryRow(ctx, `SELECT id, name, role, balance, created_at FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Name, &u.Role, &u.Balance, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.Newf(apperr.KindNotFound, "user %d not found", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select user")
	}
	return &u, nil
}
