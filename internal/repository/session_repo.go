package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"consult-room/internal/domain"
)

var ErrSessionNotFound = errors.New("session not found")

type SessionRepository interface {
	Create(ctx context.Context, session domain.Session) error
	GetByID(ctx context.Context, id string) (domain.Session, error)
	UpdateStatus(ctx context.Context, id string, status domain.SessionStatus, at time.Time) error
	ListByParticipant(ctx context.Context, userID string, limit int) ([]domain.Session, error)
}

type PgSessionRepository struct {
	pool *pgxpool.Pool
}

func NewPgSessionRepository(pool *pgxpool.Pool) *PgSessionRepository {
	return &PgSessionRepository{pool: pool}
}

func (r *PgSessionRepository) Create(ctx context.Context, session domain.Session) error {
	const query = `
		INSERT INTO consult_sessions (id, patient_id, counselor_id, status, created_at, activated_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.pool.Exec(ctx, query,
		session.ID,
		session.Participants.PatientID,
		session.Participants.CounselorID,
		string(session.Status),
		session.CreatedAt,
		session.ActivatedAt,
		session.EndedAt,
	)
	return err
}

func (r *PgSessionRepository) GetByID(ctx context.Context, id string) (domain.Session, error) {
	const query = `
		SELECT id, patient_id, counselor_id, status, created_at, activated_at, ended_at
		FROM consult_sessions
		WHERE id = $1
	`
	session, err := scanSession(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Session{}, ErrSessionNotFound
	}
	return session, err
}

// UpdateStatus persiste una transicion. activated_at y ended_at solo se fijan una vez.
func (r *PgSessionRepository) UpdateStatus(ctx context.Context, id string, status domain.SessionStatus, at time.Time) error {
	var query string
	switch status {
	case domain.SessionActive:
		query = `UPDATE consult_sessions SET status = $2, activated_at = COALESCE(activated_at, $3) WHERE id = $1 AND status = 'pending'`
	case domain.SessionEnded:
		query = `UPDATE consult_sessions SET status = $2, ended_at = COALESCE(ended_at, $3) WHERE id = $1`
	default:
		return nil
	}
	tag, err := r.pool.Exec(ctx, query, id, string(status), at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 && status == domain.SessionEnded {
		return ErrSessionNotFound
	}
	return nil
}

func (r *PgSessionRepository) ListByParticipant(ctx context.Context, userID string, limit int) ([]domain.Session, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `
		SELECT id, patient_id, counselor_id, status, created_at, activated_at, ended_at
		FROM consult_sessions
		WHERE patient_id = $1 OR counselor_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := []domain.Session{}
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (domain.Session, error) {
	var (
		session domain.Session
		status  string
	)
	err := row.Scan(
		&session.ID,
		&session.Participants.PatientID,
		&session.Participants.CounselorID,
		&status,
		&session.CreatedAt,
		&session.ActivatedAt,
		&session.EndedAt,
	)
	if err != nil {
		return domain.Session{}, err
	}
	session.Status = domain.SessionStatus(status)
	return session, nil
}
