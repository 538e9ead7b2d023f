package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"consult-room/internal/domain"
)

// SQLiteSessionRepository guarda sesiones en SQLite para modo local.
type SQLiteSessionRepository struct {
	db *sql.DB
}

func NewSQLiteSessionRepository(db *sql.DB) *SQLiteSessionRepository {
	return &SQLiteSessionRepository{db: db}
}

func (r *SQLiteSessionRepository) Create(ctx context.Context, session domain.Session) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO consult_sessions (id, patient_id, counselor_id, status, created_at, activated_at, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		session.ID,
		session.Participants.PatientID,
		session.Participants.CounselorID,
		string(session.Status),
		session.CreatedAt,
		nullTime(session.ActivatedAt),
		nullTime(session.EndedAt),
	)
	return err
}

func (r *SQLiteSessionRepository) GetByID(ctx context.Context, id string) (domain.Session, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, patient_id, counselor_id, status, created_at, activated_at, ended_at
		 FROM consult_sessions WHERE id = ?`, id)
	session, err := scanSQLiteSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Session{}, ErrSessionNotFound
	}
	return session, err
}

func (r *SQLiteSessionRepository) UpdateStatus(ctx context.Context, id string, status domain.SessionStatus, at time.Time) error {
	var query string
	switch status {
	case domain.SessionActive:
		query = `UPDATE consult_sessions SET status = ?, activated_at = COALESCE(activated_at, ?) WHERE id = ? AND status = 'pending'`
	case domain.SessionEnded:
		query = `UPDATE consult_sessions SET status = ?, ended_at = COALESCE(ended_at, ?) WHERE id = ?`
	default:
		return nil
	}
	res, err := r.db.ExecContext(ctx, query, string(status), at, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 && status == domain.SessionEnded {
		return ErrSessionNotFound
	}
	return nil
}

func (r *SQLiteSessionRepository) ListByParticipant(ctx context.Context, userID string, limit int) ([]domain.Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, patient_id, counselor_id, status, created_at, activated_at, ended_at
		 FROM consult_sessions
		 WHERE patient_id = ? OR counselor_id = ?
		 ORDER BY created_at DESC
		 LIMIT ?`, userID, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := []domain.Session{}
	for rows.Next() {
		session, err := scanSQLiteSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

func scanSQLiteSession(row rowScanner) (domain.Session, error) {
	var (
		session   domain.Session
		status    string
		activated sql.NullTime
		ended     sql.NullTime
	)
	err := row.Scan(
		&session.ID,
		&session.Participants.PatientID,
		&session.Participants.CounselorID,
		&status,
		&session.CreatedAt,
		&activated,
		&ended,
	)
	if err != nil {
		return domain.Session{}, err
	}
	session.Status = domain.SessionStatus(status)
	session.ActivatedAt = timePtr(activated)
	session.EndedAt = timePtr(ended)
	return session, nil
}

// SQLiteMessageRepository archiva mensajes en SQLite.
type SQLiteMessageRepository struct {
	db *sql.DB
}

func NewSQLiteMessageRepository(db *sql.DB) *SQLiteMessageRepository {
	return &SQLiteMessageRepository{db: db}
}

func (r *SQLiteMessageRepository) Create(ctx context.Context, message domain.Message) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO consult_messages (id, session_id, seq, sender_role, sender_id, body, sent_at, received_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		message.ID,
		message.SessionID,
		int64(message.Seq),
		string(message.Sender),
		message.SenderID,
		message.Body,
		message.SentAt,
		nullTime(message.ReceivedAt),
	)
	return err
}

func (r *SQLiteMessageRepository) ListBySessionID(ctx context.Context, sessionID string, afterSeq uint64) ([]domain.Message, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, session_id, seq, sender_role, sender_id, body, sent_at, received_at
		 FROM consult_messages
		 WHERE session_id = ? AND seq > ?
		 ORDER BY seq ASC`, sessionID, int64(afterSeq))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []domain.Message{}
	for rows.Next() {
		var (
			msg      domain.Message
			seq      int64
			sender   string
			received sql.NullTime
		)
		if err := rows.Scan(&msg.ID, &msg.SessionID, &seq, &sender, &msg.SenderID, &msg.Body, &msg.SentAt, &received); err != nil {
			return nil, err
		}
		msg.Seq = uint64(seq)
		msg.Sender = domain.Role(sender)
		msg.ReceivedAt = timePtr(received)
		msg.DeliveryState = domain.DeliveryReceived
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
