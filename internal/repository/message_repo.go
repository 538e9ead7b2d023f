package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"consult-room/internal/domain"
)

// MessageRepository archiva el transcript de cada sesion ordenado por seq.
type MessageRepository interface {
	Create(ctx context.Context, message domain.Message) error
	ListBySessionID(ctx context.Context, sessionID string, afterSeq uint64) ([]domain.Message, error)
}

type PgMessageRepository struct {
	pool *pgxpool.Pool
}

func NewPgMessageRepository(pool *pgxpool.Pool) *PgMessageRepository {
	return &PgMessageRepository{pool: pool}
}

func (r *PgMessageRepository) Create(ctx context.Context, message domain.Message) error {
	const query = `
		INSERT INTO consult_messages (id, session_id, seq, sender_role, sender_id, body, sent_at, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.pool.Exec(ctx, query,
		message.ID,
		message.SessionID,
		int64(message.Seq),
		string(message.Sender),
		message.SenderID,
		message.Body,
		message.SentAt,
		message.ReceivedAt,
	)
	return err
}

func (r *PgMessageRepository) ListBySessionID(ctx context.Context, sessionID string, afterSeq uint64) ([]domain.Message, error) {
	const query = `
		SELECT id, session_id, seq, sender_role, sender_id, body, sent_at, received_at
		FROM consult_messages
		WHERE session_id = $1 AND seq > $2
		ORDER BY seq ASC
	`

	rows, err := r.pool.Query(ctx, query, sessionID, int64(afterSeq))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []domain.Message{}
	for rows.Next() {
		var (
			msg    domain.Message
			seq    int64
			sender string
		)
		err = rows.Scan(
			&msg.ID,
			&msg.SessionID,
			&seq,
			&sender,
			&msg.SenderID,
			&msg.Body,
			&msg.SentAt,
			&msg.ReceivedAt,
		)
		if err != nil {
			return nil, err
		}
		msg.Seq = uint64(seq)
		msg.Sender = domain.Role(sender)
		msg.DeliveryState = domain.DeliveryReceived
		messages = append(messages, msg)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return messages, nil
}
