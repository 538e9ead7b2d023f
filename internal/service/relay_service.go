package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"consult-room/internal/domain"
	"consult-room/internal/repository"
	"consult-room/internal/room"
)

var (
	ErrRelayNotConfigured = errors.New("relay service not configured")
	ErrNotParticipant     = errors.New("user is not a participant of the session")
	ErrRateLimited        = errors.New("rate limited")
	ErrRelayInvalidInput  = errors.New("relay invalid input")
)

// Fanout entrega eventos de una sesion a las conexiones abiertas.
// Devuelve cuantas conexiones alcanzo.
type Fanout interface {
	PublishMessage(msg domain.Message) int
	PublishSessionEnded(session domain.Session) int
}

// RelayInput es un envio de un participante, venga de WebSocket o de REST.
type RelayInput struct {
	SessionID       string
	SenderID        string
	ClientMessageID string
	Body            string
	SentAt          time.Time
}

// maxRememberedAcks acota cuantos client_message_id recuerda cada sesion.
const maxRememberedAcks = 512

// liveSession es el estado vivo de una sesion en el servidor.
type liveSession struct {
	mu         sync.Mutex
	context    *room.SessionContext
	transcript *room.Transcript
	acks       map[string]domain.Ack
	ackOrder   []string
}

func newLiveSession(session domain.Session, transcript *room.Transcript, now func() time.Time) *liveSession {
	ls := &liveSession{
		context:    room.NewSessionContext(session),
		transcript: transcript,
		acks:       make(map[string]domain.Ack),
	}
	ls.context.SetClock(now)
	return ls
}

// rememberAck guarda el ack y olvida el mas viejo al pasar el limite.
func (ls *liveSession) rememberAck(key string, ack domain.Ack) {
	if _, ok := ls.acks[key]; !ok {
		ls.ackOrder = append(ls.ackOrder, key)
	}
	ls.acks[key] = ack
	if len(ls.ackOrder) > maxRememberedAcks {
		oldest := ls.ackOrder[0]
		ls.ackOrder = ls.ackOrder[1:]
		delete(ls.acks, oldest)
	}
}

// RelayService recibe los envios de ambos participantes, los numera en un
// unico transcript por sesion y los reenvia al otro lado.
type RelayService struct {
	logger   *zap.Logger
	sessions repository.SessionRepository
	messages repository.MessageRepository
	limiter  SendLimiter
	fanout   Fanout
	now      func() time.Time

	mu   sync.Mutex
	live map[string]*liveSession
}

func NewRelayService(
	logger *zap.Logger,
	sessions repository.SessionRepository,
	messages repository.MessageRepository,
	limiter SendLimiter,
	fanout Fanout,
) *RelayService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RelayService{
		logger:   logger,
		sessions: sessions,
		messages: messages,
		limiter:  limiter,
		fanout:   fanout,
		now:      func() time.Time { return time.Now().UTC() },
		live:     make(map[string]*liveSession),
	}
}

func (s *RelayService) configured() bool {
	return s != nil && s.sessions != nil && s.messages != nil
}

// CreateSession registra una sesion Pending entre paciente y consejero.
func (s *RelayService) CreateSession(ctx context.Context, patientID, counselorID string) (domain.Session, error) {
	if !s.configured() {
		return domain.Session{}, ErrRelayNotConfigured
	}
	participants := domain.Participants{
		PatientID:   strings.TrimSpace(patientID),
		CounselorID: strings.TrimSpace(counselorID),
	}
	if err := participants.Validate(); err != nil {
		return domain.Session{}, err
	}

	session := domain.Session{
		ID:           uuid.NewString(),
		Participants: participants,
		Status:       domain.SessionPending,
		CreatedAt:    s.now(),
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return domain.Session{}, fmt.Errorf("create session: %w", err)
	}

	ls := newLiveSession(session, room.NewTranscript(session.ID), s.now)
	s.mu.Lock()
	s.live[session.ID] = ls
	s.mu.Unlock()

	s.logger.Info("session created", zap.String("session_id", session.ID))
	return session, nil
}

func (s *RelayService) GetSession(ctx context.Context, sessionID string) (domain.Session, error) {
	if !s.configured() {
		return domain.Session{}, ErrRelayNotConfigured
	}
	ls, err := s.load(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	return ls.context.Snapshot(), nil
}

func (s *RelayService) ListSessions(ctx context.Context, userID string, limit int) ([]domain.Session, error) {
	if !s.configured() {
		return nil, ErrRelayNotConfigured
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return []domain.Session{}, nil
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.sessions.ListByParticipant(ctx, userID, limit)
}

// Participant resuelve el rol de un usuario en la sesion.
func (s *RelayService) Participant(ctx context.Context, sessionID, userID string) (domain.Session, domain.Role, error) {
	if !s.configured() {
		return domain.Session{}, "", ErrRelayNotConfigured
	}
	ls, err := s.load(ctx, sessionID)
	if err != nil {
		return domain.Session{}, "", err
	}
	session := ls.context.Snapshot()
	role, ok := session.Participants.RoleOf(userID)
	if !ok {
		return session, "", ErrNotParticipant
	}
	return session, role, nil
}

// Relay acepta un envio, lo archiva con el siguiente seq y lo reenvia al otro
// participante. Un client_message_id repetido devuelve el mismo ack.
func (s *RelayService) Relay(ctx context.Context, in RelayInput) (domain.Ack, error) {
	if !s.configured() {
		return domain.Ack{}, ErrRelayNotConfigured
	}
	in.SessionID = strings.TrimSpace(in.SessionID)
	in.SenderID = strings.TrimSpace(in.SenderID)
	in.ClientMessageID = strings.TrimSpace(in.ClientMessageID)
	if in.SessionID == "" || in.SenderID == "" {
		return domain.Ack{}, ErrRelayInvalidInput
	}

	ls, err := s.load(ctx, in.SessionID)
	if err != nil {
		return domain.Ack{}, err
	}
	role, ok := ls.context.Snapshot().Participants.RoleOf(in.SenderID)
	if !ok {
		return domain.Ack{}, ErrNotParticipant
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	dedupeKey := ""
	if in.ClientMessageID != "" {
		dedupeKey = in.SenderID + ":" + in.ClientMessageID
		if ack, seen := ls.acks[dedupeKey]; seen {
			s.logger.Debug("duplicate message acked again",
				zap.String("session_id", in.SessionID),
				zap.String("message_id", ack.MessageID),
			)
			return ack, nil
		}
	}

	if !ls.context.CanSend() {
		return domain.Ack{}, room.ErrInvalidTransition
	}
	body := strings.TrimSpace(in.Body)
	if body == "" {
		return domain.Ack{}, room.ErrEmptySubmission
	}
	if s.limiter != nil && !s.limiter.Allow(sendLimiterKey(in.SessionID, in.SenderID)) {
		s.logger.Warn("send rate limited", zap.String("session_id", in.SessionID), zap.String("role", string(role)))
		return domain.Ack{}, ErrRateLimited
	}

	now := s.now()
	sentAt := in.SentAt.UTC()
	if in.SentAt.IsZero() {
		sentAt = now
	}
	msg := domain.Message{
		Seq:           ls.transcript.LastSeq() + 1,
		ID:            uuid.NewString(),
		SessionID:     in.SessionID,
		Sender:        role,
		SenderID:      in.SenderID,
		Body:          body,
		SentAt:        sentAt,
		ReceivedAt:    &now,
		DeliveryState: domain.DeliveryReceived,
	}
	// Se archiva antes de agregar al transcript para no consumir un seq
	// que nunca quedo guardado.
	if err := s.messages.Create(ctx, msg); err != nil {
		return domain.Ack{}, fmt.Errorf("archive message: %w", err)
	}
	stored := ls.transcript.Append(msg)

	if ls.context.MarkActive() {
		snapshot := ls.context.Snapshot()
		at := now
		if snapshot.ActivatedAt != nil {
			at = *snapshot.ActivatedAt
		}
		if err := s.sessions.UpdateStatus(ctx, in.SessionID, domain.SessionActive, at); err != nil {
			s.logger.Error("persist session activation failed", zap.String("session_id", in.SessionID), zap.Error(err))
		}
		s.logger.Info("session active", zap.String("session_id", in.SessionID))
	}

	ack := domain.Ack{MessageID: stored.ID, Seq: stored.Seq, DeliveredAt: now}
	if dedupeKey != "" {
		ls.rememberAck(dedupeKey, ack)
	}

	reached := 0
	if s.fanout != nil {
		reached = s.fanout.PublishMessage(stored)
	}
	s.logger.Debug("message relayed",
		zap.String("session_id", in.SessionID),
		zap.Uint64("seq", stored.Seq),
		zap.String("message_id", stored.ID),
		zap.String("role", string(role)),
		zap.Int("peers", reached),
	)
	return ack, nil
}

// Attach resuelve el rol de userID y llama a fn con los mensajes posteriores
// a afterSeq. fn corre con la sesion bloqueada: ningun Relay numera ni
// reparte mensajes hasta que vuelva, asi que una conexion registrada dentro
// de fn recibe en vivo todo lo que no vino en missed.
func (s *RelayService) Attach(
	ctx context.Context,
	sessionID, userID string,
	afterSeq uint64,
	fn func(session domain.Session, role domain.Role, missed []domain.Message) error,
) error {
	if !s.configured() {
		return ErrRelayNotConfigured
	}
	ls, err := s.load(ctx, sessionID)
	if err != nil {
		return err
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	session := ls.context.Snapshot()
	role, ok := session.Participants.RoleOf(strings.TrimSpace(userID))
	if !ok {
		return ErrNotParticipant
	}
	return fn(session, role, ls.transcript.After(afterSeq))
}

// Close termina la sesion. Es idempotente: cerrar dos veces no vuelve a notificar.
// Una sesion terminada y persistida deja el cache; si se vuelve a pedir se
// reconstruye desde el archivo.
func (s *RelayService) Close(ctx context.Context, sessionID string) (domain.Session, error) {
	if !s.configured() {
		return domain.Session{}, ErrRelayNotConfigured
	}
	ls, err := s.load(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	if !ls.context.MarkEnded() {
		return ls.context.Snapshot(), nil
	}
	session := ls.context.Snapshot()
	at := s.now()
	if session.EndedAt != nil {
		at = *session.EndedAt
	}
	persisted := true
	if err := s.sessions.UpdateStatus(ctx, session.ID, domain.SessionEnded, at); err != nil {
		persisted = false
		s.logger.Error("persist session end failed", zap.String("session_id", session.ID), zap.Error(err))
	}
	if s.fanout != nil {
		s.fanout.PublishSessionEnded(session)
	}
	if persisted {
		s.evict(session.ID, ls)
	}
	s.logger.Info("session ended", zap.String("session_id", session.ID))
	return session, nil
}

// Transcript devuelve los mensajes con seq mayor a afterSeq.
func (s *RelayService) Transcript(ctx context.Context, sessionID string, afterSeq uint64) ([]domain.Message, error) {
	if !s.configured() {
		return nil, ErrRelayNotConfigured
	}
	ls, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return ls.transcript.After(afterSeq), nil
}

func (s *RelayService) evict(sessionID string, ls *liveSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.live[sessionID] == ls {
		delete(s.live, sessionID)
	}
}

// load devuelve el estado vivo de la sesion, reconstruyendolo desde el archivo
// la primera vez.
func (s *RelayService) load(ctx context.Context, sessionID string) (*liveSession, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, repository.ErrSessionNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ls, ok := s.live[sessionID]; ok {
		return ls, nil
	}

	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	archived, err := s.messages.ListBySessionID(ctx, sessionID, 0)
	if err != nil {
		return nil, fmt.Errorf("list archived messages: %w", err)
	}

	ls := newLiveSession(session, room.RestoreTranscript(sessionID, archived), s.now)
	s.live[sessionID] = ls
	s.logger.Debug("session restored", zap.String("session_id", sessionID), zap.Int("messages", len(archived)))
	return ls, nil
}
