package room

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"consult-room/internal/domain"
)

const defaultDeliveryTimeout = 15 * time.Second

type EventKind string

const (
	EventAppended EventKind = "appended"
	EventDelivery EventKind = "delivery"
	EventStatus   EventKind = "status"
)

// Event notifica cambios visibles de la sala a la interfaz.
type Event struct {
	Kind    EventKind
	Message domain.Message
	Status  domain.SessionStatus
}

type Option func(*Room)

func WithLogger(logger *zap.Logger) Option {
	return func(r *Room) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithDeliveryTimeout(d time.Duration) Option {
	return func(r *Room) {
		if d > 0 {
			r.deliveryTimeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Room) {
		if now != nil {
			r.now = now
			r.composer.now = now
			r.session.SetClock(now)
		}
	}
}

// WithObserver registra un observador desde la construccion, antes de
// que el transporte pueda entregar mensajes entrantes.
func WithObserver(fn func(Event)) Option {
	return func(r *Room) {
		if fn != nil {
			r.observers = append(r.observers, fn)
		}
	}
}

// Room es la vista de un participante sobre una consulta: su borrador,
// el transcript y el transporte hacia el otro lado.
type Room struct {
	session    *SessionContext
	transcript *Transcript
	composer   *Composer
	transport  Transport
	local      domain.Role

	logger          *zap.Logger
	deliveryTimeout time.Duration
	now             func() time.Time

	obsMu     sync.RWMutex
	observers []func(Event)

	inflight sync.WaitGroup
}

// New arma la sala para el participante local y se suscribe al transporte.
func New(session domain.Session, local domain.Role, transport Transport, opts ...Option) (*Room, error) {
	if transport == nil {
		return nil, ErrRoomNotConfigured
	}
	if !local.Valid() {
		return nil, ErrUnknownRole
	}
	if err := session.Participants.Validate(); err != nil {
		return nil, err
	}

	sessionCtx := NewSessionContext(session)
	r := &Room{
		session:         sessionCtx,
		transcript:      NewTranscript(session.ID),
		composer:        NewComposer(session.ID, local, session.Participants.UserID(local), sessionCtx),
		transport:       transport,
		local:           local,
		logger:          zap.NewNop(),
		deliveryTimeout: defaultDeliveryTimeout,
		now:             func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.String("session_id", session.ID), zap.String("role", string(local)))

	transport.OnReceive(r.receive)
	return r, nil
}

func (r *Room) Local() domain.Role {
	return r.local
}

func (r *Room) Session() domain.Session {
	return r.session.Snapshot()
}

func (r *Room) CanSend() bool {
	return r.session.CanSend()
}

func (r *Room) Messages() []domain.Message {
	return r.transcript.All()
}

func (r *Room) SetDraft(text string) {
	r.composer.SetDraft(text)
}

func (r *Room) Draft() string {
	return r.composer.Draft()
}

// Subscribe agrega un observador. Puede llamarse desde varias goroutines
// (entregas asincronas), asi que debe ser seguro para concurrencia.
func (r *Room) Subscribe(fn func(Event)) {
	if fn == nil {
		return
	}
	r.obsMu.Lock()
	r.observers = append(r.observers, fn)
	r.obsMu.Unlock()
}

// Submit envia el borrador: lo agrega al transcript de inmediato y entrega
// en segundo plano. El resultado de la entrega se anota sobre el mensaje.
func (r *Room) Submit(ctx context.Context) (domain.Message, error) {
	msg, err := r.composer.Submit()
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			r.logger.Info("submit rejected", zap.Error(err))
		}
		return domain.Message{}, err
	}

	stored := r.transcript.Append(msg)
	if r.session.MarkActive() {
		r.emit(Event{Kind: EventStatus, Status: domain.SessionActive})
	}
	r.emit(Event{Kind: EventAppended, Message: stored})

	deliverCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.deliveryTimeout)
	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()
		defer cancel()
		r.deliver(deliverCtx, stored)
	}()

	return stored, nil
}

func (r *Room) deliver(ctx context.Context, msg domain.Message) {
	ack, err := r.transport.Deliver(ctx, msg)
	var (
		annotated domain.Message
		ok        bool
	)
	if err != nil {
		derr := &DeliveryError{MessageID: msg.ID, Seq: msg.Seq, Err: err}
		r.logger.Warn("delivery failed", zap.Uint64("seq", msg.Seq), zap.String("message_id", msg.ID), zap.Error(err))
		annotated, ok = r.transcript.Annotate(msg.ID, domain.DeliveryFailed, nil, derr)
	} else {
		deliveredAt := ack.DeliveredAt
		if deliveredAt.IsZero() {
			deliveredAt = r.now()
		}
		annotated, ok = r.transcript.Annotate(msg.ID, domain.DeliverySent, &deliveredAt, nil)
	}
	if ok {
		r.emit(Event{Kind: EventDelivery, Message: annotated})
	}
}

// receive agrega un mensaje entrante en orden de llegada. Solo acepta
// mensajes del otro participante con cuerpo no vacio.
func (r *Room) receive(msg domain.Message) {
	if msg.Sender != r.local.Peer() {
		r.logger.Warn("inbound message dropped", zap.String("sender", string(msg.Sender)))
		return
	}
	msg.Body = strings.TrimSpace(msg.Body)
	if msg.Body == "" {
		r.logger.Warn("inbound empty message dropped", zap.String("message_id", msg.ID))
		return
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.SenderID == "" {
		msg.SenderID = r.session.Snapshot().Participants.UserID(msg.Sender)
	}
	receivedAt := r.now()
	msg.ReceivedAt = &receivedAt
	msg.DeliveryState = domain.DeliveryReceived
	msg.DeliveryError = ""

	stored := r.transcript.Append(msg)
	if r.session.MarkActive() {
		r.emit(Event{Kind: EventStatus, Status: domain.SessionActive})
	}
	r.emit(Event{Kind: EventAppended, Message: stored})
}

// Close termina la sesion. Los mensajes ya guardados se conservan.
func (r *Room) Close() {
	if r.session.MarkEnded() {
		r.logger.Info("session ended")
		r.emit(Event{Kind: EventStatus, Status: domain.SessionEnded})
	}
}

// Wait bloquea hasta que terminen las entregas en curso.
func (r *Room) Wait() {
	r.inflight.Wait()
}

func (r *Room) emit(ev Event) {
	r.obsMu.RLock()
	observers := make([]func(Event), len(r.observers))
	copy(observers, r.observers)
	r.obsMu.RUnlock()
	for _, fn := range observers {
		fn(ev)
	}
}
