package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"

	"consult-room/internal/domain"
)

func TestTranscriptService_Render(t *testing.T) {
	t.Run("lineas en orden", func(t *testing.T) {
		repo := &mockMessageRepo{msgs: []domain.Message{
			{Seq: 1, Sender: domain.RolePatient, Body: "hola"},
			{Seq: 2, Sender: domain.RoleCounselor, Body: "hola, ¿cómo estás?"},
			{Seq: 3, Sender: domain.RolePatient, Body: "bien"},
		}}
		svc := NewTranscriptService(repo)

		text, err := svc.Render(context.Background(), "s1", 0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := "Patient: hola\nCounselor: hola, ¿cómo estás?\nPatient: bien"
		if text != want {
			t.Fatalf("unexpected transcript:\n%s", text)
		}
	})

	t.Run("limit conserva los ultimos", func(t *testing.T) {
		var msgs []domain.Message
		for i := 1; i <= 15; i++ {
			msgs = append(msgs, domain.Message{Seq: uint64(i), Sender: domain.RolePatient, Body: "msg" + strconv.Itoa(i)})
		}
		svc := NewTranscriptService(&mockMessageRepo{msgs: msgs})

		text, err := svc.Render(context.Background(), "s1", 10)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		lines := strings.Split(text, "\n")
		if len(lines) != 11 {
			t.Fatalf("expected marker plus 10 lines, got %d", len(lines))
		}
		if lines[0] != "[5 earlier messages omitted]" {
			t.Fatalf("expected truncation marker, got %q", lines[0])
		}
		if lines[1] != "Patient: msg6" || lines[10] != "Patient: msg15" {
			t.Fatalf("unexpected window: %q .. %q", lines[1], lines[10])
		}
	})

	t.Run("sin limite exporta todo", func(t *testing.T) {
		var msgs []domain.Message
		for i := 1; i <= 250; i++ {
			msgs = append(msgs, domain.Message{Seq: uint64(i), Sender: domain.RoleCounselor, Body: "msg" + strconv.Itoa(i)})
		}
		svc := NewTranscriptService(&mockMessageRepo{msgs: msgs})

		text, err := svc.Render(context.Background(), "s1", 0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		lines := strings.Split(text, "\n")
		if len(lines) != 250 || lines[0] != "Counselor: msg1" || lines[249] != "Counselor: msg250" {
			t.Fatalf("expected full transcript, got %d lines", len(lines))
		}
	})

	t.Run("sin mensajes", func(t *testing.T) {
		svc := NewTranscriptService(&mockMessageRepo{})
		text, err := svc.Render(context.Background(), "s1", 0)
		if err != nil || text != "" {
			t.Fatalf("expected empty transcript, got %q (%v)", text, err)
		}
	})

	t.Run("error del repo", func(t *testing.T) {
		svc := NewTranscriptService(&mockMessageRepo{err: errors.New("db down")})
		if _, err := svc.Render(context.Background(), "s1", 0); err == nil {
			t.Fatalf("expected error")
		}
	})

	t.Run("no configurado", func(t *testing.T) {
		var svc *TranscriptService
		if _, err := svc.Render(context.Background(), "s1", 0); !errors.Is(err, ErrTranscriptNotConfigured) {
			t.Fatalf("expected ErrTranscriptNotConfigured, got %v", err)
		}
	})
}

type mockMessageRepo struct {
	msgs      []domain.Message
	err       error
	created   []domain.Message
	createErr error
}

func (m *mockMessageRepo) Create(_ context.Context, message domain.Message) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.created = append(m.created, message)
	return nil
}

func (m *mockMessageRepo) ListBySessionID(_ context.Context, _ string, afterSeq uint64) ([]domain.Message, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := []domain.Message{}
	for _, msg := range m.msgs {
		if msg.Seq > afterSeq {
			out = append(out, msg)
		}
	}
	return out, nil
}
