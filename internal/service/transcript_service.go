package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"consult-room/internal/domain"
	"consult-room/internal/repository"
)

var ErrTranscriptNotConfigured = errors.New("transcript service not configured")

// TranscriptService exporta el archivo de una sesion como texto plano.
type TranscriptService struct {
	messageRepo repository.MessageRepository
}

func NewTranscriptService(messageRepo repository.MessageRepository) *TranscriptService {
	return &TranscriptService{messageRepo: messageRepo}
}

// Render devuelve una linea por mensaje ("Patient: ..."), en orden de seq.
// limit <= 0 exporta todo. Con limit > 0 conserva los ultimos limit mensajes
// y una primera linea indica cuantos se omitieron.
func (s *TranscriptService) Render(ctx context.Context, sessionID string, limit int) (string, error) {
	if s == nil || s.messageRepo == nil {
		return "", ErrTranscriptNotConfigured
	}
	if strings.TrimSpace(sessionID) == "" {
		return "", nil
	}

	messages, err := s.messageRepo.ListBySessionID(ctx, sessionID, 0)
	if err != nil {
		return "", fmt.Errorf("list messages: %w", err)
	}
	if len(messages) == 0 {
		return "", nil
	}

	omitted := 0
	if limit > 0 && len(messages) > limit {
		omitted = len(messages) - limit
		messages = messages[omitted:]
	}

	lines := make([]string, 0, len(messages)+1)
	if omitted > 0 {
		lines = append(lines, fmt.Sprintf("[%d earlier messages omitted]", omitted))
	}
	for _, m := range messages {
		lines = append(lines, fmt.Sprintf("%s: %s", speakerLabel(m.Sender), m.Body))
	}
	return strings.Join(lines, "\n"), nil
}

func speakerLabel(role domain.Role) string {
	switch role {
	case domain.RolePatient:
		return "Patient"
	case domain.RoleCounselor:
		return "Counselor"
	default:
		return "Unknown"
	}
}
