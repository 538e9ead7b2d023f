package wsclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"consult-room/internal/domain"
)

// httpBase traduce ws(s):// a http(s):// para las llamadas REST.
func (c Config) httpBase() string {
	base := strings.TrimRight(c.ServerURL, "/")
	switch {
	case strings.HasPrefix(base, "wss://"):
		return "https://" + strings.TrimPrefix(base, "wss://")
	case strings.HasPrefix(base, "ws://"):
		return "http://" + strings.TrimPrefix(base, "ws://")
	default:
		return base
	}
}

type sessionResponse struct {
	Session domain.Session `json:"session"`
	Error   string         `json:"error"`
}

// FetchSession lee la sesion por REST; la sala necesita los participantes
// antes de conectarse.
func (c *Client) FetchSession(ctx context.Context) (domain.Session, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.httpBase()+"/sessions/"+c.cfg.SessionID, nil)
	if err != nil {
		return domain.Session{}, fmt.Errorf("create request: %w", err)
	}
	httpClient := &http.Client{Timeout: c.cfg.HandshakeTimeout}
	resp, err := httpClient.Do(req)
	if err != nil {
		return domain.Session{}, fmt.Errorf("fetch session: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.Session{}, fmt.Errorf("read response: %w", err)
	}
	var parsed sessionResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return domain.Session{}, fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return domain.Session{}, fmt.Errorf("fetch session: status %d: %s", resp.StatusCode, parsed.Error)
	}
	return parsed.Session, nil
}

