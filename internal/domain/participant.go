package domain

import (
	"errors"
	"strings"
)

// Role identifica el lado de la consulta que envia un mensaje.
type Role string

const (
	RolePatient   Role = "patient"
	RoleCounselor Role = "counselor"
)

var ErrInvalidParticipants = errors.New("invalid participants")

// Valid indica si el rol es uno de los dos lados de una sesion.
func (r Role) Valid() bool {
	return r == RolePatient || r == RoleCounselor
}

// Peer devuelve el rol del otro participante.
func (r Role) Peer() Role {
	if r == RolePatient {
		return RoleCounselor
	}
	return RolePatient
}

// Participants fija los dos usuarios de una sesion. Inmutable tras la creacion.
type Participants struct {
	PatientID   string `json:"patient_id"`
	CounselorID string `json:"counselor_id"`
}

// Validate exige ambos ids y que sean distintos.
func (p Participants) Validate() error {
	patient := strings.TrimSpace(p.PatientID)
	counselor := strings.TrimSpace(p.CounselorID)
	if patient == "" || counselor == "" || patient == counselor {
		return ErrInvalidParticipants
	}
	return nil
}

// RoleOf resuelve el rol de un usuario dentro de la sesion.
func (p Participants) RoleOf(userID string) (Role, bool) {
	switch strings.TrimSpace(userID) {
	case "":
		return "", false
	case p.PatientID:
		return RolePatient, true
	case p.CounselorID:
		return RoleCounselor, true
	default:
		return "", false
	}
}

// UserID devuelve el usuario que ocupa el rol.
func (p Participants) UserID(role Role) string {
	switch role {
	case RolePatient:
		return p.PatientID
	case RoleCounselor:
		return p.CounselorID
	default:
		return ""
	}
}
