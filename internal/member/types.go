package member

import (
	"errors"
	"strings"
	"time"
)

// Roles recognised by the portal.
const (
	RoleAdmin = "admin"
	RoleACS   = "acs"
)

// Registration statuses.
const (
	StatusActive  = "active"
	StatusPending = "pending"
)

// Member is one community health agent record. Profile fields are owned by
// the directory; the presence and counter fields are mutated only through
// the presence tracker and access counter.
type Member struct {
	ID               string    `json:"id"`
	FullName         string    `json:"full_name"`
	CPF              string    `json:"cpf"`
	CNS              string    `json:"cns,omitempty"`
	BirthDate        string    `json:"birth_date,omitempty"` // YYYY-MM-DD
	Password         string    `json:"-"`
	Gender           string    `json:"gender,omitempty"`
	Workplace        string    `json:"workplace,omitempty"`
	MicroArea        string    `json:"micro_area,omitempty"`
	Team             string    `json:"team"`
	AreaType         string    `json:"area_type,omitempty"` // rural | urban
	ProfileImage     string    `json:"profile_image,omitempty"`
	RegistrationDate time.Time `json:"registration_date"`
	Status           string    `json:"status"`
	Role             string    `json:"role"`

	// Presence. IsOnline is set true on heartbeat and false on explicit
	// logout only; staleness is derived at read time, never written back.
	IsOnline bool      `json:"is_online"`
	LastSeen time.Time `json:"last_seen,omitempty"`

	// Access accounting. DailyAccessCount is only meaningful for the
	// calendar day stored in LastDailyReset.
	AccessCount      int64  `json:"access_count"`
	DailyAccessCount int64  `json:"daily_access_count"`
	LastDailyReset   string `json:"last_daily_reset,omitempty"` // YYYY-MM-DD
}

var (
	ErrNotFound      = errors.New("member not found")
	ErrInvalidMember = errors.New("invalid member record")
)

// NormalizeCPF strips formatting so lookups match regardless of punctuation.
func NormalizeCPF(cpf string) string {
	var b strings.Builder
	for _, r := range cpf {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// DayOf renders t's calendar day in the store format for LastDailyReset.
func DayOf(t time.Time) string { return t.Format("2006-01-02") }
