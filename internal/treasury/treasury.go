// Package treasury holds the association's member-fee bookkeeping: a single
// summary document plus a per-month balance history. Arithmetic here is
// plain sums; the portal shell renders everything else.
package treasury

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"acsmulungu.org/internal/ids"
)

// DefaultMonthlyFee is the seed value for a fresh summary document.
const DefaultMonthlyFee = 20

// Summary is the single consolidated treasury document.
type Summary struct {
	TotalIn    float64   `json:"total_in"`
	TotalOut   float64   `json:"total_out"`
	MonthlyFee float64   `json:"monthly_fee"`
	LastUpdate time.Time `json:"last_update"`
	UpdatedBy  string    `json:"updated_by"`

	ConsolidatedPeriod      string  `json:"consolidated_period,omitempty"`
	ConsolidatedWithdrawal  float64 `json:"consolidated_withdrawal,omitempty"`
	ConsolidatedSpent       float64 `json:"consolidated_spent,omitempty"`
	ConsolidatedInHand      float64 `json:"consolidated_in_hand,omitempty"`
	ConsolidatedBankBalance float64 `json:"consolidated_bank_balance,omitempty"`
}

// Balance returns the summary's running balance.
func (s Summary) Balance() float64 { return s.TotalIn - s.TotalOut }

// MonthlyBalance is one month of income and expense history.
type MonthlyBalance struct {
	ID          string    `json:"id"`
	Year        int       `json:"year"`
	Month       int       `json:"month"`
	Income      float64   `json:"income"`
	Expense     float64   `json:"expense"`
	BankFee     float64   `json:"bank_fee,omitempty"`
	Tax         float64   `json:"tax,omitempty"`
	Description string    `json:"description,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Net returns the month's income minus expense.
func (b MonthlyBalance) Net() float64 { return b.Income - b.Expense }

var (
	ErrNotFound       = errors.New("treasury record not found")
	ErrInvalidBalance = errors.New("invalid monthly balance")
)

// Store persists the summary document and the monthly history.
type Store interface {
	GetSummary(ctx context.Context) (Summary, error)
	PutSummary(ctx context.Context, s Summary) error
	ListMonthly(ctx context.Context, year int) ([]MonthlyBalance, error)
	PutMonthly(ctx context.Context, b MonthlyBalance) error
	DeleteMonthly(ctx context.Context, id string) error

	// DeleteAllMonthly wipes the whole history and returns the number of
	// records removed. Backs the admin database reset.
	DeleteAllMonthly(ctx context.Context) (int64, error)
}

// Service wraps the store with defaults and timestamps.
type Service struct {
	store Store
	now   func() time.Time
}

// NewService builds the treasury service. now defaults to time.Now.
func NewService(store Store, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{store: store, now: now}
}

// Summary returns the consolidated document, creating the default one on
// first read the way the portal always has.
func (s *Service) Summary(ctx context.Context) (Summary, error) {
	sum, err := s.store.GetSummary(ctx)
	if errors.Is(err, ErrNotFound) {
		sum = Summary{
			MonthlyFee: DefaultMonthlyFee,
			LastUpdate: s.now().UTC(),
			UpdatedBy:  "system",
		}
		if err := s.store.PutSummary(ctx, sum); err != nil {
			return Summary{}, fmt.Errorf("seed treasury summary: %w", err)
		}
		return sum, nil
	}
	return sum, err
}

// UpdateSummary overwrites the consolidated document, stamping the editor
// and the update time.
func (s *Service) UpdateSummary(ctx context.Context, sum Summary, updatedBy string) (Summary, error) {
	sum.LastUpdate = s.now().UTC()
	sum.UpdatedBy = strings.TrimSpace(updatedBy)
	if err := s.store.PutSummary(ctx, sum); err != nil {
		return Summary{}, fmt.Errorf("update treasury summary: %w", err)
	}
	return sum, nil
}

// History lists a year's monthly balances, most recent month first.
func (s *Service) History(ctx context.Context, year int) ([]MonthlyBalance, error) {
	items, err := s.store.ListMonthly(ctx, year)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Month > items[j].Month })
	return items, nil
}

// SaveMonthly upserts one month's record, generating an id for new entries.
func (s *Service) SaveMonthly(ctx context.Context, b MonthlyBalance) (MonthlyBalance, error) {
	if b.Year < 2000 || b.Year > 2100 {
		return MonthlyBalance{}, fmt.Errorf("%w: year %d", ErrInvalidBalance, b.Year)
	}
	if b.Month < 1 || b.Month > 12 {
		return MonthlyBalance{}, fmt.Errorf("%w: month %d", ErrInvalidBalance, b.Month)
	}
	if b.ID == "" {
		b.ID = ids.New()
	}
	b.UpdatedAt = s.now().UTC()
	if err := s.store.PutMonthly(ctx, b); err != nil {
		return MonthlyBalance{}, fmt.Errorf("save monthly balance: %w", err)
	}
	return b, nil
}

// Reset wipes the monthly history and writes a fresh default summary,
// returning it together with the number of history records removed. Part of
// the admin database reset.
func (s *Service) Reset(ctx context.Context) (Summary, int64, error) {
	removed, err := s.store.DeleteAllMonthly(ctx)
	if err != nil {
		return Summary{}, 0, fmt.Errorf("wipe treasury history: %w", err)
	}
	sum := Summary{
		MonthlyFee: DefaultMonthlyFee,
		LastUpdate: s.now().UTC(),
		UpdatedBy:  "Sistema (Reset)",
	}
	if err := s.store.PutSummary(ctx, sum); err != nil {
		return Summary{}, 0, fmt.Errorf("reset treasury summary: %w", err)
	}
	return sum, removed, nil
}

// DeleteMonthly removes one month's record.
func (s *Service) DeleteMonthly(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrNotFound
	}
	return s.store.DeleteMonthly(ctx, id)
}
