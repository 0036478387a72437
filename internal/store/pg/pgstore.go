// Package pg implements the portal stores on PostgreSQL. The daily-rollover
// visit update is a single conditional UPDATE, so it is atomic per member
// row and the read-then-write race does not apply to this backend.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"acsmulungu.org/internal/indicator"
	"acsmulungu.org/internal/member"
	"acsmulungu.org/internal/treasury"
)

type Store struct {
	db *sql.DB
}

var (
	_ member.Store      = (*Store)(nil)
	_ member.StatsStore = (*Store)(nil)
	_ indicator.Store   = (*Store)(nil)
	_ treasury.Store    = (*Store)(nil)
)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection (used by tests).
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// --- members ---

const memberColumns = `id, full_name, cpf, cns, birth_date, password, gender, workplace,
	micro_area, team, area_type, profile_image, registration_date, status, role,
	is_online, last_seen, access_count, daily_access_count, last_daily_reset`

func scanMember(row interface{ Scan(...any) error }) (member.Member, error) {
	var m member.Member
	var lastSeen sql.NullTime
	err := row.Scan(
		&m.ID, &m.FullName, &m.CPF, &m.CNS, &m.BirthDate, &m.Password, &m.Gender,
		&m.Workplace, &m.MicroArea, &m.Team, &m.AreaType, &m.ProfileImage,
		&m.RegistrationDate, &m.Status, &m.Role,
		&m.IsOnline, &lastSeen, &m.AccessCount, &m.DailyAccessCount, &m.LastDailyReset,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return member.Member{}, member.ErrNotFound
	}
	if err != nil {
		return member.Member{}, err
	}
	if lastSeen.Valid {
		m.LastSeen = lastSeen.Time
	}
	return m, nil
}

func (s *Store) GetMember(ctx context.Context, id string) (member.Member, error) {
	return scanMember(s.db.QueryRowContext(ctx, `select `+memberColumns+` from members where id=$1`, id))
}

func (s *Store) FindByCPF(ctx context.Context, cpf string) (member.Member, error) {
	return scanMember(s.db.QueryRowContext(ctx, `select `+memberColumns+` from members where cpf=$1`, member.NormalizeCPF(cpf)))
}

func (s *Store) ListMembers(ctx context.Context) ([]member.Member, error) {
	rows, err := s.db.QueryContext(ctx, `select `+memberColumns+` from members order by registration_date desc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []member.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) PutMember(ctx context.Context, m member.Member) error {
	var lastSeen any
	if !m.LastSeen.IsZero() {
		lastSeen = m.LastSeen
	}
	_, err := s.db.ExecContext(ctx, `
		insert into members(`+memberColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
		on conflict (id) do update set
			full_name=excluded.full_name, cpf=excluded.cpf, cns=excluded.cns,
			birth_date=excluded.birth_date, password=excluded.password,
			gender=excluded.gender, workplace=excluded.workplace,
			micro_area=excluded.micro_area, team=excluded.team,
			area_type=excluded.area_type, profile_image=excluded.profile_image,
			registration_date=excluded.registration_date, status=excluded.status,
			role=excluded.role, is_online=excluded.is_online,
			last_seen=excluded.last_seen, access_count=excluded.access_count,
			daily_access_count=excluded.daily_access_count,
			last_daily_reset=excluded.last_daily_reset
	`, m.ID, m.FullName, member.NormalizeCPF(m.CPF), m.CNS, m.BirthDate, m.Password,
		m.Gender, m.Workplace, m.MicroArea, m.Team, m.AreaType, m.ProfileImage,
		m.RegistrationDate, m.Status, m.Role,
		m.IsOnline, lastSeen, m.AccessCount, m.DailyAccessCount, m.LastDailyReset)
	return err
}

func (s *Store) DeleteMember(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from members where id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return member.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteMembersExcept(ctx context.Context, keepID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from members where id<>$1`, keepID)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *Store) SetOnline(ctx context.Context, id string, seen time.Time) error {
	res, err := s.db.ExecContext(ctx, `update members set is_online=true, last_seen=$2 where id=$1`, id, seen)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return member.ErrNotFound
	}
	return nil
}

func (s *Store) SetOffline(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `update members set is_online=false where id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return member.ErrNotFound
	}
	return nil
}

func (s *Store) ApplyVisit(ctx context.Context, id, today string, now time.Time) (member.Member, error) {
	// One statement keeps the rollover exactly-once per day under
	// concurrent logins.
	return scanMember(s.db.QueryRowContext(ctx, `
		update members set
			daily_access_count = case when last_daily_reset = $2 then daily_access_count + 1 else 1 end,
			last_daily_reset = $2,
			access_count = access_count + 1,
			last_seen = $3
		where id = $1
		returning `+memberColumns, id, today, now))
}

// --- portal stats ---

func (s *Store) IncrementPortalVisits(ctx context.Context) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx, `
		insert into portal_stats(id, access_count) values (1, 1)
		on conflict (id) do update set access_count = portal_stats.access_count + 1
		returning access_count
	`).Scan(&total)
	return total, err
}

func (s *Store) PortalVisits(ctx context.Context) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx, `select access_count from portal_stats where id=1`).Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return total, err
}

// --- team scores ---

func (s *Store) GetTeamScore(ctx context.Context, team string) (indicator.TeamScore, error) {
	rows, err := s.db.QueryContext(ctx, `
		select team, category, period, score, class, updated_at
		from team_scores where team_key = lower($1)
		order by category, period
	`, team)
	if err != nil {
		return indicator.TeamScore{}, err
	}
	defer rows.Close()

	rec, found, err := collectTeam(rows)
	if err != nil {
		return indicator.TeamScore{}, err
	}
	if !found {
		return indicator.TeamScore{}, indicator.ErrNotFound
	}
	return rec, nil
}

func (s *Store) ListTeamScores(ctx context.Context) ([]indicator.TeamScore, error) {
	rows, err := s.db.QueryContext(ctx, `
		select team, category, period, score, class, updated_at
		from team_scores
		order by team_key, category, period
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []indicator.TeamScore
	var cur *indicator.TeamScore
	for rows.Next() {
		var (
			team, category, class string
			period                int
			score                 float64
			updatedAt             time.Time
		)
		if err := rows.Scan(&team, &category, &period, &score, &class, &updatedAt); err != nil {
			return nil, err
		}
		if cur == nil || cur.Team != team {
			rec := indicator.NewTeamScore(team)
			out = append(out, rec)
			cur = &out[len(out)-1]
		}
		applyRow(cur, category, period, score, class, updatedAt)
	}
	return out, rows.Err()
}

func (s *Store) UpsertCell(ctx context.Context, team string, category indicator.Category, period indicator.Period, cell indicator.Cell, updatedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		insert into team_scores(team_key, team, category, period, score, class, updated_at)
		values (lower($1), $1, $2, $3, $4, $5, $6)
		on conflict (team_key, category, period) do update set
			score=excluded.score, class=excluded.class, updated_at=excluded.updated_at
	`, team, string(category), int(period), cell.Score, cell.Class.String(), updatedAt)
	return err
}

func collectTeam(rows *sql.Rows) (indicator.TeamScore, bool, error) {
	var rec indicator.TeamScore
	found := false
	for rows.Next() {
		var (
			team, category, class string
			period                int
			score                 float64
			updatedAt             time.Time
		)
		if err := rows.Scan(&team, &category, &period, &score, &class, &updatedAt); err != nil {
			return indicator.TeamScore{}, false, err
		}
		if !found {
			rec = indicator.NewTeamScore(team)
			found = true
		}
		applyRow(&rec, category, period, score, class, updatedAt)
	}
	return rec, found, rows.Err()
}

func applyRow(rec *indicator.TeamScore, category string, period int, score float64, class string, updatedAt time.Time) {
	cat := indicator.Category(category)
	p := indicator.Period(period)
	if !cat.Valid() || !p.Valid() {
		return
	}
	rec.Cells[cat][p-1] = indicator.Cell{
		Score: score,
		Class: indicator.ClassFromString(class),
		Set:   true,
	}
	if updatedAt.After(rec.LastUpdate) {
		rec.LastUpdate = updatedAt
	}
}

// --- treasury ---

func (s *Store) GetSummary(ctx context.Context) (treasury.Summary, error) {
	var sum treasury.Summary
	err := s.db.QueryRowContext(ctx, `
		select total_in, total_out, monthly_fee, last_update, updated_by,
			consolidated_period, consolidated_withdrawal, consolidated_spent,
			consolidated_in_hand, consolidated_bank_balance
		from treasury_summary where id=1
	`).Scan(&sum.TotalIn, &sum.TotalOut, &sum.MonthlyFee, &sum.LastUpdate, &sum.UpdatedBy,
		&sum.ConsolidatedPeriod, &sum.ConsolidatedWithdrawal, &sum.ConsolidatedSpent,
		&sum.ConsolidatedInHand, &sum.ConsolidatedBankBalance)
	if errors.Is(err, sql.ErrNoRows) {
		return treasury.Summary{}, treasury.ErrNotFound
	}
	return sum, err
}

func (s *Store) PutSummary(ctx context.Context, sum treasury.Summary) error {
	_, err := s.db.ExecContext(ctx, `
		insert into treasury_summary(id, total_in, total_out, monthly_fee, last_update, updated_by,
			consolidated_period, consolidated_withdrawal, consolidated_spent,
			consolidated_in_hand, consolidated_bank_balance)
		values (1,$1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		on conflict (id) do update set
			total_in=excluded.total_in, total_out=excluded.total_out,
			monthly_fee=excluded.monthly_fee, last_update=excluded.last_update,
			updated_by=excluded.updated_by,
			consolidated_period=excluded.consolidated_period,
			consolidated_withdrawal=excluded.consolidated_withdrawal,
			consolidated_spent=excluded.consolidated_spent,
			consolidated_in_hand=excluded.consolidated_in_hand,
			consolidated_bank_balance=excluded.consolidated_bank_balance
	`, sum.TotalIn, sum.TotalOut, sum.MonthlyFee, sum.LastUpdate, sum.UpdatedBy,
		sum.ConsolidatedPeriod, sum.ConsolidatedWithdrawal, sum.ConsolidatedSpent,
		sum.ConsolidatedInHand, sum.ConsolidatedBankBalance)
	return err
}

func (s *Store) ListMonthly(ctx context.Context, year int) ([]treasury.MonthlyBalance, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, year, month, income, expense, bank_fee, tax, description, updated_at
		from treasury_history where year=$1 order by month desc
	`, year)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []treasury.MonthlyBalance
	for rows.Next() {
		var b treasury.MonthlyBalance
		if err := rows.Scan(&b.ID, &b.Year, &b.Month, &b.Income, &b.Expense,
			&b.BankFee, &b.Tax, &b.Description, &b.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) PutMonthly(ctx context.Context, b treasury.MonthlyBalance) error {
	_, err := s.db.ExecContext(ctx, `
		insert into treasury_history(id, year, month, income, expense, bank_fee, tax, description, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		on conflict (id) do update set
			year=excluded.year, month=excluded.month, income=excluded.income,
			expense=excluded.expense, bank_fee=excluded.bank_fee, tax=excluded.tax,
			description=excluded.description, updated_at=excluded.updated_at
	`, b.ID, b.Year, b.Month, b.Income, b.Expense, b.BankFee, b.Tax, b.Description, b.UpdatedAt)
	return err
}

func (s *Store) DeleteMonthly(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from treasury_history where id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return treasury.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteAllMonthly(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from treasury_history`)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}
