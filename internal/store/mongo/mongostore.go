// Package mongo implements the portal stores on MongoDB, the closest
// self-hosted analog to the managed document store the portal grew up on.
// Member visit accounting uses a single pipeline update, so the rollover is
// atomic per document on this backend too.
package mongo

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"acsmulungu.org/internal/indicator"
	"acsmulungu.org/internal/member"
	"acsmulungu.org/internal/treasury"
)

// Config holds the connection settings.
type Config struct {
	URI         string
	Database    string
	MaxPoolSize uint64
}

// Store is the MongoDB backend.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

var (
	_ member.Store      = (*Store)(nil)
	_ member.StatsStore = (*Store)(nil)
	_ indicator.Store   = (*Store)(nil)
	_ treasury.Store    = (*Store)(nil)
)

// Open connects and pings the deployment.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.URI == "" {
		return nil, errors.New("mongo uri is required")
	}
	opts := options.Client().ApplyURI(cfg.URI)
	if cfg.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(cfg.MaxPoolSize)
	}
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, err
	}
	return &Store{client: client, db: client.Database(cfg.Database)}, nil
}

func (s *Store) Close(ctx context.Context) error { return s.client.Disconnect(ctx) }

// Ping verifies the deployment is reachable; used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error { return s.client.Ping(ctx, nil) }

func (s *Store) members() *mongo.Collection  { return s.db.Collection("members") }
func (s *Store) teams() *mongo.Collection    { return s.db.Collection("team_rankings") }
func (s *Store) treasury() *mongo.Collection { return s.db.Collection("treasury") }
func (s *Store) history() *mongo.Collection  { return s.db.Collection("treasury_history") }
func (s *Store) stats() *mongo.Collection    { return s.db.Collection("system_stats") }

// --- members ---

type memberDoc struct {
	ID               string    `bson:"_id"`
	FullName         string    `bson:"full_name"`
	CPF              string    `bson:"cpf"`
	CNS              string    `bson:"cns,omitempty"`
	BirthDate        string    `bson:"birth_date,omitempty"`
	Password         string    `bson:"password,omitempty"`
	Gender           string    `bson:"gender,omitempty"`
	Workplace        string    `bson:"workplace,omitempty"`
	MicroArea        string    `bson:"micro_area,omitempty"`
	Team             string    `bson:"team"`
	AreaType         string    `bson:"area_type,omitempty"`
	ProfileImage     string    `bson:"profile_image,omitempty"`
	RegistrationDate time.Time `bson:"registration_date"`
	Status           string    `bson:"status"`
	Role             string    `bson:"role"`
	IsOnline         bool      `bson:"is_online"`
	LastSeen         time.Time `bson:"last_seen,omitempty"`
	AccessCount      int64     `bson:"access_count"`
	DailyAccessCount int64     `bson:"daily_access_count"`
	LastDailyReset   string    `bson:"last_daily_reset,omitempty"`
}

func toMemberDoc(m member.Member) memberDoc {
	return memberDoc{
		ID: m.ID, FullName: m.FullName, CPF: member.NormalizeCPF(m.CPF), CNS: m.CNS,
		BirthDate: m.BirthDate, Password: m.Password, Gender: m.Gender,
		Workplace: m.Workplace, MicroArea: m.MicroArea, Team: m.Team,
		AreaType: m.AreaType, ProfileImage: m.ProfileImage,
		RegistrationDate: m.RegistrationDate, Status: m.Status, Role: m.Role,
		IsOnline: m.IsOnline, LastSeen: m.LastSeen,
		AccessCount: m.AccessCount, DailyAccessCount: m.DailyAccessCount,
		LastDailyReset: m.LastDailyReset,
	}
}

func (d memberDoc) toMember() member.Member {
	return member.Member{
		ID: d.ID, FullName: d.FullName, CPF: d.CPF, CNS: d.CNS,
		BirthDate: d.BirthDate, Password: d.Password, Gender: d.Gender,
		Workplace: d.Workplace, MicroArea: d.MicroArea, Team: d.Team,
		AreaType: d.AreaType, ProfileImage: d.ProfileImage,
		RegistrationDate: d.RegistrationDate, Status: d.Status, Role: d.Role,
		IsOnline: d.IsOnline, LastSeen: d.LastSeen,
		AccessCount: d.AccessCount, DailyAccessCount: d.DailyAccessCount,
		LastDailyReset: d.LastDailyReset,
	}
}

func (s *Store) GetMember(ctx context.Context, id string) (member.Member, error) {
	var doc memberDoc
	err := s.members().FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return member.Member{}, member.ErrNotFound
	}
	if err != nil {
		return member.Member{}, err
	}
	return doc.toMember(), nil
}

func (s *Store) FindByCPF(ctx context.Context, cpf string) (member.Member, error) {
	var doc memberDoc
	err := s.members().FindOne(ctx, bson.M{"cpf": member.NormalizeCPF(cpf)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return member.Member{}, member.ErrNotFound
	}
	if err != nil {
		return member.Member{}, err
	}
	return doc.toMember(), nil
}

func (s *Store) ListMembers(ctx context.Context) ([]member.Member, error) {
	cur, err := s.members().Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "registration_date", Value: -1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []member.Member
	for cur.Next(ctx) {
		var doc memberDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toMember())
	}
	return out, cur.Err()
}

func (s *Store) PutMember(ctx context.Context, m member.Member) error {
	_, err := s.members().ReplaceOne(ctx, bson.M{"_id": m.ID}, toMemberDoc(m),
		options.Replace().SetUpsert(true))
	return err
}

func (s *Store) DeleteMember(ctx context.Context, id string) error {
	res, err := s.members().DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return member.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteMembersExcept(ctx context.Context, keepID string) (int64, error) {
	res, err := s.members().DeleteMany(ctx, bson.M{"_id": bson.M{"$ne": keepID}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (s *Store) SetOnline(ctx context.Context, id string, seen time.Time) error {
	res, err := s.members().UpdateOne(ctx, bson.M{"_id": id},
		bson.M{"$set": bson.M{"is_online": true, "last_seen": seen}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return member.ErrNotFound
	}
	return nil
}

func (s *Store) SetOffline(ctx context.Context, id string) error {
	res, err := s.members().UpdateOne(ctx, bson.M{"_id": id},
		bson.M{"$set": bson.M{"is_online": false}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return member.ErrNotFound
	}
	return nil
}

func (s *Store) ApplyVisit(ctx context.Context, id, today string, now time.Time) (member.Member, error) {
	// Pipeline update: rollover and increments land in one atomic
	// per-document write.
	pipeline := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "daily_access_count", Value: bson.D{{Key: "$cond", Value: bson.A{
				bson.D{{Key: "$eq", Value: bson.A{"$last_daily_reset", today}}},
				bson.D{{Key: "$add", Value: bson.A{bson.D{{Key: "$ifNull", Value: bson.A{"$daily_access_count", 0}}}, 1}}},
				1,
			}}}},
			{Key: "last_daily_reset", Value: today},
			{Key: "access_count", Value: bson.D{{Key: "$add", Value: bson.A{
				bson.D{{Key: "$ifNull", Value: bson.A{"$access_count", 0}}}, 1,
			}}}},
			{Key: "last_seen", Value: now},
		}}},
	}
	var doc memberDoc
	err := s.members().FindOneAndUpdate(ctx, bson.M{"_id": id}, pipeline,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return member.Member{}, member.ErrNotFound
	}
	if err != nil {
		return member.Member{}, err
	}
	return doc.toMember(), nil
}

// --- portal stats ---

func (s *Store) IncrementPortalVisits(ctx context.Context) (int64, error) {
	var doc struct {
		AccessCount int64 `bson:"access_count"`
	}
	err := s.stats().FindOneAndUpdate(ctx, bson.M{"_id": "stats"},
		bson.M{"$inc": bson.M{"access_count": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)).Decode(&doc)
	return doc.AccessCount, err
}

func (s *Store) PortalVisits(ctx context.Context) (int64, error) {
	var doc struct {
		AccessCount int64 `bson:"access_count"`
	}
	err := s.stats().FindOne(ctx, bson.M{"_id": "stats"}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	return doc.AccessCount, err
}

// --- team scores ---

type cellDoc struct {
	Score float64 `bson:"score"`
	Class string  `bson:"class"`
}

type teamDoc struct {
	Key        string                        `bson:"_id"` // lower-cased team name
	Team       string                        `bson:"team"`
	Cells      map[string]map[string]cellDoc `bson:"cells,omitempty"` // category -> p1..p3
	LastUpdate time.Time                     `bson:"last_update"`
}

func (d teamDoc) toRecord() indicator.TeamScore {
	rec := indicator.NewTeamScore(d.Team)
	rec.LastUpdate = d.LastUpdate
	for cat, periods := range d.Cells {
		c := indicator.Category(cat)
		if !c.Valid() {
			continue
		}
		for p := indicator.Period1; p <= indicator.Period3; p++ {
			if cell, ok := periods[periodField(p)]; ok {
				rec.Cells[c][p-1] = indicator.Cell{
					Score: cell.Score,
					Class: indicator.ClassFromString(cell.Class),
					Set:   true,
				}
			}
		}
	}
	return rec
}

func periodField(p indicator.Period) string {
	return "p" + strconv.Itoa(int(p))
}

func teamKey(team string) string { return strings.ToLower(strings.TrimSpace(team)) }

func (s *Store) GetTeamScore(ctx context.Context, team string) (indicator.TeamScore, error) {
	var doc teamDoc
	err := s.teams().FindOne(ctx, bson.M{"_id": teamKey(team)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return indicator.TeamScore{}, indicator.ErrNotFound
	}
	if err != nil {
		return indicator.TeamScore{}, err
	}
	return doc.toRecord(), nil
}

func (s *Store) ListTeamScores(ctx context.Context) ([]indicator.TeamScore, error) {
	cur, err := s.teams().Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []indicator.TeamScore
	for cur.Next(ctx) {
		var doc teamDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toRecord())
	}
	return out, cur.Err()
}

func (s *Store) UpsertCell(ctx context.Context, team string, category indicator.Category, period indicator.Period, cell indicator.Cell, updatedAt time.Time) error {
	field := "cells." + string(category) + "." + periodField(period)
	_, err := s.teams().UpdateOne(ctx, bson.M{"_id": teamKey(team)},
		bson.M{"$set": bson.M{
			"team":        team,
			field:         cellDoc{Score: cell.Score, Class: cell.Class.String()},
			"last_update": updatedAt,
		}},
		options.Update().SetUpsert(true))
	return err
}

// --- treasury ---

type summaryDoc struct {
	ID                      string    `bson:"_id"`
	TotalIn                 float64   `bson:"total_in"`
	TotalOut                float64   `bson:"total_out"`
	MonthlyFee              float64   `bson:"monthly_fee"`
	LastUpdate              time.Time `bson:"last_update"`
	UpdatedBy               string    `bson:"updated_by"`
	ConsolidatedPeriod      string    `bson:"consolidated_period,omitempty"`
	ConsolidatedWithdrawal  float64   `bson:"consolidated_withdrawal,omitempty"`
	ConsolidatedSpent       float64   `bson:"consolidated_spent,omitempty"`
	ConsolidatedInHand      float64   `bson:"consolidated_in_hand,omitempty"`
	ConsolidatedBankBalance float64   `bson:"consolidated_bank_balance,omitempty"`
}

func (s *Store) GetSummary(ctx context.Context) (treasury.Summary, error) {
	var doc summaryDoc
	err := s.treasury().FindOne(ctx, bson.M{"_id": "summary"}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return treasury.Summary{}, treasury.ErrNotFound
	}
	if err != nil {
		return treasury.Summary{}, err
	}
	return treasury.Summary{
		TotalIn: doc.TotalIn, TotalOut: doc.TotalOut, MonthlyFee: doc.MonthlyFee,
		LastUpdate: doc.LastUpdate, UpdatedBy: doc.UpdatedBy,
		ConsolidatedPeriod:      doc.ConsolidatedPeriod,
		ConsolidatedWithdrawal:  doc.ConsolidatedWithdrawal,
		ConsolidatedSpent:       doc.ConsolidatedSpent,
		ConsolidatedInHand:      doc.ConsolidatedInHand,
		ConsolidatedBankBalance: doc.ConsolidatedBankBalance,
	}, nil
}

func (s *Store) PutSummary(ctx context.Context, sum treasury.Summary) error {
	doc := summaryDoc{
		ID: "summary", TotalIn: sum.TotalIn, TotalOut: sum.TotalOut,
		MonthlyFee: sum.MonthlyFee, LastUpdate: sum.LastUpdate, UpdatedBy: sum.UpdatedBy,
		ConsolidatedPeriod:      sum.ConsolidatedPeriod,
		ConsolidatedWithdrawal:  sum.ConsolidatedWithdrawal,
		ConsolidatedSpent:       sum.ConsolidatedSpent,
		ConsolidatedInHand:      sum.ConsolidatedInHand,
		ConsolidatedBankBalance: sum.ConsolidatedBankBalance,
	}
	_, err := s.treasury().ReplaceOne(ctx, bson.M{"_id": "summary"}, doc,
		options.Replace().SetUpsert(true))
	return err
}

type monthlyDoc struct {
	ID          string    `bson:"_id"`
	Year        int       `bson:"year"`
	Month       int       `bson:"month"`
	Income      float64   `bson:"income"`
	Expense     float64   `bson:"expense"`
	BankFee     float64   `bson:"bank_fee,omitempty"`
	Tax         float64   `bson:"tax,omitempty"`
	Description string    `bson:"description,omitempty"`
	UpdatedAt   time.Time `bson:"updated_at"`
}

func (s *Store) ListMonthly(ctx context.Context, year int) ([]treasury.MonthlyBalance, error) {
	cur, err := s.history().Find(ctx, bson.M{"year": year},
		options.Find().SetSort(bson.D{{Key: "month", Value: -1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []treasury.MonthlyBalance
	for cur.Next(ctx) {
		var doc monthlyDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, treasury.MonthlyBalance{
			ID: doc.ID, Year: doc.Year, Month: doc.Month,
			Income: doc.Income, Expense: doc.Expense,
			BankFee: doc.BankFee, Tax: doc.Tax,
			Description: doc.Description, UpdatedAt: doc.UpdatedAt,
		})
	}
	return out, cur.Err()
}

func (s *Store) PutMonthly(ctx context.Context, b treasury.MonthlyBalance) error {
	doc := monthlyDoc{
		ID: b.ID, Year: b.Year, Month: b.Month, Income: b.Income, Expense: b.Expense,
		BankFee: b.BankFee, Tax: b.Tax, Description: b.Description, UpdatedAt: b.UpdatedAt,
	}
	_, err := s.history().ReplaceOne(ctx, bson.M{"_id": b.ID}, doc,
		options.Replace().SetUpsert(true))
	return err
}

func (s *Store) DeleteMonthly(ctx context.Context, id string) error {
	res, err := s.history().DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return treasury.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteAllMonthly(ctx context.Context) (int64, error) {
	res, err := s.history().DeleteMany(ctx, bson.M{})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}
