package storage

import (
	"campaign-preview-engine/internal/config"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

const queryTimeout = 5 * time.Second

type Store struct {
	pool    *pgxpool.Pool
	channel string
}

type TemplateRow struct {
	ID               string          `json:"id"`
	UserID           string          `json:"userId"`
	Name             string          `json:"name"`
	Subject          string          `json:"subject"`
	Content          string          `json:"content"`
	ConditionalRules json.RawMessage `json:"conditionalRules,omitempty"`
	UserVariables    map[string]any  `json:"userVariables,omitempty"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

type InfluencerRow struct {
	ID        string
	UserID    string
	AccountID string
	FieldData map[string]any
}

type UserRow struct {
	ID         string
	Email      string
	BrandName  string
	SenderName string
}

func New(ctx context.Context, cfg config.Config) (*Store, error) {
	dsn := cfg.DSN()
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres DSN: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Postgres.MaxOpenConns)
	poolCfg.MinConns = int32(cfg.Postgres.MaxIdleConns)
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	return &Store{pool: pool, channel: cfg.Listener.Channel}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

const templateColumns = `t.id, t."userId", t.name, t.subject, t.content,
	t."conditionalRules", t."userVariables", t."updatedAt"`

// GetTemplate loads one email template by id.
func (s *Store) GetTemplate(ctx context.Context, id string) (*TemplateRow, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	row := s.pool.QueryRow(ctx, `SELECT `+templateColumns+` FROM "EmailTemplate" t WHERE t.id = $1`, id)
	t, err := scanTemplate(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("template %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("query template: %w", err)
	}
	return t, nil
}

// LoadTemplates loads every email template. Used to build the cache snapshot.
func (s *Store) LoadTemplates(ctx context.Context) ([]TemplateRow, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx, `SELECT `+templateColumns+` FROM "EmailTemplate" t ORDER BY t.id`)
	if err != nil {
		return nil, fmt.Errorf("query templates: %w", err)
	}
	defer rows.Close()

	var out []TemplateRow
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		out = append(out, *t)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func scanTemplate(row pgx.Row) (*TemplateRow, error) {
	var (
		t               TemplateRow
		userID, subject sql.NullString
		name, content   sql.NullString
		rules, vars     []byte
		updatedAt       sql.NullTime
	)
	if err := row.Scan(&t.ID, &userID, &name, &subject, &content, &rules, &vars, &updatedAt); err != nil {
		return nil, err
	}
	t.UserID = userID.String
	t.Name = name.String
	t.Subject = subject.String
	t.Content = content.String
	t.UpdatedAt = updatedAt.Time
	if len(rules) > 0 {
		t.ConditionalRules = json.RawMessage(rules)
	}
	m, err := decodeObject(vars)
	if err != nil {
		return nil, fmt.Errorf("template %s userVariables: %w", t.ID, err)
	}
	t.UserVariables = m
	return &t, nil
}

// GetInfluencer loads one influencer by id.
func (s *Store) GetInfluencer(ctx context.Context, id string) (*InfluencerRow, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	row := s.pool.QueryRow(ctx, `
		SELECT id, "userId", "accountId", "fieldData"
		FROM "Influencer"
		WHERE id = $1`, id)
	inf, err := scanInfluencer(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("influencer %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("query influencer: %w", err)
	}
	return inf, nil
}

// GetInfluencers loads the influencers with the given ids, keyed by id.
// Ids with no row are absent from the result.
func (s *Store) GetInfluencers(ctx context.Context, ids []string) (map[string]*InfluencerRow, error) {
	out := make(map[string]*InfluencerRow, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT id, "userId", "accountId", "fieldData"
		FROM "Influencer"
		WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("query influencers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		inf, err := scanInfluencer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan influencer: %w", err)
		}
		out[inf.ID] = inf
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func scanInfluencer(row pgx.Row) (*InfluencerRow, error) {
	var (
		inf               InfluencerRow
		userID, accountID sql.NullString
		fieldData         []byte
	)
	if err := row.Scan(&inf.ID, &userID, &accountID, &fieldData); err != nil {
		return nil, err
	}
	inf.UserID = userID.String
	inf.AccountID = accountID.String
	m, err := decodeObject(fieldData)
	if err != nil {
		return nil, fmt.Errorf("influencer %s fieldData: %w", inf.ID, err)
	}
	inf.FieldData = m
	return &inf, nil
}

// GetUser loads the sender/brand fields of a user.
func (s *Store) GetUser(ctx context.Context, id string) (*UserRow, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var (
		u                        UserRow
		email, brand, senderName sql.NullString
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, email, "brandName", "senderName"
		FROM "User"
		WHERE id = $1`, id).Scan(&u.ID, &email, &brand, &senderName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	u.Email = email.String
	u.BrandName = brand.String
	u.SenderName = senderName.String
	return &u, nil
}

// decodeObject decodes a jsonb column holding an object. SQL NULL, JSON
// null and an empty column all yield a nil map.
func decodeObject(b []byte) (map[string]any, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Store) ListenChannel() string {
	if s.channel != "" {
		return s.channel
	}
	return "email_template_change"
}

func (s *Store) PgxPool() *pgxpool.Pool {
	if s.pool == nil {
		panic(errors.New("pgx pool is nil"))
	}
	return s.pool
}
