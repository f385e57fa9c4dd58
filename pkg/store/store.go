// Package store persists agents, their phone numbers and call records in
// PostgreSQL. Conversation content is deliberately not stored; only call
// metadata survives the session.
package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound reports a lookup that matched nothing.
var ErrNotFound = errors.New("store: not found")

// Store wraps a PostgreSQL connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to PostgreSQL and verifies the connection.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Migrate brings the schema up to date using the embedded migrations.
func (s *Store) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("setting migration dialect: %w", err)
	}
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Agent is a configured conversational agent.
type Agent struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Instructions string    `json:"instructions"`
	Voice        string    `json:"voice"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// PhoneNumber routes inbound calls on a number to an agent.
type PhoneNumber struct {
	ID        uuid.UUID `json:"id"`
	Number    string    `json:"number"`
	AgentID   uuid.UUID `json:"agent_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Call is one call record. EndedAt is nil while the call is live.
type Call struct {
	ID            uuid.UUID  `json:"id"`
	AgentID       uuid.UUID  `json:"agent_id"`
	BackendCallID string     `json:"backend_call_id"`
	StartedAt     time.Time  `json:"started_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
}

// CreateAgent inserts a new agent and returns it with generated fields set.
func (s *Store) CreateAgent(ctx context.Context, name, instructions, voice string) (Agent, error) {
	agent := Agent{ID: uuid.New(), Name: name, Instructions: instructions, Voice: voice}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO agents (id, name, instructions, voice)
		 VALUES ($1, $2, $3, $4)
		 RETURNING created_at, updated_at`,
		agent.ID, agent.Name, agent.Instructions, agent.Voice,
	).Scan(&agent.CreatedAt, &agent.UpdatedAt)
	if err != nil {
		return Agent{}, fmt.Errorf("creating agent: %w", err)
	}
	return agent, nil
}

// GetAgent fetches one agent by id.
func (s *Store) GetAgent(ctx context.Context, id uuid.UUID) (Agent, error) {
	var agent Agent
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, instructions, voice, created_at, updated_at
		 FROM agents WHERE id = $1`, id,
	).Scan(&agent.ID, &agent.Name, &agent.Instructions, &agent.Voice,
		&agent.CreatedAt, &agent.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Agent{}, ErrNotFound
	}
	if err != nil {
		return Agent{}, fmt.Errorf("fetching agent: %w", err)
	}
	return agent, nil
}

// ListAgents returns all agents, newest first.
func (s *Store) ListAgents(ctx context.Context) ([]Agent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, instructions, voice, created_at, updated_at
		 FROM agents ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}
	defer rows.Close()

	var agents []Agent
	for rows.Next() {
		var a Agent
		if err := rows.Scan(&a.ID, &a.Name, &a.Instructions, &a.Voice,
			&a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning agent: %w", err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// UpdateAgent replaces an agent's mutable fields.
func (s *Store) UpdateAgent(ctx context.Context, id uuid.UUID, name, instructions, voice string) (Agent, error) {
	var agent Agent
	err := s.pool.QueryRow(ctx,
		`UPDATE agents SET name = $2, instructions = $3, voice = $4, updated_at = now()
		 WHERE id = $1
		 RETURNING id, name, instructions, voice, created_at, updated_at`,
		id, name, instructions, voice,
	).Scan(&agent.ID, &agent.Name, &agent.Instructions, &agent.Voice,
		&agent.CreatedAt, &agent.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Agent{}, ErrNotFound
	}
	if err != nil {
		return Agent{}, fmt.Errorf("updating agent: %w", err)
	}
	return agent, nil
}

// DeleteAgent removes an agent and its number assignments.
func (s *Store) DeleteAgent(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM agents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting agent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AssignNumber routes a phone number to an agent, replacing any existing
// assignment of that number.
func (s *Store) AssignNumber(ctx context.Context, number string, agentID uuid.UUID) (PhoneNumber, error) {
	pn := PhoneNumber{ID: uuid.New(), Number: number, AgentID: agentID}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO phone_numbers (id, number, agent_id)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (number) DO UPDATE SET agent_id = EXCLUDED.agent_id
		 RETURNING id, created_at`,
		pn.ID, pn.Number, pn.AgentID,
	).Scan(&pn.ID, &pn.CreatedAt)
	if err != nil {
		return PhoneNumber{}, fmt.Errorf("assigning number: %w", err)
	}
	return pn, nil
}

// AgentForNumber resolves the agent an inbound number routes to.
func (s *Store) AgentForNumber(ctx context.Context, number string) (Agent, error) {
	var agent Agent
	err := s.pool.QueryRow(ctx,
		`SELECT a.id, a.name, a.instructions, a.voice, a.created_at, a.updated_at
		 FROM agents a
		 JOIN phone_numbers n ON n.agent_id = a.id
		 WHERE n.number = $1`, number,
	).Scan(&agent.ID, &agent.Name, &agent.Instructions, &agent.Voice,
		&agent.CreatedAt, &agent.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Agent{}, ErrNotFound
	}
	if err != nil {
		return Agent{}, fmt.Errorf("resolving number: %w", err)
	}
	return agent, nil
}

// RecordCallStart inserts a call record for a session that just connected.
func (s *Store) RecordCallStart(ctx context.Context, agentID uuid.UUID, backendCallID string) (Call, error) {
	call := Call{ID: uuid.New(), AgentID: agentID, BackendCallID: backendCallID}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO calls (id, agent_id, backend_call_id)
		 VALUES ($1, $2, $3)
		 RETURNING started_at`,
		call.ID, call.AgentID, call.BackendCallID,
	).Scan(&call.StartedAt)
	if err != nil {
		return Call{}, fmt.Errorf("recording call start: %w", err)
	}
	return call, nil
}

// RecordCallEnd stamps a call finished, with an optional failure reason.
func (s *Store) RecordCallEnd(ctx context.Context, id uuid.UUID, failureReason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE calls SET ended_at = now(), failure_reason = $2
		 WHERE id = $1 AND ended_at IS NULL`,
		id, failureReason)
	if err != nil {
		return fmt.Errorf("recording call end: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
