// Package postgres implements storage.Store on top of a pgx connection
// pool.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "embed"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/driverline/screener/internal/domain"
	"github.com/driverline/screener/internal/storage"
)

//go:embed schema.sql
var schema string

// Store is the Postgres-backed storage.Store.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to the database and returns a Store.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool wraps an existing pool.
func NewWithPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate applies the embedded schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Conversation(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, application_id, conversation_status, screening_decision,
		       is_active, COALESCE(screening_summary, ''), created_at, updated_at
		FROM conversations WHERE id = $1`, id)
	return scanConversation(row)
}

func scanConversation(row pgx.Row) (*domain.Conversation, error) {
	var conv domain.Conversation
	err := row.Scan(&conv.ID, &conv.ApplicationID, &conv.Status, &conv.Decision,
		&conv.IsActive, &conv.Summary, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation: %w", err)
	}
	return &conv, nil
}

func (s *Store) CreateConversation(ctx context.Context, applicationID uuid.UUID) (*domain.Conversation, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO conversations (id, application_id)
		VALUES ($1, $2)
		RETURNING id, application_id, conversation_status, screening_decision,
		          is_active, COALESCE(screening_summary, ''), created_at, updated_at`,
		uuid.New(), applicationID)
	return scanConversation(row)
}

func (s *Store) SetSummary(ctx context.Context, conversationID uuid.UUID, summary string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conversations SET screening_summary = $2, updated_at = now()
		WHERE id = $1`, conversationID, summary)
	if err != nil {
		return fmt.Errorf("set summary: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) Application(ctx context.Context, id uuid.UUID) (*domain.Application, error) {
	var app domain.Application
	err := s.pool.QueryRow(ctx, `
		SELECT id, job_id, user_id FROM applications WHERE id = $1`, id).
		Scan(&app.ID, &app.JobID, &app.UserID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan application: %w", err)
	}
	return &app, nil
}

func (s *Store) Job(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	var job domain.Job
	err := s.pool.QueryRow(ctx, `SELECT id, title FROM jobs WHERE id = $1`, id).
		Scan(&job.ID, &job.Title)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}
	return &job, nil
}

func (s *Store) User(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	var user domain.User
	err := s.pool.QueryRow(ctx, `SELECT id, first_name FROM users WHERE id = $1`, id).
		Scan(&user.ID, &user.FirstName)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &user, nil
}

func (s *Store) JobFacts(ctx context.Context, jobID uuid.UUID) ([]domain.JobFact, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, job_id, fact_type, content FROM job_facts WHERE job_id = $1`, jobID)
	if err != nil {
		return nil, fmt.Errorf("query job facts: %w", err)
	}
	defer rows.Close()

	var facts []domain.JobFact
	for rows.Next() {
		var fact domain.JobFact
		if err := rows.Scan(&fact.ID, &fact.JobID, &fact.FactType, &fact.Content); err != nil {
			return nil, fmt.Errorf("scan job fact: %w", err)
		}
		facts = append(facts, fact)
	}
	return facts, rows.Err()
}

func (s *Store) Requirements(ctx context.Context, jobID uuid.UUID) ([]domain.Requirement, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, job_id, requirement_type, requirement_description, criteria, priority, created_at
		FROM job_requirements
		WHERE job_id = $1
		ORDER BY priority ASC, id ASC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("query requirements: %w", err)
	}
	defer rows.Close()

	var reqs []domain.Requirement
	for rows.Next() {
		var req domain.Requirement
		var criteriaRaw []byte
		if err := rows.Scan(&req.ID, &req.JobID, &req.Type, &req.Description,
			&criteriaRaw, &req.Priority, &req.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan requirement: %w", err)
		}
		if len(criteriaRaw) > 0 {
			if err := json.Unmarshal(criteriaRaw, &req.Criteria); err != nil {
				return nil, fmt.Errorf("decode requirement criteria: %w", err)
			}
		}
		reqs = append(reqs, req)
	}
	return reqs, rows.Err()
}

func (s *Store) Outcomes(ctx context.Context, conversationID uuid.UUID) ([]domain.Outcome, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, conversation_id, job_requirement_id, status, extracted_value,
		       follow_ups, evaluated_at, message_id
		FROM conversation_requirements
		WHERE conversation_id = $1`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []domain.Outcome
	for rows.Next() {
		var out domain.Outcome
		var valueRaw []byte
		if err := rows.Scan(&out.ID, &out.ConversationID, &out.RequirementID, &out.Status,
			&valueRaw, &out.FollowUps, &out.EvaluatedAt, &out.TurnID); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		if len(valueRaw) > 0 {
			if err := json.Unmarshal(valueRaw, &out.ExtractedValue); err != nil {
				return nil, fmt.Errorf("decode extracted value: %w", err)
			}
		}
		outcomes = append(outcomes, out)
	}
	return outcomes, rows.Err()
}

func (s *Store) EnsureOutcomes(ctx context.Context, conversationID uuid.UUID, requirementIDs []uuid.UUID) error {
	batch := &pgx.Batch{}
	for _, reqID := range requirementIDs {
		batch.Queue(`
			INSERT INTO conversation_requirements (id, conversation_id, job_requirement_id)
			VALUES ($1, $2, $3)
			ON CONFLICT (conversation_id, job_requirement_id) DO NOTHING`,
			uuid.New(), conversationID, reqID)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("ensure outcomes: %w", err)
	}
	return nil
}

func (s *Store) UpdateOutcome(ctx context.Context, conversationID, requirementID uuid.UUID, upd storage.OutcomeUpdate) error {
	var valueRaw []byte
	if upd.ExtractedValue != nil {
		var err error
		valueRaw, err = json.Marshal(upd.ExtractedValue)
		if err != nil {
			return fmt.Errorf("encode extracted value: %w", err)
		}
	}

	followUpBump := 0
	if upd.IncrementFollowUps {
		followUpBump = 1
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE conversation_requirements
		SET status = $3, extracted_value = $4, evaluated_at = $5,
		    message_id = $6, follow_ups = follow_ups + $7
		WHERE conversation_id = $1 AND job_requirement_id = $2`,
		conversationID, requirementID, upd.Status, valueRaw, upd.EvaluatedAt, upd.TurnID, followUpBump)
	if err != nil {
		return fmt.Errorf("update outcome: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) Turns(ctx context.Context, conversationID uuid.UUID) ([]domain.Turn, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, conversation_id, sender, content, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC, id ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var turns []domain.Turn
	for rows.Next() {
		var turn domain.Turn
		if err := rows.Scan(&turn.ID, &turn.ConversationID, &turn.Sender,
			&turn.Content, &turn.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turns = append(turns, turn)
	}
	return turns, rows.Err()
}

func (s *Store) AppendTurn(ctx context.Context, conversationID uuid.UUID, sender domain.Sender, content string) (*domain.Turn, error) {
	turn := domain.Turn{
		ID:             uuid.New(),
		ConversationID: conversationID,
		Sender:         sender,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (id, conversation_id, sender, content, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		turn.ID, turn.ConversationID, turn.Sender, turn.Content, turn.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("append turn: %w", err)
	}
	return &turn, nil
}

// CommitTurn appends the assistant turn and applies the status update
// inside one transaction. The decision column is guarded so an already
// terminal decision is never overwritten.
func (s *Store) CommitTurn(ctx context.Context, conversationID uuid.UUID, content string, upd *storage.StatusUpdate) (*domain.Turn, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin commit: %w", err)
	}
	defer tx.Rollback(ctx)

	turn := domain.Turn{
		ID:             uuid.New(),
		ConversationID: conversationID,
		Sender:         domain.SenderAssistant,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO messages (id, conversation_id, sender, content, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		turn.ID, turn.ConversationID, turn.Sender, turn.Content, turn.CreatedAt); err != nil {
		return nil, fmt.Errorf("append assistant turn: %w", err)
	}

	if upd != nil {
		tag, err := tx.Exec(ctx, `
			UPDATE conversations
			SET conversation_status = $2,
			    screening_decision = $3,
			    is_active = $4,
			    updated_at = now()
			WHERE id = $1
			  AND (screening_decision = 'PENDING' OR screening_decision = $3)`,
			conversationID, upd.Status, upd.Decision, upd.IsActive)
		if err != nil {
			return nil, fmt.Errorf("update conversation: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil, storage.ErrDecisionFinal
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit turn: %w", err)
	}
	return &turn, nil
}
