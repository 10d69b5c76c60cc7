package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Gateflow/internal/domain"
)

// ProcessRepo — репозиторий process instances.
type ProcessRepo struct {
	pool *pgxpool.Pool
}

// NewProcessRepo создаёт новый ProcessRepo.
func NewProcessRepo(pool *pgxpool.Pool) *ProcessRepo {
	return &ProcessRepo{pool: pool}
}

// Create создаёт новый process instance.
func (r *ProcessRepo) Create(ctx context.Context, inst *domain.ProcessInstance) error {
	variablesJSON, err := json.Marshal(inst.Variables)
	if err != nil {
		return fmt.Errorf("marshal variables: %w", err)
	}

	query := `
		INSERT INTO process_instances (id, definition_id, version, status, variables, started_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = r.pool.Exec(ctx, query,
		inst.ID,
		inst.DefinitionID,
		inst.Version,
		inst.Status,
		variablesJSON,
		inst.StartedAt,
		inst.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert process instance: %w", err)
	}
	return nil
}

// GetByID возвращает process instance по ID.
func (r *ProcessRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.ProcessInstance, error) {
	query := `
		SELECT id, definition_id, version, status, variables, started_at, finished_at, error, created_at
		FROM process_instances
		WHERE id = $1
	`
	return r.scanInstance(r.pool.QueryRow(ctx, query, id))
}

// Update обновляет статус и переменные process instance.
func (r *ProcessRepo) Update(ctx context.Context, inst *domain.ProcessInstance) error {
	variablesJSON, err := json.Marshal(inst.Variables)
	if err != nil {
		return fmt.Errorf("marshal variables: %w", err)
	}

	query := `
		UPDATE process_instances
		SET status = $2, variables = $3, finished_at = $4, error = $5
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query,
		inst.ID,
		inst.Status,
		variablesJSON,
		inst.FinishedAt,
		nullString(inst.Error),
	)
	if err != nil {
		return fmt.Errorf("update process instance: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRunning возвращает выполняющиеся process instances.
// Используется polling-fallback'ом оркестратора после рестарта.
func (r *ProcessRepo) ListRunning(ctx context.Context, limit int) ([]domain.ProcessInstance, error) {
	query := `
		SELECT id, definition_id, version, status, variables, started_at, finished_at, error, created_at
		FROM process_instances
		WHERE status = 'RUNNING'
		ORDER BY created_at ASC
		LIMIT $1
	`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list running instances: %w", err)
	}
	defer rows.Close()

	var instances []domain.ProcessInstance
	for rows.Next() {
		inst, err := r.scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, *inst)
	}
	return instances, rows.Err()
}

// Delete удаляет process instance.
// Экземпляры узлов каскадно удаляются NodeRepo.DeleteByProcessInstance.
func (r *ProcessRepo) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM process_instances WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete process instance: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// scanInstance сканирует одну строку в ProcessInstance.
func (r *ProcessRepo) scanInstance(row pgx.Row) (*domain.ProcessInstance, error) {
	var inst domain.ProcessInstance
	var variablesJSON []byte
	var instError *string

	err := row.Scan(
		&inst.ID,
		&inst.DefinitionID,
		&inst.Version,
		&inst.Status,
		&variablesJSON,
		&inst.StartedAt,
		&inst.FinishedAt,
		&instError,
		&inst.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan process instance: %w", err)
	}

	if variablesJSON != nil {
		if err := json.Unmarshal(variablesJSON, &inst.Variables); err != nil {
			return nil, fmt.Errorf("unmarshal variables: %w", err)
		}
	}
	if instError != nil {
		inst.Error = *instError
	}

	return &inst, nil
}

// nullString возвращает nil для пустой строки (NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
