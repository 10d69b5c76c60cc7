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

// DefinitionRepo — репозиторий определений процессов.
//
// Определение неизменяемо после деплоя: репозиторий умеет только
// создавать новые версии и читать существующие.
type DefinitionRepo struct {
	pool *pgxpool.Pool
}

// NewDefinitionRepo создаёт новый DefinitionRepo.
func NewDefinitionRepo(pool *pgxpool.Pool) *DefinitionRepo {
	return &DefinitionRepo{pool: pool}
}

// Create сохраняет новую версию определения.
// Номер версии — автоинкремент в рамках имени.
func (r *DefinitionRepo) Create(ctx context.Context, def *domain.ProcessDefinition) error {
	nodesJSON, err := json.Marshal(def.Nodes)
	if err != nil {
		return fmt.Errorf("marshal nodes: %w", err)
	}

	query := `
		INSERT INTO process_definitions (id, name, version, nodes, created_at)
		VALUES ($1, $2,
			(SELECT COALESCE(MAX(version), 0) + 1 FROM process_definitions WHERE name = $2),
			$3, $4)
		RETURNING version
	`
	err = r.pool.QueryRow(ctx, query,
		def.ID,
		def.Name,
		nodesJSON,
		def.CreatedAt,
	).Scan(&def.Version)
	if err != nil {
		return fmt.Errorf("insert definition: %w", err)
	}
	return nil
}

// GetByID возвращает определение по ID.
func (r *DefinitionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.ProcessDefinition, error) {
	query := `
		SELECT id, name, version, nodes, created_at
		FROM process_definitions
		WHERE id = $1
	`
	return r.scanDefinition(r.pool.QueryRow(ctx, query, id))
}

// GetLatestByName возвращает последнюю версию определения по имени.
func (r *DefinitionRepo) GetLatestByName(ctx context.Context, name string) (*domain.ProcessDefinition, error) {
	query := `
		SELECT id, name, version, nodes, created_at
		FROM process_definitions
		WHERE name = $1
		ORDER BY version DESC
		LIMIT 1
	`
	return r.scanDefinition(r.pool.QueryRow(ctx, query, name))
}

// GetVersion возвращает конкретную версию определения по имени.
func (r *DefinitionRepo) GetVersion(ctx context.Context, name string, version int) (*domain.ProcessDefinition, error) {
	query := `
		SELECT id, name, version, nodes, created_at
		FROM process_definitions
		WHERE name = $1 AND version = $2
	`
	return r.scanDefinition(r.pool.QueryRow(ctx, query, name, version))
}

// List возвращает последние версии всех определений.
func (r *DefinitionRepo) List(ctx context.Context) ([]domain.ProcessDefinition, error) {
	query := `
		SELECT DISTINCT ON (name) id, name, version, nodes, created_at
		FROM process_definitions
		ORDER BY name, version DESC
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list definitions: %w", err)
	}
	defer rows.Close()

	var defs []domain.ProcessDefinition
	for rows.Next() {
		def, err := r.scanDefinition(rows)
		if err != nil {
			return nil, err
		}
		defs = append(defs, *def)
	}
	return defs, rows.Err()
}

// scanDefinition сканирует одну строку в ProcessDefinition.
func (r *DefinitionRepo) scanDefinition(row pgx.Row) (*domain.ProcessDefinition, error) {
	var def domain.ProcessDefinition
	var nodesJSON []byte

	err := row.Scan(
		&def.ID,
		&def.Name,
		&def.Version,
		&nodesJSON,
		&def.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan definition: %w", err)
	}

	if err := json.Unmarshal(nodesJSON, &def.Nodes); err != nil {
		return nil, fmt.Errorf("unmarshal nodes: %w", err)
	}

	return &def, nil
}
