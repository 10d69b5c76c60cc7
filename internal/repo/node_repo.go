package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Gateflow/internal/domain"
)

// NodeRepo — репозиторий экземпляров flow nodes.
//
// Реализует контракт персистентности ядра: создать экземпляр,
// прочитать состояние, сохранить состояние (включая hit-счётчик шлюза),
// каскадно удалить экземпляры процесса.
type NodeRepo struct {
	pool *pgxpool.Pool
}

// NewNodeRepo создаёт новый NodeRepo.
func NewNodeRepo(pool *pgxpool.Pool) *NodeRepo {
	return &NodeRepo{pool: pool}
}

// Create сохраняет новый экземпляр узла.
func (r *NodeRepo) Create(ctx context.Context, node *domain.FlowNodeInstance) error {
	query := `
		INSERT INTO flow_node_instances
			(id, process_instance_id, definition_id, kind, state, cycle, attempt, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.pool.Exec(ctx, query,
		node.ID,
		node.ProcessInstanceID,
		node.DefinitionID,
		node.Kind,
		node.State,
		node.Cycle,
		node.Attempt,
		nullString(node.Error),
		node.CreatedAt,
		node.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert node instance: %w", err)
	}
	return nil
}

// CreateGateway сохраняет новый экземпляр шлюза (с merge-колонками).
func (r *NodeRepo) CreateGateway(ctx context.Context, gw *domain.GatewayInstance) error {
	query := `
		INSERT INTO flow_node_instances
			(id, process_instance_id, definition_id, kind, state, cycle, attempt, error,
			 gateway_type, hit_count, expected, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := r.pool.Exec(ctx, query,
		gw.ID,
		gw.ProcessInstanceID,
		gw.DefinitionID,
		gw.Kind,
		gw.State,
		gw.Cycle,
		gw.Attempt,
		nullString(gw.Error),
		gw.GatewayType,
		gw.HitCount,
		gw.Expected,
		gw.CreatedAt,
		gw.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert gateway instance: %w", err)
	}
	return nil
}

// GetByID возвращает экземпляр узла по ID.
func (r *NodeRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.FlowNodeInstance, error) {
	query := `
		SELECT id, process_instance_id, definition_id, kind, state, cycle, attempt, error, created_at, updated_at
		FROM flow_node_instances
		WHERE id = $1
	`
	return r.scanNode(r.pool.QueryRow(ctx, query, id))
}

// ListByProcessInstance возвращает все экземпляры узлов процесса.
func (r *NodeRepo) ListByProcessInstance(ctx context.Context, processInstanceID uuid.UUID) ([]domain.FlowNodeInstance, error) {
	query := `
		SELECT id, process_instance_id, definition_id, kind, state, cycle, attempt, error, created_at, updated_at
		FROM flow_node_instances
		WHERE process_instance_id = $1
		ORDER BY created_at ASC
	`
	rows, err := r.pool.Query(ctx, query, processInstanceID)
	if err != nil {
		return nil, fmt.Errorf("list node instances: %w", err)
	}
	defer rows.Close()

	var nodes []domain.FlowNodeInstance
	for rows.Next() {
		node, err := r.scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, *node)
	}
	return nodes, rows.Err()
}

// ListReady возвращает экземпляры узлов в состоянии READY (для polling fallback).
func (r *NodeRepo) ListReady(ctx context.Context, limit int) ([]domain.FlowNodeInstance, error) {
	query := `
		SELECT id, process_instance_id, definition_id, kind, state, cycle, attempt, error, created_at, updated_at
		FROM flow_node_instances
		WHERE state = $1
		ORDER BY created_at ASC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, domain.NodeStateReady, limit)
	if err != nil {
		return nil, fmt.Errorf("list ready nodes: %w", err)
	}
	defer rows.Close()

	var nodes []domain.FlowNodeInstance
	for rows.Next() {
		node, err := r.scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, *node)
	}
	return nodes, rows.Err()
}

// SaveState сохраняет состояние экземпляра узла.
func (r *NodeRepo) SaveState(ctx context.Context, node *domain.FlowNodeInstance) error {
	query := `
		UPDATE flow_node_instances
		SET state = $2, cycle = $3, attempt = $4, error = $5, updated_at = $6
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query,
		node.ID,
		node.State,
		node.Cycle,
		node.Attempt,
		nullString(node.Error),
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("save node state: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveGatewayState сохраняет состояние шлюза вместе с hit-счётчиком.
func (r *NodeRepo) SaveGatewayState(ctx context.Context, gw *domain.GatewayInstance) error {
	query := `
		UPDATE flow_node_instances
		SET state = $2, cycle = $3, hit_count = $4, expected = $5, updated_at = $6
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query,
		gw.ID,
		gw.State,
		gw.Cycle,
		gw.HitCount,
		gw.Expected,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("save gateway state: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ArchiveByProcessInstance переводит все экземпляры процесса в ARCHIVED.
func (r *NodeRepo) ArchiveByProcessInstance(ctx context.Context, processInstanceID uuid.UUID) error {
	query := `
		UPDATE flow_node_instances
		SET state = $2, updated_at = $3
		WHERE process_instance_id = $1 AND state != $2
	`
	_, err := r.pool.Exec(ctx, query, processInstanceID, domain.NodeStateArchived, time.Now())
	if err != nil {
		return fmt.Errorf("archive node instances: %w", err)
	}
	return nil
}

// DeleteByProcessInstance удаляет все экземпляры узлов процесса.
func (r *NodeRepo) DeleteByProcessInstance(ctx context.Context, processInstanceID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM flow_node_instances WHERE process_instance_id = $1`,
		processInstanceID,
	)
	if err != nil {
		return fmt.Errorf("delete node instances: %w", err)
	}
	return nil
}

// scanNode сканирует одну строку в FlowNodeInstance.
func (r *NodeRepo) scanNode(row pgx.Row) (*domain.FlowNodeInstance, error) {
	var node domain.FlowNodeInstance
	var nodeError *string

	err := row.Scan(
		&node.ID,
		&node.ProcessInstanceID,
		&node.DefinitionID,
		&node.Kind,
		&node.State,
		&node.Cycle,
		&node.Attempt,
		&nodeError,
		&node.CreatedAt,
		&node.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan node instance: %w", err)
	}

	if nodeError != nil {
		node.Error = *nodeError
	}

	return &node, nil
}
