package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shaiso/Gateflow/internal/domain"
	"github.com/shaiso/Gateflow/internal/mq"
	"github.com/shaiso/Gateflow/internal/repo"
	"github.com/shaiso/Gateflow/internal/telemetry"
)

// handleNodeReady обрабатывает событие о готовом узле из очереди nodes.ready.
func (w *Worker) handleNodeReady(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.NodeReadyPayload](&delivery.Message)
	if err != nil {
		w.logger.Error("failed to parse node.ready payload", "error", err)
		return err
	}

	w.logger.Debug("received node.ready event",
		"node_id", payload.NodeID,
		"instance_id", payload.InstanceID,
	)

	if err := w.processNode(ctx, payload.NodeID); err != nil {
		// Ожидаемые ситуации — не возвращаем ошибку (ack)
		if errors.Is(err, ErrNodeNotFound) || errors.Is(err, ErrNodeNotReady) || errors.Is(err, ErrManualActivity) {
			w.logger.Debug("node not processed", "node_id", payload.NodeID, "reason", err)
			return nil
		}
		w.logger.Error("failed to process node", "node_id", payload.NodeID, "error", err)
		return err
	}

	return nil
}

// processNode загружает узел из БД, выполняет активность
// и публикует результат.
func (w *Worker) processNode(ctx context.Context, nodeID uuid.UUID) error {
	if w.IsStopped() {
		return ErrWorkerStopped
	}

	// 1. Загружаем экземпляр узла
	node, err := w.nodeRepo.GetByID(ctx, nodeID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
		}
		return fmt.Errorf("get node: %w", err)
	}

	// 2. Проверяем состояние: READY — обычный путь,
	// EXECUTING — повторная доставка retry
	switch node.State {
	case domain.NodeStateReady:
		if err := node.MarkExecuting(); err != nil {
			return err
		}
		if err := w.nodeRepo.SaveState(ctx, node); err != nil {
			return fmt.Errorf("update node to executing: %w", err)
		}
	case domain.NodeStateExecuting:
		// retry: состояние уже переведено engine'ом
	default:
		return fmt.Errorf("%w: %s is %s", ErrNodeNotReady, nodeID, node.State)
	}

	// 3. Загружаем инстанс и определение процесса
	instance, err := w.processRepo.GetByID(ctx, node.ProcessInstanceID)
	if err != nil {
		return fmt.Errorf("get process instance: %w", err)
	}

	definition, err := w.definitionRepo.GetByID(ctx, instance.DefinitionID)
	if err != nil {
		return fmt.Errorf("get definition: %w", err)
	}

	def := definition.NodeByID(node.DefinitionID)
	if def == nil {
		return fmt.Errorf("%w: %s", ErrDefinitionMismatch, node.DefinitionID)
	}

	// Manual-активности завершает оператор — узел остаётся как есть
	if def.ActivityType == domain.ActivityManual {
		return ErrManualActivity
	}

	logger := telemetry.WithNodeID(w.logger, node.ID.String())

	logger.Info("node started",
		"instance_id", node.ProcessInstanceID,
		"definition_id", node.DefinitionID,
		"activity_type", def.ActivityType,
		"attempt", node.Attempt,
	)

	// 4. Выполняем
	result, execErr := w.execute(ctx, &Execution{
		Node:      node,
		Def:       def,
		Variables: instance.Variables,
	})

	// 5. Обрабатываем результат
	if execErr == nil && (result == nil || result.Error == "") {
		if err := node.MarkCompleted(); err != nil {
			return err
		}
		if err := w.nodeRepo.SaveState(ctx, node); err != nil {
			return fmt.Errorf("update node to completed: %w", err)
		}

		var outputs map[string]any
		if result != nil && len(result.Outputs) > 0 {
			outputs = result.Outputs
			if err := w.saveOutputs(ctx, instance, outputs); err != nil {
				logger.Warn("failed to save outputs", "error", err)
			}
		}

		telemetry.NodesExecuted.WithLabelValues(def.ActivityType, string(node.State)).Inc()

		logger.Info("node completed",
			"instance_id", node.ProcessInstanceID,
			"definition_id", node.DefinitionID,
			"attempt", node.Attempt,
		)

		return w.publishCompletion(ctx, node, "", outputs)
	}

	errMsg := ""
	if execErr != nil {
		errMsg = execErr.Error()
	} else {
		errMsg = result.Error
	}

	if err := node.MarkFailed(errMsg); err != nil {
		return err
	}
	if err := w.nodeRepo.SaveState(ctx, node); err != nil {
		return fmt.Errorf("update node to failed: %w", err)
	}

	telemetry.NodesExecuted.WithLabelValues(def.ActivityType, string(node.State)).Inc()

	logger.Warn("node failed",
		"instance_id", node.ProcessInstanceID,
		"definition_id", node.DefinitionID,
		"attempt", node.Attempt,
		"error", errMsg,
	)

	return w.publishCompletion(ctx, node, errMsg, nil)
}

// saveOutputs сливает выходные переменные выполнения в переменные
// process instance и персистит их.
func (w *Worker) saveOutputs(ctx context.Context, instance *domain.ProcessInstance, outputs map[string]any) error {
	if instance.Variables == nil {
		instance.Variables = make(map[string]any, len(outputs))
	}
	for k, v := range outputs {
		instance.Variables[k] = v
	}
	return w.processRepo.Update(ctx, instance)
}

// execute выполняет активность через зарегистрированный executor.
func (w *Worker) execute(ctx context.Context, exec *Execution) (*ExecutionResult, error) {
	activityType := exec.Def.ActivityType
	if activityType == "" {
		activityType = domain.ActivityAuto
	}

	executor, err := w.registry.Get(activityType)
	if err != nil {
		return nil, err
	}

	return executor.Execute(ctx, exec)
}

// publishCompletion публикует событие node.completed.
func (w *Worker) publishCompletion(ctx context.Context, node *domain.FlowNodeInstance, errMsg string, outputs map[string]any) error {
	if w.publisher == nil {
		w.logger.Warn("publisher not available, skipping node.completed publish",
			"node_id", node.ID,
		)
		return nil
	}

	payload := mq.NodeCompletedPayload{
		NodeID:       node.ID,
		InstanceID:   node.ProcessInstanceID,
		DefinitionID: node.DefinitionID,
		Status:       string(node.State),
		Error:        errMsg,
		Attempt:      node.Attempt,
		Outputs:      outputs,
	}

	if err := w.publisher.PublishNodeCompleted(ctx, payload); err != nil {
		w.logger.Warn("failed to publish node.completed",
			"node_id", node.ID,
			"error", err,
		)
		// Не возвращаем ошибку — узел обновлён в БД, engine подхватит через polling
	}

	return nil
}
