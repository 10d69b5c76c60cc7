package cli

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/shaiso/Gateflow/internal/domain"
	"github.com/shaiso/Gateflow/internal/mq"
)

// NewInstanceCmd создаёт группу команд для управления process instances.
func NewInstanceCmd(depsFn DepsFn, outputFn OutputFn) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "instance",
		Short: "Manage process instances",
	}

	cmd.AddCommand(
		newInstanceStartCmd(depsFn, outputFn),
		newInstanceListCmd(depsFn, outputFn),
		newInstanceShowCmd(depsFn, outputFn),
		newInstanceDeleteCmd(depsFn, outputFn),
		newNodeCompleteCmd(depsFn, outputFn),
		newNodeRetryCmd(depsFn, outputFn),
		newKillBranchCmd(depsFn, outputFn),
	)

	return cmd
}

func newInstanceStartCmd(depsFn DepsFn, outputFn OutputFn) *cobra.Command {
	var version int
	var varsJSON string
	var varFlags []string

	cmd := &cobra.Command{
		Use:   "start NAME",
		Short: "Start a new instance of a process definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			variables, err := parseVariables(varsJSON, varFlags)
			if err != nil {
				return err
			}

			deps, err := depsFn(cmd)
			if err != nil {
				return err
			}
			defer deps.Close()

			var def *domain.ProcessDefinition
			if version > 0 {
				def, err = deps.Definitions.GetVersion(cmd.Context(), args[0], version)
			} else {
				def, err = deps.Definitions.GetLatestByName(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}

			instance := domain.NewProcessInstance(def, variables)
			if err := deps.Processes.Create(cmd.Context(), instance); err != nil {
				return err
			}

			if deps.Publisher != nil {
				if err := deps.Publisher.PublishInstancePending(cmd.Context(), instance.ID); err != nil {
					out.Error(fmt.Sprintf("publish failed, engine will pick up via polling: %v", err))
				}
			}

			out.Success(fmt.Sprintf("Instance started: %s", instance.ID))
			out.Detail([][2]string{
				{"ID", instance.ID.String()},
				{"Definition", fmt.Sprintf("%s v%d", def.Name, def.Version)},
				{"Status", string(instance.Status)},
			}, instance)
			return nil
		},
	}

	cmd.Flags().IntVar(&version, "version", 0, "Definition version (default: latest)")
	cmd.Flags().StringVar(&varsJSON, "vars", "", "Instance variables as JSON object")
	cmd.Flags().StringArrayVar(&varFlags, "var", nil, "Instance variable key=value (repeatable)")

	return cmd
}

// parseVariables собирает переменные из --vars (JSON) и --var (key=value).
// Значения --var парсятся как JSON-скаляры, иначе остаются строками.
func parseVariables(varsJSON string, varFlags []string) (map[string]any, error) {
	variables := make(map[string]any)

	if varsJSON != "" {
		if err := json.Unmarshal([]byte(varsJSON), &variables); err != nil {
			return nil, fmt.Errorf("parse --vars: %w", err)
		}
	}

	for _, kv := range varFlags {
		key, value, found := strings.Cut(kv, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid --var %q, expected key=value", kv)
		}

		var parsed any
		if err := json.Unmarshal([]byte(value), &parsed); err != nil {
			parsed = value
		}
		variables[key] = parsed
	}

	return variables, nil
}

func newInstanceListCmd(depsFn DepsFn, outputFn OutputFn) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List running instances",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			deps, err := depsFn(cmd)
			if err != nil {
				return err
			}
			defer deps.Close()

			instances, err := deps.Processes.ListRunning(cmd.Context(), limit)
			if err != nil {
				return err
			}

			headers := []string{"ID", "DEFINITION", "VERSION", "STATUS", "STARTED"}
			rows := make([][]string, len(instances))
			for i, inst := range instances {
				rows[i] = []string{
					inst.ID.String(),
					inst.DefinitionID.String(),
					strconv.Itoa(inst.Version),
					string(inst.Status),
					inst.StartedAt.Format(time.RFC3339),
				}
			}

			out.Print(headers, rows, instances)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of instances")

	return cmd
}

func newInstanceShowCmd(depsFn DepsFn, outputFn OutputFn) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show instance details with its node instances",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			instanceID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid instance ID: %w", err)
			}

			deps, err := depsFn(cmd)
			if err != nil {
				return err
			}
			defer deps.Close()

			instance, err := deps.Processes.GetByID(cmd.Context(), instanceID)
			if err != nil {
				return err
			}

			nodes, err := deps.Nodes.ListByProcessInstance(cmd.Context(), instanceID)
			if err != nil {
				return err
			}

			out.Detail([][2]string{
				{"ID", instance.ID.String()},
				{"Definition", instance.DefinitionID.String()},
				{"Version", strconv.Itoa(instance.Version)},
				{"Status", string(instance.Status)},
				{"Started", instance.StartedAt.Format(time.RFC3339)},
				{"Error", instance.Error},
			}, struct {
				Instance *domain.ProcessInstance   `json:"instance"`
				Nodes    []domain.FlowNodeInstance `json:"nodes"`
			}{instance, nodes})

			if len(nodes) == 0 {
				return nil
			}

			headers := []string{"NODE_ID", "DEFINITION", "STATE", "CYCLE", "ATTEMPT", "ERROR"}
			rows := make([][]string, len(nodes))
			for i, n := range nodes {
				rows[i] = []string{
					n.ID.String(),
					n.DefinitionID,
					string(n.State),
					strconv.Itoa(n.Cycle),
					strconv.Itoa(n.Attempt),
					n.Error,
				}
			}
			out.Table(headers, rows)
			return nil
		},
	}
}

func newInstanceDeleteCmd(depsFn DepsFn, outputFn OutputFn) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Cancel an instance and remove its node instances",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			instanceID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid instance ID: %w", err)
			}

			deps, err := depsFn(cmd)
			if err != nil {
				return err
			}
			defer deps.Close()

			ctx := cmd.Context()

			instance, err := deps.Processes.GetByID(ctx, instanceID)
			if err != nil {
				return err
			}

			// Engine гасит живые токены и закрывает слияния fail-closed
			// по событию; БД чистится здесь же, не дожидаясь engine
			if deps.Publisher != nil {
				if err := deps.Publisher.PublishInstanceCancelled(ctx, instanceID); err != nil {
					out.Error(fmt.Sprintf("publish failed, engine will notice via polling: %v", err))
				}
			}

			// Сначала инстанс гасится, затем каскад по экземплярам.
			// Engine увидит CANCELLED/отсутствие записи и не выдаст токенов.
			if !instance.IsFinished() {
				instance.MarkCancelled()
				if err := deps.Processes.Update(ctx, instance); err != nil {
					return err
				}
			}

			if err := deps.Nodes.ArchiveByProcessInstance(ctx, instanceID); err != nil {
				return err
			}
			if err := deps.Nodes.DeleteByProcessInstance(ctx, instanceID); err != nil {
				return err
			}
			if err := deps.Processes.Delete(ctx, instanceID); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Instance deleted: %s", instanceID))
			return nil
		},
	}
}

func newNodeCompleteCmd(depsFn DepsFn, outputFn OutputFn) *cobra.Command {
	return &cobra.Command{
		Use:   "complete NODE_ID",
		Short: "Complete a manual node instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			nodeID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid node ID: %w", err)
			}

			deps, err := depsFn(cmd)
			if err != nil {
				return err
			}
			defer deps.Close()

			ctx := cmd.Context()

			node, err := deps.Nodes.GetByID(ctx, nodeID)
			if err != nil {
				return err
			}

			if node.State == domain.NodeStateReady {
				if err := node.MarkExecuting(); err != nil {
					return err
				}
			}
			if err := node.MarkCompleted(); err != nil {
				return err
			}
			if err := deps.Nodes.SaveState(ctx, node); err != nil {
				return err
			}

			if deps.Publisher != nil {
				err := deps.Publisher.PublishNodeCompleted(ctx, mq.NodeCompletedPayload{
					NodeID:       node.ID,
					InstanceID:   node.ProcessInstanceID,
					DefinitionID: node.DefinitionID,
					Status:       string(node.State),
					Attempt:      node.Attempt,
				})
				if err != nil {
					out.Error(fmt.Sprintf("publish failed, engine will pick up via polling: %v", err))
				}
			}

			out.Success(fmt.Sprintf("Node completed: %s (%s)", nodeID, node.DefinitionID))
			return nil
		},
	}
}

func newNodeRetryCmd(depsFn DepsFn, outputFn OutputFn) *cobra.Command {
	var varsJSON string
	var varFlags []string

	cmd := &cobra.Command{
		Use:   "retry NODE_ID",
		Short: "Retry a failed node instance",
		Long: `Retry a failed node instance, optionally with corrected variables.

The request goes through the engine: its in-memory state is updated,
a FAILED instance is reopened, and the node is handed back to a worker.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			nodeID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid node ID: %w", err)
			}

			variables, err := parseVariables(varsJSON, varFlags)
			if err != nil {
				return err
			}

			deps, err := depsFn(cmd)
			if err != nil {
				return err
			}
			defer deps.Close()

			ctx := cmd.Context()

			node, err := deps.Nodes.GetByID(ctx, nodeID)
			if err != nil {
				return err
			}

			if deps.Publisher != nil {
				err := deps.Publisher.PublishNodeRetry(ctx, mq.NodeRetryPayload{
					NodeID:     node.ID,
					InstanceID: node.ProcessInstanceID,
					Variables:  variables,
				})
				if err != nil {
					return err
				}
				out.Success(fmt.Sprintf("Node retry dispatched: %s (%s)", nodeID, node.DefinitionID))
				return nil
			}

			// Без MQ retry записывается напрямую в БД: engine подхватит
			// переоткрытый инстанс через polling, а перевыполнение узла
			// требует доставки node.ready воркеру. Полноценный retry
			// идёт через очередь nodes.retry
			instance, err := deps.Processes.GetByID(ctx, node.ProcessInstanceID)
			if err != nil {
				return err
			}

			if len(variables) > 0 {
				if instance.Variables == nil {
					instance.Variables = make(map[string]any)
				}
				for k, v := range variables {
					instance.Variables[k] = v
				}
			}
			if instance.Status == domain.InstanceStatusFailed {
				instance.MarkRunning()
			}
			if err := deps.Processes.Update(ctx, instance); err != nil {
				return err
			}

			if err := node.MarkRetrying(); err != nil {
				return err
			}
			if err := deps.Nodes.SaveState(ctx, node); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Node retry recorded: %s (attempt %d)", nodeID, node.Attempt))
			return nil
		},
	}

	cmd.Flags().StringVar(&varsJSON, "vars", "", "Corrected variables as JSON object")
	cmd.Flags().StringArrayVar(&varFlags, "var", nil, "Corrected variable key=value (repeatable)")

	return cmd
}

func newKillBranchCmd(depsFn DepsFn, outputFn OutputFn) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "kill-branch NODE_ID",
		Short: "Mark the branch with the given frontier node as dead",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			nodeID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid node ID: %w", err)
			}

			deps, err := depsFn(cmd)
			if err != nil {
				return err
			}
			defer deps.Close()

			ctx := cmd.Context()

			node, err := deps.Nodes.GetByID(ctx, nodeID)
			if err != nil {
				return err
			}

			if deps.Publisher == nil {
				return fmt.Errorf("RabbitMQ connection required for kill-branch")
			}

			err = deps.Publisher.PublishBranchDied(ctx, mq.BranchDiedPayload{
				NodeID:       node.ID,
				InstanceID:   node.ProcessInstanceID,
				DefinitionID: node.DefinitionID,
				Reason:       reason,
			})
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Branch death published: %s (%s)", nodeID, node.DefinitionID))
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "operator", "Reason recorded with the branch death")

	return cmd
}
