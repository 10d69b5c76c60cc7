package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/shaiso/Gateflow/internal/domain"
	"github.com/shaiso/Gateflow/internal/engine"
)

// DepsFn — ленивое создание зависимостей после парсинга флагов.
type DepsFn func(cmd *cobra.Command) (*Deps, error)

// OutputFn — ленивое создание Output после парсинга флагов.
type OutputFn func() *Output

// NewDefinitionCmd создаёт группу команд для управления определениями процессов.
func NewDefinitionCmd(depsFn DepsFn, outputFn OutputFn) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "definition",
		Short: "Manage process definitions",
	}

	cmd.AddCommand(
		newDefinitionDeployCmd(depsFn, outputFn),
		newDefinitionListCmd(depsFn, outputFn),
		newDefinitionShowCmd(depsFn, outputFn),
	)

	return cmd
}

// definitionFile — формат файла для deploy.
type definitionFile struct {
	Name  string                      `json:"name"`
	Nodes []domain.FlowNodeDefinition `json:"nodes"`
}

func newDefinitionDeployCmd(depsFn DepsFn, outputFn OutputFn) *cobra.Command {
	return &cobra.Command{
		Use:   "deploy FILE",
		Short: "Deploy a process definition from a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read file: %w", err)
			}

			var file definitionFile
			if err := json.Unmarshal(data, &file); err != nil {
				return fmt.Errorf("parse definition: %w", err)
			}
			if file.Name == "" {
				return fmt.Errorf("definition must have a name")
			}

			def := &domain.ProcessDefinition{
				ID:        uuid.New(),
				Name:      file.Name,
				Nodes:     file.Nodes,
				CreatedAt: time.Now(),
			}

			// Деплой отклоняет некорректный граф целиком
			if _, err := engine.BuildGraph(def); err != nil {
				return fmt.Errorf("definition rejected: %w", err)
			}

			deps, err := depsFn(cmd)
			if err != nil {
				return err
			}
			defer deps.Close()

			if err := deps.Definitions.Create(cmd.Context(), def); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Definition deployed: %s v%d", def.Name, def.Version))
			out.Print(
				[]string{"ID", "NAME", "VERSION", "NODES"},
				[][]string{{def.ID.String(), def.Name, strconv.Itoa(def.Version), strconv.Itoa(len(def.Nodes))}},
				def,
			)
			return nil
		},
	}
}

func newDefinitionListCmd(depsFn DepsFn, outputFn OutputFn) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List latest versions of all definitions",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			deps, err := depsFn(cmd)
			if err != nil {
				return err
			}
			defer deps.Close()

			defs, err := deps.Definitions.List(cmd.Context())
			if err != nil {
				return err
			}

			headers := []string{"ID", "NAME", "VERSION", "NODES", "CREATED"}
			rows := make([][]string, len(defs))
			for i, d := range defs {
				rows[i] = []string{
					d.ID.String(),
					d.Name,
					strconv.Itoa(d.Version),
					strconv.Itoa(len(d.Nodes)),
					d.CreatedAt.Format(time.RFC3339),
				}
			}

			out.Print(headers, rows, defs)
			return nil
		},
	}
}

func newDefinitionShowCmd(depsFn DepsFn, outputFn OutputFn) *cobra.Command {
	var version int

	cmd := &cobra.Command{
		Use:   "show NAME",
		Short: "Show definition details (latest version by default)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

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

			headers := []string{"NODE", "KIND", "TYPE", "OUTGOING"}
			rows := make([][]string, len(def.Nodes))
			for i := range def.Nodes {
				n := &def.Nodes[i]
				nodeType := string(n.EventType)
				if n.IsGateway() {
					nodeType = string(n.GatewayType)
				} else if n.Kind == domain.KindActivity {
					nodeType = n.ActivityType
				}
				rows[i] = []string{n.ID, string(n.Kind), nodeType, strconv.Itoa(len(n.Outgoing))}
			}

			out.Success(fmt.Sprintf("%s v%d (%s)", def.Name, def.Version, def.ID))
			out.Print(headers, rows, def)
			return nil
		},
	}

	cmd.Flags().IntVar(&version, "version", 0, "Definition version (default: latest)")

	return cmd
}
