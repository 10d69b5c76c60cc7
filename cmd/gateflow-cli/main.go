// Gateflow CLI — инструмент командной строки для управления
// definitions, instances и узлами напрямую через PostgreSQL и RabbitMQ.
//
// Использование:
//
//	gateflow [--json] <command> <subcommand> [flags]
//
// Команды:
//
//	definition  Управление process definitions
//	instance    Управление process instances и их узлами
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaiso/Gateflow/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "gateflow",
		Short:         "Gateflow CLI — process execution tool",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	// CLI шумит только предупреждениями — вывод команд идёт через Output.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	depsFn := func(cmd *cobra.Command) (*cli.Deps, error) {
		return cli.Connect(cmd.Context(), logger)
	}
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewDefinitionCmd(depsFn, outputFn),
		cli.NewInstanceCmd(depsFn, outputFn),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
