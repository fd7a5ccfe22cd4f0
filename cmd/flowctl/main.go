// Command flowctl validates and dry-runs flow definitions offline, and
// serves a flow's start/callback endpoints over HTTP.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/flowforge/txorchestrator/flow"
	"github.com/flowforge/txorchestrator/internal/logger"
	"github.com/flowforge/txorchestrator/orchestrator"
)

func setupFlags(cmd *cobra.Command) error {
	cmd.PersistentFlags().String("config-file", "", "Path to config file.")
	cmd.PersistentFlags().String("redis-addr", "localhost:6379", "comma separated list of redis host:port")
	cmd.PersistentFlags().String("namespace", "txorchestrator", "namespace used in the durable store")
	cmd.PersistentFlags().Int("http-port", 8080, "http port for the callback listener")
	cmd.PersistentFlags().String("storage-impl", "memory", "storage: memory, or redis to also keep a durable event trail")
	return viper.BindPFlags(cmd.PersistentFlags())
}

func loadConfig(cmd *cobra.Command) (config, error) {
	var cfg config

	configFile, err := cmd.Flags().GetString("config-file")
	if err != nil {
		return cfg, err
	}
	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return cfg, err
			}
		}
	}

	cfg.RedisAddrs = strings.Split(viper.GetString("redis-addr"), ",")
	cfg.Namespace = viper.GetString("namespace")
	cfg.HTTPPort = viper.GetInt("http-port")
	cfg.StorageType = StorageType(viper.GetString("storage-impl"))
	return cfg, nil
}

func loadDefinition(path string) (*flow.Definition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading flow definition: %w", err)
	}
	var def flow.Definition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("parsing flow definition: %w", err)
	}
	return &def, nil
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <flow.json>",
		Short: "Compile a flow definition and report its structure or its error",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := loadDefinition(args[0])
			if err != nil {
				return err
			}
			dag, err := flow.Compile(def)
			if err != nil {
				return err
			}
			fmt.Printf("flow OK: %d step(s), %d root(s)\n", len(dag.Nodes), len(dag.RootIndices))
			for _, n := range dag.Nodes {
				fmt.Printf("  [%d] depth=%d action=%q maxRetries=%d async=%v noWait=%v forwardResponse=%v continueOnPermanentFailure=%v\n",
					n.Index, n.Depth, n.Action, n.MaxRetries, n.Async, n.NoWait, n.ForwardResponse, n.ContinueOnPermanentFailure)
			}
			return nil
		},
	}
}

func newDryRunCmd() *cobra.Command {
	var inputJSON string
	var flowName string

	cmd := &cobra.Command{
		Use:   "dry-run <flow.json>",
		Short: "Run a flow definition against a handler that always succeeds, printing dispatch order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := loadDefinition(args[0])
			if err != nil {
				return err
			}
			orch, err := orchestrator.New(flowName, def)
			if err != nil {
				return err
			}

			var payload map[string]any
			if inputJSON != "" {
				if err := json.Unmarshal([]byte(inputJSON), &payload); err != nil {
					return fmt.Errorf("parsing --input: %w", err)
				}
			}

			handler := func(_ context.Context, action string, handlerType orchestrator.HandlerType, payload orchestrator.Payload) (map[string]any, error) {
				fmt.Printf("dispatch action=%q type=%s attempt=%d\n", action, handlerType, payload.Metadata.Attempt)
				return map[string]any{}, nil
			}

			tx := orch.BeginTransaction("", handler, payload)
			if err := orch.Resume(context.Background(), tx); err != nil {
				return err
			}
			fmt.Printf("final status: %s (partial=%v)\n", tx.Status, tx.IsPartiallyCompleted)
			return nil
		},
	}
	cmd.Flags().StringVar(&inputJSON, "input", "", "JSON object used as the initial payload")
	cmd.Flags().StringVar(&flowName, "flow-name", "flowctl-dry-run", "producer name reported in dispatch metadata")
	return cmd
}

func main() {
	var cfg config

	root := &cobra.Command{
		Use:   "flowctl",
		Short: "Validate and exercise transaction-orchestrator flow definitions",
	}
	if err := setupFlags(root); err != nil {
		log.Fatal(err)
	}
	root.PersistentFlags().Int("transaction-ttl", 3600, "seconds a serve command keeps a transaction reachable by callbacks after it begins; finished transactions are dropped at once")
	if err := viper.BindPFlag("transaction-ttl", root.PersistentFlags().Lookup("transaction-ttl")); err != nil {
		log.Fatal(err)
	}
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		loaded, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		loaded.TransactionTTL = viper.GetInt("transaction-ttl")
		cfg = loaded
		return nil
	}

	root.AddCommand(newValidateCmd(), newDryRunCmd(), newServeCmd(&cfg))

	if err := root.Execute(); err != nil {
		logger.Error("flowctl failed", zap.Error(err))
		log.Fatal(err)
	}
}
