package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ghealysr/nicole-assistant-sub000/internal/config"
	httpserver "github.com/ghealysr/nicole-assistant-sub000/internal/http"
	"github.com/ghealysr/nicole-assistant-sub000/internal/log"
	internal_storage "github.com/ghealysr/nicole-assistant-sub000/internal/storage"
	"github.com/ghealysr/nicole-assistant-sub000/internal/trigger"
	"github.com/ghealysr/nicole-assistant-sub000/pkg/engine"
	"github.com/ghealysr/nicole-assistant-sub000/pkg/registry"
	"github.com/ghealysr/nicole-assistant-sub000/pkg/storage"
	"github.com/ghealysr/nicole-assistant-sub000/pkg/workflow"
)

func SetupCLI(rootCmd *cobra.Command) {
	rootCmd.PersistentFlags().String("db", "", "Postgres connection string (omit for in-memory storage)")

	validateCmd := &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate a workflow definition file",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			def, err := workflow.LoadFile(args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Fprintf(os.Stdout, "Workflow %q is valid (%d steps)\n", def.Name, len(def.Steps))
		},
	}

	registerCmd := &cobra.Command{
		Use:   "register [file]",
		Short: "Register a workflow definition",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			eng, closeStore := initEngine(cmd)
			defer closeStore()
			data, err := os.ReadFile(args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			def, err := eng.LoadDefinition(data)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Fprintf(os.Stdout, "Registered workflow %q\n", def.Name)
		},
	}

	runCmd := &cobra.Command{
		Use:   "run [file]",
		Short: "Run a workflow definition to completion",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			eng, closeStore := initEngine(cmd)
			defer closeStore()
			data, err := os.ReadFile(args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			def, err := eng.LoadDefinition(data)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}

			userID, _ := cmd.Flags().GetString("user")
			vars, _ := cmd.Flags().GetStringArray("var")
			initial := initialContext(userID, vars)

			ex, err := eng.Execute(cmd.Context(), def.Name, userID, initial)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			printExecution(ex.ID, eng)
		},
	}
	runCmd.Flags().String("user", "", "User ID to run the workflow as")
	runCmd.Flags().StringArray("var", nil, "Initial context variable (key=value, repeatable)")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List registered workflows",
		Run: func(cmd *cobra.Command, args []string) {
			eng, closeStore := initEngine(cmd)
			defer closeStore()
			defs, err := eng.ListDefinitions()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			if len(defs) == 0 {
				fmt.Fprintln(os.Stdout, "No workflows found.")
				return
			}
			for _, def := range defs {
				fmt.Fprintf(os.Stdout, "- %s (%d steps)", def.Name, len(def.Steps))
				if def.Schedule != "" {
					fmt.Fprintf(os.Stdout, " schedule=%q", def.Schedule)
				}
				fmt.Fprintln(os.Stdout)
			}
		},
	}

	executionsCmd := &cobra.Command{
		Use:   "executions",
		Short: "Inspect workflow executions",
	}
	executionsCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List executions",
		Run: func(cmd *cobra.Command, args []string) {
			eng, closeStore := initEngine(cmd)
			defer closeStore()
			executions, err := eng.ListExecutions("")
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			if len(executions) == 0 {
				fmt.Fprintln(os.Stdout, "No executions found.")
				return
			}
			for _, ex := range executions {
				fmt.Fprintf(os.Stdout, "- %s workflow=%s status=%s started=%s\n",
					ex.ID, ex.WorkflowName, ex.Status, ex.StartedAt.Format("2006-01-02 15:04:05"))
			}
		},
	}, &cobra.Command{
		Use:   "get [id]",
		Short: "Show one execution as JSON",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			eng, closeStore := initEngine(cmd)
			defer closeStore()
			printExecution(args[0], eng)
		},
	})

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and cron scheduler",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := config.Load()
			if err != nil {
				log.GetLogger().Errorf("Failed to load config: %v", err)
				os.Exit(1)
			}
			store, err := internal_storage.NewPostgresStore(cfg.Database.URL)
			if err != nil {
				log.GetLogger().Errorf("Failed to initialize store: %v", err)
				os.Exit(1)
			}
			defer store.Close()

			eng := engine.New(store, registry.New(), log.GetLogger())
			sched := trigger.NewScheduler(eng, log.GetLogger())
			if err := sched.RegisterAll(); err != nil {
				log.GetLogger().Errorf("Failed to register schedules: %v", err)
				os.Exit(1)
			}
			sched.Start()
			defer sched.Stop()

			if err := httpserver.StartServer(cfg.ListenAddr(), eng); err != nil {
				log.GetLogger().Errorf("Server stopped: %v", err)
				os.Exit(1)
			}
		},
	}

	rootCmd.AddCommand(validateCmd, registerCmd, runCmd, listCmd, executionsCmd, serveCmd)
}

// initEngine builds an engine over Postgres when --db is set, otherwise over
// the in-memory store.
func initEngine(cmd *cobra.Command) (*engine.Engine, func()) {
	dbConnStr, err := cmd.Flags().GetString("db")
	if err != nil {
		log.GetLogger().Errorf("Error retrieving db flag: %v", err)
		os.Exit(1)
	}
	var store storage.Store
	if dbConnStr == "" {
		store = storage.NewMockStore()
	} else {
		pgStore, err := internal_storage.NewPostgresStore(dbConnStr)
		if err != nil {
			log.GetLogger().Errorf("Failed to initialize store: %v", err)
			os.Exit(1)
		}
		store = pgStore
	}
	eng := engine.New(store, registry.New(), log.GetLogger())
	return eng, func() { _ = store.Close() }
}

// initialContext assembles the caller side of the execution context: the
// user namespace, the env namespace and any --var overrides.
func initialContext(userID string, vars []string) map[string]any {
	env := map[string]any{}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	initial := map[string]any{
		"user": map[string]any{"id": userID},
		"env":  env,
	}
	for _, v := range vars {
		if k, val, ok := strings.Cut(v, "="); ok {
			initial[k] = val
		}
	}
	return initial
}

func printExecution(id string, eng *engine.Engine) {
	ex, err := eng.GetExecution(id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	out, err := json.MarshalIndent(ex, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintln(os.Stdout, string(out))
}
