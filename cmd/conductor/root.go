package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dusk-indust/conductor/internal/a2a"
	"github.com/dusk-indust/conductor/internal/agent"
	"github.com/dusk-indust/conductor/internal/api"
	"github.com/dusk-indust/conductor/internal/config"
	"github.com/dusk-indust/conductor/internal/logging"
	"github.com/dusk-indust/conductor/internal/orchestrator"
	"github.com/dusk-indust/conductor/internal/store"
)

// app carries what every subcommand needs after flags, env and the config
// file have been merged.
type app struct {
	v   *viper.Viper
	cfg *config.ProjectConfig
	log *logging.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "conductor",
		Short: "Intent-routed pipeline orchestrator",
		Long: `Conductor classifies user input into an intent, plans a pipeline of
agent stages for it, and runs the pipeline with retries, decision gates and
live progress events.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.log != nil {
				a.log.Close()
			}
		},
	}

	pf := root.PersistentFlags()
	pf.StringP("config", "c", "", "config file (default: conductor.yml|yaml|toml in --dir)")
	pf.String("dir", ".", "directory searched for a config file")
	pf.String("log-level", "", "log level (debug, info, warn, error)")
	pf.String("server", "", "conductor server URL for client commands (default: http://<listen>)")
	for _, name := range []string{"config", "dir", "log-level", "server"} {
		_ = a.v.BindPFlag(name, pf.Lookup(name))
	}

	// CONDUCTOR_LOG_LEVEL for log-level, CONDUCTOR_STORAGE_DSN for storage.dsn.
	a.v.SetEnvPrefix("CONDUCTOR")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	a.v.AutomaticEnv()

	root.AddCommand(
		newServeCmd(a),
		newMCPCmd(a),
		newRunCmd(a),
		newWatchCmd(a),
		newStatusCmd(a),
		newResolveCmd(a),
		newCancelCmd(a),
		newInspectCmd(a),
		newPlanCmd(a),
		newVersionCmd(),
	)
	return root
}

// load reads the config file and applies flag and env overrides on top.
func (a *app) load() error {
	var (
		cfg *config.ProjectConfig
		err error
	)
	if path := a.v.GetString("config"); path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load(a.v.GetString("dir"))
	}
	if err != nil {
		return err
	}

	if s := a.v.GetString("log-level"); s != "" {
		cfg.Log.Level = s
	}
	if s := a.v.GetString("log.dir"); s != "" {
		cfg.Log.Dir = s
	}
	if s := a.v.GetString("listen"); s != "" {
		cfg.Listen = s
	}
	if s := a.v.GetString("storage.driver"); s != "" {
		cfg.Storage.Driver = s
	}
	if s := a.v.GetString("storage.dsn"); s != "" {
		cfg.Storage.DSN = s
	}
	cfg.Defaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, err := logging.NewLogger(cfg.Log.Dir, cfg.Log.Level)
	if err != nil {
		return err
	}
	a.cfg, a.log = cfg, log
	return nil
}

// serverURL is the base URL client commands talk to.
func (a *app) serverURL() string {
	if s := a.v.GetString("server"); s != "" {
		return strings.TrimRight(s, "/")
	}
	return "http://" + a.cfg.Listen
}

func (a *app) client() *api.Client {
	return api.NewClient(a.serverURL(), &http.Client{})
}

// engineConfig maps the engine section of the config file.
func engineConfig(c config.EngineConfig) orchestrator.Config {
	return orchestrator.Config{
		EventBuffer:       c.EventBuffer,
		StageTimeout:      c.StageTimeout,
		MaxAttempts:       c.MaxAttempts,
		BackoffBase:       c.BackoffBase,
		BackoffMax:        c.BackoffMax,
		DecisionTimeout:   c.DecisionTimeout,
		IdleTimeout:       c.IdleTimeout,
		MinConfidence:     c.MinConfidence,
		ResumeConcurrency: c.ResumeConcurrency,
	}
}

// openStorage returns the configured Storage and its closer.
func (a *app) openStorage(ctx context.Context) (orchestrator.Storage, func() error, error) {
	switch a.cfg.Storage.Driver {
	case "memory":
		return store.NewMemory(), func() error { return nil }, nil
	default:
		db, err := store.OpenSQLite(a.cfg.Storage.DSN)
		if err != nil {
			return nil, nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		return db, db.Close, nil
	}
}

// newEngine builds an engine over storage. Stages listed under agents in the
// config run on remote A2A hosts; the rest use the built-in agents.
func (a *app) newEngine(storage orchestrator.Storage) *orchestrator.Engine {
	reg := agent.NewRegistry()
	if len(a.cfg.Agents) > 0 {
		reg.UseRemote(a2a.NewHTTPClient(a2a.WithTimeout(30*time.Second)), a.cfg.Agents)
	}
	return orchestrator.NewEngine(
		engineConfig(a.cfg.Engine),
		orchestrator.NewRouter(reg),
		orchestrator.WithStorage(storage),
		orchestrator.WithLogger(a.log),
	)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
