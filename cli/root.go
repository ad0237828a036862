package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xraph/conveyor"
	audithook "github.com/xraph/conveyor/audit_hook"
	"github.com/xraph/conveyor/engine"
	"github.com/xraph/conveyor/store"
)

// SetupFunc registers handlers and schedules on a freshly built engine.
type SetupFunc func(eng *engine.Engine) error

// Option configures the command tree.
type Option func(*app)

// WithSetup adds a function run on every engine the commands build.
func WithSetup(fn SetupFunc) Option {
	return func(a *app) { a.setup = append(a.setup, fn) }
}

// WithEngineOptions passes options to engine.Build.
func WithEngineOptions(opts ...engine.Option) Option {
	return func(a *app) { a.engineOpts = append(a.engineOpts, opts...) }
}

// WithStore uses s instead of opening the --store flag.
func WithStore(s store.Store) Option {
	return func(a *app) { a.store = s }
}

type app struct {
	setup      []SetupFunc
	engineOpts []engine.Option
	store      store.Store

	// Persistent flags.
	storeURL    string
	logFormat   string
	logLevel    string
	queues      []string
	concurrency int
	ledgerPath  string
	storeLedger bool
	retry       string
	autoMigrate bool
	audit       bool
	logger      *slog.Logger
}

// Command returns the root command.
func Command(opts ...Option) *cobra.Command {
	a := &app{}
	for _, opt := range opts {
		opt(a)
	}

	def := conveyor.DefaultConfig()
	root := &cobra.Command{
		Use:           "conveyor",
		Short:         "Durable job queue and recurring scheduler",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(cmd, a.logFormat, a.logLevel)
			if err != nil {
				return err
			}
			a.logger = logger
			return nil
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&a.storeURL, "store", envOr("CONVEYOR_STORE", "sqlite://conveyor.db"), "backend URL (memory, sqlite://, postgres://, redis://, mongodb://)")
	f.StringVar(&a.logFormat, "log-format", "text", "log format: text or json")
	f.StringVar(&a.logLevel, "log-level", "info", "log level: debug, info, warn or error")
	f.StringSliceVar(&a.queues, "queues", def.Queues, "queues to work, in priority order")
	f.IntVar(&a.concurrency, "concurrency", def.Concurrency, "number of claim loops")
	f.StringVar(&a.ledgerPath, "ledger", def.LedgerPath, "schedule ledger file")
	f.BoolVar(&a.storeLedger, "store-ledger", false, "keep the schedule ledger in the store instead of a file")
	f.StringVar(&a.retry, "retry", def.RetryStrategy, "retry strategy: fixed, linear or exponential")
	f.BoolVar(&a.autoMigrate, "migrate", true, "apply store migrations before running")
	f.BoolVar(&a.audit, "audit", false, "log an audit record for every job and schedule event")

	root.AddCommand(
		a.migrateCommand(),
		a.workCommand(),
		a.scheduleRunCommand(),
		a.scheduleStatusCommand(),
		a.statusCommand(),
		a.failedCommand(),
		a.enqueueCommand(),
		a.serveCommand(),
	)
	return root
}

func newLogger(cmd *cobra.Command, format, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	w := cmd.ErrOrStderr()
	switch strings.ToLower(format) {
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid --log-format %q", format)
	}
}

// engine opens the store and builds an engine. The caller stops the
// engine (or closes its store) when done.
func (a *app) engine(ctx context.Context, opts ...engine.Option) (*engine.Engine, error) {
	st := a.store
	if st == nil {
		var err error
		if st, err = openStore(ctx, a.storeURL, a.logger); err != nil {
			return nil, err
		}
	}
	if a.autoMigrate {
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return nil, err
		}
	}

	cfg := conveyor.DefaultConfig()
	cfg.Queues = a.queues
	cfg.Concurrency = a.concurrency
	cfg.LedgerPath = a.ledgerPath
	cfg.RetryStrategy = a.retry

	c, err := conveyor.New(
		conveyor.WithConfig(cfg),
		conveyor.WithLogger(a.logger),
		conveyor.WithStore(st),
	)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	all := append([]engine.Option(nil), a.engineOpts...)
	if a.storeLedger {
		all = append(all, engine.WithStoreLedger())
	}
	if a.audit {
		recorder := audithook.LogRecorder(a.logger.With(slog.String("component", "audit")))
		all = append(all, engine.WithExtension(audithook.New(recorder, audithook.WithLogger(a.logger))))
	}
	all = append(all, opts...)
	eng, err := engine.Build(c, all...)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	for _, fn := range a.setup {
		if err := fn(eng); err != nil {
			_ = st.Close()
			return nil, err
		}
	}
	return eng, nil
}

// closeStore closes the engine's store after a one-shot command.
func (a *app) closeStore(eng *engine.Engine) {
	if err := eng.Store().Close(); err != nil {
		a.logger.Warn("close store", slog.String("error", err.Error()))
	}
}

func (a *app) migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the store schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, err := a.engine(cmd.Context())
			if err != nil {
				return err
			}
			defer a.closeStore(eng)
			if err := eng.Store().Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
