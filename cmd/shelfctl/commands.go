package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/dreamware/shelf"
	"github.com/dreamware/shelf/internal/config"
	"github.com/dreamware/shelf/internal/logging"
	"github.com/dreamware/shelf/internal/scope"
	"github.com/dreamware/shelf/internal/telemetry"
)

// app carries the wiring every subcommand shares: loaded configuration, the
// logger, and the scope/backend flags.
type app struct {
	cfg *config.Config
	log *zap.Logger

	scopeName   string
	expPath     string
	participant string
	backend     string
	redisAddr   string
	logLevel    string
	metricsAddr string
}

func newApp() *app {
	return &app{}
}

func (a *app) rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shelfctl",
		Short: "Inspect and exercise counterbalancing shelf files",
		Long: "shelfctl operates on shelf files: persistent keyed JSON documents holding\n" +
			"counterbalancing records for behavioral experiments. It can list and edit\n" +
			"raw entries and run weighted group allocations against any backend.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.scopeName, "scope", "experiment", "shelf scope: designer, experiment, or participant (aliases accepted)")
	flags.StringVar(&a.expPath, "exp-path", ".", "experiment folder (or file) for experiment scope")
	flags.StringVar(&a.participant, "participant", "", "participant ID for participant scope (generated when omitted)")
	flags.StringVar(&a.backend, "backend", "", "store backend: file, memory, or redis (default from config)")
	flags.StringVar(&a.redisAddr, "redis-addr", "", "redis host:port for the redis backend (default from config)")
	flags.StringVar(&a.logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	flags.StringVar(&a.metricsAddr, "metrics-addr", "", "expose Prometheus metrics on this address while running")

	cmd.AddCommand(
		a.initCmd(),
		a.keysCmd(),
		a.getCmd(),
		a.setCmd(),
		a.containsCmd(),
		a.allocateCmd(),
		a.counterbalanceCmd(),
	)
	return cmd
}

// setup loads configuration and builds the logger, applying flag overrides.
func (a *app) setup() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	a.cfg = cfg

	if a.logLevel != "" {
		cfg.Logger.Level = a.logLevel
	}
	log, err := logging.New(cfg.Logger)
	if err != nil {
		return err
	}
	a.log = log

	if a.backend == "" {
		a.backend = cfg.Store.Backend
	}
	if a.redisAddr == "" {
		a.redisAddr = cfg.Redis.Addr()
	}
	if a.metricsAddr == "" && cfg.Metrics.Enabled {
		a.metricsAddr = cfg.Metrics.Addr
	}

	if sc, err := scope.FromAlias(a.scopeName); err == nil && sc == scope.Participant && a.participant == "" {
		a.participant = uuid.NewString()
		a.log.Info("no participant ID supplied, generated one",
			zap.String("participant", a.participant))
	}
	return nil
}

// openShelf builds the Shelf every data subcommand operates on.
func (a *app) openShelf() (*shelf.Shelf, error) {
	return shelf.New(shelf.Options{
		Scope:          a.scopeName,
		UserDir:        a.cfg.Store.UserDir,
		ExperimentPath: a.expPath,
		Participant:    a.participant,
		Backend:        a.backend,
		RedisAddr:      a.redisAddr,
		RedisPrefix:    a.cfg.Redis.Prefix,
		RedisDB:        a.cfg.Redis.DB,
		Logger:         a.log,
	})
}

func (a *app) initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the shelf for the selected scope if it does not exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			sh, err := a.openShelf()
			if err != nil {
				return err
			}
			if sh.Path != "" {
				fmt.Fprintln(cmd.OutOrStdout(), sh.Path)
			}
			return nil
		},
	}
}

func (a *app) keysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keys",
		Short: "List all keys on the shelf",
		RunE: func(cmd *cobra.Command, args []string) error {
			sh, err := a.openShelf()
			if err != nil {
				return err
			}
			keys, err := sh.Keys(cmd.Context())
			if err != nil {
				return err
			}
			slices.Sort(keys)
			for _, key := range keys {
				fmt.Fprintln(cmd.OutOrStdout(), key)
			}
			return nil
		},
	}
}

func (a *app) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get KEY",
		Short: "Print the JSON value stored under KEY",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sh, err := a.openShelf()
			if err != nil {
				return err
			}
			var raw json.RawMessage
			if err := sh.Get(cmd.Context(), args[0], &raw); err != nil {
				return err
			}
			out, err := json.MarshalIndent(raw, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}

func (a *app) setCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set KEY JSON",
		Short: "Store a JSON value under KEY",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var value json.RawMessage
			if err := json.Unmarshal([]byte(args[1]), &value); err != nil {
				return fmt.Errorf("value is not valid JSON: %w", err)
			}
			sh, err := a.openShelf()
			if err != nil {
				return err
			}
			return sh.Set(cmd.Context(), args[0], value)
		},
	}
}

func (a *app) containsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "contains KEY",
		Short: "Report whether KEY is present on the shelf",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sh, err := a.openShelf()
			if err != nil {
				return err
			}
			ok, err := sh.Contains(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), strconv.FormatBool(ok))
			return nil
		},
	}
}

func (a *app) allocateCmd() *cobra.Command {
	var (
		groupsArg string
		sizesArg  string
		count     int
	)
	cmd := &cobra.Command{
		Use:   "allocate KEY",
		Short: "Run counterbalance draws against the entry under KEY",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			groups, sizes, err := parseGroups(groupsArg, sizesArg)
			if err != nil {
				return err
			}
			sh, err := a.openShelf()
			if err != nil {
				return err
			}
			a.maybeServeMetrics(cmd.Context())

			for i := 0; i < count; i++ {
				group, finished, err := sh.CounterbalanceSelect(cmd.Context(), args[0], groups, sizes)
				if err != nil {
					return err
				}
				if group == "" {
					fmt.Fprintln(cmd.OutOrStdout(), "exhausted")
					return nil
				}
				if finished {
					fmt.Fprintf(cmd.OutOrStdout(), "%s (now full)\n", group)
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), group)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&groupsArg, "groups", "", "comma-separated group names (required)")
	cmd.Flags().StringVar(&sizesArg, "sizes", "", "comma-separated group capacities (required)")
	cmd.Flags().IntVar(&count, "count", 1, "number of draws to run")
	_ = cmd.MarkFlagRequired("groups")
	_ = cmd.MarkFlagRequired("sizes")
	return cmd
}

func (a *app) counterbalanceCmd() *cobra.Command {
	var (
		groupsArg string
		sizesArg  string
		reps      int
	)
	cmd := &cobra.Command{
		Use:   "counterbalance ENTRY",
		Short: "Allocate one group via the repetition-aware counterbalancer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			groups, sizes, err := parseGroups(groupsArg, sizesArg)
			if err != nil {
				return err
			}
			conditions := make([]shelf.Condition, len(groups))
			for i := range groups {
				conditions[i] = shelf.Condition{Group: groups[i], Cap: sizes[i]}
			}

			sh, err := a.openShelf()
			if err != nil {
				return err
			}
			a.maybeServeMetrics(cmd.Context())

			cb, err := sh.NewCounterbalancer(cmd.Context(), args[0], conditions, reps)
			if err != nil {
				return err
			}
			group, ok, err := cb.AllocateGroup(cmd.Context())
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "finished")
				return nil
			}
			remaining, _, err := cb.Remaining(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (remaining %d, reps %d)\n", group, remaining, cb.Reps())
			return nil
		},
	}
	cmd.Flags().StringVar(&groupsArg, "groups", "", "comma-separated group names (required)")
	cmd.Flags().StringVar(&sizesArg, "sizes", "", "comma-separated group capacities (required)")
	cmd.Flags().IntVar(&reps, "reps", 1, "repetitions before the entry is finished")
	_ = cmd.MarkFlagRequired("groups")
	_ = cmd.MarkFlagRequired("sizes")
	return cmd
}

// maybeServeMetrics starts the Prometheus endpoint when one is configured,
// shutting it down when the command's context ends.
func (a *app) maybeServeMetrics(ctx context.Context) {
	if a.metricsAddr == "" {
		return
	}
	srv := telemetry.Serve(a.metricsAddr)
	a.log.Info("serving metrics", zap.String("addr", a.metricsAddr))
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
}

// parseGroups splits the --groups and --sizes flags into parallel slices.
// Capacity validation beyond integer parsing is left to the allocator.
func parseGroups(groupsArg, sizesArg string) ([]string, []int, error) {
	if groupsArg == "" {
		return nil, nil, errors.New("--groups must not be empty")
	}
	groups := strings.Split(groupsArg, ",")
	for i := range groups {
		groups[i] = strings.TrimSpace(groups[i])
	}

	parts := strings.Split(sizesArg, ",")
	sizes := make([]int, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, nil, fmt.Errorf("bad capacity %q: %w", part, err)
		}
		sizes = append(sizes, n)
	}
	return groups, sizes, nil
}
