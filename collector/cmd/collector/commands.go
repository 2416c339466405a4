package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/pilot-net/routerwatch/collector/internal/alerting"
	"github.com/pilot-net/routerwatch/collector/internal/heuristics"
	"github.com/pilot-net/routerwatch/collector/internal/metrics"
	"github.com/pilot-net/routerwatch/collector/internal/pipeline"
	"github.com/pilot-net/routerwatch/collector/internal/store"
	"github.com/pilot-net/routerwatch/db/migrate"
	"github.com/pilot-net/routerwatch/pkg/types"
)

// =============================================================================
// RUN / CYCLE
// =============================================================================

func newRunCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Sweep the whole fleet on the configured interval",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, flags, true)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.migrate(ctx); err != nil {
				return err
			}
			p, err := a.pipeline(ctx)
			if err != nil {
				return err
			}

			runner := pipeline.NewRunner(p, pipeline.RunnerConfig{Interval: a.cfg.Scheduler.Interval}, a.logger)
			a.logger.Info("starting routerwatch collector",
				"version", Version,
				"providers", a.cfg.Connector.Providers,
				"analysis_backend", a.cfg.Analysis.Backend)
			runner.Start(ctx)

			<-ctx.Done()
			a.logger.Info("received shutdown signal")
			runner.Stop()
			a.logger.Info("collector shutdown complete")
			return nil
		},
	}
}

// cycleOutput is a CycleResult with its errors rendered.
type cycleOutput struct {
	pipeline.CycleResult
	Outcome       metrics.CycleOutcome `json:"outcome"`
	Error         string               `json:"error,omitempty"`
	AnalysisError string               `json:"analysis_error,omitempty"`
}

func newCycleOutput(res pipeline.CycleResult) cycleOutput {
	out := cycleOutput{CycleResult: res, Outcome: res.Outcome()}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	if res.AnalysisErr != nil {
		out.AnalysisError = res.AnalysisErr.Error()
	}
	return out
}

func newCycleCmd(flags *globalFlags) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "cycle [device-id...]",
		Short: "Run one collection cycle per device and print the results",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && !all {
				return fmt.Errorf("pass device IDs or --all")
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, flags, true)
			if err != nil {
				return err
			}
			defer a.Close()

			p, err := a.pipeline(ctx)
			if err != nil {
				return err
			}

			var results []pipeline.CycleResult
			if all {
				results, err = p.Sweep(ctx)
				if err != nil {
					return err
				}
			} else {
				results = p.RunAll(ctx, args)
			}

			out := make([]cycleOutput, len(results))
			failed := 0
			for i, res := range results {
				out[i] = newCycleOutput(res)
				if res.Err != nil {
					failed++
				}
			}
			if err := printJSON(cmd.OutOrStdout(), out); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d cycles failed", failed, len(results))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "run every enabled device")
	return cmd
}

// =============================================================================
// PROBE
// =============================================================================

// staticCredentials hands the same credentials to every connection.
type staticCredentials types.Credentials

func (s staticCredentials) DecryptCredentials(string) (types.Credentials, error) {
	return types.Credentials(s), nil
}

func newProbeCmd(flags *globalFlags) *cobra.Command {
	var (
		host, user, keyFile, tenant string
		ports                       []string
		noAI                        bool
	)
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Mine and analyze one device ad hoc without persisting anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			// probe never touches the database
			flags.sqlite = orMemory(flags.sqlite)
			a, err := newApp(ctx, flags, false)
			if err != nil {
				return err
			}
			defer a.Close()

			portMap, err := parsePorts(ports)
			if err != nil {
				return err
			}
			creds := types.Credentials{Username: user}
			if keyFile != "" {
				key, err := os.ReadFile(keyFile)
				if err != nil {
					return fmt.Errorf("reading private key: %w", err)
				}
				creds.PrivateKey = string(key)
			} else {
				creds.Password, err = readSecret(cmd, fmt.Sprintf("Password for %s@%s: ", user, host))
				if err != nil {
					return err
				}
			}

			m, err := a.newMiner(staticCredentials(creds))
			if err != nil {
				return err
			}
			target := types.DeviceTarget{ID: "probe-" + host, TenantID: tenant, Host: host, Ports: portMap}
			snap, err := m.Mine(ctx, target)
			if err != nil {
				return err
			}

			analyzer, err := heuristics.NewDefault()
			if err != nil {
				return err
			}
			findings := analyzer.Analyze(snap)
			snap.Heuristics = types.Descriptions(findings)

			if noAI {
				a.cfg.Analysis.Backend = types.LocalBackend
			}
			verdict, judgeErr := a.judge().Judge(ctx, snap, findings)

			report := struct {
				Snapshot      *types.ForensicSnapshot `json:"snapshot"`
				Findings      []types.Finding         `json:"findings"`
				Verdict       types.AnalysisVerdict   `json:"verdict"`
				Severity      types.AlertSeverity     `json:"severity"`
				AnalysisError string                  `json:"analysis_error,omitempty"`
			}{Snapshot: snap, Findings: findings, Verdict: verdict, Severity: alerting.Severity(verdict.Status, findings)}
			if judgeErr != nil {
				report.AnalysisError = judgeErr.Error()
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "device address")
	cmd.Flags().StringVar(&user, "user", "admin", "login user")
	cmd.Flags().StringVar(&keyFile, "key-file", "", "SSH private key instead of a password")
	cmd.Flags().StringVar(&tenant, "tenant", "probe", "tenant ID reported in the snapshot")
	cmd.Flags().StringSliceVar(&ports, "port", nil, "provider port override, e.g. api=8728 (repeatable)")
	cmd.Flags().BoolVar(&noAI, "no-ai", false, "use the heuristic verdict only")
	_ = cmd.MarkFlagRequired("host")
	return cmd
}

// =============================================================================
// ALERTS
// =============================================================================

func newSLACmd(flags *globalFlags) *cobra.Command {
	var tenant, since string
	cmd := &cobra.Command{
		Use:   "sla",
		Short: "Mean minutes to resolve Severa and Crítica alerts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, flags, true)
			if err != nil {
				return err
			}
			defer a.Close()

			from := alerting.MonthStart(time.Now().UTC())
			if since != "" {
				from, err = parseSince(since)
				if err != nil {
					return err
				}
			}
			mean, err := alerting.NewSLACalculator(a.store).MeanResolutionMinutes(ctx, tenant, from)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"tenant_id":               tenant,
				"since":                   from,
				"mean_resolution_minutes": mean,
			})
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant ID")
	cmd.Flags().StringVar(&since, "since", "", "window start, RFC 3339 or YYYY-MM-DD (default: start of this month)")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func newHealthCmd(flags *globalFlags) *cobra.Command {
	var tenant string
	cmd := &cobra.Command{
		Use:   "health <device-id>",
		Short: "Show a device's health colour and unresolved alerts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, flags, true)
			if err != nil {
				return err
			}
			defer a.Close()

			health, err := a.engine().DeviceHealth(ctx, tenant, args[0])
			if err != nil {
				return err
			}
			active, err := a.store.ListActiveAlerts(ctx, tenant, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"device_id": args[0],
				"health":    health,
				"active":    active,
			})
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant ID")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func newTransitionCmd(flags *globalFlags) *cobra.Command {
	var tenant, actor, comment string
	cmd := &cobra.Command{
		Use:   "transition <alert-id> <status>",
		Short: "Move an alert to Pendiente, En curso or Resuelta",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			status, err := parseStatus(args[1])
			if err != nil {
				return err
			}
			a, err := newApp(ctx, flags, true)
			if err != nil {
				return err
			}
			defer a.Close()

			alert, err := a.engine().Transition(ctx, tenant, args[0], status, actor, comment)
			if err != nil {
				return err
			}
			history, err := a.store.AlertHistory(ctx, tenant, alert.ID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"alert":   alert,
				"history": history,
			})
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant ID")
	cmd.Flags().StringVar(&actor, "actor", os.Getenv("USER"), "who is making the change")
	cmd.Flags().StringVar(&comment, "comment", "", "note stored with the alert")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

// =============================================================================
// CREDENTIALS / DEVICES
// =============================================================================

func newEncryptCmd(flags *globalFlags) *cobra.Command {
	var user, keyFile string
	cmd := &cobra.Command{
		Use:   "encrypt",
		Short: "Seal device credentials into a vault blob",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			blob, err := sealCredentials(cmd, flags, user, keyFile)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), blob)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "admin", "login user")
	cmd.Flags().StringVar(&keyFile, "key-file", "", "SSH private key to seal instead of a password")
	return cmd
}

func newDeviceCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "device",
		Short: "Manage the device registry",
	}

	var (
		dev           types.DeviceTarget
		user, keyFile string
		ports         []string
	)
	add := &cobra.Command{
		Use:   "add",
		Short: "Register or update a device with sealed credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			var err error
			if dev.Ports, err = parsePorts(ports); err != nil {
				return err
			}
			if dev.CredentialBlob, err = sealCredentials(cmd, flags, user, keyFile); err != nil {
				return err
			}
			a, err := newApp(ctx, flags, true)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.migrate(ctx); err != nil {
				return err
			}
			if err := a.store.UpsertDevice(ctx, dev); err != nil {
				return err
			}
			a.logger.Info("device registered", "device_id", dev.ID, "tenant_id", dev.TenantID, "host", dev.Host)
			return nil
		},
	}
	add.Flags().StringVar(&dev.ID, "id", "", "device ID")
	add.Flags().StringVar(&dev.TenantID, "tenant", "", "tenant ID")
	add.Flags().StringVar(&dev.Name, "name", "", "display name")
	add.Flags().StringVar(&dev.Host, "host", "", "device address")
	add.Flags().StringVar(&dev.FirmwareVersion, "firmware", "", "RouterOS version")
	add.Flags().StringVar(&dev.WANType, "wan", "", "WAN type, e.g. pppoe or dhcp")
	add.Flags().StringSliceVar(&ports, "port", nil, "provider port override, e.g. ssh=2222 (repeatable)")
	add.Flags().StringVar(&user, "user", "admin", "login user")
	add.Flags().StringVar(&keyFile, "key-file", "", "SSH private key to seal instead of a password")
	for _, f := range []string{"id", "tenant", "host"} {
		_ = add.MarkFlagRequired(f)
	}

	cmd.AddCommand(add)
	return cmd
}

func sealCredentials(cmd *cobra.Command, flags *globalFlags, user, keyFile string) (string, error) {
	ctx := cmd.Context()
	cfg, err := loadConfig(&globalFlags{configFile: flags.configFile, envFile: flags.envFile, sqlite: orMemory(flags.sqlite), debug: flags.debug})
	if err != nil {
		return "", err
	}
	a := &app{cfg: cfg, logger: newLogger(cfg.Log)}
	v, err := a.vault(ctx)
	if err != nil {
		return "", err
	}

	creds := types.Credentials{Username: user}
	if keyFile != "" {
		key, err := os.ReadFile(keyFile)
		if err != nil {
			return "", fmt.Errorf("reading private key: %w", err)
		}
		creds.PrivateKey = string(key)
	} else if creds.Password, err = readSecret(cmd, fmt.Sprintf("Password for %s: ", user)); err != nil {
		return "", err
	}
	return v.EncryptCredentials(creds)
}

// =============================================================================
// MIGRATE
// =============================================================================

func newMigrateCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending PostgreSQL migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withPostgres(cmd.Context(), flags, func(ctx context.Context, a *app, s *store.Store) error {
				return migrate.Run(ctx, s.Pool(), a.logger)
			})
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withPostgres(cmd.Context(), flags, func(ctx context.Context, _ *app, s *store.Store) error {
				status, err := migrate.GetStatus(ctx, s.Pool())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), status)
			})
		},
	})
	return cmd
}

func withPostgres(ctx context.Context, flags *globalFlags, fn func(context.Context, *app, *store.Store) error) error {
	a, err := newApp(ctx, flags, true)
	if err != nil {
		return err
	}
	defer a.Close()

	s, ok := a.store.(*store.Store)
	if !ok {
		a.logger.Info("sqlite store migrates itself on open, nothing to do")
		return nil
	}
	return fn(ctx, a, s)
}

// =============================================================================
// HELPERS
// =============================================================================

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func orMemory(path string) string {
	if path == "" {
		return ":memory:"
	}
	return path
}

// readSecret prompts on the terminal without echo, or reads one line when
// stdin is not a terminal.
func readSecret(cmd *cobra.Command, prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(cmd.ErrOrStderr(), prompt)
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return string(b), nil
	}

	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// parsePorts turns ["api=8728", "ssh=2222"] into a port map.
func parsePorts(specs []string) (map[string]int, error) {
	ports := make(map[string]int, len(specs))
	for _, spec := range specs {
		name, value, ok := strings.Cut(spec, "=")
		if !ok {
			return nil, fmt.Errorf("invalid port %q (expected provider=port)", spec)
		}
		port, err := strconv.Atoi(value)
		if err != nil || port <= 0 || port > 65535 {
			return nil, fmt.Errorf("invalid port %q", spec)
		}
		ports[strings.TrimSpace(name)] = port
	}
	return ports, nil
}

// parseStatus accepts the stored status names and English aliases.
func parseStatus(s string) (types.AlertStatus, error) {
	switch strings.ToLower(s) {
	case "pending":
		return types.StatusPending, nil
	case "in-progress", "in_progress":
		return types.StatusInProgress, nil
	case "resolved":
		return types.StatusResolved, nil
	}
	return types.ParseAlertStatus(s)
}

func parseSince(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --since %q: use RFC 3339 or YYYY-MM-DD", s)
	}
	return t, nil
}
