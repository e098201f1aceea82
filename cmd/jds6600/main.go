package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/JcJet/jds6600-controller/internal/config"
	"github.com/JcJet/jds6600-controller/internal/device"
	"github.com/JcJet/jds6600-controller/internal/orchestrator"
	"github.com/JcJet/jds6600-controller/internal/runner"
	"github.com/JcJet/jds6600-controller/internal/script"
	"github.com/JcJet/jds6600-controller/internal/storage"
	"github.com/JcJet/jds6600-controller/internal/tui"
)

// Exit codes, kept stable for scripting.
const (
	exitOK           = 0
	exitError        = 1
	exitCompileError = 2
	exitDeviceError  = 3
	exitStopped      = 4
)

func main() {
	os.Exit(run())
}

func run() int {
	var logLevel string

	rootCmd := &cobra.Command{
		Use:   "jds6600",
		Short: "JDS6600 signal generator controller",
		Long:  "Compiles delimited-text command files and runs them on a JDS6600 function generator with pause, skip, stop and resume support.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogger(logLevel)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newEstimateCommand())
	rootCmd.AddCommand(newListCommand())
	rootCmd.AddCommand(newDeleteCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitCodeFor(err)
	}
	return exitOK
}

// errStopped carries the "stopped by user" outcome through cobra's error
// return so the process can exit with the stop code.
var errStopped = errors.New("stopped by user")

func exitCodeFor(err error) int {
	var parseErr *script.ParseError
	if errors.As(err, &parseErr) {
		return exitCompileError
	}
	var connErr *device.ConnectError
	if errors.As(err, &connErr) {
		return exitDeviceError
	}
	if errors.Is(err, errStopped) {
		return exitStopped
	}
	return exitError
}

func setupLogger(level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelWarn
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

func openStorage() (*config.Config, *storage.Storage, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, nil, fmt.Errorf("create data directory: %w", err)
	}
	store, err := storage.New(cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	return cfg, store, nil
}

func newRunCommand() *cobra.Command {
	var (
		port       string
		devName    string
		channel    string
		fixedWait  float64
		dryRun     bool
		noTUI      bool
		tryResume  bool
		repeat     bool
		noDualWarn bool
	)

	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Run a command file on the device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, store, err := openStorage()
			if err != nil {
				return err
			}
			defer store.Close()

			settings, err := cfg.LoadSettings()
			if err != nil {
				return err
			}

			if !cmd.Flags().Changed("port") && settings.Port != "" {
				port = settings.Port
			}
			if !cmd.Flags().Changed("device") && settings.Device != "" {
				devName = settings.Device
			}
			if !cmd.Flags().Changed("channel") && settings.DefaultChannel != "" {
				channel = settings.DefaultChannel
			}
			var fw *float64
			if cmd.Flags().Changed("fixed-wait") {
				fw = &fixedWait
			} else if settings.FixedWait != nil {
				fw = settings.FixedWait
			}
			if !cmd.Flags().Changed("repeat") && settings.Repeat != nil {
				repeat = *settings.Repeat
			}
			warnDual := !noDualWarn
			if !cmd.Flags().Changed("no-dual-sweep-warning") && settings.WarnDualSweep != nil {
				warnDual = *settings.WarnDualSweep
			}
			if dryRun {
				devName = "sim"
			}

			req := orchestrator.RunRequest{
				FilePath:       args[0],
				DeviceName:     devName,
				Port:           port,
				DefaultChannel: channel,
				FixedWait:      fw,
				WarnDualSweep:  warnDual,
				TryResume:      tryResume,
			}

			orch := orchestrator.New(store, slog.Default())
			for {
				var err error
				if noTUI {
					err = runPlain(orch, req)
				} else {
					err = runWithTUI(orch, req)
				}
				if err != nil || !repeat {
					return err
				}
				// repeat passes always start from the top
				req.TryResume = false
			}
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "", "serial port of the device")
	cmd.Flags().StringVar(&devName, "device", "sim", "device backend to use")
	cmd.Flags().StringVarP(&channel, "channel", "c", "both", "default channel selector (1, 2, both)")
	cmd.Flags().Float64Var(&fixedWait, "fixed-wait", 0, "override every wait duration (seconds)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "run against the simulator instead of hardware")
	cmd.Flags().BoolVar(&noTUI, "no-tui", false, "plain line output instead of the monitor UI")
	cmd.Flags().BoolVar(&tryResume, "resume", false, "resume from the saved checkpoint if it matches this file")
	cmd.Flags().BoolVar(&repeat, "repeat", false, "restart the sequence from the top after it completes")
	cmd.Flags().BoolVar(&noDualWarn, "no-dual-sweep-warning", false, "suppress the dual-channel sweep warning")
	return cmd
}

func runWithTUI(orch *orchestrator.Orchestrator, req orchestrator.RunRequest) error {
	steps, err := orchestrator.CompileSource(req.FilePath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	state := runner.NewState()
	monitor := tui.NewMonitor(state, len(steps))
	monitor.SetInterrupt(cancel)

	req.State = state
	req.Observer = monitor.Observer()

	p := tea.NewProgram(monitor, tea.WithAltScreen())

	go func() {
		res, err := orch.Execute(ctx, req)
		if err != nil {
			monitor.Finish(runner.ResultOK, err)
			return
		}
		monitor.Finish(res.Result, nil)
	}()

	if _, err := p.Run(); err != nil {
		cancel()
		return err
	}

	result, runErr := monitor.Result()
	if runErr != nil {
		return runErr
	}
	if result == runner.ResultStopped {
		return errStopped
	}
	fmt.Println("Done.")
	return nil
}

func runPlain(orch *orchestrator.Orchestrator, req orchestrator.RunRequest) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	req.Observer = runner.Observer{
		OnStatus: func(text string) {
			fmt.Println(text)
		},
	}

	res, err := orch.Execute(ctx, req)
	if err != nil {
		return err
	}
	if res.Result == runner.ResultStopped {
		return errStopped
	}
	return nil
}

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Compile a command file and report the step sequence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, err := orchestrator.CompileSource(args[0])
			if err != nil {
				return err
			}

			fmt.Printf("%s: %d steps\n", args[0], len(steps))
			for i, step := range steps {
				fmt.Printf("  %3d. line %-4d %s\n", i+1, step.Line(), step.Kind())
			}
			return nil
		},
	}
}

func newEstimateCommand() *cobra.Command {
	var fixedWait float64

	cmd := &cobra.Command{
		Use:   "estimate <file>",
		Short: "Estimate the total run time of a command file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, err := orchestrator.CompileSource(args[0])
			if err != nil {
				return err
			}

			var fw *float64
			if cmd.Flags().Changed("fixed-wait") {
				fw = &fixedWait
			}
			for i, step := range steps {
				d := script.EstimateStepDuration(step, fw)
				fmt.Printf("  %3d. line %-4d %-6s %s\n", i+1, step.Line(), step.Kind(), runner.FormatSeconds(d))
			}
			total := script.EstimateTotalRunTime(steps, fw)
			fmt.Printf("%d steps, estimated %s\n", len(steps), runner.FormatSeconds(total))
			return nil
		},
	}

	cmd.Flags().Float64Var(&fixedWait, "fixed-wait", 0, "override every wait duration (seconds)")
	return cmd
}

func newListCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := openStorage()
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.ListRuns(limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("No runs yet.")
				return nil
			}

			for _, r := range runs {
				line := fmt.Sprintf("#%-4d %s  %-7s  %d steps  %s",
					r.ID, r.CreatedAt.Format("2006-01-02 15:04"), r.Status, r.TotalSteps, r.FilePath)
				if r.Error != "" {
					line += "  (" + r.Error + ")"
				}
				fmt.Println(line)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs to show")
	return cmd
}

func newDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete a run record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid run id %q", args[0])
			}

			_, store, err := openStorage()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.DeleteRun(id); err != nil {
				return err
			}
			fmt.Printf("Deleted run #%d\n", id)
			return nil
		},
	}
}
