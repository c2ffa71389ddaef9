package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/marcus/offtask/internal/app"
	"github.com/marcus/offtask/internal/config"
	"github.com/marcus/offtask/internal/logging"
	"github.com/marcus/offtask/internal/output"
	"github.com/marcus/offtask/internal/suggest"
)

var (
	versionStr string

	cfgFile     string
	offlineFlag bool
	jsonFlag    bool
	yamlFlag    bool
	verboseFlag bool

	// Loaded by the root PersistentPreRunE
	cfg       *config.Config
	cfgUsed   string
	logCloser io.Closer
)

// SetVersion sets the version string
func SetVersion(v string) {
	versionStr = v
}

var rootCmd = &cobra.Command{
	Use:   "offtask",
	Short: "Offline-first task list with background sync",
	Long: `offtask - a task list that works without a network.

Every change is written locally first and recorded in a pending-operation log.
When the remote task API is reachable the log is replayed in order and remote
changes are merged back with last-write-wins.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadRuntime,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		closeLogging()
	},
}

// Execute runs the root command
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		reportError(err)
		closeLogging()
		stop()
		os.Exit(1)
	}
}

// nameWithAliases returns "name, alias1, alias2" if aliases exist, else just "name"
func nameWithAliases(cmd *cobra.Command) string {
	if len(cmd.Aliases) > 0 {
		return cmd.Name() + ", " + strings.Join(cmd.Aliases, ", ")
	}
	return cmd.Name()
}

func init() {
	cobra.AddTemplateFunc("nameWithAliases", nameWithAliases)

	// Custom usage template that shows aliases inline
	usageTemplate := `Usage:{{if .Runnable}}
  {{.UseLine}}{{end}}{{if .HasAvailableSubCommands}}
  {{.CommandPath}} [command]{{end}}{{if .HasExample}}

Examples:
{{.Example}}{{end}}{{if .HasAvailableSubCommands}}{{$cmds := .Commands}}{{range $group := .Groups}}

{{.Title}}{{range $cmds}}{{if (and (eq .GroupID $group.ID) (or .IsAvailableCommand (eq .Name "help")))}}
  {{rpad (nameWithAliases .) (add .NamePadding 8)}} {{.Short}}{{end}}{{end}}{{end}}{{if not .AllChildCommandsHaveGroup}}

Additional Commands:{{range $cmds}}{{if (and (eq .GroupID "") (or .IsAvailableCommand (eq .Name "help")))}}
  {{rpad (nameWithAliases .) (add .NamePadding 8)}} {{.Short}}{{end}}{{end}}{{end}}{{end}}{{if .HasAvailableLocalFlags}}

Flags:
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasAvailableInheritedFlags}}

Global Flags:
{{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasAvailableSubCommands}}

Use "{{.CommandPath}} [command] --help" for more information about a command.{{end}}
`
	cobra.AddTemplateFunc("add", func(a, b int) int { return a + b })
	rootCmd.SetUsageTemplate(usageTemplate)

	rootCmd.AddGroup(
		&cobra.Group{ID: "core", Title: "Task Commands:"},
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "system", Title: "System Commands:"},
	)
	rootCmd.SetFlagErrorFunc(flagError)
	rootCmd.SetHelpCommandGroupID("system")
	rootCmd.SetCompletionCommandGroupID("system")

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: $OFFTASK_CONFIG_DIR or ~/.config/offtask/config.yaml)")
	pf.BoolVar(&offlineFlag, "offline", false, "never contact the remote API; changes stay pending")
	pf.BoolVar(&jsonFlag, "json", false, "output as JSON")
	pf.BoolVar(&yamlFlag, "yaml", false, "output as YAML")
	pf.BoolVarP(&verboseFlag, "verbose", "v", false, "log at the configured level instead of warnings only")
}

// flagError adds "did you mean" suggestions to unknown-flag errors
func flagError(cmd *cobra.Command, err error) error {
	msg := err.Error()
	if !strings.HasPrefix(msg, "unknown flag: ") {
		return err
	}
	bad := strings.TrimPrefix(msg, "unknown flag: ")
	if hint := suggest.GetFlagHint(bad); hint != "" {
		return fmt.Errorf("%w (try %s)", err, hint)
	}
	var names []string
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		names = append(names, "--"+f.Name)
	})
	if near := suggest.Flag(bad, names); len(near) > 0 {
		return fmt.Errorf("%w (did you mean %s?)", err, strings.Join(near, ", "))
	}
	return err
}

// loadRuntime reads configuration and installs the logger
func loadRuntime(cmd *cobra.Command, args []string) error {
	c, used, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	cfg, cfgUsed = c, used
	setupLogging(cfg.Log.File)
	return nil
}

// setupLogging installs the slog default. One-shot commands only show
// warnings on stderr unless --verbose is set.
func setupLogging(file string) {
	closeLogging()
	level := cfg.Log.Level
	if file == "" && !verboseFlag && logging.ParseLevel(level) < logging.ParseLevel("warn") {
		level = "warn"
	}
	logCloser = logging.Setup(logging.Options{
		Level:      level,
		Format:     cfg.Log.Format,
		File:       file,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		Stderr:     os.Stderr,
	})
}

func closeLogging() {
	if logCloser != nil {
		_ = logCloser.Close()
		logCloser = nil
	}
}

// dataLogFile is the log destination for long-running commands
func dataLogFile() string {
	return cfg.LogFile(filepath.Join(cfg.Storage.Dir, "offtask.log"))
}

// openApp builds the client runtime. Callers must Close it.
func openApp(cmd *cobra.Command) (*app.App, error) {
	a, err := app.New(cmd.Context(), cfg, app.Options{Offline: offlineFlag})
	if err != nil {
		return nil, err
	}
	slog.Debug("cmd: app ready", "command", cmd.Name(), "backend", a.Store.Backend(), "config", cfgUsed)
	return a, nil
}

// outputMode returns the mode selected by --json / --yaml
func outputMode() output.OutputMode {
	switch {
	case jsonFlag:
		return output.ModeJSON
	case yamlFlag:
		return output.ModeYAML
	}
	return output.ModeShort
}

// isInteractive reports whether both stdin and stdout are terminals
func isInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

// closeApp closes a and logs failures
func closeApp(a *app.App) {
	if err := a.Close(); err != nil {
		slog.Warn("cmd: close", "err", err)
	}
}

func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func requireRef(args []string) (string, error) {
	ref := joinArgs(args)
	if ref == "" {
		return "", fmt.Errorf("a task id, id prefix or title is required")
	}
	return ref, nil
}
