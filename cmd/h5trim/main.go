// Package main is the h5trim command. It extracts the simulation,
// reconstruction and trigger tables from an event archive and offers
// listing, verification and dump helpers for HDF5 files.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/scigolib/h5trim/extract"
)

// version is set at build time via ldflags.
var version = "dev"

// logger is configured from the log flags before any command runs.
var logger = logrus.New()

var rootCmd = &cobra.Command{
	Use:   "h5trim INPUT OUTPUT",
	Short: "Extract event tables from an HDF5 event archive",
	Long: `h5trim copies the root attributes, the /configuration subtree and six
event tables (shower distribution, simulated showers, classification, energy
and geometry reconstruction, and triggers) from INPUT into a new OUTPUT file.

Per-telescope data is left behind. Chunks are copied without recompression.
The output is written next to OUTPUT and renamed into place on success unless
--in-place is given.`,
	Args:              cobra.ExactArgs(2),
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setupLogging,
	RunE:              runExtract,
}

var extractCmd = &cobra.Command{
	Use:   "extract INPUT OUTPUT",
	Short: "Extract the planned tables (same as the root command)",
	Args:  cobra.ExactArgs(2),
	RunE:  runExtract,
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (default: ./h5trim.yaml or ~/.config/h5trim/config.yaml)")
	flags.String("log-level", "info", "log level: trace, debug, info, warn, error")
	flags.String("log-format", "text", "log format: text or json")
	flags.String("plan", "", "YAML plan listing the configuration subtree and tables to keep")
	flags.Bool("in-place", false, "write OUTPUT directly instead of renaming a .part file")

	bindFlags()
	rootCmd.AddCommand(extractCmd)
}

// bindFlags exposes the persistent flags to viper under their own names.
func bindFlags() {
	flags := rootCmd.PersistentFlags()
	for _, key := range []string{"log-level", "log-format", "plan", "in-place"} {
		_ = viper.BindPFlag(key, flags.Lookup(key))
	}
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile == "" {
		cfgFile = findConfig()
	}

	viper.SetEnvPrefix("H5TRIM")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if cfgFile == "" {
		return
	}
	viper.SetConfigFile(cfgFile)
	if err := viper.ReadInConfig(); err != nil {
		logger.WithError(err).Warn("ignoring unreadable config file")
		return
	}
	logger.WithField("file", viper.ConfigFileUsed()).Debug("using config file")
}

// findConfig returns the first existing default config file:
// ./h5trim.yaml, then ~/.config/h5trim/config.yaml.
func findConfig() string {
	candidates := []string{"h5trim.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "h5trim", "config.yaml"))
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c
		}
	}
	return ""
}

func setupLogging(cmd *cobra.Command, _ []string) error {
	level, err := logrus.ParseLevel(viper.GetString("log-level"))
	if err != nil {
		return err
	}
	logger.SetLevel(level)
	logger.SetOutput(cmd.ErrOrStderr())
	switch format := viper.GetString("log-format"); format {
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{})
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("unknown log format %q", format)
	}
	return nil
}

func loadPlan() (extract.Plan, error) {
	if path := viper.GetString("plan"); path != "" {
		return extract.LoadPlan(path)
	}
	return extract.DefaultPlan(), nil
}

func runExtract(cmd *cobra.Command, args []string) error {
	plan, err := loadPlan()
	if err != nil {
		return err
	}
	e := &extract.Extractor{
		Plan:   plan,
		Logger: logger,
		Atomic: !viper.GetBool("in-place"),
	}
	return e.Run(cmd.Context(), args[0], args[1])
}

// printError writes err to w, in red when w is a terminal.
func printError(w io.Writer, err error) {
	msg := "h5trim: " + err.Error()
	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		msg = color.New(color.FgRed).Sprint(msg)
	}
	_, _ = fmt.Fprintln(w, msg)
}

// run executes the command tree and returns the process exit code.
func run(stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errMismatch) {
			printError(stderr, err)
		}
		return 1
	}
	return 0
}

func main() {
	os.Exit(run(os.Stderr))
}
