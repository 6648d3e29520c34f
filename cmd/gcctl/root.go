package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/inhies/go-bytesize"
	"github.com/mattn/go-colorable"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/joshuapare/gckit/gc/heap"
	"github.com/joshuapare/gckit/internal/config"
	"github.com/joshuapare/gckit/internal/logger"
)

var (
	// Global flags
	verbose    bool
	quiet      bool
	jsonOut    bool
	noColor    bool
	configPath string
	logLevel   string

	// cfg is the effective configuration, loaded before every command.
	cfg config.Config

	stdout io.Writer = colorable.NewColorableStdout()
	stderr io.Writer = colorable.NewColorableStderr()
)

var rootCmd = &cobra.Command{
	Use:   "gcctl",
	Short: "Exercise and inspect the gckit managed heap",
	Long: `gcctl runs allocation workloads and acceptance scenarios against a
conservative mark-sweep heap and reports allocator and collector statistics.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		lo := cfg.LogOptions()
		if logLevel != "" {
			lo.Enabled = true
			lo.Level = logger.ParseLevel(logLevel)
		}
		if verbose && !lo.Enabled {
			lo.Enabled = true
			lo.Level = logger.ParseLevel("debug")
		}
		lo.Output = stderr
		logger.Init(lo)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().
		BoolVarP(&quiet, "quiet", "q", false, "Suppress all output except errors")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().
		StringVarP(&configPath, "config", "c", "", "Configuration file (.yaml, .yml or .json)")
	rootCmd.PersistentFlags().
		StringVar(&logLevel, "log-level", "", "Enable heap logging at this level (debug, info, warn, error)")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v\n", err)
		os.Exit(1)
	}
}

// newHeap creates a heap from the effective configuration.
func newHeap() (*heap.Heap, error) {
	opts, err := cfg.HeapOptions()
	if err != nil {
		return nil, err
	}
	return heap.New(opts)
}

// Helper functions for output

// printInfo prints an info message if not in quiet mode
func printInfo(format string, args ...any) {
	if !quiet {
		fmt.Fprintf(stdout, format, args...)
	}
}

// printError prints an error message
func printError(format string, args ...any) {
	fmt.Fprintf(stderr, colorize(colorRed, "Error: ")+format, args...)
}

// printVerbose prints a verbose message if verbose mode is enabled
func printVerbose(format string, args ...any) {
	if verbose && !quiet {
		fmt.Fprintf(stdout, format, args...)
	}
}

// printJSON outputs data as JSON
func printJSON(v any) error {
	encoder := json.NewEncoder(stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

const (
	colorReset = "\x1b[0m"
	colorRed   = "\x1b[31m"
	colorGreen = "\x1b[32m"
	colorBold  = "\x1b[1m"
)

func colorize(color, s string) string {
	if noColor {
		return s
	}
	return color + s + colorReset
}

var numbers = message.NewPrinter(language.English)

func formatNumber[N ~int | ~int64 | ~uint64 | ~uint32](n N) string {
	return numbers.Sprintf("%d", n)
}

func formatBytes[N ~int | ~int64 | ~uint64](n N) string {
	return bytesize.New(float64(n)).String()
}
