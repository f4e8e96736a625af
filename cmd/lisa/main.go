// Package main provides the lisa binary entry point. Lisa is a stage-driven
// conversational assistant for test design and requirement review.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"

	// Register LLM providers via init()
	_ "github.com/lisahq/lisa/llm/providers"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/lisahq/lisa/config"
	"github.com/lisahq/lisa/workflow"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "lisa"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "lisa",
		Short: "Conversational test design assistant",
		Long: `Lisa guides a user through structured test design and requirement
review workflows: intent routing, clarification, streamed reasoning and
incremental artifact construction, with state checkpointed per thread.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(configPath, logLevel)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	cmd.AddCommand(&cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(configPath, logLevel)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "workflows",
		Short: "List the registered workflows and their stages",
		Run: func(cmd *cobra.Command, args []string) {
			reg := workflow.NewRegistry()
			for _, id := range reg.List() {
				wf, err := reg.Get(id)
				if err != nil {
					continue
				}
				fmt.Printf("%s  %s\n", wf.ID, wf.Name)
				for _, stage := range wf.Stages {
					fmt.Printf("  %-10s %s", stage.ID, stage.Name)
					if stage.ArtifactKey != "" {
						fmt.Printf("  -> %s", stage.ArtifactKey)
					}
					fmt.Println()
				}
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

func runChat(configPath, logLevel string) error {
	// Local .env is optional
	_ = godotenv.Load()

	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	logger := newLogger(cfg.Log.Level)
	slog.SetDefault(logger)

	app, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	return app.Run()
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		return cfg, cfg.Validate()
	}
	return config.NewLoader(nil).Load()
}

func newLogger(level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
