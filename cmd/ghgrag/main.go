package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"

	"ghgrag/internal/config"
	"ghgrag/internal/log"
	"ghgrag/internal/session"
	"ghgrag/internal/tui"
)

func main() {
	_ = godotenv.Load()

	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "Path to YAML config file (optional; uses ~/.config/ghgrag/config.yaml if not provided)")
	flag.Parse()
	if flag.NArg() > 1 {
		fmt.Println("Usage: ghgrag [--config=config.yaml] [emission_factors.csv]")
		os.Exit(1)
	}

	// bubbletea owns the terminal, so logs go to a file
	logger, closeLog, err := log.NewFile("")
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error opening log file:", err)
		os.Exit(1)
	}
	defer closeLog()

	var cfg *config.AppConfig
	if cfgPath == "" {
		cfg, cfgPath, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(cfgPath)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error loading config:", err)
		os.Exit(1)
	}
	logger.Debug("config loaded", "path", cfgPath)

	s, err := session.New(cfg, config.CredentialsFromEnv(), logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	defer s.Close()

	if flag.NArg() == 1 {
		if _, err := s.UploadFile(context.Background(), flag.Arg(0)); err != nil {
			fmt.Fprintln(os.Stderr, "Error loading data:", err)
			os.Exit(1)
		}
	}

	m := tui.New(s, cfg.Retrieval.TopK)
	if _, err := tea.NewProgram(m, tea.WithAltScreen()).Run(); err != nil {
		logger.Error("tui exited", "error", err)
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
