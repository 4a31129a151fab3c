package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"ghgrag/internal/config"
	"ghgrag/internal/httpapi"
	"ghgrag/internal/log"
	"ghgrag/internal/session"
)

func main() {
	_ = godotenv.Load()

	var cfgPath, dataPath, addr string
	flag.StringVar(&cfgPath, "config", "", "Path to YAML config file")
	flag.StringVar(&dataPath, "data", "", "CSV file to load at startup")
	flag.StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	flag.Parse()

	logger := log.New()
	var cfg *config.AppConfig
	var err error
	if cfgPath == "" {
		cfg, cfgPath, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(cfgPath)
	}
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}

	s, err := session.New(cfg, config.CredentialsFromEnv(), logger)
	if err != nil {
		logger.Error("session init failed", "error", err)
		os.Exit(1)
	}
	defer s.Close()

	if dataPath != "" {
		if _, err := s.UploadFile(context.Background(), dataPath); err != nil {
			logger.Error("initial dataset rejected", "path", dataPath, "error", err)
			os.Exit(1)
		}
	}

	app := httpapi.NewApp(s, logger)
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		logger.Info("shutting down")
		_ = app.ShutdownWithTimeout(10 * time.Second)
	}()

	logger.Info("listening", "addr", cfg.Server.Addr, "config", cfgPath, "mode", s.Mode())
	if err := app.Listen(cfg.Server.Addr); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
