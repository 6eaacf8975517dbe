package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/joho/godotenv"

	"helmsman/internal/app"
	"helmsman/internal/config"
	"helmsman/internal/logger"
)

func main() {
	cfgPath := flag.String("config", "", "path to config file")
	flag.Parse()

	_ = godotenv.Load()

	path := *cfgPath
	if path == "" {
		path = os.Getenv("HELMSMAN_CONFIG")
	}
	if path == "" {
		path = "configs/config.yaml"
	}

	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	applyEnvOverrides(cfg)
	logger.SetLevel(cfg.App.LogLevel)
	logger.Infof("config loaded (env=%s)\n%s", cfg.App.Env, cfg.Dump())

	engine, err := app.New(cfg, path)
	if err != nil {
		log.Fatalf("init: %v", err)
	}
	if err := engine.Run(context.Background()); err != nil {
		log.Fatalf("run: %v", err)
	}
}

// Credentials may come from the environment instead of the config file.
func applyEnvOverrides(cfg *config.Config) {
	if v := os.Getenv("HELMSMAN_EXCHANGE_API_KEY"); v != "" {
		cfg.Exchange.APIKey = v
	}
	if v := os.Getenv("HELMSMAN_EXCHANGE_API_SECRET"); v != "" {
		cfg.Exchange.APISecret = v
	}
	if v := os.Getenv("HELMSMAN_TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Notify.Telegram.BotToken = v
	}
	if v := os.Getenv("HELMSMAN_TELEGRAM_CHAT_ID"); v != "" {
		cfg.Notify.Telegram.ChatID = v
	}
}
