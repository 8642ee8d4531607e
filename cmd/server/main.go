package main

import (
	app "campaign-preview-engine/internal/app/server"
	"campaign-preview-engine/internal/config"
)

func main() {
	cfg := config.Load()
	config.SetupLogging(cfg.Server.LogLevel, nil)

	app.Run(cfg)
}
