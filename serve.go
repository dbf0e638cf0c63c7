package main

import (
	"fmt"
	"os"

	"haruki-cri-audio/api"
	"haruki-cri-audio/config"

	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/urfave/cli/v2"
)

var cmdServe = cli.Command{
	Name:   "serve",
	Usage:  "Run the job API from the backend configuration",
	Action: serve,
}

func serve(c *cli.Context) error {
	mainLogger.Infof("========================= Haruki CRI Audio %s =========================", config.Version)
	mainLogger.Infof("Powered By Haruki Dev Team")

	store, err := api.NewJobStore(config.Cfg.Backend.JobRecordFile)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	app := fiber.New(fiber.Config{
		BodyLimit:   30 * 1024 * 1024,
		JSONEncoder: sonic.Marshal,
		JSONDecoder: sonic.Unmarshal,
	})

	if config.Cfg.Backend.AccessLog != "" {
		logCfg := logger.Config{Format: config.Cfg.Backend.AccessLog}
		if config.Cfg.Backend.AccessLogPath != "" {
			accessLogFile, err := os.OpenFile(config.Cfg.Backend.AccessLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
			if err != nil {
				return cli.Exit(fmt.Sprintf("failed to open access log file: %v", err), 1)
			}
			defer func(accessLogFile *os.File) {
				_ = accessLogFile.Close()
			}(accessLogFile)
			logCfg.Stream = accessLogFile
		}
		app.Use(logger.New(logCfg))
	}

	api.RegisterRoutes(app, store)

	addr := fmt.Sprintf("%s:%d", config.Cfg.Backend.Host, config.Cfg.Backend.Port)
	listenCfg := fiber.ListenConfig{DisableStartupMessage: true}
	if config.Cfg.Backend.SSL {
		listenCfg.CertFile = config.Cfg.Backend.SSLCert
		listenCfg.CertKeyFile = config.Cfg.Backend.SSLKey
	}
	mainLogger.Infof("listening on %s", addr)
	if err := app.Listen(addr, listenCfg); err != nil {
		return cli.Exit(fmt.Sprintf("failed to start server: %v", err), 1)
	}
	return nil
}
