package main

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/isdmx/livecode/config"
	"github.com/isdmx/livecode/livecode"
	"github.com/isdmx/livecode/logger"
	"github.com/isdmx/livecode/mcpserver"
	"github.com/isdmx/livecode/runtimes"
	"github.com/isdmx/livecode/sandbox"
)

func main() {
	app := fx.New(
		// Provide dependencies
		fx.Provide(
			// Config
			config.New,

			// Logger with configuration
			logger.NewFromConfig,

			// Runtime registry, built once from config
			runtimes.New,

			// Sandbox executor based on config
			fx.Annotate(
				sandbox.NewExecutor,
				fx.As(new(sandbox.SandboxExecutor)),
			),

			// Transports
			mcpserver.New,
			livecode.New,
		),

		// Start the appropriate transport based on config
		fx.Invoke(
			func(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger, mcp *mcpserver.MCPServer, live *livecode.Server) {
				switch cfg.Server.Transport {
				case "stdio":
					// Use fx to run this as a background task
					go func() {
						if err := mcp.ServeStdio(); err != nil {
							log.Fatal("stdio transport failed", zap.Error(err))
						}
					}()
				case "http":
					go func() {
						if err := mcp.ServeHTTP(); err != nil {
							log.Fatal("http transport failed", zap.Error(err))
						}
					}()
				case "livecode":
					lc.Append(fx.Hook{
						OnStart: func(context.Context) error {
							return live.Start()
						},
						OnStop: live.Shutdown,
					})
				default:
					panic("unsupported transport: " + cfg.Server.Transport)
				}
			},
		),

		// Use the application logger for fx logs
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)

	// Start the application
	app.Run()
}
