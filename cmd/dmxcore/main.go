package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
	"github.com/zitlem/DMXX-sub001/internal/config"
	"github.com/zitlem/DMXX-sub001/internal/engine"
	"github.com/zitlem/DMXX-sub001/internal/logger"
	"github.com/zitlem/DMXX-sub001/internal/monitor"
)

func main() {
	root := &cli.Command{
		Name:  "dmxcore",
		Usage: "DMX channel resolution and output dispatch core",
		Commands: []*cli.Command{
			serveCommand(),
			checkConfigCommand(),
		},
	}

	if err := root.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the pipeline",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Value: "configs/conf.toml", Usage: "Path to configuration file"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return serve(c.String("config"))
		},
	}
}

func checkConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "check-config",
		Usage: "Validate a configuration file and exit",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Value: "configs/conf.toml", Usage: "Path to configuration file"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			if _, err := config.NewConfig(c.String("config")); err != nil {
				return fmt.Errorf("configuration invalid: %w", err)
			}
			fmt.Println("configuration ok")
			return nil
		},
	}
}

func serve(configFile string) error {
	cfg, err := config.NewConfig(configFile)
	if err != nil {
		return fmt.Errorf("configuration file read error: %w", err)
	}

	log, err := logger.NewLogger(cfg.Logger.Level)
	if err != nil {
		return fmt.Errorf("failed to create a logger: %w", err)
	}

	log.With(logger.Fields{"module": "logger"}).Debug("newLogger created ok")

	bus := monitor.NewBus()

	e, err := engine.New(log, cfg, bus)
	if err != nil {
		return fmt.Errorf("failed to build the engine: %w", err)
	}
	log.With(logger.Fields{"module": "engine"}).Debug("engine created ok")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer cancel()

	if err = e.Start(ctx); err != nil {
		return fmt.Errorf("failed to start the engine: %w", err)
	}

	var bridge *monitor.Bridge
	if cfg.Monitor.Enabled {
		bridge = monitor.NewBridge(log, convertMonitorConf(cfg.Monitor), bus)
		if err = bridge.Start(ctx); err != nil {
			log.Error("failed to start MQTT bridge:", err.Error())
			cancel()
		}
	}

	<-ctx.Done()

	if bridge != nil {
		if err := bridge.Stop(); err != nil {
			log.Error("failed to stop MQTT bridge:", err.Error())
		}
	}

	e.Stop()
	bus.Close()

	log.Info("shutdown complete")
	return nil
}

// convertMonitorConf converts the structures.
func convertMonitorConf(cfg config.MonitorConf) monitor.MQTTConf {
	return monitor.MQTTConf{
		ClientID:    cfg.ClientID,
		Schema:      "tcp",
		Host:        cfg.Host,
		Port:        cfg.Port,
		User:        cfg.User,
		Password:    cfg.Password,
		TopicPrefix: cfg.TopicPrefix,
		Qos:         cfg.Qos,
	}
}
