// Command server runs the multi-slave Modbus server: TCP (MBAP) and,
// optionally, RTU (serial), backed by one shared datastore and PDU
// engine, with optional JSON snapshot persistence and an HTTP+
// WebSocket management interface.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.bug.st/serial"

	"github.com/brightgrid/modbusd/common"
	"github.com/brightgrid/modbusd/config"
	"github.com/brightgrid/modbusd/datastore"
	"github.com/brightgrid/modbusd/engine"
	"github.com/brightgrid/modbusd/logging"
	"github.com/brightgrid/modbusd/persistence"
	"github.com/brightgrid/modbusd/server"
	"github.com/brightgrid/modbusd/webui"
)

// version is overridden at build time via -ldflags.
var version = "dev"

func main() {
	var configPath string

	root := &cobra.Command{
		Use:     "server",
		Short:   "Run the Modbus TCP/RTU server",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "path to a YAML config file")
	root.SetVersionTemplate("{{.Version}}\n")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded
	}

	logOptions := []logging.Option{logging.WithLevel(common.ParseLevel(cfg.Logging.Level))}
	if cfg.Logging.File != "" {
		sink, err := logging.NewRotatingFile(cfg.Logging.File, int64(cfg.Logging.MaxSize), cfg.Logging.BackupCount)
		if err != nil {
			return fmt.Errorf("opening log file %s: %w", cfg.Logging.File, err)
		}
		defer sink.Close()
		logOptions = append(logOptions, logging.WithWriter(sink))
	}
	logger := logging.NewLogger(logOptions...)
	defer logger.Sync()

	historyMax := cfg.Data.HistoryMaxSize
	if !cfg.Data.HistoryEnabled {
		historyMax = datastore.HistoryDisabled
	}
	store := datastore.New(historyMax)
	for _, slave := range cfg.Slaves {
		store.InitializeSlave(byte(slave.ID), slave.Coils, slave.DiscreteInputs, slave.HoldingRegisters, slave.InputRegisters)
	}

	if cfg.Data.DataFilePath != "" && persistence.Exists(cfg.Data.DataFilePath) {
		snap, err := persistence.Load(cfg.Data.DataFilePath)
		if err != nil {
			logger.Error(ctx, "failed to load snapshot %s: %v", cfg.Data.DataFilePath, err)
		} else {
			store.Restore(snap)
			logger.Info(ctx, "restored snapshot from %s", cfg.Data.DataFilePath)
		}
	}

	eng := engine.New(store, "modbusd", engine.WithLogger(logger))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var running []stoppable

	if cfg.Server.TCP.Enabled {
		tcpServer := server.NewTCPServer(cfg.Server.TCP.Host,
			server.WithServerPort(cfg.Server.TCP.Port),
			server.WithServerLogger(logger),
			server.WithServerEngine(eng),
		)
		if err := tcpServer.Start(ctx); err != nil {
			return fmt.Errorf("starting tcp server: %w", err)
		}
		running = append(running, tcpServer)
	}

	if cfg.Server.RTU.Enabled {
		port, err := openSerialPort(cfg.Server.RTU)
		if err != nil {
			return fmt.Errorf("opening serial port %s: %w", cfg.Server.RTU.Device, err)
		}
		rtuServer := server.NewRTUServer(port,
			server.WithRTULogger(logger),
			server.WithRTUEngine(eng),
			server.WithRTUIdleGap(time.Duration(cfg.Server.RTU.Timeout*float64(time.Second))),
		)
		if err := rtuServer.Start(ctx); err != nil {
			return fmt.Errorf("starting rtu server: %w", err)
		}
		running = append(running, rtuServer)
	}

	if cfg.Web.Enabled {
		mgmt := webui.NewServer(webui.Config{
			Host: cfg.Web.Host,
			Port: cfg.Web.Port,
			Auth: webui.AuthConfig{
				Enabled:  cfg.Web.Auth.Enabled,
				Username: cfg.Web.Auth.Username,
				Password: cfg.Web.Auth.Password,
			},
		}, store, eng, logger)
		if err := mgmt.Start(ctx); err != nil {
			return fmt.Errorf("starting management server: %w", err)
		}
		running = append(running, mgmt)
	}

	stopAutosave := make(chan struct{})
	if cfg.Data.AutoSave && cfg.Data.DataFilePath != "" {
		go autosaveLoop(ctx, store, cfg.Data.DataFilePath, time.Duration(cfg.Data.SaveInterval)*time.Second, logger, stopAutosave)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigChan:
		logger.Info(ctx, "received shutdown signal")
	case <-ctx.Done():
	}

	close(stopAutosave)
	cancel()
	for _, s := range running {
		if err := s.Stop(context.Background()); err != nil {
			logger.Error(ctx, "error stopping component: %v", err)
		}
	}

	if cfg.Data.DataFilePath != "" && store.IsModified() {
		if err := persistence.Save(cfg.Data.DataFilePath, store.Snapshot()); err != nil {
			logger.Error(ctx, "final snapshot save failed: %v", err)
		} else {
			store.ClearModified()
		}
	}

	logger.Info(ctx, "server shutdown complete")
	return nil
}

type stoppable interface {
	Stop(ctx context.Context) error
}

func autosaveLoop(ctx context.Context, store *datastore.Store, path string, interval time.Duration, logger common.LoggerInterface, stop <-chan struct{}) {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !store.IsModified() {
				continue
			}
			if err := persistence.Save(path, store.Snapshot()); err != nil {
				logger.Error(ctx, "autosave failed: %v", err)
				continue
			}
			store.ClearModified()
			logger.Debug(ctx, "autosaved datastore to %s", path)
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func openSerialPort(cfg config.RTUConfig) (serial.Port, error) {
	mode := &serial.Mode{
		BaudRate: cfg.Baud,
		DataBits: cfg.DataBits,
		Parity:   parseParity(cfg.Parity),
		StopBits: parseStopBits(cfg.StopBits),
	}
	return serial.Open(cfg.Device, mode)
}

func parseParity(p string) serial.Parity {
	switch p {
	case "E":
		return serial.EvenParity
	case "O":
		return serial.OddParity
	default:
		return serial.NoParity
	}
}

func parseStopBits(n int) serial.StopBits {
	switch n {
	case 2:
		return serial.TwoStopBits
	default:
		return serial.OneStopBit
	}
}
