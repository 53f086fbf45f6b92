// Command zephyrgated is a standalone development/ops harness for the
// MQTT gateway core. It is modeled on cmd/autonomyd/main.go's CLI and
// daemon-lifecycle conventions (flag-based switches, PID-file guarded
// single-instance enforcement, signal-driven graceful shutdown, a
// heartbeat file) but wires gwconfig/gateway instead of autonomyd's
// UCI/controller/decision stack. In production the host plugin
// framework drives initialize/start/stop directly; this binary exists
// so the gateway can be run and inspected on its own.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/zephyrgate/mqtt-gateway/pkg/gateway"
	"github.com/zephyrgate/mqtt-gateway/pkg/httpapi"
	"github.com/zephyrgate/mqtt-gateway/pkg/logx"
	"github.com/zephyrgate/mqtt-gateway/pkg/metrics"
	"github.com/zephyrgate/mqtt-gateway/pkg/pidfile"
	"github.com/zephyrgate/mqtt-gateway/pkg/utils"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	configPath = flag.String("config", "/etc/zephyrgate/mqtt-gateway.json", "Path to the gateway's JSON configuration map")
	pidPath    = flag.String("pid-file", "/tmp/zephyrgated.pid", "Path to PID file")
	logLevel   = flag.String("log-level", "", "Override log level (debug|info|warning|error|critical)")
	version    = flag.Bool("version", false, "Show version information")
	foreground = flag.Bool("foreground", false, "Run in foreground (this binary never daemonizes itself; flag kept for parity with autonomyd)")
	force      = flag.Bool("force", false, "Force start by removing a stale PID file")

	statusPort = flag.Int("status-port", 0, "Port for the optional /health and /metrics status server (0 disables it)")
	statusHost = flag.String("status-host", "", "Bind host for the status server")
	authKey    = flag.String("status-auth-key", "", "Required X-Auth-Key header value for the status server, empty disables auth")
)

const (
	AppName    = "zephyrgated"
	AppVersion = "1.0.0"
)

// HeartbeatData is written to /tmp/zephyrgated.health every 10 seconds,
// in the shape of autonomyd's HeartbeatData, scoped to this gateway's
// own health snapshot fields.
type HeartbeatData struct {
	Timestamp  string  `json:"ts"`
	UptimeS    int64   `json:"uptime_s"`
	Version    string  `json:"version"`
	Status     string  `json:"status"`
	MemMB      float64 `json:"mem_mb"`
	Goroutines int     `json:"goroutines"`
	Connected  bool    `json:"connected"`
	QueueSize  int     `json:"queue_size"`
}

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("%s version %s\n", AppName, AppVersion)
		os.Exit(0)
	}

	effectiveLogLevel := "info"
	if *logLevel != "" {
		effectiveLogLevel = *logLevel
	}

	logger := logx.NewLogger(effectiveLogLevel, AppName)

	pidFile := pidfile.New(*pidPath)
	running, existingPID, err := pidFile.CheckRunning()
	if err != nil {
		logger.Error("failed to check for a running instance", "error", err)
		os.Exit(1)
	}
	if running {
		if *force {
			logger.Warn("another instance is running, force flag specified", "existing_pid", existingPID)
			if err := pidFile.ForceRemove(); err != nil {
				logger.Error("failed to remove existing PID file", "error", err)
				os.Exit(1)
			}
		} else {
			logger.Error("another instance is already running", "existing_pid", existingPID, "pid_file", *pidPath)
			fmt.Fprintf(os.Stderr, "Error: %s is already running with PID %d\n", AppName, existingPID)
			fmt.Fprintf(os.Stderr, "Use --force to override, or stop the existing instance first\n")
			os.Exit(1)
		}
	}

	if err := pidFile.Create(); err != nil {
		logger.Error("failed to create PID file", "error", err, "path", *pidPath)
		os.Exit(1)
	}
	defer func() {
		if err := pidFile.Remove(); err != nil {
			logger.Error("failed to remove PID file", "error", err)
		}
	}()

	logger.Info("starting gateway daemon", "version", AppVersion, "pid", os.Getpid(), "pid_file", *pidPath, "foreground", *foreground)

	raw, err := loadConfigMap(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", "error", err, "path", *configPath)
		os.Exit(1)
	}

	gw, err := gateway.New(raw, logger)
	if err != nil {
		logger.Error("gateway configuration invalid", "error", err)
		os.Exit(1)
	}

	if *logLevel != "" {
		logger.SetLevel(effectiveLogLevel)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := gw.Start(ctx); err != nil {
		logger.Error("failed to start gateway", "error", err)
		os.Exit(1)
	}

	var statusServer *httpapi.Server
	if *statusPort != 0 {
		statusServer = httpapi.New(httpapi.Config{
			Enabled: true,
			Host:    *statusHost,
			Port:    *statusPort,
			AuthKey: *authKey,
		}, gw, logger)
		if err := statusServer.Start(); err != nil {
			logger.Error("failed to start status server", "error", err)
		}

		collector := metrics.NewCollector(prometheus.DefaultRegisterer, gw, logger)
		go collector.Run(ctx, 15*time.Second)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	startTime := time.Now()
	heartbeatTicker := time.NewTicker(10 * time.Second)
	defer heartbeatTicker.Stop()
	go writeHeartbeat(ctx, heartbeatTicker, startTime, logger, gw)

	sig := <-sigChan
	logger.Info("received shutdown signal", "signal", sig)

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := gw.Stop(shutdownCtx); err != nil {
		logger.Error("error stopping gateway", "error", err)
	}
	if statusServer != nil {
		if err := statusServer.Stop(shutdownCtx); err != nil {
			logger.Error("error stopping status server", "error", err)
		}
	}

	logger.Info("shutdown complete")
}

// loadConfigMap reads the gateway's configuration from a JSON file
// into the free-form map gwconfig.Validate expects. The host plugin
// framework normally supplies this map directly; this file-based
// loader exists only for the standalone harness.
func loadConfigMap(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]interface{}{}, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing config file as JSON: %w", err)
	}
	return raw, nil
}

func writeHeartbeat(ctx context.Context, ticker *time.Ticker, startTime time.Time, logger *logx.Logger, gw *gateway.Gateway) {
	const heartbeatFile = "/tmp/zephyrgated.health"

	for {
		select {
		case <-ctx.Done():
			logger.Info("heartbeat writer stopped")
			return
		case <-ticker.C:
			var memStats runtime.MemStats
			runtime.ReadMemStats(&memStats)

			h := gw.Health()
			status := "ok"
			if !h.Healthy {
				status = "degraded"
			}

			heartbeat := HeartbeatData{
				Timestamp:  time.Now().Format(time.RFC3339),
				UptimeS:    int64(time.Since(startTime).Seconds()),
				Version:    AppVersion,
				Status:     status,
				MemMB:      float64(memStats.Alloc) / 1024 / 1024,
				Goroutines: runtime.NumGoroutine(),
				Connected:  h.Connected,
				QueueSize:  h.QueueSize,
			}

			data, err := json.Marshal(heartbeat)
			if err != nil {
				logger.Error("failed to marshal heartbeat data", "error", err)
				continue
			}

			tempFile, err := utils.SecureTempFile("/tmp", "zephyrgated-heartbeat")
			if err != nil {
				logger.Error("failed to create temporary heartbeat file", "error", err)
				continue
			}
			tempPath := tempFile.Name()

			if _, err := tempFile.Write(data); err != nil {
				tempFile.Close()
				_ = utils.CleanupTempFile(tempPath)
				logger.Error("failed to write heartbeat file", "error", err)
				continue
			}
			tempFile.Close()

			if err := os.Rename(tempPath, heartbeatFile); err != nil {
				_ = utils.CleanupTempFile(tempPath)
				logger.Error("failed to rename heartbeat file", "error", err)
				continue
			}

			logger.Debug("heartbeat written", "file", heartbeatFile, "uptime_s", heartbeat.UptimeS, "queue_size", heartbeat.QueueSize)
		}
	}
}
