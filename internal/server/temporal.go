package server

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"flowspec/internal/logging"
)

const temporalDefaultHost = "localhost:7233"
const temporalHealthCheckTimeout = 500 * time.Millisecond
const temporalDevServerStopTimeout = 5 * time.Second
const TemporalDevServerStartTimeout = 10 * time.Second

// TemporalDevServer is a locally spawned `temporal server start-dev`
// process for development deployments without a standing cluster.
type TemporalDevServer struct {
	cmd     *exec.Cmd
	logFile *os.File
	done    chan error
}

func StartTemporalDevServer(cfg *Config, logger *logging.Logger) (*TemporalDevServer, error) {
	if cfg == nil || !cfg.TemporalDevServer {
		return nil, nil
	}
	temporalPath, err := exec.LookPath("temporal")
	if err != nil {
		return nil, fmt.Errorf("temporal CLI not found")
	}

	dataDir := filepath.Join(cfg.DataDir, "temporal")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		absDataDir = dataDir
	}
	if err := os.MkdirAll(absDataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create temporal data dir: %w", err)
	}

	logPath := filepath.Join(absDataDir, "temporal.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open temporal log: %w", err)
	}

	temporalPort, err := resolveTemporalDevPort(cfg, logger)
	if err != nil {
		_ = logFile.Close()
		return nil, err
	}

	cmd := exec.Command(temporalPath, "server", "start-dev",
		"--headless",
		"--port", strconv.Itoa(temporalPort),
	)
	cmd.Dir = absDataDir
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	if err := cmd.Start(); err != nil {
		_ = logFile.Close()
		return nil, fmt.Errorf("start temporal dev server: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	if logger != nil {
		logger.Info("temporal dev server started", map[string]string{
			"dir":  absDataDir,
			"log":  logPath,
			"host": normalizeTemporalHost(cfg.TemporalHost),
		})
	}

	return &TemporalDevServer{
		cmd:     cmd,
		logFile: logFile,
		done:    done,
	}, nil
}

func resolveTemporalDevPort(cfg *Config, logger *logging.Logger) (int, error) {
	temporalPort := 0
	temporalHostSource := sourceDefault
	if cfg.Sources != nil {
		temporalHostSource = cfg.Sources["temporal-host"]
	}
	if temporalHostSource != sourceDefault && strings.TrimSpace(cfg.TemporalHost) != "" {
		if _, port, err := net.SplitHostPort(cfg.TemporalHost); err == nil {
			if parsed, err := strconv.Atoi(port); err == nil && parsed > 0 {
				temporalPort = parsed
			}
		} else if logger != nil {
			logger.Warn("temporal host missing port; using random port", map[string]string{
				"host": cfg.TemporalHost,
			})
		}
	}

	if temporalPort == 0 {
		port, err := pickRandomPort()
		if err != nil {
			return 0, fmt.Errorf("select temporal port: %w", err)
		}
		temporalPort = port
		cfg.TemporalHost = fmt.Sprintf("localhost:%d", temporalPort)
	}
	return temporalPort, nil
}

func pickRandomPort() (int, error) {
	listener, err := net.Listen("tcp", ":0")
	if err != nil {
		return 0, err
	}
	defer listener.Close()

	tcpAddress, ok := listener.Addr().(*net.TCPAddr)
	if !ok {
		return 0, fmt.Errorf("unexpected listener address: %T", listener.Addr())
	}
	return tcpAddress.Port, nil
}

func (server *TemporalDevServer) Done() <-chan error {
	if server == nil {
		return nil
	}
	return server.done
}

func (server *TemporalDevServer) Stop(logger *logging.Logger) {
	if server == nil {
		return
	}
	if server.cmd == nil || server.cmd.Process == nil {
		if server.logFile != nil {
			_ = server.logFile.Close()
		}
		return
	}

	select {
	case err := <-server.done:
		if logger != nil && err != nil {
			logger.Warn("temporal dev server exited", map[string]string{
				"error": err.Error(),
			})
		}
	default:
		if err := server.cmd.Process.Signal(os.Interrupt); err != nil && logger != nil {
			logger.Warn("temporal dev server signal failed", map[string]string{
				"error": err.Error(),
			})
		}
		select {
		case err := <-server.done:
			if logger != nil && err != nil {
				logger.Warn("temporal dev server stopped", map[string]string{
					"error": err.Error(),
				})
			}
		case <-time.After(temporalDevServerStopTimeout):
			if killErr := server.cmd.Process.Kill(); killErr != nil && logger != nil {
				logger.Warn("temporal dev server kill failed", map[string]string{
					"error": killErr.Error(),
				})
			}
		}
	}

	if server.logFile != nil {
		_ = server.logFile.Close()
	}
}

func WaitForTemporalServer(host string, timeout time.Duration, done <-chan error, logger *logging.Logger) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		if err := temporalServerReachable(host); err == nil {
			if logger != nil {
				logger.Info("temporal server ready", map[string]string{
					"host": normalizeTemporalHost(host),
				})
			}
			return true
		}

		if time.Now().After(deadline) {
			if logger != nil {
				logger.Warn("temporal server wait timed out", map[string]string{
					"host": normalizeTemporalHost(host),
				})
			}
			return false
		}

		select {
		case err := <-done:
			if logger != nil {
				fields := map[string]string{}
				if err != nil {
					fields["error"] = err.Error()
				}
				logger.Warn("temporal dev server exited", fields)
			}
			return false
		case <-ticker.C:
		}
	}
}

func LogTemporalServerHealth(logger *logging.Logger, host string) {
	if logger == nil {
		return
	}
	address := normalizeTemporalHost(host)
	if err := temporalServerReachable(address); err != nil {
		logger.Warn("temporal server unreachable", map[string]string{
			"host":  address,
			"error": err.Error(),
		})
		return
	}
	logger.Info("temporal server reachable", map[string]string{
		"host": address,
	})
}

func temporalServerReachable(host string) error {
	address := normalizeTemporalHost(host)
	dialer := net.Dialer{Timeout: temporalHealthCheckTimeout}
	connection, dialError := dialer.Dial("tcp", address)
	if dialError != nil {
		return dialError
	}
	return connection.Close()
}

func normalizeTemporalHost(host string) string {
	address := strings.TrimSpace(host)
	if address == "" {
		return temporalDefaultHost
	}
	return address
}
