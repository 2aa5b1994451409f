package server

import (
	"fmt"
	"os"
	"strings"

	"flowspec/internal/logging"
	"flowspec/internal/version"
)

func LogStartupFlags(logger *logging.Logger, cfg Config) {
	if logger == nil || cfg.Sources == nil {
		return
	}
	var flags []string
	if cfg.Sources["port"] == sourceFlag {
		flags = append(flags, fmt.Sprintf("--port %d", cfg.ListenPort))
	}
	if cfg.Sources["data-dir"] == sourceFlag {
		flags = append(flags, formatStringFlag("--data-dir", cfg.DataDir))
	}
	if cfg.Sources["token"] == sourceFlag {
		flags = append(flags, formatSecretFlag("--token", cfg.AuthToken))
	}
	if cfg.Sources["log-level"] == sourceFlag {
		flags = append(flags, formatStringFlag("--log-level", cfg.LogLevel))
	}
	if cfg.Sources["temporal-host"] == sourceFlag {
		flags = append(flags, formatStringFlag("--temporal-host", cfg.TemporalHost))
	}
	if cfg.Sources["temporal-namespace"] == sourceFlag {
		flags = append(flags, formatStringFlag("--temporal-namespace", cfg.TemporalNamespace))
	}
	if cfg.Sources["temporal-enabled"] == sourceFlag {
		flags = append(flags, formatBoolFlag("--temporal-enabled", cfg.TemporalEnabled))
	}
	if cfg.Sources["temporal-dev-server"] == sourceFlag {
		flags = append(flags, formatBoolFlag("--temporal-dev-server", cfg.TemporalDevServer))
	}
	if cfg.Sources["host-token"] == sourceFlag {
		flags = append(flags, formatSecretFlag("--host-token", cfg.HostToken))
	}
	if cfg.Sources["host-owner"] == sourceFlag {
		flags = append(flags, formatStringFlag("--host-owner", cfg.HostOwner))
	}
	if cfg.Sources["host-base-url"] == sourceFlag {
		flags = append(flags, formatStringFlag("--host-base-url", cfg.HostBaseURL))
	}
	if cfg.Sources["webhook-secret"] == sourceFlag {
		flags = append(flags, formatSecretFlag("--webhook-secret", cfg.WebhookSecret))
	}
	if cfg.Sources["webhook-url"] == sourceFlag {
		flags = append(flags, formatStringFlag("--webhook-url", cfg.WebhookURL))
	}
	if cfg.Sources["mail-api-key"] == sourceFlag {
		flags = append(flags, formatSecretFlag("--mail-api-key", cfg.MailAPIKey))
	}
	if cfg.Sources["mail-from"] == sourceFlag {
		flags = append(flags, formatStringFlag("--mail-from", cfg.MailFrom))
	}
	if cfg.Sources["question-issue"] == sourceFlag {
		flags = append(flags, formatBoolFlag("--question-issue", cfg.QuestionIssue))
	}
	if cfg.Sources["wait-timeout-days"] == sourceFlag {
		flags = append(flags, fmt.Sprintf("--wait-timeout-days %d", cfg.WaitTimeoutDays))
	}
	if cfg.Sources["seed-skills"] == sourceFlag {
		flags = append(flags, formatBoolFlag("--seed-skills", cfg.SeedSkills))
	}
	if cfg.Sources["verbose"] == sourceFlag {
		flags = append(flags, formatBoolFlag("--verbose", cfg.Verbose))
	}
	if cfg.Sources["quiet"] == sourceFlag {
		flags = append(flags, formatBoolFlag("--quiet", cfg.Quiet))
	}

	if len(flags) == 0 {
		return
	}
	logger.Debug("starting with flags", map[string]string{
		"flags": strings.Join(flags, " "),
	})
}

func LogVersionInfo(logger *logging.Logger) {
	if logger == nil {
		return
	}
	info := version.GetVersionInfo()
	message := fmt.Sprintf("flowspec version %s", info.Version)
	var details []string
	if info.Built != "" {
		details = append(details, fmt.Sprintf("built %s", info.Built))
	}
	if info.GitCommit != "" {
		details = append(details, fmt.Sprintf("commit %s", info.GitCommit))
	}
	if len(details) > 0 {
		message = fmt.Sprintf("%s (%s)", message, strings.Join(details, ", "))
	}
	logger.Info(message, nil)
}

// EnsureStateDirs creates the data directory layout: archives for uploaded
// packages and the state file's parent.
func EnsureStateDirs(cfg Config, logger *logging.Logger) {
	for _, dir := range []string{cfg.DataDir, ArchiveDir(cfg)} {
		if err := os.MkdirAll(dir, 0o755); err != nil && logger != nil {
			logger.Warn("create state dir failed", map[string]string{
				"path":  dir,
				"error": err.Error(),
			})
		}
	}
}

func formatBoolFlag(name string, value bool) string {
	if value {
		return name
	}
	return fmt.Sprintf("%s=%t", name, value)
}

func formatStringFlag(name, value string) string {
	if strings.TrimSpace(value) == "" {
		return fmt.Sprintf("%s=\"\"", name)
	}
	return fmt.Sprintf("%s %s", name, value)
}

func formatSecretFlag(name, value string) string {
	if strings.TrimSpace(value) == "" {
		return fmt.Sprintf("%s=\"\"", name)
	}
	return name + " [set]"
}
