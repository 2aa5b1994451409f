package server

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	ListenPort        int
	DataDir           string
	AuthToken         string
	LogLevel          string
	TemporalHost      string
	TemporalNamespace string
	TemporalEnabled   bool
	TemporalDevServer bool
	HostToken         string
	HostOwner         string
	HostBaseURL       string
	WebhookSecret     string
	WebhookURL        string
	MailAPIKey        string
	MailFrom          string
	QuestionIssue     bool
	WaitTimeoutDays   int
	SeedSkills        bool
	Verbose           bool
	Quiet             bool
	ShowVersion       bool
	Sources           map[string]configSource
}

type configSource string

const (
	sourceDefault configSource = "default"
	sourceEnv     configSource = "env"
	sourceFlag    configSource = "flag"
)

type configDefaults struct {
	ListenPort        int
	DataDir           string
	LogLevel          string
	TemporalHost      string
	TemporalNamespace string
	TemporalEnabled   bool
	TemporalDevServer bool
	HostBaseURL       string
	QuestionIssue     bool
	WaitTimeoutDays   int
	SeedSkills        bool
}

type flagValues struct {
	ListenPort        int
	DataDir           string
	Token             string
	LogLevel          string
	TemporalHost      string
	TemporalNamespace string
	TemporalEnabled   bool
	TemporalDevServer bool
	HostToken         string
	HostOwner         string
	HostBaseURL       string
	WebhookSecret     string
	WebhookURL        string
	MailAPIKey        string
	MailFrom          string
	QuestionIssue     bool
	WaitTimeoutDays   int
	SeedSkills        bool
	Verbose           bool
	Quiet             bool
	Help              bool
	Version           bool
	Set               map[string]bool
}

func LoadConfig(args []string) (Config, error) {
	defaults := defaultConfigValues()
	flags, err := parseFlags(args, defaults)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Sources: make(map[string]configSource),
	}

	listenPort := defaults.ListenPort
	listenPortSource := sourceDefault
	if rawPort := os.Getenv("FLOWSPEC_PORT"); rawPort != "" {
		if parsed, err := strconv.Atoi(rawPort); err == nil && parsed > 0 {
			listenPort = parsed
			listenPortSource = sourceEnv
		}
	}
	if flags.Set["port"] {
		if flags.ListenPort <= 0 {
			return Config{}, fmt.Errorf("invalid --port: must be > 0")
		}
		listenPort = flags.ListenPort
		listenPortSource = sourceFlag
	}
	cfg.ListenPort = listenPort
	cfg.Sources["port"] = listenPortSource

	dataDir := defaults.DataDir
	dataDirSource := sourceDefault
	if rawDir := strings.TrimSpace(os.Getenv("FLOWSPEC_DATA_DIR")); rawDir != "" {
		dataDir = rawDir
		dataDirSource = sourceEnv
	}
	if flags.Set["data-dir"] {
		trimmed := strings.TrimSpace(flags.DataDir)
		if trimmed == "" {
			return Config{}, fmt.Errorf("invalid --data-dir: value cannot be empty")
		}
		dataDir = trimmed
		dataDirSource = sourceFlag
	}
	cfg.DataDir = dataDir
	cfg.Sources["data-dir"] = dataDirSource

	token := os.Getenv("FLOWSPEC_TOKEN")
	tokenSource := sourceDefault
	if token != "" {
		tokenSource = sourceEnv
	}
	if flags.Set["token"] {
		token = flags.Token
		tokenSource = sourceFlag
	}
	cfg.AuthToken = token
	cfg.Sources["token"] = tokenSource

	logLevel := defaults.LogLevel
	logLevelSource := sourceDefault
	if rawLevel := strings.TrimSpace(os.Getenv("FLOWSPEC_LOG_LEVEL")); rawLevel != "" {
		logLevel = rawLevel
		logLevelSource = sourceEnv
	}
	if flags.Set["log-level"] {
		trimmed := strings.TrimSpace(flags.LogLevel)
		if trimmed == "" {
			return Config{}, fmt.Errorf("invalid --log-level: value cannot be empty")
		}
		logLevel = trimmed
		logLevelSource = sourceFlag
	}
	cfg.LogLevel = logLevel
	cfg.Sources["log-level"] = logLevelSource

	temporalHost := defaults.TemporalHost
	temporalHostSource := sourceDefault
	if rawHost := strings.TrimSpace(os.Getenv("FLOWSPEC_TEMPORAL_HOST")); rawHost != "" {
		temporalHost = rawHost
		temporalHostSource = sourceEnv
	}
	if flags.Set["temporal-host"] {
		trimmed := strings.TrimSpace(flags.TemporalHost)
		if trimmed == "" {
			return Config{}, fmt.Errorf("invalid --temporal-host: value cannot be empty")
		}
		temporalHost = trimmed
		temporalHostSource = sourceFlag
	}
	cfg.TemporalHost = temporalHost
	cfg.Sources["temporal-host"] = temporalHostSource

	temporalNamespace := defaults.TemporalNamespace
	temporalNamespaceSource := sourceDefault
	if rawNamespace := strings.TrimSpace(os.Getenv("FLOWSPEC_TEMPORAL_NAMESPACE")); rawNamespace != "" {
		temporalNamespace = rawNamespace
		temporalNamespaceSource = sourceEnv
	}
	if flags.Set["temporal-namespace"] {
		trimmed := strings.TrimSpace(flags.TemporalNamespace)
		if trimmed == "" {
			return Config{}, fmt.Errorf("invalid --temporal-namespace: value cannot be empty")
		}
		temporalNamespace = trimmed
		temporalNamespaceSource = sourceFlag
	}
	cfg.TemporalNamespace = temporalNamespace
	cfg.Sources["temporal-namespace"] = temporalNamespaceSource

	temporalEnabled := defaults.TemporalEnabled
	temporalEnabledSource := sourceDefault
	if rawEnabled := strings.TrimSpace(os.Getenv("FLOWSPEC_TEMPORAL_ENABLED")); rawEnabled != "" {
		if parsed, err := strconv.ParseBool(rawEnabled); err == nil {
			temporalEnabled = parsed
			temporalEnabledSource = sourceEnv
		}
	}
	if flags.Set["temporal-enabled"] {
		temporalEnabled = flags.TemporalEnabled
		temporalEnabledSource = sourceFlag
	}
	cfg.TemporalEnabled = temporalEnabled
	cfg.Sources["temporal-enabled"] = temporalEnabledSource

	temporalDevServer := defaults.TemporalDevServer
	temporalDevServerSource := sourceDefault
	if rawDevServer := strings.TrimSpace(os.Getenv("FLOWSPEC_TEMPORAL_DEV_SERVER")); rawDevServer != "" {
		if parsed, err := strconv.ParseBool(rawDevServer); err == nil {
			temporalDevServer = parsed
			temporalDevServerSource = sourceEnv
		}
	}
	if flags.Set["temporal-dev-server"] {
		temporalDevServer = flags.TemporalDevServer
		temporalDevServerSource = sourceFlag
	}
	cfg.TemporalDevServer = temporalDevServer
	cfg.Sources["temporal-dev-server"] = temporalDevServerSource

	hostToken := os.Getenv("FLOWSPEC_HOST_TOKEN")
	hostTokenSource := sourceDefault
	if hostToken != "" {
		hostTokenSource = sourceEnv
	}
	if flags.Set["host-token"] {
		hostToken = flags.HostToken
		hostTokenSource = sourceFlag
	}
	cfg.HostToken = hostToken
	cfg.Sources["host-token"] = hostTokenSource

	hostOwner := strings.TrimSpace(os.Getenv("FLOWSPEC_HOST_OWNER"))
	hostOwnerSource := sourceDefault
	if hostOwner != "" {
		hostOwnerSource = sourceEnv
	}
	if flags.Set["host-owner"] {
		hostOwner = strings.TrimSpace(flags.HostOwner)
		hostOwnerSource = sourceFlag
	}
	cfg.HostOwner = hostOwner
	cfg.Sources["host-owner"] = hostOwnerSource

	hostBaseURL := defaults.HostBaseURL
	hostBaseURLSource := sourceDefault
	if rawURL := strings.TrimSpace(os.Getenv("FLOWSPEC_HOST_BASE_URL")); rawURL != "" {
		hostBaseURL = rawURL
		hostBaseURLSource = sourceEnv
	}
	if flags.Set["host-base-url"] {
		hostBaseURL = strings.TrimSpace(flags.HostBaseURL)
		hostBaseURLSource = sourceFlag
	}
	cfg.HostBaseURL = hostBaseURL
	cfg.Sources["host-base-url"] = hostBaseURLSource

	webhookSecret := os.Getenv("FLOWSPEC_WEBHOOK_SECRET")
	webhookSecretSource := sourceDefault
	if webhookSecret != "" {
		webhookSecretSource = sourceEnv
	}
	if flags.Set["webhook-secret"] {
		webhookSecret = flags.WebhookSecret
		webhookSecretSource = sourceFlag
	}
	cfg.WebhookSecret = webhookSecret
	cfg.Sources["webhook-secret"] = webhookSecretSource

	webhookURL := strings.TrimSpace(os.Getenv("FLOWSPEC_WEBHOOK_URL"))
	webhookURLSource := sourceDefault
	if webhookURL != "" {
		webhookURLSource = sourceEnv
	}
	if flags.Set["webhook-url"] {
		webhookURL = strings.TrimSpace(flags.WebhookURL)
		webhookURLSource = sourceFlag
	}
	cfg.WebhookURL = webhookURL
	cfg.Sources["webhook-url"] = webhookURLSource

	mailAPIKey := os.Getenv("FLOWSPEC_MAIL_API_KEY")
	mailAPIKeySource := sourceDefault
	if mailAPIKey != "" {
		mailAPIKeySource = sourceEnv
	}
	if flags.Set["mail-api-key"] {
		mailAPIKey = flags.MailAPIKey
		mailAPIKeySource = sourceFlag
	}
	cfg.MailAPIKey = mailAPIKey
	cfg.Sources["mail-api-key"] = mailAPIKeySource

	mailFrom := strings.TrimSpace(os.Getenv("FLOWSPEC_MAIL_FROM"))
	mailFromSource := sourceDefault
	if mailFrom != "" {
		mailFromSource = sourceEnv
	}
	if flags.Set["mail-from"] {
		mailFrom = strings.TrimSpace(flags.MailFrom)
		mailFromSource = sourceFlag
	}
	cfg.MailFrom = mailFrom
	cfg.Sources["mail-from"] = mailFromSource

	questionIssue := defaults.QuestionIssue
	questionIssueSource := sourceDefault
	if rawEnabled := strings.TrimSpace(os.Getenv("FLOWSPEC_QUESTION_ISSUE")); rawEnabled != "" {
		if parsed, err := strconv.ParseBool(rawEnabled); err == nil {
			questionIssue = parsed
			questionIssueSource = sourceEnv
		}
	}
	if flags.Set["question-issue"] {
		questionIssue = flags.QuestionIssue
		questionIssueSource = sourceFlag
	}
	cfg.QuestionIssue = questionIssue
	cfg.Sources["question-issue"] = questionIssueSource

	waitTimeoutDays := defaults.WaitTimeoutDays
	waitTimeoutSource := sourceDefault
	if rawDays := strings.TrimSpace(os.Getenv("FLOWSPEC_WAIT_TIMEOUT_DAYS")); rawDays != "" {
		if parsed, err := strconv.Atoi(rawDays); err == nil && parsed > 0 {
			waitTimeoutDays = parsed
			waitTimeoutSource = sourceEnv
		}
	}
	if flags.Set["wait-timeout-days"] {
		if flags.WaitTimeoutDays <= 0 {
			return Config{}, fmt.Errorf("invalid --wait-timeout-days: must be > 0")
		}
		waitTimeoutDays = flags.WaitTimeoutDays
		waitTimeoutSource = sourceFlag
	}
	cfg.WaitTimeoutDays = waitTimeoutDays
	cfg.Sources["wait-timeout-days"] = waitTimeoutSource

	seedSkills := defaults.SeedSkills
	seedSkillsSource := sourceDefault
	if rawSeed := strings.TrimSpace(os.Getenv("FLOWSPEC_SEED_SKILLS")); rawSeed != "" {
		if parsed, err := strconv.ParseBool(rawSeed); err == nil {
			seedSkills = parsed
			seedSkillsSource = sourceEnv
		}
	}
	if flags.Set["seed-skills"] {
		seedSkills = flags.SeedSkills
		seedSkillsSource = sourceFlag
	}
	cfg.SeedSkills = seedSkills
	cfg.Sources["seed-skills"] = seedSkillsSource

	verboseSource := sourceDefault
	if flags.Set["verbose"] {
		cfg.Verbose = flags.Verbose
		verboseSource = sourceFlag
	}
	cfg.Sources["verbose"] = verboseSource

	quietSource := sourceDefault
	if flags.Set["quiet"] {
		cfg.Quiet = flags.Quiet
		quietSource = sourceFlag
	}
	cfg.Sources["quiet"] = quietSource

	versionSource := sourceDefault
	cfg.ShowVersion = flags.Version
	if flags.Set["version"] {
		versionSource = sourceFlag
	}
	cfg.Sources["version"] = versionSource

	return cfg, nil
}

func defaultConfigValues() configDefaults {
	return configDefaults{
		ListenPort:        8420,
		DataDir:           ".flowspec",
		LogLevel:          "info",
		TemporalHost:      temporalDefaultHost,
		TemporalNamespace: "default",
		TemporalEnabled:   true,
		TemporalDevServer: false,
		HostBaseURL:       "",
		QuestionIssue:     true,
		WaitTimeoutDays:   365,
		SeedSkills:        true,
	}
}

func parseFlags(args []string, defaults configDefaults) (flagValues, error) {
	if args == nil {
		args = []string{}
	}
	fs := flag.NewFlagSet("flowspec", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	port := fs.Int("port", defaults.ListenPort, "HTTP listen port")
	dataDir := fs.String("data-dir", defaults.DataDir, "State directory")
	token := fs.String("token", "", "Auth token for REST/WS")
	logLevel := fs.String("log-level", defaults.LogLevel, "Minimum log level")
	temporalHost := fs.String("temporal-host", defaults.TemporalHost, "Temporal server host:port")
	temporalNamespace := fs.String("temporal-namespace", defaults.TemporalNamespace, "Temporal namespace")
	temporalEnabled := fs.Bool("temporal-enabled", defaults.TemporalEnabled, "Enable durable workflow runs")
	temporalDevServer := fs.Bool("temporal-dev-server", defaults.TemporalDevServer, "Auto-start Temporal dev server")
	hostToken := fs.String("host-token", "", "Git host API token")
	hostOwner := fs.String("host-owner", "", "Git host account owning spec repositories")
	hostBaseURL := fs.String("host-base-url", defaults.HostBaseURL, "Git host API base URL")
	webhookSecret := fs.String("webhook-secret", "", "HMAC secret for webhook deliveries")
	webhookURL := fs.String("webhook-url", "", "Public URL of the webhook endpoint")
	mailAPIKey := fs.String("mail-api-key", "", "Mail provider API key")
	mailFrom := fs.String("mail-from", "", "Notification sender address")
	questionIssue := fs.Bool("question-issue", defaults.QuestionIssue, "Open a question ticket when analysis has open questions")
	waitTimeoutDays := fs.Int("wait-timeout-days", defaults.WaitTimeoutDays, "Days a run may wait on a ticket or approval")
	seedSkills := fs.Bool("seed-skills", defaults.SeedSkills, "Seed the skill store with built-in definitions")
	verbose := fs.Bool("verbose", false, "Enable verbose logging")
	quiet := fs.Bool("quiet", false, "Reduce logging to warnings")
	help := fs.Bool("help", false, "Show help")
	version := fs.Bool("version", false, "Print version and exit")
	helpShort := fs.Bool("h", false, "Show help")
	versionShort := fs.Bool("v", false, "Print version and exit")

	fs.Usage = func() {
		printHelp(fs.Output(), defaults)
	}

	if err := fs.Parse(args); err != nil {
		return flagValues{}, err
	}

	set := make(map[string]bool)
	fs.Visit(func(flagValue *flag.Flag) {
		set[flagValue.Name] = true
	})

	flags := flagValues{
		ListenPort:        *port,
		DataDir:           *dataDir,
		Token:             *token,
		LogLevel:          *logLevel,
		TemporalHost:      *temporalHost,
		TemporalNamespace: *temporalNamespace,
		TemporalEnabled:   *temporalEnabled,
		TemporalDevServer: *temporalDevServer,
		HostToken:         *hostToken,
		HostOwner:         *hostOwner,
		HostBaseURL:       *hostBaseURL,
		WebhookSecret:     *webhookSecret,
		WebhookURL:        *webhookURL,
		MailAPIKey:        *mailAPIKey,
		MailFrom:          *mailFrom,
		QuestionIssue:     *questionIssue,
		WaitTimeoutDays:   *waitTimeoutDays,
		SeedSkills:        *seedSkills,
		Verbose:           *verbose,
		Quiet:             *quiet,
		Help:              *help || *helpShort,
		Version:           *version || *versionShort,
		Set:               set,
	}

	if flags.Help {
		set["help"] = true
		fs.SetOutput(os.Stdout)
		fs.Usage()
		return flags, flag.ErrHelp
	}

	if flags.Version {
		set["version"] = true
	}

	return flags, nil
}

type helpOption struct {
	Name string
	Desc string
}

func printHelp(out io.Writer, defaults configDefaults) {
	fmt.Fprintln(out, "Usage: flowspec [options]")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Flowspec specification pipeline for exported automation packages")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Options:")

	writeOptionGroup(out, "Server", []helpOption{
		{
			Name: "--port PORT",
			Desc: fmt.Sprintf("HTTP listen port (env: FLOWSPEC_PORT, default: %d)", defaults.ListenPort),
		},
		{
			Name: "--data-dir DIR",
			Desc: fmt.Sprintf("State directory (env: FLOWSPEC_DATA_DIR, default: %s)", defaults.DataDir),
		},
		{
			Name: "--token TOKEN",
			Desc: "Auth token for REST/WS (env: FLOWSPEC_TOKEN, default: none)",
		},
		{
			Name: "--log-level LEVEL",
			Desc: fmt.Sprintf("Minimum log level (env: FLOWSPEC_LOG_LEVEL, default: %s)", defaults.LogLevel),
		},
	})

	writeOptionGroup(out, "Temporal", []helpOption{
		{
			Name: "--temporal-host HOST:PORT",
			Desc: fmt.Sprintf("Temporal server address (env: FLOWSPEC_TEMPORAL_HOST, default: %s)", defaults.TemporalHost),
		},
		{
			Name: "--temporal-namespace NAME",
			Desc: fmt.Sprintf("Temporal namespace (env: FLOWSPEC_TEMPORAL_NAMESPACE, default: %s)", defaults.TemporalNamespace),
		},
		{
			Name: "--temporal-enabled",
			Desc: fmt.Sprintf("Enable durable workflow runs (env: FLOWSPEC_TEMPORAL_ENABLED, default: %t)", defaults.TemporalEnabled),
		},
		{
			Name: "--temporal-dev-server",
			Desc: fmt.Sprintf("Auto-start Temporal dev server (env: FLOWSPEC_TEMPORAL_DEV_SERVER, default: %t)", defaults.TemporalDevServer),
		},
	})

	writeOptionGroup(out, "Git host", []helpOption{
		{
			Name: "--host-token TOKEN",
			Desc: "Git host API token (env: FLOWSPEC_HOST_TOKEN, default: none)",
		},
		{
			Name: "--host-owner NAME",
			Desc: "Account owning spec repositories (env: FLOWSPEC_HOST_OWNER)",
		},
		{
			Name: "--host-base-url URL",
			Desc: "Git host API base URL (env: FLOWSPEC_HOST_BASE_URL, default: github.com)",
		},
		{
			Name: "--webhook-secret SECRET",
			Desc: "HMAC secret for webhook deliveries (env: FLOWSPEC_WEBHOOK_SECRET)",
		},
		{
			Name: "--webhook-url URL",
			Desc: "Public URL of the webhook endpoint (env: FLOWSPEC_WEBHOOK_URL)",
		},
	})

	writeOptionGroup(out, "Notifications", []helpOption{
		{
			Name: "--mail-api-key KEY",
			Desc: "Mail provider API key (env: FLOWSPEC_MAIL_API_KEY, default: log only)",
		},
		{
			Name: "--mail-from ADDRESS",
			Desc: "Notification sender address (env: FLOWSPEC_MAIL_FROM)",
		},
	})

	writeOptionGroup(out, "Runs", []helpOption{
		{
			Name: "--question-issue",
			Desc: fmt.Sprintf("Open a question ticket when analysis has open questions (env: FLOWSPEC_QUESTION_ISSUE, default: %t)", defaults.QuestionIssue),
		},
		{
			Name: "--wait-timeout-days DAYS",
			Desc: fmt.Sprintf("Days a run may wait on a ticket or approval (env: FLOWSPEC_WAIT_TIMEOUT_DAYS, default: %d)", defaults.WaitTimeoutDays),
		},
		{
			Name: "--seed-skills",
			Desc: fmt.Sprintf("Seed the skill store with built-in definitions (env: FLOWSPEC_SEED_SKILLS, default: %t)", defaults.SeedSkills),
		},
	})

	writeOptionGroup(out, "Common", []helpOption{
		{
			Name: "--verbose",
			Desc: "Enable verbose logging (default: false)",
		},
		{
			Name: "--quiet",
			Desc: "Reduce logging to warnings (default: false)",
		},
		{
			Name: "--help",
			Desc: "Show this help message",
		},
		{
			Name: "--version",
			Desc: "Print version and exit",
		},
	})

	fmt.Fprintln(out, "Environment variables override defaults; CLI flags override environment variables.")
}

func writeOptionGroup(out io.Writer, title string, options []helpOption) {
	fmt.Fprintf(out, "  %s:\n", title)
	for _, option := range options {
		fmt.Fprintf(out, "    %-30s %s\n", option.Name, option.Desc)
	}
	fmt.Fprintln(out, "")
}
