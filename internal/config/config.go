package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	settingsFile     = "config/setting.ini"
	defaultEnv       = "dev"
	envConfigPattern = "config/%s/engine.ini"
)

// Settings contains global toggles such as the active environment.
type Settings struct {
	Environment string
	Defaults    map[string]string
}

// EngineConfig describes runtime options for the engine daemon.
type EngineConfig struct {
	Environment string
	HTTPPort    int

	// Ledger storage backend: sqlite (default) or postgres.
	LedgerBackend string
	LedgerPath    string
	PostgresDSN   string
	// Connection pool knobs, postgres only.
	PGMaxOpenConns        int
	PGMaxIdleConns        int
	PGConnMaxLifetimeMins int
	PGConnMaxIdleMins     int

	// Job transition archive. Empty backend disables archiving.
	ArchiveBackend string
	ArchivePath    string

	// Model catalog file (YAML). Optional; models may also be registered
	// through the admin API.
	ModelsFile string

	// Daily check-in award bounds, inclusive.
	CheckInMin int64
	CheckInMax int64

	// Generation dispatch policy.
	JobTimeout      time.Duration
	ReserveEstimate string

	LogFile  string
	LogLevel string

	AuthSecret   string
	AuthDisabled bool
	AdminEmail   string
}

// LoadEngineConfig reads the current environment and loads the matching
// engine config file. Environment variables override file values.
func LoadEngineConfig(root string) (EngineConfig, error) {
	if root == "" {
		root = "."
	}
	s, err := loadSettings(root)
	if err != nil {
		return EngineConfig{}, err
	}

	envValues, err := parseINI(filepath.Join(root, fmt.Sprintf(envConfigPattern, s.Environment)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			envValues = map[string]string{}
		} else {
			return EngineConfig{}, err
		}
	}

	merged := make(map[string]string)
	for k, v := range s.Defaults {
		merged[k] = v
	}
	for k, v := range envValues {
		merged[k] = v
	}

	cfg := EngineConfig{
		Environment:           s.Environment,
		HTTPPort:              parseOptionalInt(firstNonEmpty(os.Getenv("LOREWEAVE_HTTP_PORT"), merged["http_port"]), 8090),
		LedgerBackend:         strings.ToLower(firstNonEmpty(os.Getenv("LOREWEAVE_LEDGER_BACKEND"), merged["ledger_backend"], "sqlite")),
		LedgerPath:            firstNonEmpty(os.Getenv("LOREWEAVE_LEDGER_PATH"), merged["ledger_path"], DefaultLedgerPath()),
		PostgresDSN:           firstNonEmpty(os.Getenv("LOREWEAVE_POSTGRES_DSN"), merged["postgres_dsn"]),
		PGMaxOpenConns:        parseOptionalInt(merged["pg_max_open_conns"], 10),
		PGMaxIdleConns:        parseOptionalInt(merged["pg_max_idle_conns"], 5),
		PGConnMaxLifetimeMins: parseOptionalInt(merged["pg_conn_max_lifetime_mins"], 30),
		PGConnMaxIdleMins:     parseOptionalInt(merged["pg_conn_max_idle_mins"], 5),
		ArchiveBackend:        strings.ToLower(firstNonEmpty(os.Getenv("LOREWEAVE_ARCHIVE_BACKEND"), merged["archive_backend"])),
		ArchivePath:           firstNonEmpty(os.Getenv("LOREWEAVE_ARCHIVE_PATH"), merged["archive_path"], DefaultArchivePath()),
		ModelsFile:            firstNonEmpty(os.Getenv("LOREWEAVE_MODELS_FILE"), merged["models_file"]),
		CheckInMin:            int64(parseOptionalInt(firstNonEmpty(os.Getenv("LOREWEAVE_CHECKIN_MIN"), merged["checkin_min"]), 10)),
		CheckInMax:            int64(parseOptionalInt(firstNonEmpty(os.Getenv("LOREWEAVE_CHECKIN_MAX"), merged["checkin_max"]), 50)),
		ReserveEstimate:       firstNonEmpty(os.Getenv("LOREWEAVE_RESERVE_ESTIMATE"), merged["reserve_estimate"]),
		LogFile:               firstNonEmpty(os.Getenv("LOREWEAVE_LOG_FILE"), merged["log_file"]),
		LogLevel:              firstNonEmpty(os.Getenv("LOREWEAVE_LOG_LEVEL"), merged["log_level"], "info"),
		AuthSecret:            firstNonEmpty(os.Getenv("LOREWEAVE_AUTH_SECRET"), merged["auth_secret"], "loreweave-dev-secret"),
		AuthDisabled:          parseOptionalBool(firstNonEmpty(os.Getenv("LOREWEAVE_AUTH_DISABLED"), merged["auth_disabled"]), true),
		AdminEmail:            firstNonEmpty(os.Getenv("LOREWEAVE_ADMIN_EMAIL"), merged["admin_email"], "admin@local"),
	}

	switch cfg.LedgerBackend {
	case "sqlite", "postgres":
	default:
		return EngineConfig{}, fmt.Errorf("invalid ledger_backend %q (want sqlite or postgres)", cfg.LedgerBackend)
	}
	if cfg.LedgerBackend == "postgres" && strings.TrimSpace(cfg.PostgresDSN) == "" {
		return EngineConfig{}, errors.New("postgres_dsn required when ledger_backend=postgres")
	}
	switch cfg.ArchiveBackend {
	case "", "sqlite", "postgres":
	default:
		return EngineConfig{}, fmt.Errorf("invalid archive_backend %q (want sqlite, postgres or empty)", cfg.ArchiveBackend)
	}
	if cfg.ArchiveBackend == "postgres" && strings.TrimSpace(cfg.PostgresDSN) == "" {
		return EngineConfig{}, errors.New("postgres_dsn required when archive_backend=postgres")
	}
	if cfg.CheckInMin <= 0 || cfg.CheckInMax < cfg.CheckInMin {
		return EngineConfig{}, fmt.Errorf("invalid check-in bounds [%d,%d]", cfg.CheckInMin, cfg.CheckInMax)
	}

	timeout := firstNonEmpty(os.Getenv("LOREWEAVE_JOB_TIMEOUT"), merged["job_timeout"], "2m")
	dur, err := time.ParseDuration(timeout)
	if err != nil || dur <= 0 {
		return EngineConfig{}, fmt.Errorf("invalid job_timeout %q", timeout)
	}
	cfg.JobTimeout = dur

	return cfg, nil
}

func loadSettings(root string) (Settings, error) {
	values, err := parseINI(filepath.Join(root, settingsFile))
	if errors.Is(err, os.ErrNotExist) {
		return Settings{Environment: defaultEnv, Defaults: map[string]string{}}, nil
	}
	if err != nil {
		return Settings{}, err
	}
	env := values["environment"]
	if env == "" {
		env = defaultEnv
	}
	defaults := make(map[string]string)
	for k, v := range values {
		if k == "environment" {
			continue
		}
		defaults[k] = v
	}
	return Settings{Environment: env, Defaults: defaults}, nil
}

func parseINI(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		values[strings.ToLower(key)] = val
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return values, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseOptionalBool(v string, fallback bool) bool {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return parseBool(v)
}

func parseOptionalInt(v string, fallback int) int {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		return parsed
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// DefaultLedgerPath returns the fallback ledger location under the user's
// home directory.
func DefaultLedgerPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "ledger.db"
	}
	return filepath.Join(home, ".loreweave", "ledger.db")
}

// DefaultArchivePath returns the fallback job archive location.
func DefaultArchivePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "jobs.db"
	}
	return filepath.Join(home, ".loreweave", "jobs.db")
}
