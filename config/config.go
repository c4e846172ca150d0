package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all service configuration
type Config struct {
	// Server settings
	Port int
	Host string
	Env  string // "development" or "production"

	LogLevel string

	// Transcript store: one subdirectory per workspace-storage slot,
	// each optionally containing a chatSessions directory.
	StorageRoot string

	// Data directory for everything this service owns
	DataDir string

	// Derived paths
	QuarantineRoot string // archived transcripts live here
	StatePath      string // sqlite state database
	LockPath       string // shared maintenance lock file

	// Workspace folders currently open in the host editor, passed in by
	// the extension shell. Used as a resolution fallback for workspace
	// identity.
	OpenFolders []string

	// Auto-archive (overflow) settings
	AutoArchiveEnabled      bool
	MaxSessionsPerWorkspace int
	OverflowAction          string // "archive" or "delete"
	Scope                   string // "all" or "current"
	CurrentWorkspace        string
	AutoArchiveInterval     time.Duration

	// Leader election settings
	ElectionEnabled   bool
	LockTTL           time.Duration
	HeartbeatInterval time.Duration
	PollInterval      time.Duration

	// Auto-purge (retention) settings
	AutoPurgeEnabled  bool
	RetentionDays     int
	AutoPurgeInterval time.Duration

	// How long a restored session stays exempt from auto-archive
	SkipListTTL time.Duration
}

var (
	cfg  *Config
	once sync.Once
)

// Get returns the global configuration (singleton)
func Get() *Config {
	once.Do(func() {
		// Best-effort .env loading; missing file is fine
		_ = godotenv.Load()
		cfg = load()
	})
	return cfg
}

// load reads configuration from environment variables
func load() *Config {
	homeDir, _ := os.UserHomeDir()

	dataDir := getEnv("CK_DATA_DIR", "./data")
	storageRoot := getEnv("CK_STORAGE_ROOT", filepath.Join(homeDir, ".chatkeeper", "workspaceStorage"))

	return &Config{
		// Server
		Port: getEnvInt("PORT", 14480),
		Host: getEnv("HOST", "127.0.0.1"),
		Env:  getEnv("ENV", "development"),

		LogLevel: getEnv("CK_LOG_LEVEL", "info"),

		// Paths
		StorageRoot:    storageRoot,
		DataDir:        dataDir,
		QuarantineRoot: getEnv("CK_ARCHIVE_DIR", filepath.Join(dataDir, "archive")),
		StatePath:      getEnv("CK_STATE_PATH", filepath.Join(dataDir, "chatkeeper.sqlite")),
		LockPath:       getEnv("CK_LOCK_PATH", filepath.Join(dataDir, "maintenance.lock")),

		OpenFolders: getEnvList("CK_OPEN_FOLDERS"),

		// Auto-archive
		AutoArchiveEnabled:      getEnvBool("CK_AUTO_ARCHIVE", true),
		MaxSessionsPerWorkspace: getEnvInt("CK_MAX_SESSIONS_PER_WORKSPACE", 200),
		OverflowAction:          getEnv("CK_OVERFLOW_ACTION", "archive"),
		Scope:                   getEnv("CK_SCOPE", "all"),
		CurrentWorkspace:        getEnv("CK_CURRENT_WORKSPACE", ""),
		AutoArchiveInterval:     getEnvDuration("CK_AUTO_ARCHIVE_INTERVAL", 30*time.Minute),

		// Leader election
		ElectionEnabled:   getEnvBool("CK_ELECTION", true),
		LockTTL:           getEnvDuration("CK_LOCK_TTL", 2*time.Minute),
		HeartbeatInterval: getEnvDuration("CK_HEARTBEAT_INTERVAL", 30*time.Second),
		PollInterval:      getEnvDuration("CK_POLL_INTERVAL", 45*time.Second),

		// Auto-purge
		AutoPurgeEnabled:  getEnvBool("CK_AUTO_PURGE", false),
		RetentionDays:     getEnvInt("CK_RETENTION_DAYS", 30),
		AutoPurgeInterval: getEnvDuration("CK_AUTO_PURGE_INTERVAL", 12*time.Hour),

		SkipListTTL: getEnvDuration("CK_SKIP_LIST_TTL", 10*time.Minute),
	}
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env != "production"
}

// LocalMode reports whether distributed coordination is bypassed: scheduled
// jobs then run unconditionally in every process.
func (c *Config) LocalMode() bool {
	return !c.ElectionEnabled || c.Scope == "current"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, string(os.PathListSeparator)) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
