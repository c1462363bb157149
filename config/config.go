package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
)

type SystemConfig struct {
	DataDirectory string `toml:"data_directory"`
}

type ServerConfig struct {
	BaseURL string `toml:"base_url"`
}

type ChatConfig struct {
	UseWebSearch        bool  `toml:"use_web_search"`
	SelectedDocumentIDs []int `toml:"selected_document_ids,omitempty"`
}

type EncryptionConfig struct {
	Method     string `toml:"method"`
	SSHKeyPath string `toml:"ssh_key_path,omitempty"`
}

type UserConfig struct {
	Server     ServerConfig     `toml:"server"`
	Chat       ChatConfig       `toml:"chat"`
	Encryption EncryptionConfig `toml:"encryption"`
}

type Config struct {
	DataDirectory       string
	ServerURL           string
	UseWebSearch        bool
	SelectedDocumentIDs []int
	EncryptionMethod    EncryptionMethod
	SSHKeyPath          string
}

var Debug = false
var DebugLog *log.Logger

func (c *Config) BaseURL() string {
	return c.ServerURL
}

func (c *Config) DataDir() string {
	return ExpandPath(c.DataDirectory)
}

func (c *Config) applyEnvOverrides() {
	if url := os.Getenv("RAGOS_SERVER_URL"); url != "" {
		c.ServerURL = url
	}
	if dataDir := os.Getenv("RAGOS_DATA_DIR"); dataDir != "" {
		c.DataDirectory = dataDir
	}
	if search := os.Getenv("RAGOS_USE_WEB_SEARCH"); search != "" {
		if v, err := strconv.ParseBool(search); err == nil {
			c.UseWebSearch = v
		}
	}
}

func CheckDebug() bool {
	debug := os.Getenv("RAGOS_DEBUG")
	return debug == "true" || debug == "1"
}

func InitDebugLog(dataDir string) {
	if !CheckDebug() {
		return
	}

	Debug = true
	logPath := filepath.Join(dataDir, "debug.log")

	// Create debug log with secure permissions (0600 - may contain conversation fragments)
	f, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not open debug log at %s: %v\n", logPath, err)
		return
	}

	DebugLog = log.New(f, "", log.Ldate|log.Ltime|log.Lmicroseconds|log.Lshortfile)
}

// Load assembles the effective configuration from the system settings file,
// the user config in the data directory, and environment overrides (which win).
func Load() (*Config, error) {
	sysCfg, err := LoadSystemConfig()
	if err != nil {
		return nil, err
	}

	dataDir := ExpandPath(sysCfg.DataDirectory)
	if err := EnsureDir(dataDir); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	userCfg, err := LoadUserConfig(dataDir)
	if err != nil {
		return nil, err
	}

	method := EncryptionMethod(userCfg.Encryption.Method)
	if method == "" {
		method = EncryptionNone
	}

	cfg := &Config{
		DataDirectory:       sysCfg.DataDirectory,
		ServerURL:           userCfg.Server.BaseURL,
		UseWebSearch:        userCfg.Chat.UseWebSearch,
		SelectedDocumentIDs: userCfg.Chat.SelectedDocumentIDs,
		EncryptionMethod:    method,
		SSHKeyPath:          userCfg.Encryption.SSHKeyPath,
	}
	cfg.applyEnvOverrides()

	return cfg, nil
}
