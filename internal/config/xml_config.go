// Package config provides XML-based configuration management for on-premise deployment.
package config

import (
	"encoding/xml"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// AppConfig represents the root XML configuration structure
type AppConfig struct {
	XMLName xml.Name `xml:"DocumentManager"`

	// Server configuration
	Server ServerConfig `xml:"Server"`

	// Storage configuration
	Storage StorageConfig `xml:"Storage"`

	// Security configuration
	Security SecurityConfig `xml:"Security"`

	// Processing configuration
	Processing ProcessingConfig `xml:"Processing"`

	// Advanced options
	Advanced AdvancedConfig `xml:"Advanced"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port         int    `xml:"Port"`
	BindAddress  string `xml:"BindAddress"`
	EnableCORS   bool   `xml:"EnableCORS"`
	AllowOrigins string `xml:"AllowOrigins"`
	ReadTimeout  int    `xml:"ReadTimeoutSeconds"`
	WriteTimeout int    `xml:"WriteTimeoutSeconds"`
	IdleTimeout  int    `xml:"IdleTimeoutSeconds"`
	BodyLimit    string `xml:"BodyLimit"`
}

// StorageConfig contains file storage settings
type StorageConfig struct {
	DataDirectory    string `xml:"DataDirectory"`
	UploadsDirectory string `xml:"UploadsDirectory"`
	TempDirectory    string `xml:"TempDirectory"`
	DatabasePath     string `xml:"DatabasePath"`
	TaxonomyFile     string `xml:"TaxonomyFile"`
	ArchiveSuffix    string `xml:"ArchiveSuffix"`
}

// SecurityConfig contains authentication settings
type SecurityConfig struct {
	TokenSecret          string `xml:"TokenSecret"`
	TokenTTLMinutes      int    `xml:"TokenTTLMinutes"`
	AllowRegistration    bool   `xml:"AllowRegistration"`
	RegistrationCodeHash string `xml:"RegistrationCodeHash"`
	SecureCookies        bool   `xml:"SecureCookies"` // set when served over HTTPS
}

// ProcessingConfig contains upload and session housekeeping settings
type ProcessingConfig struct {
	SessionTimeoutMinutes  int  `xml:"SessionTimeoutMinutes"`
	CleanupIntervalMinutes int  `xml:"CleanupIntervalMinutes"`
	UploadJobMaxAgeMinutes int  `xml:"UploadJobMaxAgeMinutes"`
	EnableCompression      bool `xml:"EnableCompression"`
	CompressionLevel       int  `xml:"CompressionLevel"`
	MaxFileSizeMB          int  `xml:"MaxFileSizeMB"` // cap on a decompressed chunked upload
}

// AdvancedConfig contains advanced/tuning options
type AdvancedConfig struct {
	LogLevel             string `xml:"LogLevel"`
	LogFormat            string `xml:"LogFormat"` // "console" or "json"
	EnableRequestLogging bool   `xml:"EnableRequestLogging"`
	EnableMetrics        bool   `xml:"EnableMetrics"`
	DuckDBThreads        int    `xml:"DuckDBThreads"`
	DuckDBMemoryLimit    string `xml:"DuckDBMemoryLimit"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:         8089,
			BindAddress:  "0.0.0.0",
			EnableCORS:   false,
			AllowOrigins: "*",
			ReadTimeout:  30,
			WriteTimeout: 30,
			IdleTimeout:  120,
			BodyLimit:    "512M",
		},
		Storage: StorageConfig{
			DataDirectory:    "./data",
			UploadsDirectory: "./data/uploads",
			TempDirectory:    "./data/temp",
			DatabasePath:     "./data/docmanager.duckdb",
			TaxonomyFile:     "./taxonomy.yaml",
			ArchiveSuffix:    "_revisoes",
		},
		Security: SecurityConfig{
			TokenTTLMinutes:   480,
			AllowRegistration: false,
		},
		Processing: ProcessingConfig{
			SessionTimeoutMinutes:  30,
			CleanupIntervalMinutes: 5,
			UploadJobMaxAgeMinutes: 60,
			EnableCompression:      true,
			CompressionLevel:       5,
			MaxFileSizeMB:          1024,
		},
		Advanced: AdvancedConfig{
			LogLevel:             "info",
			LogFormat:            "console",
			EnableRequestLogging: true,
			EnableMetrics:        true,
			DuckDBThreads:        2,
			DuckDBMemoryLimit:    "256MB",
		},
	}
}

// LoadConfig loads configuration from XML file
func LoadConfig(configPath string) (*AppConfig, error) {
	config := DefaultConfig()

	// If file doesn't exist, create default
	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		if err := config.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	} else {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := xml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	config.applyEnvironmentOverrides()
	config.resolvePaths(filepath.Dir(configPath))

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Save saves the configuration to XML file
func (c *AppConfig) Save(configPath string) error {
	output, err := xml.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(xml.Header + "\n<!-- Document Manager Configuration -->\n<!-- This file is auto-generated on first run -->\n\n")
	content := append(header, output...)

	if err := os.WriteFile(configPath, content, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate rejects settings the server cannot start with.
func (c *AppConfig) Validate() error {
	var problems []string
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("Server.Port %d out of range", c.Server.Port))
	}
	if c.Storage.UploadsDirectory == "" {
		problems = append(problems, "Storage.UploadsDirectory is empty")
	}
	if c.Storage.DatabasePath == "" {
		problems = append(problems, "Storage.DatabasePath is empty")
	}
	if c.Storage.ArchiveSuffix == "" {
		problems = append(problems, "Storage.ArchiveSuffix is empty")
	} else if strings.ContainsAny(c.Storage.ArchiveSuffix, `/\`) {
		problems = append(problems, "Storage.ArchiveSuffix must not contain path separators")
	}
	if c.Security.TokenTTLMinutes <= 0 {
		problems = append(problems, "Security.TokenTTLMinutes must be positive")
	}
	if c.Security.AllowRegistration && c.Security.RegistrationCodeHash == "" {
		problems = append(problems, "Security.AllowRegistration requires RegistrationCodeHash")
	}
	if c.Processing.CompressionLevel < -1 || c.Processing.CompressionLevel > 9 {
		problems = append(problems, "Processing.CompressionLevel must be between -1 and 9")
	}
	if c.Processing.MaxFileSizeMB <= 0 {
		problems = append(problems, "Processing.MaxFileSizeMB must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// applyEnvironmentOverrides allows environment variables to override config values
func (c *AppConfig) applyEnvironmentOverrides() {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}

	// DATA_DIR moves every derived path along with it
	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		c.Storage.DataDirectory = dataDir
		c.Storage.UploadsDirectory = filepath.Join(dataDir, "uploads")
		c.Storage.TempDirectory = filepath.Join(dataDir, "temp")
		c.Storage.DatabasePath = filepath.Join(dataDir, "docmanager.duckdb")
	}

	if secret := os.Getenv("DOCMANAGER_TOKEN_SECRET"); secret != "" {
		c.Security.TokenSecret = secret
	}
	if hash := os.Getenv("DOCMANAGER_REGISTRATION_CODE_HASH"); hash != "" {
		c.Security.RegistrationCodeHash = hash
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Advanced.LogLevel = level
	}
}

// resolvePaths converts relative paths to absolute based on config file location
func (c *AppConfig) resolvePaths(configDir string) {
	for _, p := range []*string{
		&c.Storage.DataDirectory,
		&c.Storage.UploadsDirectory,
		&c.Storage.TempDirectory,
		&c.Storage.DatabasePath,
		&c.Storage.TaxonomyFile,
	} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(configDir, *p)
		}
	}
}

// GetDataDir returns the absolute data directory path
func (c *AppConfig) GetDataDir() string {
	return c.Storage.DataDirectory
}

// GetUploadDir returns the absolute uploads directory path
func (c *AppConfig) GetUploadDir() string {
	return c.Storage.UploadsDirectory
}

// GetServerAddr returns the server bind address
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// TokenTTL returns how long issued tokens stay valid.
func (c *AppConfig) TokenTTL() time.Duration {
	return time.Duration(c.Security.TokenTTLMinutes) * time.Minute
}

// SessionTimeout returns the idle timeout for login sessions.
func (c *AppConfig) SessionTimeout() time.Duration {
	return time.Duration(c.Processing.SessionTimeoutMinutes) * time.Minute
}

// CleanupInterval returns the period of the housekeeping loops.
func (c *AppConfig) CleanupInterval() time.Duration {
	if c.Processing.CleanupIntervalMinutes <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.Processing.CleanupIntervalMinutes) * time.Minute
}

// MaxFileSize returns the decompressed upload cap in bytes.
func (c *AppConfig) MaxFileSize() int64 {
	return int64(c.Processing.MaxFileSizeMB) << 20
}

// UploadJobMaxAge returns how long finished upload jobs are kept.
func (c *AppConfig) UploadJobMaxAge() time.Duration {
	return time.Duration(c.Processing.UploadJobMaxAgeMinutes) * time.Minute
}

// EnsureDirectories creates all necessary directories
func (c *AppConfig) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDirectory,
		c.Storage.UploadsDirectory,
		c.Storage.TempDirectory,
		filepath.Dir(c.Storage.DatabasePath),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
