package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"mailrulez/core/domain"
	"mailrulez/pkg/fsutil"
)

// Core sender lists that always exist.
var CoreLists = []string{"white", "black", "vendor"}

// Legacy per-folder retention days, used by the startup pipeline before
// policies were introduced. Kept for backward compatible behavior.
var legacyRetention = map[string]int{
	"approved_ads": 30,
	"processed":    90,
	"pending":      365,
	"junk":         7,
}

// Config holds all runtime configuration.
type Config struct {
	// Environment
	Env      string
	LogLevel string
	Timezone string

	// Directories
	AppDir     string
	BaseDir    string
	DataDir    string
	ListsDir   string
	ConfigDir  string
	BackupsDir string

	// Control plane
	APIPort int

	// Accounts
	mu       sync.RWMutex
	Accounts []*domain.Account
}

// Load reads configuration from the environment and accounts.json.
func Load() (*Config, error) {
	baseDir := getEnv("MAIL_RULEZ_BASE_DIR", ".")
	dataDir := getEnv("MAIL_RULEZ_DATA_DIR", baseDir)

	cfg := &Config{
		Env:        getEnv("MAIL_RULEZ_ENV", "production"),
		LogLevel:   getEnv("MAIL_RULEZ_LOG_LEVEL", "info"),
		Timezone:   getEnv("MAIL_RULEZ_TIMEZONE", "UTC"),
		AppDir:     getEnv("MAIL_RULEZ_APP_DIR", baseDir),
		BaseDir:    baseDir,
		DataDir:    dataDir,
		ListsDir:   getEnv("MAIL_RULEZ_LISTS_DIR", filepath.Join(dataDir, "lists")),
		ConfigDir:  getEnv("MAIL_RULEZ_CONFIG_DIR", filepath.Join(dataDir, "config")),
		BackupsDir: getEnv("MAIL_RULEZ_BACKUPS_DIR", filepath.Join(dataDir, "backups")),
		APIPort:    getEnvInt("MAIL_RULEZ_API_PORT", 8080),
	}

	if err := cfg.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	if err := cfg.loadAccounts(); err != nil {
		return nil, fmt.Errorf("load accounts: %w", err)
	}
	cfg.applyEnvAccount()

	return cfg, nil
}

// IsDevelopment reports whether we run in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// EnsureDirs creates the data directories and touches the core list files.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.DataDir, c.ListsDir, c.ConfigDir, c.BackupsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	for _, name := range CoreLists {
		if err := fsutil.Touch(filepath.Join(c.ListsDir, name+".txt")); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// Accounts
// =============================================================================

func (c *Config) accountsPath() string {
	return filepath.Join(c.ConfigDir, "accounts.json")
}

func (c *Config) loadAccounts() error {
	data, err := os.ReadFile(c.accountsPath())
	if err != nil {
		if os.IsNotExist(err) {
			c.Accounts = nil
			return nil
		}
		return err
	}
	var accounts []*domain.Account
	if err := json.Unmarshal(data, &accounts); err != nil {
		return fmt.Errorf("parse accounts.json: %w", err)
	}
	for _, a := range accounts {
		normalizeAccount(a)
	}
	c.Accounts = accounts
	return nil
}

// applyEnvAccount synthesizes the env_account from MAIL_RULEZ_SERVER /
// MAIL_RULEZ_EMAIL / MAIL_RULEZ_PASSWORD, replacing any previous one.
func (c *Config) applyEnvAccount() {
	server := os.Getenv("MAIL_RULEZ_SERVER")
	email := os.Getenv("MAIL_RULEZ_EMAIL")
	password := os.Getenv("MAIL_RULEZ_PASSWORD")
	if server == "" || email == "" || password == "" {
		return
	}
	acct := &domain.Account{
		Name:     domain.EnvAccountName,
		Server:   server,
		Email:    email,
		Password: password,
	}
	normalizeAccount(acct)

	c.mu.Lock()
	defer c.mu.Unlock()
	for i, a := range c.Accounts {
		if a.Name == domain.EnvAccountName {
			c.Accounts[i] = acct
			return
		}
	}
	c.Accounts = append(c.Accounts, acct)
}

func normalizeAccount(a *domain.Account) {
	if a.Port == 0 {
		a.Port = 993
		a.UseSSL = true
	}
	if a.Folders == nil {
		a.Folders = domain.DefaultFolders()
	} else {
		for role, name := range domain.DefaultFolders() {
			if _, ok := a.Folders[role]; !ok {
				a.Folders[role] = name
			}
		}
	}
}

// FindAccount looks an account up by email, case-insensitive.
func (c *Config) FindAccount(email string) *domain.Account {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, a := range c.Accounts {
		if strings.EqualFold(a.Email, email) {
			return a
		}
	}
	return nil
}

// AllAccounts returns a snapshot of the account slice.
func (c *Config) AllAccounts() []*domain.Account {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*domain.Account, len(c.Accounts))
	copy(out, c.Accounts)
	return out
}

// AddAccount adds or replaces an account by email and persists.
func (c *Config) AddAccount(acct *domain.Account) error {
	normalizeAccount(acct)
	c.mu.Lock()
	replaced := false
	for i, a := range c.Accounts {
		if strings.EqualFold(a.Email, acct.Email) {
			c.Accounts[i] = acct
			replaced = true
			break
		}
	}
	if !replaced {
		c.Accounts = append(c.Accounts, acct)
	}
	c.mu.Unlock()
	return c.SaveAccounts()
}

// RemoveAccount drops an account by email and persists.
func (c *Config) RemoveAccount(email string) error {
	c.mu.Lock()
	kept := c.Accounts[:0]
	for _, a := range c.Accounts {
		if !strings.EqualFold(a.Email, email) {
			kept = append(kept, a)
		}
	}
	c.Accounts = kept
	c.mu.Unlock()
	return c.SaveAccounts()
}

// SaveAccounts writes accounts.json atomically.
func (c *Config) SaveAccounts() error {
	c.mu.RLock()
	data, err := json.MarshalIndent(c.Accounts, "", "  ")
	c.mu.RUnlock()
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(c.accountsPath(), data)
}

// =============================================================================
// Lists
// =============================================================================

// GetAllLists returns the core lists plus every *.txt discovered in the
// lists directory, sorted, without duplicates.
func (c *Config) GetAllLists() []string {
	seen := make(map[string]bool)
	names := make([]string, 0, len(CoreLists))
	for _, name := range CoreLists {
		seen[name] = true
		names = append(names, name)
	}
	entries, err := os.ReadDir(c.ListsDir)
	if err == nil {
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".txt") {
				continue
			}
			name := strings.TrimSuffix(e.Name(), ".txt")
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	sort.Strings(names[len(CoreLists):])
	return names
}

// GetListFilePath resolves a list name to its file, erroring on unknown
// names so typos do not silently create lists.
func (c *Config) GetListFilePath(name string) (string, error) {
	for _, known := range c.GetAllLists() {
		if known == name {
			return filepath.Join(c.ListsDir, name+".txt"), nil
		}
	}
	return "", fmt.Errorf("unknown list: %s", name)
}

// ListFilePath returns the path a list would live at, without existence
// checks. Used when creating new lists.
func (c *Config) ListFilePath(name string) string {
	return filepath.Join(c.ListsDir, name+".txt")
}

// =============================================================================
// Legacy retention
// =============================================================================

// GetRetentionSetting returns the legacy per-folder-type retention days.
func (c *Config) GetRetentionSetting(folderType string) int {
	if days, ok := legacyRetention[folderType]; ok {
		return days
	}
	return 30
}

// LegacyRetention returns a copy of the legacy retention map.
func (c *Config) LegacyRetention() map[string]int {
	out := make(map[string]int, len(legacyRetention))
	for k, v := range legacyRetention {
		out[k] = v
	}
	return out
}

// RulesPath is the rules.json location.
func (c *Config) RulesPath() string {
	return filepath.Join(c.ConfigDir, "rules.json")
}

// RetentionPoliciesPath is the retention_policies.json location.
func (c *Config) RetentionPoliciesPath() string {
	return filepath.Join(c.ConfigDir, "retention_policies.json")
}

// AuditLogPath is the retention audit log location.
func (c *Config) AuditLogPath() string {
	return filepath.Join(c.DataDir, "retention_audit.log")
}

// TrashMetaPath is the sqlite side table recording trash move times.
func (c *Config) TrashMetaPath() string {
	return filepath.Join(c.DataDir, "trash_meta.db")
}

// =============================================================================
// Env helpers
// =============================================================================

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
