// Package configuration reads the INI-style settings.cfg file. Getters take a
// default that is returned while the configuration is not initialized or the
// key is missing, so packages can read settings from tests without setup.
package configuration

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// LocalOverridesFile is merged over the main file when it exists.
const LocalOverridesFile = "settings.local.cfg"

// Config holds settings by section and key.
type Config struct {
	settings map[string]map[string]string
	filePath string
	mu       sync.RWMutex
}

var (
	globalConfig *Config
	once         sync.Once
)

// sectionOrder is the order sections are written in a generated file.
var sectionOrder = []string{"Server", "Interpreter", "Lessons", "Session", "Network", "JWT", "TLS", "Debug"}

// Initialize loads configPath, creating it with defaults when missing, then
// applies settings.local.cfg from the working directory.
func Initialize(configPath string) error {
	var err error
	once.Do(func() {
		globalConfig, err = loadConfig(configPath)
		if err != nil {
			return
		}
		if _, statErr := os.Stat(LocalOverridesFile); statErr == nil {
			err = globalConfig.loadLocalConfig(LocalOverridesFile)
		}
	})
	return err
}

func loadConfig(filePath string) (*Config, error) {
	config := &Config{
		settings: make(map[string]map[string]string),
		filePath: filePath,
	}
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		config.createDefaultConfig()
		if err := config.saveToFile(); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		return config, nil
	}

	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	if err := parseSettings(file, config.settings); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filePath, err)
	}
	return config, nil
}

// loadLocalConfig overrides values with the ones from filePath.
func (c *Config) loadLocalConfig(filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	c.mu.Lock()
	defer c.mu.Unlock()
	return parseSettings(file, c.settings)
}

// parseSettings reads "[Section]" headers and "key = value" lines into settings.
// Lines starting with ; or # are comments. Keys outside a section are ignored.
func parseSettings(r io.Reader, settings map[string]map[string]string) error {
	scanner := bufio.NewScanner(r)
	currentSection := ""
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ";") || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			currentSection = strings.TrimSpace(line[1 : len(line)-1])
			if settings[currentSection] == nil {
				settings[currentSection] = make(map[string]string)
			}
			continue
		}
		if currentSection == "" {
			continue
		}
		if key, value, ok := strings.Cut(line, "="); ok {
			settings[currentSection][strings.TrimSpace(key)] = strings.TrimSpace(value)
		}
	}
	return scanner.Err()
}

// createDefaultConfig fills in every setting the server reads.
func (c *Config) createDefaultConfig() {
	c.settings["Server"] = map[string]string{
		"listen_addr":      ":8080",
		"static_dir":       "./static",
		"database_path":    "./pyquest.db",
		"read_timeout":     "10s",
		"write_timeout":    "15s",
		"shutdown_timeout": "10s",
		"max_request_kb":   "64",
		"runs_per_minute":  "120",
	}

	c.settings["Interpreter"] = map[string]string{
		"max_steps":           "10000",
		"max_output_lines":    "1000",
		"max_sequence_length": "100000",
	}

	c.settings["Lessons"] = map[string]string{
		"catalog_file":       "",
		"default_chat_delay": "700ms",
	}

	c.settings["Session"] = map[string]string{
		"guest_token_lifetime":  "24h",
		"resume_token_lifetime": "30m",
		"purge_interval":        "5m",
		"cookie_name":           "pyquest_session",
	}

	c.settings["Network"] = map[string]string{
		"pong_timeout":        "60s",
		"write_wait_timeout":  "10s",
		"max_message_size_kb": "16",
		"send_buffer":         "256",
		"read_buffer_size":    "4096",
		"write_buffer_size":   "4096",
		"allowed_origins":     "http://localhost:8080,http://127.0.0.1:8080",
	}

	c.settings["JWT"] = map[string]string{
		"secret_key": "",
		"issuer":     "pyquest",
	}

	c.settings["TLS"] = map[string]string{
		"enable_tls":           "false",
		"enable_letsencrypt":   "false",
		"domain":               "",
		"letsencrypt_email":    "",
		"cert_cache_dir":       "./certs",
		"force_https_redirect": "false",
		"cert_file":            "./certs/server.crt",
		"key_file":             "./certs/server.key",
		"http_port":            "8080",
		"https_port":           "8443",
		"generate_self_signed": "false",
	}

	c.settings["Debug"] = map[string]string{
		"enable_debug_logging": "true",
		"log_level":            "INFO",
		"log_file":             "pyquest.log",
		"max_log_size_mb":      "10",
		"log_rotation_count":   "3",
		"log_interpreter":      "false",
		"log_classifier":       "false",
		"log_lessons":          "true",
		"log_session":          "false",
		"log_websocket":        "false",
		"log_database":         "false",
		"log_security":         "true",
		"log_config":           "true",
		"log_rewards":          "true",
		"log_general":          "true",
	}
}

// saveToFile writes all sections, known ones first, keys sorted.
func (c *Config) saveToFile() error {
	if err := os.MkdirAll(filepath.Dir(c.filePath), 0755); err != nil {
		return err
	}
	file, err := os.Create(c.filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	fmt.Fprintln(w, "; PyQuest configuration file")
	fmt.Fprintln(w, "; Generated automatically - local changes belong in "+LocalOverridesFile)
	fmt.Fprintln(w)

	sections := append([]string(nil), sectionOrder...)
	var extra []string
	for name := range c.settings {
		if !contains(sectionOrder, name) {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	sections = append(sections, extra...)

	for _, section := range sections {
		settings, ok := c.settings[section]
		if !ok {
			continue
		}
		fmt.Fprintf(w, "[%s]\n", section)
		keys := make([]string, 0, len(settings))
		for key := range settings {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			fmt.Fprintf(w, "%s = %s\n", key, settings[key])
		}
		fmt.Fprintln(w)
	}
	return w.Flush()
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// GetString returns a string setting.
func GetString(section, key, defaultValue string) string {
	if globalConfig == nil {
		return defaultValue
	}
	globalConfig.mu.RLock()
	defer globalConfig.mu.RUnlock()

	if sectionMap, ok := globalConfig.settings[section]; ok {
		if value, ok := sectionMap[key]; ok {
			return value
		}
	}
	return defaultValue
}

// GetInt returns an integer setting; unparsable values yield the default.
func GetInt(section, key string, defaultValue int) int {
	str := GetString(section, key, "")
	if str == "" {
		return defaultValue
	}
	if value, err := strconv.Atoi(str); err == nil {
		return value
	}
	return defaultValue
}

// GetFloat returns a float setting.
func GetFloat(section, key string, defaultValue float64) float64 {
	str := GetString(section, key, "")
	if str == "" {
		return defaultValue
	}
	if value, err := strconv.ParseFloat(str, 64); err == nil {
		return value
	}
	return defaultValue
}

// GetBool returns a boolean setting.
func GetBool(section, key string, defaultValue bool) bool {
	str := GetString(section, key, "")
	if str == "" {
		return defaultValue
	}
	if value, err := strconv.ParseBool(str); err == nil {
		return value
	}
	return defaultValue
}

// GetDuration returns a duration setting such as "30m".
func GetDuration(section, key string, defaultValue time.Duration) time.Duration {
	str := GetString(section, key, "")
	if str == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(str); err == nil {
		return value
	}
	return defaultValue
}

// GetSection returns a copy of all settings of a section.
func GetSection(sectionName string) map[string]string {
	result := make(map[string]string)
	if globalConfig == nil {
		return result
	}
	globalConfig.mu.RLock()
	defer globalConfig.mu.RUnlock()

	for key, value := range globalConfig.settings[sectionName] {
		result[key] = value
	}
	return result
}

// SetString changes a setting in memory. Use Save to persist it.
func SetString(section, key, value string) {
	if globalConfig == nil {
		return
	}
	globalConfig.mu.Lock()
	defer globalConfig.mu.Unlock()

	if globalConfig.settings[section] == nil {
		globalConfig.settings[section] = make(map[string]string)
	}
	globalConfig.settings[section][key] = value
}

// Save writes the current settings back to the config file.
func Save() error {
	if globalConfig == nil {
		return fmt.Errorf("configuration not initialized")
	}
	globalConfig.mu.RLock()
	defer globalConfig.mu.RUnlock()
	return globalConfig.saveToFile()
}
