// Package config provides configuration loading and path management.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/quizmentor-ai/quizmentor/pkg/types"
)

// Load loads configuration from multiple sources (priority order):
// 1. Global config (~/.config/quizmentor/)
// 2. Project config (quizmentor.{json,jsonc,yaml} in the working directory)
// 3. QUIZMENTOR_CONFIG file
// 4. Environment variables
func Load(directory string) (*types.Config, error) {
	config := &types.Config{}

	loaded := make(map[string]bool)
	loadOnce := func(path string) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return
		}
		if loaded[absPath] {
			return
		}
		if loadConfigFile(path, config) == nil {
			loaded[absPath] = true
		}
	}

	// 1. Global config
	globalPath := GetPaths().Config
	loadOnce(filepath.Join(globalPath, "quizmentor.json"))
	loadOnce(filepath.Join(globalPath, "quizmentor.jsonc"))
	loadOnce(filepath.Join(globalPath, "quizmentor.yaml"))

	// 2. Project config
	if directory != "" {
		loadOnce(filepath.Join(directory, "quizmentor.json"))
		loadOnce(filepath.Join(directory, "quizmentor.jsonc"))
		loadOnce(filepath.Join(directory, "quizmentor.yaml"))
	}

	// 3. QUIZMENTOR_CONFIG file override
	if configPath := os.Getenv("QUIZMENTOR_CONFIG"); configPath != "" {
		loadOnce(configPath)
	}

	// 4. Environment variables (highest priority)
	applyEnvOverrides(config)

	return config, nil
}

// loadConfigFile loads a single config file with interpolation support.
// JSON/JSONC files additionally support {env:VAR} placeholders.
func loadConfigFile(path string, config *types.Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err // File doesn't exist, skip
	}

	var fileConfig types.Config
	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		if err := yaml.Unmarshal(data, &fileConfig); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	} else {
		// Strip JSONC comments, then apply {env:...} interpolation.
		data = interpolate(jsonc.ToJSON(data))
		if err := json.Unmarshal(data, &fileConfig); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	}

	mergeConfig(config, &fileConfig)
	return nil
}

var envPattern = regexp.MustCompile(`\{env:([^}]+)\}`)

// interpolate processes {env:VAR} placeholders.
func interpolate(data []byte) []byte {
	str := envPattern.ReplaceAllStringFunc(string(data), func(match string) string {
		varName := envPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
	return []byte(str)
}

// mergeConfig merges src into dst; non-zero src fields win.
func mergeConfig(dst, src *types.Config) {
	if src.Schema != "" {
		dst.Schema = src.Schema
	}
	if src.Upstream.BaseURL != "" {
		dst.Upstream.BaseURL = src.Upstream.BaseURL
	}
	if src.Upstream.APIKey != "" {
		dst.Upstream.APIKey = src.Upstream.APIKey
	}
	if src.Upstream.Model != "" {
		dst.Upstream.Model = src.Upstream.Model
	}
	if src.Upstream.MaxTokens != 0 {
		dst.Upstream.MaxTokens = src.Upstream.MaxTokens
	}
	if src.PromptTemplate != "" {
		dst.PromptTemplate = src.PromptTemplate
	}
	if src.SubjectCatalog != "" {
		dst.SubjectCatalog = src.SubjectCatalog
	}
	if src.DataDir != "" {
		dst.DataDir = src.DataDir
	}
	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}
	mergeRelay(&dst.Relay, &src.Relay)
}

func mergeRelay(dst, src *types.RelayConfig) {
	if src.IdleThreshold > 0 {
		dst.IdleThreshold = src.IdleThreshold
	}
	if src.HeartbeatPeriod > 0 {
		dst.HeartbeatPeriod = src.HeartbeatPeriod
	}
	if src.GracePeriod > 0 {
		dst.GracePeriod = src.GracePeriod
	}
	if src.StaleCeiling > 0 {
		dst.StaleCeiling = src.StaleCeiling
	}
	if src.CleanupPeriod > 0 {
		dst.CleanupPeriod = src.CleanupPeriod
	}
	if src.MaxStreamDuration > 0 {
		dst.MaxStreamDuration = src.MaxStreamDuration
	}
}

// applyEnvOverrides applies environment variable overrides.
func applyEnvOverrides(config *types.Config) {
	if v := os.Getenv("QUIZMENTOR_UPSTREAM_BASE_URL"); v != "" {
		config.Upstream.BaseURL = v
	}
	if v := os.Getenv("QUIZMENTOR_UPSTREAM_API_KEY"); v != "" {
		config.Upstream.APIKey = v
	}
	// Fall back to the conventional provider variable.
	if config.Upstream.APIKey == "" {
		config.Upstream.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if v := os.Getenv("QUIZMENTOR_MODEL"); v != "" {
		config.Upstream.Model = v
	}
	if v := os.Getenv("QUIZMENTOR_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Upstream.MaxTokens = n
		}
	}
	if v := os.Getenv("QUIZMENTOR_PROMPT_TEMPLATE"); v != "" {
		config.PromptTemplate = v
	}
	if v := os.Getenv("QUIZMENTOR_SUBJECT_CATALOG"); v != "" {
		config.SubjectCatalog = v
	}
	if v := os.Getenv("QUIZMENTOR_DATA_DIR"); v != "" {
		config.DataDir = v
	}
	if v := os.Getenv("QUIZMENTOR_LOG_LEVEL"); v != "" {
		config.LogLevel = v
	}
}
