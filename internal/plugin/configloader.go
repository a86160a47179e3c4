package plugin

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/triagehub/triagehub-backend/internal/models"
)

// configFileExtensions in precedence order; the first hit wins.
var configFileExtensions = []string{"yaml", "yml", "toml"}

// ConfigLoader merges three layers into a validated PluginConfig, later
// layers overriding earlier ones:
//
//  1. defaults declared in the adapter's schema,
//  2. {plugin}.yaml|yml|toml in the config directory,
//  3. PLUGIN_{NAME}_{KEY} environment variables ("__" nests, values are
//     parsed as JSON first with a raw-string fallback).
type ConfigLoader struct {
	configDir string
}

// NewConfigLoader builds a loader reading plugin config files from configDir.
// An empty configDir skips the file layer.
func NewConfigLoader(configDir string) *ConfigLoader {
	return &ConfigLoader{configDir: configDir}
}

// Load produces the PluginConfig for one plugin, or a *ConfigurationError.
// Validation failure means the plugin must not be instantiated.
func (l *ConfigLoader) Load(pluginName, pluginVersion string, schema Schema) (models.PluginConfig, error) {
	merged := schema.Defaults()

	fileLayer, err := l.loadFile(pluginName)
	if err != nil {
		return models.PluginConfig{}, err
	}
	deepMerge(merged, fileLayer)
	deepMerge(merged, envLayer(pluginName))

	// "enabled" is a bus-level flag, not part of the adapter's schema.
	enabled := true
	if raw, ok := merged["enabled"]; ok {
		enabled = truthy(raw)
		delete(merged, "enabled")
	}

	if err := schema.Validate(pluginName, merged); err != nil {
		return models.PluginConfig{}, err
	}

	return models.PluginConfig{
		PluginName:    pluginName,
		PluginVersion: pluginVersion,
		Enabled:       enabled,
		Config:        merged,
	}, nil
}

// loadFile reads {plugin}.{yaml,yml,toml} from the config directory, first
// extension hit wins. A missing file is not an error; an unreadable or
// malformed one is.
func (l *ConfigLoader) loadFile(pluginName string) (map[string]any, error) {
	if l.configDir == "" {
		return nil, nil
	}
	for _, ext := range configFileExtensions {
		path := filepath.Join(l.configDir, pluginName+"."+ext)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		v := viper.New()
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, &ConfigurationError{Plugin: pluginName, Reason: fmt.Sprintf("cannot read config file %s", filepath.Base(path))}
		}
		return v.AllSettings(), nil
	}
	return nil, nil
}

// envLayer collects PLUGIN_{NAME}_* variables into a nested map. Key parts
// are lowercased; "__" separates nesting levels. Values parse as JSON first
// (booleans, numbers, arrays, objects) and fall back to the raw string.
func envLayer(pluginName string) map[string]any {
	prefix := "PLUGIN_" + strings.ToUpper(strings.ReplaceAll(pluginName, "-", "_")) + "_"
	out := map[string]any{}
	for _, kv := range os.Environ() {
		eq := strings.IndexByte(kv, '=')
		if eq < 0 || !strings.HasPrefix(kv[:eq], prefix) {
			continue
		}
		keyPath := strings.ToLower(strings.TrimPrefix(kv[:eq], prefix))
		setNested(out, strings.Split(keyPath, "__"), parseEnvValue(kv[eq+1:]))
	}
	return out
}

func parseEnvValue(raw string) any {
	var parsed any
	if err := json.Unmarshal([]byte(raw), &parsed); err == nil {
		return parsed
	}
	return raw
}

func setNested(m map[string]any, path []string, val any) {
	for _, key := range path[:len(path)-1] {
		next, ok := m[key].(map[string]any)
		if !ok {
			next = map[string]any{}
			m[key] = next
		}
		m = next
	}
	m[path[len(path)-1]] = val
}

// deepMerge overlays src onto dst, merging nested maps and replacing
// everything else.
func deepMerge(dst, src map[string]any) {
	for key, sv := range src {
		if sm, ok := sv.(map[string]any); ok {
			if dm, ok := dst[key].(map[string]any); ok {
				deepMerge(dm, sm)
				continue
			}
		}
		dst[key] = sv
	}
}

// truthy maps "true", "1", "yes", "on" (case-insensitive) and boolean true
// to enabled. Everything else is disabled.
func truthy(val any) bool {
	switch v := val.(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "yes", "on":
			return true
		}
		return false
	case float64:
		return v == 1
	}
	return false
}
