package am

import (
	"os"
	"sort"
	"strings"

	"github.com/spf13/viper"

	"github.com/teranos/weir/errors"
)

// ConfigSource represents where a configuration value came from
type ConfigSource string

const (
	SourceDefault     ConfigSource = "default"
	SourceSystem      ConfigSource = "system"      // /etc/weir/am.toml
	SourceUser        ConfigSource = "user"        // ~/.weir/am.toml
	SourceProject     ConfigSource = "project"     // am.toml found walking up from the working directory
	SourceFile        ConfigSource = "file"        // --config
	SourceEnvironment ConfigSource = "environment" // WEIR_* env vars
)

// SourceInfo tracks where a configuration value originated
type SourceInfo struct {
	Source ConfigSource
	Path   string // file path or environment variable name
}

// SettingInfo contains metadata about a configuration setting
type SettingInfo struct {
	Key        string       `json:"key" yaml:"key"`
	Value      interface{}  `json:"value" yaml:"value"`
	Source     ConfigSource `json:"source" yaml:"source"`
	SourcePath string       `json:"source_path,omitempty" yaml:"source_path,omitempty"`
}

// ConfigIntrospection provides metadata about the active configuration
type ConfigIntrospection struct {
	ConfigFile string        `json:"config_file" yaml:"config_file"`
	Settings   []SettingInfo `json:"settings" yaml:"settings"`
}

// GetConfigIntrospection reports every effective setting of the global
// configuration with the layer it came from.
func GetConfigIntrospection() (*ConfigIntrospection, error) {
	if _, err := Load(); err != nil {
		return nil, err
	}

	mu.Lock()
	v := initViper()
	sources := make(map[string]SourceInfo, len(ConfigSources))
	for k, s := range ConfigSources {
		sources[k] = s
	}
	mu.Unlock()

	return Introspect(v.AllSettings(), v.ConfigFileUsed(), sources), nil
}

// FileIntrospection is GetConfigIntrospection for a configuration read with
// LoadFromFile: keys come from defaults, the file, or WEIR_* variables.
func FileIntrospection(configPath string) (*ConfigIntrospection, error) {
	if _, err := LoadFromFile(configPath); err != nil {
		return nil, err
	}

	file := viper.New()
	file.SetConfigFile(configPath)
	file.SetConfigType("toml")
	if err := file.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
	}
	sources := map[string]SourceInfo{}
	markSettingsFromSource(file.AllSettings(), "", SourceFile, configPath, sources)

	v := viper.New()
	bindEnvironment(v)
	SetDefaults(v)
	for key := range sources {
		v.Set(key, file.Get(key))
	}
	return Introspect(v.AllSettings(), configPath, sources), nil
}

// Introspect flattens settings into sorted dotted keys and assigns each a
// source from sourceMap. Set WEIR_* variables win over any file.
func Introspect(settings map[string]interface{}, configFile string, sourceMap map[string]SourceInfo) *ConfigIntrospection {
	introspection := &ConfigIntrospection{
		ConfigFile: configFile,
		Settings:   make([]SettingInfo, 0),
	}
	flattenSettingsWithSources(settings, "", introspection, sourceMap)
	return introspection
}

// EnvKey returns the environment variable overriding a dotted key.
func EnvKey(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func flattenSettingsWithSources(settings map[string]interface{}, prefix string, introspection *ConfigIntrospection, sourceMap map[string]SourceInfo) {
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := settings[key]
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}

		if nestedMap, ok := value.(map[string]interface{}); ok {
			flattenSettingsWithSources(nestedMap, fullKey, introspection, sourceMap)
			continue
		}

		sourceInfo := SourceInfo{Source: SourceDefault, Path: "built-in default"}
		if si, ok := sourceMap[fullKey]; ok {
			sourceInfo = si
		}

		envKey := EnvKey(fullKey)
		if envValue := os.Getenv(envKey); envValue != "" {
			sourceInfo = SourceInfo{Source: SourceEnvironment, Path: envKey}
		}

		introspection.Settings = append(introspection.Settings, SettingInfo{
			Key:        fullKey,
			Value:      value,
			Source:     sourceInfo.Source,
			SourcePath: sourceInfo.Path,
		})
	}
}
