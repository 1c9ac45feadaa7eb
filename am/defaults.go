package am

import (
	"fmt"

	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Engine defaults
	v.SetDefault("engine.channel_capacity", 10000)
	v.SetDefault("engine.put_timeout_ms", 0)
	v.SetDefault("engine.failure_policy", "global")
	v.SetDefault("engine.max_loop_iterations", 0)
	v.SetDefault("engine.stop_timeout_seconds", 30)
	v.SetDefault("engine.max_nesting_depth", 16)

	// Database defaults
	v.SetDefault("database.path", "weir.db")
	v.SetDefault("database.history_enabled", true)
	v.SetDefault("database.data_path", "")

	// Log defaults
	v.SetDefault("log.json", false)
	v.SetDefault("log.verbosity", 0)
}

// BindEnvVars binds the settings most often overridden per invocation, so
// they resolve from the environment even before a config file mentions them.
func BindEnvVars(v *viper.Viper) {
	v.BindEnv("database.path", "WEIR_DATABASE_PATH")
	v.BindEnv("log.verbosity", "WEIR_LOG_VERBOSITY")
	v.BindEnv("engine.failure_policy", "WEIR_ENGINE_FAILURE_POLICY")
}

// String returns a string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf("Config{Database: %s, Engine: {ChannelCapacity: %d, FailurePolicy: %s}}",
		c.Database.Path, c.Engine.ChannelCapacity, c.Engine.FailurePolicy)
}
