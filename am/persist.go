package am

import (
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"github.com/teranos/weir/errors"
	"github.com/teranos/weir/logger"
)

// Marshal encodes c as TOML.
func (c *Config) Marshal() ([]byte, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal config")
	}
	return data, nil
}

// Save validates c and writes it to configPath, keeping up to three
// previous versions as .back1 (newest) to .back3.
func Save(c *Config, configPath string) error {
	if err := c.Validate(); err != nil {
		return err
	}
	data, err := c.Marshal()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(configPath), DefaultDirPermissions); err != nil {
		return errors.Wrapf(err, "failed to create %s", filepath.Dir(configPath))
	}
	if err := createBackup(configPath); err != nil {
		return errors.Wrap(err, "failed to create backup")
	}
	if err := os.WriteFile(configPath, data, DefaultFilePermissions); err != nil {
		return errors.Wrapf(err, "failed to write %s", configPath)
	}
	return nil
}

// Set changes one dotted key in the config file at configPath, creating the
// file if needed. The value is converted to the type of the key's default,
// so "20000" becomes an int for engine.channel_capacity.
func Set(configPath, key, value string) (*Config, error) {
	defaults := viper.New()
	SetDefaults(defaults)
	if !defaults.IsSet(key) {
		return nil, errors.NewNotFoundError("setting %s", key)
	}

	var typed interface{}
	var err error
	switch defaults.Get(key).(type) {
	case int:
		typed, err = cast.ToIntE(value)
	case bool:
		typed, err = cast.ToBoolE(value)
	default:
		typed = value
	}
	if err != nil {
		return nil, errors.Wrapf(err, "invalid value for %s", key)
	}

	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("toml")
	if _, statErr := os.Stat(configPath); statErr == nil {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read %s", configPath)
		}
	}
	v.Set(key, typed)

	config, err := LoadWithViper(v)
	if err != nil {
		return nil, err
	}
	if err := Save(config, configPath); err != nil {
		return nil, err
	}
	return config, nil
}

// createBackup creates rotating backups (.back1, .back2, .back3) before modifying config
func createBackup(configPath string) error {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil
	}

	back3 := configPath + ".back3"
	back2 := configPath + ".back2"
	back1 := configPath + ".back1"

	if err := os.Remove(back3); err != nil && !os.IsNotExist(err) {
		// A stale .back3 must not block the save.
		logger.Logger.Warnw("Failed to delete old config backup", "path", back3, "error", err)
	}

	if _, err := os.Stat(back2); err == nil {
		if err := os.Rename(back2, back3); err != nil {
			return errors.Wrap(err, "failed to rotate .back2 to .back3")
		}
	}

	if _, err := os.Stat(back1); err == nil {
		if err := os.Rename(back1, back2); err != nil {
			return errors.Wrap(err, "failed to rotate .back1 to .back2")
		}
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return errors.Wrap(err, "failed to read config for backup")
	}

	if err := os.WriteFile(back1, content, DefaultFilePermissions); err != nil {
		return errors.Wrap(err, "failed to create .back1")
	}

	return nil
}
