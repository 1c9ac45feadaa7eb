package am

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/weir/errors"
	"github.com/teranos/weir/trans"
)

// ============================================================================
// Lock Keeper Test Universe
// ============================================================================
//
// Characters:
//   - Harbour master (system file): sets the rules for the whole river
//   - Keeper (user file): adjusts them for their own lock
//   - Barge (project file): brings its own requirements upstream
//   - Flood warning (WEIR_* env var): overrides everyone, today only
//   - Logbook (Save): every change keeps the last three pages
//
// Theme: settings flow downstream. Later layers win, and every value can
// say which layer it came from.
// ============================================================================

// river isolates a test from the real system, user and project files.
func river(t *testing.T) (system, home, project string) {
	t.Helper()
	base := t.TempDir()
	home = filepath.Join(base, "home")
	project = filepath.Join(base, "barge")
	require.NoError(t, os.MkdirAll(filepath.Join(home, ".weir"), DefaultDirPermissions))
	require.NoError(t, os.MkdirAll(project, DefaultDirPermissions))

	t.Setenv("HOME", home)
	t.Chdir(project)

	previous := systemConfigPath
	systemConfigPath = filepath.Join(base, "harbour", "am.toml")
	Reset()
	t.Cleanup(func() {
		systemConfigPath = previous
		Reset()
	})
	return systemConfigPath, home, project
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), DefaultDirPermissions))
	require.NoError(t, os.WriteFile(path, []byte(content), DefaultFilePermissions))
}

func TestLoad_Defaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	cfg, err := LoadWithViper(v)
	require.NoError(t, err)

	assert.Equal(t, 10000, cfg.Engine.ChannelCapacity)
	assert.Equal(t, 0, cfg.Engine.PutTimeoutMS)
	assert.Equal(t, "global", cfg.Engine.FailurePolicy)
	assert.Equal(t, 0, cfg.Engine.MaxLoopIterations)
	assert.Equal(t, 30*time.Second, cfg.Engine.StopTimeout())
	assert.Equal(t, 16, cfg.Engine.MaxNestingDepth)
	assert.Equal(t, "weir.db", cfg.Database.Path)
	assert.True(t, cfg.Database.HistoryEnabled)
	assert.Equal(t, "weir.db", cfg.Database.DataDatabase())
	assert.False(t, cfg.Log.JSON)
	assert.Equal(t, 0, cfg.Log.Verbosity)
	require.NoError(t, cfg.Validate())
}

func TestEngine_TransOptions(t *testing.T) {
	opts := EngineConfig{ChannelCapacity: 64, PutTimeoutMS: 250, FailurePolicy: "isolated"}.TransOptions()
	assert.Equal(t, 64, opts.ChannelCapacity)
	assert.Equal(t, 250*time.Millisecond, opts.PutTimeout)
	assert.Equal(t, trans.FailIsolated, opts.FailurePolicy)

	opts = EngineConfig{}.TransOptions()
	assert.Equal(t, trans.FailGlobal, opts.FailurePolicy)
	assert.Zero(t, opts.PutTimeout)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		v := viper.New()
		SetDefaults(v)
		cfg, err := LoadWithViper(v)
		require.NoError(t, err)
		return *cfg
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"zero capacity uses the channel default", func(c *Config) { c.Engine.ChannelCapacity = 0 }, ""},
		{"isolated policy", func(c *Config) { c.Engine.FailurePolicy = "isolated" }, ""},
		{"empty policy means global", func(c *Config) { c.Engine.FailurePolicy = "" }, ""},
		{"no history, no path", func(c *Config) { c.Database.HistoryEnabled = false; c.Database.Path = "" }, ""},
		{"negative capacity", func(c *Config) { c.Engine.ChannelCapacity = -1 }, "engine.channel_capacity must be >= 0"},
		{"negative put timeout", func(c *Config) { c.Engine.PutTimeoutMS = -5 }, "engine.put_timeout_ms must be >= 0"},
		{"unknown policy", func(c *Config) { c.Engine.FailurePolicy = "downstream" }, `engine.failure_policy "downstream"`},
		{"negative loop limit", func(c *Config) { c.Engine.MaxLoopIterations = -1 }, "engine.max_loop_iterations"},
		{"negative stop timeout", func(c *Config) { c.Engine.StopTimeoutSeconds = -1 }, "engine.stop_timeout_seconds"},
		{"negative nesting", func(c *Config) { c.Engine.MaxNestingDepth = -1 }, "engine.max_nesting_depth"},
		{"history without a path", func(c *Config) { c.Database.Path = "" }, "database.path cannot be empty"},
		{"negative verbosity", func(c *Config) { c.Log.Verbosity = -1 }, "log.verbosity"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("policy error carries a hint", func(t *testing.T) {
		cfg := valid()
		cfg.Engine.FailurePolicy = "downstream"
		assert.Contains(t, errors.FlattenHints(cfg.Validate()), "global or isolated")
	})
}

func TestLoadFromFile(t *testing.T) {
	river(t)
	path := filepath.Join(t.TempDir(), "lock.toml")
	writeFile(t, path, `
[engine]
channel_capacity = 500
failure_policy = "isolated"

[log]
json = true
`)

	t.Run("file over defaults", func(t *testing.T) {
		cfg, err := LoadFromFile(path)
		require.NoError(t, err)
		assert.Equal(t, 500, cfg.Engine.ChannelCapacity)
		assert.Equal(t, "isolated", cfg.Engine.FailurePolicy)
		assert.True(t, cfg.Log.JSON)
		assert.Equal(t, "weir.db", cfg.Database.Path)
		assert.Equal(t, 16, cfg.Engine.MaxNestingDepth)
	})

	t.Run("flood warning wins", func(t *testing.T) {
		t.Setenv("WEIR_ENGINE_CHANNEL_CAPACITY", "42")
		t.Setenv("WEIR_DATABASE_PATH", "/tmp/flood.db")
		cfg, err := LoadFromFile(path)
		require.NoError(t, err)
		assert.Equal(t, 42, cfg.Engine.ChannelCapacity)
		assert.Equal(t, "/tmp/flood.db", cfg.Database.Path)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadFromFile(filepath.Join(t.TempDir(), "nowhere.toml"))
		require.Error(t, err)
		assert.True(t, errors.IsNotFoundError(err))
	})

	t.Run("broken file", func(t *testing.T) {
		broken := filepath.Join(t.TempDir(), "broken.toml")
		writeFile(t, broken, "[engine\nchannel_capacity = ")
		_, err := LoadFromFile(broken)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read config file")
	})
}

func TestLoad_Layers(t *testing.T) {
	system, home, project := river(t)
	writeFile(t, system, `
[engine]
channel_capacity = 100
[database]
path = "/var/lib/weir/harbour.db"
`)
	writeFile(t, filepath.Join(home, ".weir", "am.toml"), `
[engine]
channel_capacity = 200
`)
	writeFile(t, filepath.Join(project, "am.toml"), `
[engine]
failure_policy = "isolated"
`)
	t.Setenv("WEIR_LOG_VERBOSITY", "2")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 200, cfg.Engine.ChannelCapacity, "keeper beats harbour master")
	assert.Equal(t, "/var/lib/weir/harbour.db", cfg.Database.Path)
	assert.Equal(t, "isolated", cfg.Engine.FailurePolicy)
	assert.Equal(t, 2, cfg.Log.Verbosity)

	again, err := Load()
	require.NoError(t, err)
	assert.Same(t, cfg, again, "Load caches until Reset")

	path, err := GetDatabasePath()
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/weir/harbour.db", path)
	assert.Equal(t, "isolated", GetString("engine.failure_policy"))
	assert.Equal(t, 200, GetInt("engine.channel_capacity"))
	assert.True(t, GetBool("database.history_enabled"))

	t.Run("introspection names every layer", func(t *testing.T) {
		info, err := GetConfigIntrospection()
		require.NoError(t, err)

		byKey := map[string]SettingInfo{}
		last := ""
		for _, s := range info.Settings {
			byKey[s.Key] = s
			assert.GreaterOrEqual(t, s.Key, last, "settings are sorted")
			last = s.Key
		}

		assert.Equal(t, SourceUser, byKey["engine.channel_capacity"].Source)
		assert.Equal(t, filepath.Join(home, ".weir", "am.toml"), byKey["engine.channel_capacity"].SourcePath)
		assert.Equal(t, SourceSystem, byKey["database.path"].Source)
		assert.Equal(t, SourceProject, byKey["engine.failure_policy"].Source)
		assert.Equal(t, SourceEnvironment, byKey["log.verbosity"].Source)
		assert.Equal(t, "WEIR_LOG_VERBOSITY", byKey["log.verbosity"].SourcePath)
		assert.Equal(t, SourceDefault, byKey["engine.max_nesting_depth"].Source)
		assert.Equal(t, "built-in default", byKey["engine.max_nesting_depth"].SourcePath)
	})

	t.Run("data database", func(t *testing.T) {
		assert.Equal(t, "/srv/cargo.db", DatabaseConfig{Path: "weir.db", DataPath: "/srv/cargo.db"}.DataDatabase())
		assert.Empty(t, DatabaseConfig{Path: "weir.db"}.DataDatabase(), "no history, no data path")
	})

	t.Run("reset forgets", func(t *testing.T) {
		Reset()
		assert.Empty(t, ConfigSources)
		fresh, err := Load()
		require.NoError(t, err)
		assert.NotSame(t, cfg, fresh)
		assert.Equal(t, 200, fresh.Engine.ChannelCapacity)
	})
}

func TestLoad_NoFiles(t *testing.T) {
	river(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "weir.db", cfg.Database.Path)
	assert.Empty(t, ConfigSources)
}

func TestMarkSettingsFromSource(t *testing.T) {
	settings := map[string]interface{}{
		"engine": map[string]interface{}{
			"channel_capacity": 64,
			"limits": map[string]interface{}{
				"depth": 3,
			},
		},
		"top": true,
	}

	sources := map[string]SourceInfo{}
	markSettingsFromSource(settings, "", SourceProject, "/barge/am.toml", sources)

	assert.Len(t, sources, 3)
	assert.Equal(t, SourceInfo{Source: SourceProject, Path: "/barge/am.toml"}, sources["engine.channel_capacity"])
	assert.Contains(t, sources, "engine.limits.depth")
	assert.Contains(t, sources, "top")
	assert.Equal(t, "WEIR_ENGINE_LIMITS_DEPTH", EnvKey("engine.limits.depth"))
}

func TestSave_Logbook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logbook", "am.toml")

	page := func(capacity int) *Config {
		return &Config{
			Engine:   EngineConfig{ChannelCapacity: capacity, FailurePolicy: "global", StopTimeoutSeconds: 30},
			Database: DatabaseConfig{Path: "weir.db", HistoryEnabled: true},
		}
	}
	capacityIn := func(file string) int {
		cfg, err := LoadFromFile(file)
		require.NoError(t, err)
		return cfg.Engine.ChannelCapacity
	}

	for _, capacity := range []int{1, 2, 3, 4, 5} {
		require.NoError(t, Save(page(capacity), path))
	}

	assert.Equal(t, 5, capacityIn(path))
	assert.Equal(t, 4, capacityIn(path+".back1"))
	assert.Equal(t, 3, capacityIn(path+".back2"))
	assert.Equal(t, 2, capacityIn(path+".back3"))
	assert.NoFileExists(t, path+".back4")

	t.Run("invalid config is not written", func(t *testing.T) {
		bad := page(6)
		bad.Engine.FailurePolicy = "sideways"
		require.Error(t, Save(bad, path))
		assert.Equal(t, 5, capacityIn(path))
	})
}

func TestSet(t *testing.T) {
	river(t)
	path := filepath.Join(t.TempDir(), "am.toml")

	cfg, err := Set(path, "engine.channel_capacity", "20000")
	require.NoError(t, err)
	assert.Equal(t, 20000, cfg.Engine.ChannelCapacity)

	cfg, err = Set(path, "database.history_enabled", "false")
	require.NoError(t, err)
	assert.False(t, cfg.Database.HistoryEnabled)
	assert.Equal(t, 20000, cfg.Engine.ChannelCapacity, "earlier change survives")

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 20000, loaded.Engine.ChannelCapacity)
	assert.False(t, loaded.Database.HistoryEnabled)
	assert.FileExists(t, path+".back1")

	t.Run("unknown key", func(t *testing.T) {
		_, err := Set(path, "engine.turbines", "2")
		require.Error(t, err)
		assert.True(t, errors.IsNotFoundError(err))
	})

	t.Run("not a number", func(t *testing.T) {
		_, err := Set(path, "engine.channel_capacity", "plenty")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid value for engine.channel_capacity")
	})

	t.Run("rejected by validation", func(t *testing.T) {
		_, err := Set(path, "engine.failure_policy", "sideways")
		require.Error(t, err)
		loaded, err := LoadFromFile(path)
		require.NoError(t, err)
		assert.Equal(t, "global", loaded.Engine.FailurePolicy)
	})
}

func TestFileIntrospection(t *testing.T) {
	river(t)
	path := filepath.Join(t.TempDir(), "barge.toml")
	writeFile(t, path, `
[engine]
max_loop_iterations = 50
`)
	t.Setenv("WEIR_DATABASE_HISTORY_ENABLED", "false")

	info, err := FileIntrospection(path)
	require.NoError(t, err)
	assert.Equal(t, path, info.ConfigFile)

	byKey := map[string]SettingInfo{}
	for _, s := range info.Settings {
		byKey[s.Key] = s
	}
	assert.Equal(t, SourceInfo{Source: SourceFile, Path: path}, SourceInfo{Source: byKey["engine.max_loop_iterations"].Source, Path: byKey["engine.max_loop_iterations"].SourcePath})
	assert.EqualValues(t, 50, byKey["engine.max_loop_iterations"].Value)
	assert.Equal(t, SourceEnvironment, byKey["database.history_enabled"].Source)
	assert.Equal(t, SourceDefault, byKey["engine.channel_capacity"].Source)

	_, err = FileIntrospection(filepath.Join(t.TempDir(), "missing.toml"))
	assert.True(t, errors.IsNotFoundError(err))
}
