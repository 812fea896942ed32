package repo

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// FFMode is the fast-forward policy of a merge.
type FFMode string

const (
	FFAllow FFMode = "true"  // fast-forward when possible, else merge commit
	FFNever FFMode = "false" // always create a merge commit
	FFOnly  FFMode = "only"  // refuse anything but a fast-forward
)

// Config is the repository-local configuration in .got/config.toml.
type Config struct {
	User  UserConfig  `toml:"user"`
	Merge MergeConfig `toml:"merge"`
	Log   LogConfig   `toml:"log"`
}

type UserConfig struct {
	Name  string `toml:"name,omitempty"`
	Email string `toml:"email,omitempty"`
}

type MergeConfig struct {
	FF                 FFMode `toml:"ff,omitempty"`
	ConflictMarkerSize int    `toml:"conflict_marker_size,omitempty"`
}

type LogConfig struct {
	Level string `toml:"level,omitempty"`
}

const defaultAuthor = "got-merge"

// Author returns the commit author string for this configuration.
func (c *Config) Author() string {
	name := strings.TrimSpace(c.User.Name)
	email := strings.TrimSpace(c.User.Email)
	switch {
	case name == "" && email == "":
		return defaultAuthor
	case email == "":
		return name
	case name == "":
		return "<" + email + ">"
	}
	return name + " <" + email + ">"
}

// FastForward returns the configured fast-forward policy, FFAllow by default.
func (c *Config) FastForward() (FFMode, error) {
	switch c.Merge.FF {
	case "":
		return FFAllow, nil
	case FFAllow, FFNever, FFOnly:
		return c.Merge.FF, nil
	}
	return "", fmt.Errorf("config: merge.ff: invalid value %q (want true, false or only)", c.Merge.FF)
}

func (r *Repo) configPath() string {
	return filepath.Join(r.GotDir, "config.toml")
}

// ReadConfig reads .got/config.toml. Missing config returns an empty config.
func (r *Repo) ReadConfig() (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(r.configPath())
	if err != nil {
		if os.IsNotExist(err) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("read config: decode: %w", err)
	}
	if _, err := cfg.FastForward(); err != nil {
		return nil, err
	}
	if cfg.Merge.ConflictMarkerSize < 0 {
		return nil, fmt.Errorf("config: merge.conflict_marker_size must not be negative")
	}
	return &cfg, nil
}

// WriteConfig atomically writes .got/config.toml.
func (r *Repo) WriteConfig(cfg *Config) error {
	if cfg == nil {
		cfg = &Config{}
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("write config: encode: %w", err)
	}
	if err := writeFileAtomic(r.GotDir, r.configPath(), ".config-tmp-*", data); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// writeFileAtomic writes data to dest through a temp file in dir and a
// rename, so readers never observe a partial file.
func writeFileAtomic(dir, dest, pattern string, data []byte) error {
	tmp, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return fmt.Errorf("tmpfile: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
