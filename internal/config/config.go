// Riley CMS is a self-hosted headless content service.
// Copyright (C) 2026  Riley CMS Authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package config loads and resolves the riley_cms TOML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// ErrNotFound means no config file exists anywhere in the search order.
var ErrNotFound = errors.New("config file not found")

// EnvConfigPath is the environment variable naming an explicit config file.
const EnvConfigPath = "RILEY_CMS_CONFIG"

// FileName is the config file looked up in the working directory and its
// ancestors.
const FileName = "riley_cms.toml"

// TokenSource is a configured credential: either a literal string or
// "env:NAME" naming an environment variable.
type TokenSource string

// Resolve returns the credential value. Referencing a missing environment
// variable is a configuration error reported here, not at config load time.
func (t TokenSource) Resolve() (string, error) {
	s := string(t)
	if name, ok := strings.CutPrefix(s, "env:"); ok {
		v, found := os.LookupEnv(name)
		if !found {
			return "", fmt.Errorf("environment variable %s not set", name)
		}
		return v, nil
	}
	return s, nil
}

// Config is the full riley_cms configuration.
type Config struct {
	Content  ContentConfig  `toml:"content"`
	Storage  StorageConfig  `toml:"storage"`
	Server   ServerConfig   `toml:"server"`
	Git      GitConfig      `toml:"git"`
	Webhooks WebhooksConfig `toml:"webhooks"`
	Auth     AuthConfig     `toml:"auth"`
}

// ContentConfig locates the content repository.
type ContentConfig struct {
	RepoPath   string `toml:"repo_path"`
	ContentDir string `toml:"content_dir"`
}

// StorageConfig configures the S3-compatible asset bucket.
type StorageConfig struct {
	Backend       string `toml:"backend"`
	Bucket        string `toml:"bucket"`
	Region        string `toml:"region"`
	Endpoint      string `toml:"endpoint"`
	PublicURLBase string `toml:"public_url_base"`
}

// ServerConfig configures the HTTP listener and response caching.
type ServerConfig struct {
	Host                      string   `toml:"host"`
	Port                      int      `toml:"port"`
	CorsOrigins               []string `toml:"cors_origins"`
	CacheMaxAge               int      `toml:"cache_max_age"`
	CacheStaleWhileRevalidate int      `toml:"cache_stale_while_revalidate"`
	BehindProxy               bool     `toml:"behind_proxy"`
	AuditDBPath               string   `toml:"audit_db_path"`
}

// GitConfig configures the git-http-backend CGI bridge.
type GitConfig struct {
	BackendPath    string `toml:"backend_path"`
	MaxBodySize    int64  `toml:"max_body_size"`
	CgiTimeoutSecs int    `toml:"cgi_timeout_secs"`
}

// WebhooksConfig lists the content-update webhook targets.
type WebhooksConfig struct {
	OnContentUpdate []string    `toml:"on_content_update"`
	Secret          TokenSource `toml:"secret"`
}

// AuthConfig holds the two credential paths: Basic for git, Bearer for the
// API. An unset token disables the corresponding auth path.
type AuthConfig struct {
	GitToken TokenSource `toml:"git_token"`
	APIToken TokenSource `toml:"api_token"`
}

// Defaults applied after decoding.
const (
	DefaultContentDir     = "content"
	DefaultStorageBackend = "s3"
	DefaultStorageRegion  = "auto"
	DefaultHost           = "0.0.0.0"
	DefaultPort           = 8080
	DefaultCacheMaxAge    = 60
	DefaultCacheSWR       = 300
	DefaultMaxBodySize    = 100 * 1024 * 1024
	DefaultCgiTimeoutSecs = 300
)

func (c *Config) applyDefaults() {
	if c.Content.ContentDir == "" {
		c.Content.ContentDir = DefaultContentDir
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = DefaultStorageBackend
	}
	if c.Storage.Region == "" {
		c.Storage.Region = DefaultStorageRegion
	}
	if c.Server.Host == "" {
		c.Server.Host = DefaultHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Server.CacheMaxAge == 0 {
		c.Server.CacheMaxAge = DefaultCacheMaxAge
	}
	if c.Server.CacheStaleWhileRevalidate == 0 {
		c.Server.CacheStaleWhileRevalidate = DefaultCacheSWR
	}
	if c.Git.MaxBodySize == 0 {
		c.Git.MaxBodySize = DefaultMaxBodySize
	}
	if c.Git.CgiTimeoutSecs == 0 {
		c.Git.CgiTimeoutSecs = DefaultCgiTimeoutSecs
	}
}

func (c *Config) validate() error {
	if c.Content.RepoPath == "" {
		return fmt.Errorf("content.repo_path is required")
	}
	if c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket is required")
	}
	if c.Storage.PublicURLBase == "" {
		return fmt.Errorf("storage.public_url_base is required")
	}
	return nil
}

// Load parses the config file at path.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config at %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config at %s: %w", path, err)
	}
	return &cfg, nil
}

// Resolve finds and loads the config using the standard search order:
// the explicit path, $RILEY_CMS_CONFIG, riley_cms.toml in the working
// directory and its ancestors, the user config directory, and finally
// /etc/riley_cms/config.toml.
func Resolve(explicit string) (*Config, error) {
	var searched []string

	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return Load(explicit)
		}
		searched = append(searched, explicit)
	}

	if envPath := os.Getenv(EnvConfigPath); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return Load(envPath)
		}
		searched = append(searched, envPath)
	}

	if cwd, err := os.Getwd(); err == nil {
		for dir := cwd; ; {
			p := filepath.Join(dir, FileName)
			if _, err := os.Stat(p); err == nil {
				return Load(p)
			}
			searched = append(searched, p)
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}

	if userDir, err := os.UserConfigDir(); err == nil {
		p := filepath.Join(userDir, "riley_cms", "config.toml")
		if _, err := os.Stat(p); err == nil {
			return Load(p)
		}
		searched = append(searched, p)
	}

	system := "/etc/riley_cms/config.toml"
	if _, err := os.Stat(system); err == nil {
		return Load(system)
	}
	searched = append(searched, system)

	return nil, fmt.Errorf("%w, searched: %s", ErrNotFound, strings.Join(searched, ", "))
}
