// Package config loads the governance core's device identity and cloud
// object-store location from a YAML file, the same viper-backed surface the
// teacher's own internal/config owns, reused here rather than reinvented:
// schema tunables (backup retention, disk safety margin, warn thresholds)
// are constants in the migration package and are never config-file
// material.
package config

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/deepstudent/datagovernance/internal/governance/secrets"
)

// Config is the governance core's resolved configuration: which device this
// process is, and where its cloud change-log object store lives.
type Config struct {
	v     *viper.Viper
	codec secrets.Codec
}

// Load builds a Config by searching upward from startDir for
// .datagov/config.yaml, falling back to the user config and home
// directories, then binding DATAGOV_-prefixed environment variables over
// whatever the file set. startDir is normally the process's working
// directory; passing "" uses os.Getwd().
func Load(startDir string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if startDir == "" {
		if wd, err := os.Getwd(); err == nil {
			startDir = wd
		}
	}

	configFileSet := locateConfigFile(v, startDir)

	v.SetEnvPrefix("DATAGOV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("device_id", "")
	v.SetDefault("sync.batch_size", 500)
	v.SetDefault("sync.pull_interval", "5m")
	v.SetDefault("object_store.bucket", "")
	v.SetDefault("object_store.region", "us-east-1")
	v.SetDefault("object_store.endpoint", "")
	v.SetDefault("object_store.access_key_id", "")
	v.SetDefault("object_store.secret_access_key", "")

	if configFileSet {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	return &Config{v: v}, nil
}

// locateConfigFile mirrors the teacher's project-then-user-then-home search
// order, adapted to this core's own directory and file names.
func locateConfigFile(v *viper.Viper, startDir string) bool {
	if startDir != "" {
		for dir := startDir; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
			path := filepath.Join(dir, ".datagov", "config.yaml")
			if _, err := os.Stat(path); err == nil {
				v.SetConfigFile(path)
				return true
			}
		}
	}

	if configDir, err := os.UserConfigDir(); err == nil {
		path := filepath.Join(configDir, "datagov", "config.yaml")
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			return true
		}
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		path := filepath.Join(homeDir, ".datagov", "config.yaml")
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			return true
		}
	}

	return false
}

// DeviceID resolves this process's sync device identity: an explicit
// override, then the config value, then git's configured user name, then
// the local hostname.
func (c *Config) DeviceID(override string) string {
	if override != "" {
		return override
	}
	if id := c.v.GetString("device_id"); id != "" {
		return id
	}
	if author := gitAuthorFallback(); author != "" {
		return author
	}
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		return hostname
	}
	return "unknown"
}

// SyncBatchSize is the maximum pending-change count the Upload step ships in
// one call.
func (c *Config) SyncBatchSize() int {
	return c.v.GetInt("sync.batch_size")
}

// SyncPullInterval is how often a caller is expected to poll Download.
func (c *Config) SyncPullInterval() time.Duration {
	return c.v.GetDuration("sync.pull_interval")
}

// ObjectStore is the resolved S3-compatible object store location and
// credentials, in the shape objectstore/s3.Config expects (this package
// deliberately does not import objectstore/s3, to avoid a dependency from
// config onto a storage backend it merely describes).
type ObjectStore struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// SetSecretsCodec registers the credential codec ObjectStore uses to
// decrypt a stored secret_access_key held in encrypted form. Without one,
// values are returned exactly as stored.
func (c *Config) SetSecretsCodec(codec secrets.Codec) {
	c.codec = codec
}

// ObjectStore resolves the cloud object store's location and credentials.
func (c *Config) ObjectStore() ObjectStore {
	return ObjectStore{
		Bucket:          c.v.GetString("object_store.bucket"),
		Region:          c.v.GetString("object_store.region"),
		Endpoint:        c.v.GetString("object_store.endpoint"),
		AccessKeyID:     c.v.GetString("object_store.access_key_id"),
		SecretAccessKey: c.decryptIfNeeded(c.v.GetString("object_store.secret_access_key")),
	}
}

func (c *Config) decryptIfNeeded(value string) string {
	if c.codec == nil || value == "" || !c.codec.IsEncryptedFormat(value) {
		return value
	}
	plain, err := c.codec.DecryptAPIKey(value)
	if err != nil {
		return value
	}
	return plain
}

// ConfigFileUsed returns the path of the config file actually loaded, or ""
// if none was found and only defaults/environment variables apply.
func (c *Config) ConfigFileUsed() string {
	return c.v.ConfigFileUsed()
}

// gitAuthorFallback mirrors the teacher's git-config fallback for identity
// resolution.
func gitAuthorFallback() string {
	cmd := exec.Command("git", "config", "user.name")
	output, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(output))
}
