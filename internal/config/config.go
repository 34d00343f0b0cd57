/*
Copyright 2025 LightCI Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package config loads the daemon's configuration from a YAML file
// layered with environment variables, per spec.md §6's configuration
// table plus the daemon-level settings SPEC_FULL.md §10 adds.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every setting the orchestrator daemon and CLI need.
type Config struct {
	Database    DatabaseConfig    `mapstructure:"database"`
	Log         LogConfig         `mapstructure:"log"`
	Artifacts   ArtifactsConfig   `mapstructure:"artifacts"`
	Workspace   WorkspaceConfig   `mapstructure:"workspace"`
	AWS         AWSConfig         `mapstructure:"aws"`
	Runner      RunnerConfig      `mapstructure:"runner"`
	SSH         SSHConfig         `mapstructure:"ssh"`
}

// DatabaseConfig is the Postgres connection the Persistence Gateway uses.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// LogConfig controls the orchestrator process's own structured logs
// (not per-run step output, which lives in the run's log buffer).
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Encoding   string `mapstructure:"encoding"` // "json" or "console"
	FilePath   string `mapstructure:"file_path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// ArtifactsConfig carries spec.md §6's ARTIFACTS_ROOT/ARTIFACTS_PATH and
// the optional S3 sink.
type ArtifactsConfig struct {
	Root            string `mapstructure:"root"`
	StorageKind     string `mapstructure:"storage_kind"` // "local" or "s3"
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
}

// WorkspaceConfig carries spec.md §6's WORKSPACE_ROOT.
type WorkspaceConfig struct {
	Root string `mapstructure:"root"`
}

// AWSConfig carries spec.md §6's AWS_* provisioning defaults.
type AWSConfig struct {
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	SecurityGroupID string `mapstructure:"security_group_id"`
	SubnetID        string `mapstructure:"subnet_id"`
	AMIID           string `mapstructure:"ami_id"`
	KeyName         string `mapstructure:"ec2_key_name"`
}

// RunnerConfig carries the Runner's soft wall-clock deadline.
type RunnerConfig struct {
	SoftTimeout time.Duration `mapstructure:"soft_timeout"`
}

// SSHConfig carries the Deployer's /tmp key-recovery scan toggle
// (spec.md §4.3.1): disabled by default since a world-readable /tmp scan
// is a last resort, not a normal recovery path.
type SSHConfig struct {
	AllowTmpKeyScan bool `mapstructure:"allow_tmp_key_scan"`
}

// Load reads configPath (if non-empty) layered with LIGHTCI_-prefixed
// environment variables and process-level AWS_* variables, applying
// defaults for anything unset.
func Load(configPath string) (*Config, error) {
	cfg := defaults()

	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("lightci")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/lightci/")
	}

	v.SetEnvPrefix("LIGHTCI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !notFound && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	applyAWSEnvFallback(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return &cfg, nil
}

func defaults() Config {
	return Config{
		Log: LogConfig{
			Level:      "info",
			Encoding:   "json",
			MaxSizeMB:  100,
			MaxBackups: 7,
			MaxAgeDays: 30,
			Compress:   true,
		},
		Artifacts: ArtifactsConfig{
			Root:        "/tmp/lightci/artifacts",
			StorageKind: "local",
		},
		Workspace: WorkspaceConfig{
			Root: "/tmp/lightci/workspaces",
		},
		Runner: RunnerConfig{
			SoftTimeout: 2 * time.Hour,
		},
	}
}

// applyAWSEnvFallback reads AWS_* directly from the process environment,
// per spec.md §6: these names are not rebound through viper's
// LIGHTCI_-prefixed env layer, since they are the credentials the AWS
// SDK's own default chain already expects unprefixed.
func applyAWSEnvFallback(cfg *Config) {
	for _, kv := range []struct {
		env string
		dst *string
	}{
		{"AWS_DEFAULT_REGION", &cfg.AWS.Region},
		{"AWS_ACCESS_KEY_ID", &cfg.AWS.AccessKeyID},
		{"AWS_SECRET_ACCESS_KEY", &cfg.AWS.SecretAccessKey},
		{"AWS_SECURITY_GROUP_ID", &cfg.AWS.SecurityGroupID},
		{"AWS_SUBNET_ID", &cfg.AWS.SubnetID},
		{"AWS_AMI_ID", &cfg.AWS.AMIID},
		{"AWS_EC2_KEY_NAME", &cfg.AWS.KeyName},
	} {
		if *kv.dst == "" {
			if v, ok := os.LookupEnv(kv.env); ok {
				*kv.dst = v
			}
		}
	}
}

func (c *Config) validate() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}
	if c.Artifacts.StorageKind != "local" && c.Artifacts.StorageKind != "s3" {
		return fmt.Errorf("invalid artifacts storage_kind: %s", c.Artifacts.StorageKind)
	}
	if c.Artifacts.StorageKind == "s3" && c.Artifacts.Bucket == "" {
		return fmt.Errorf("artifacts storage_kind=s3 requires a bucket")
	}
	if c.Runner.SoftTimeout <= 0 {
		return fmt.Errorf("runner soft_timeout must be positive")
	}
	return nil
}
