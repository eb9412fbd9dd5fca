// Package config loads the yaml configuration the cmd tools use to describe
// volume sets: codec geometry, capacity, and where each shard lives.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// VolumeConfig places a set of shards on one backing file.
type VolumeConfig struct {
	Path     string  `yaml:"path"`
	ShardIDs []uint8 `yaml:"shardIds"`
}

// Config describes a volume set.
type Config struct {
	DataShards     int            `yaml:"dataShards"`
	ParityShards   int            `yaml:"parityShards"`
	StripeCapacity uint64         `yaml:"stripeCapacity"`
	QueueDepth     int            `yaml:"queueDepth"`
	NoDirectIO     bool           `yaml:"noDirectIo"`
	Volumes        []VolumeConfig `yaml:"volumes"`
}

// Load reads and validates a config file, filling defaults for omitted
// fields.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if cfg.DataShards == 0 {
		cfg.DataShards = 4
	}
	if cfg.ParityShards == 0 {
		cfg.ParityShards = 2
	}
	if cfg.StripeCapacity == 0 {
		cfg.StripeCapacity = 1024
	}

	if cfg.DataShards < 0 || cfg.ParityShards < 0 {
		return Config{}, fmt.Errorf("config: negative shard counts")
	}
	if len(cfg.Volumes) == 0 {
		return Config{}, fmt.Errorf("config: no volumes")
	}
	for i, v := range cfg.Volumes {
		if v.Path == "" {
			return Config{}, fmt.Errorf("config: volume %d has no path", i)
		}
		if len(v.ShardIDs) == 0 {
			return Config{}, fmt.Errorf("config: volume %d has no shards", i)
		}
	}
	return cfg, nil
}
