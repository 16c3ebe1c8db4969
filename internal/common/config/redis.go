package config

import (
	"strings"

	"github.com/amoylab/unla-edge/internal/common/cnst"
)

// RedisConfig is shared by every Redis-backed component
type RedisConfig struct {
	ClusterType string `yaml:"cluster_type"` // single, sentinel or cluster
	Addr        string `yaml:"addr"`         // separate multiple addresses with ',' or ';'
	MasterName  string `yaml:"master_name"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	DB          int    `yaml:"db"`
	Prefix      string `yaml:"prefix"`
	Topic       string `yaml:"topic"`
}

// Addrs splits Addr into individual addresses
func (c RedisConfig) Addrs() []string {
	fields := strings.FieldsFunc(c.Addr, func(r rune) bool {
		return r == ',' || r == ';'
	})
	addrs := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			addrs = append(addrs, f)
		}
	}
	return addrs
}

// KeyPrefix returns the configured prefix terminated by ':'
func (c RedisConfig) KeyPrefix(fallback string) string {
	prefix := c.Prefix
	if prefix == "" {
		prefix = fallback
	}
	if prefix != "" && !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	return prefix
}

// IsCluster reports whether the config targets a Redis cluster
func (c RedisConfig) IsCluster() bool {
	return c.ClusterType == cnst.RedisClusterTypeCluster
}
