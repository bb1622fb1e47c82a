package main

import "github.com/matst80/vncrepeater/internal/obs"

// newStateStore creates either an in-memory or Redis-backed state store
// based on configuration.
func newStateStore(c *Config) (StateStore, error) {
	if c.RedisAddr == "" {
		obs.Info("state.backend", obs.Fields{"type": "in-memory"})
		return newMemoryState(), nil
	}
	obs.Info("state.backend", obs.Fields{"type": "redis", "addr": c.RedisAddr})
	return newRedisState(c.RedisAddr, c.RedisPassword, c.RedisDB)
}
