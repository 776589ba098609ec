package config

import (
	"crypto/tls"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisOptions builds client options from REDIS_CONNECTION_STRING. Both a
// redis:// URL and an Azure-style "host:port,password=...,ssl=True"
// connection string are accepted.
func (c Config) RedisOptions() *redis.Options {
	opts, err := redis.ParseURL(c.RedisConnectionString)
	if err != nil {
		parts := strings.Split(c.RedisConnectionString, ",")
		opts = &redis.Options{Addr: strings.TrimSpace(parts[0])}
		for _, p := range parts[1:] {
			kv := strings.SplitN(p, "=", 2)
			if len(kv) != 2 {
				continue
			}
			switch strings.ToLower(strings.TrimSpace(kv[0])) {
			case "password":
				opts.Password = kv[1]
			case "ssl":
				if strings.EqualFold(kv[1], "true") {
					opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
				}
			}
		}
	}
	if c.RedisPoolSize > 0 {
		opts.PoolSize = c.RedisPoolSize
	}
	return opts
}
