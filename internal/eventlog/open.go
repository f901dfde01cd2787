package eventlog

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/clinicore/scheduling/internal/config"
	redisclient "github.com/clinicore/scheduling/internal/redis"
)

// Open constructs the configured backend. rdb may be nil for the memory
// backend; the file backend uses it only for the cross-process lease.
func Open(cfg config.Config, rdb *redis.Client) (Log, error) {
	switch cfg.EventBackend {
	case config.EventBackendMemory:
		return NewMemoryLog(), nil
	case config.EventBackendFile:
		var leaser Leaser
		if rdb != nil {
			leaser = redisclient.NewRedisStreamLeaser(rdb, cfg.LeaseTTL)
		}
		return NewFileLog(cfg.EventDir, leaser)
	case config.EventBackendRedis:
		if rdb == nil {
			return nil, fmt.Errorf("redis event backend requires a redis client")
		}
		return NewRedisLog(rdb), nil
	default:
		return nil, fmt.Errorf("unknown event backend %q", cfg.EventBackend)
	}
}
