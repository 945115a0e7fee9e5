package report

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Setter is the part of redis.Cmdable the Redis reporter uses.
type Setter interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// Redis keeps the latest state per device and sensor in Redis:
//
//	campbellsync:device:<device>:outcome  last outcome
//	campbellsync:device:<device>:cycle    last cycle ID
//	campbellsync:sensor:<device>:<field>  last appended value
//
// Every key expires after the TTL so decommissioned devices vanish.
type Redis struct {
	rdb    Setter
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedis creates a Redis reporter. A zero ttl means 24h.
func NewRedis(rdb Setter, ttl time.Duration, logger *slog.Logger) *Redis {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{rdb: rdb, prefix: "campbellsync", ttl: ttl, logger: logger}
}

// DeviceKey returns the key holding a device's attribute.
func (r *Redis) DeviceKey(device, attr string) string {
	return r.prefix + ":device:" + device + ":" + attr
}

// SensorKey returns the key holding a sensor's last value.
func (r *Redis) SensorKey(device, field string) string {
	return r.prefix + ":sensor:" + device + ":" + field
}

// Report implements Reporter. Start events are ignored; write failures
// are logged.
func (r *Redis) Report(ctx context.Context, ev Event) {
	if ev.Kind != KindFinish || ev.Result == nil {
		return
	}
	res := ev.Result

	r.set(ctx, r.DeviceKey(res.Device, "outcome"), string(res.Outcome))
	r.set(ctx, r.DeviceKey(res.Device, "cycle"), res.CycleID)
	for _, name := range res.Appended {
		v, ok := res.Values[name]
		if !ok {
			continue
		}
		r.set(ctx, r.SensorKey(res.Device, name), strconv.FormatFloat(v, 'g', -1, 64))
	}
}

func (r *Redis) set(ctx context.Context, key, value string) {
	if err := r.rdb.Set(ctx, key, value, r.ttl).Err(); err != nil {
		r.logger.Warn("redis set failed", "key", key, "error", err)
	}
}

// DialRedis connects to addr and verifies the connection.
func DialRedis(ctx context.Context, addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis %s: %w", addr, err)
	}
	return rdb, nil
}
