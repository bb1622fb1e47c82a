package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/matst80/vncrepeater/internal/obs"
)

const (
	redisParkedPrefix = "vncrepeater:parked:"
	redisSessionsKey  = "vncrepeater:sessions_total"
	redisEvictionsKey = "vncrepeater:evictions_total"
	redisParkedTTL    = time.Hour
	redisRefreshEvery = 30 * time.Second
)

// parkedEntryData is the JSON form published to Redis, tagged with the
// instance that owns the socket.
type parkedEntryData struct {
	parkedEntry
	Instance string `json:"instance"`
}

// redisState implements StateStore on top of the local memoryState, mirroring
// parked metadata and counters into Redis so several repeater instances can
// feed one dashboard. The rendezvous registry itself always stays local.
type redisState struct {
	*memoryState
	client     *redis.Client
	instanceID string
}

func newRedisState(addr, password string, db int) (*redisState, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return &redisState{
		memoryState: newMemoryState(),
		client:      rdb,
		instanceID:  fmt.Sprintf("vncrepeater-%d", time.Now().UnixNano()),
	}, nil
}

var _ StateStore = (*redisState)(nil)

func (r *redisState) notePark(e parkedEntry) {
	r.memoryState.notePark(e)
	ctx := context.Background()
	data, err := json.Marshal(parkedEntryData{parkedEntry: e, Instance: r.instanceID})
	if err != nil {
		obs.Error("redis.marshal_parked", obs.Fields{"err": err.Error(), "id": e.ID})
		return
	}
	if err := r.client.Set(ctx, redisParkedPrefix+e.ID, data, redisParkedTTL).Err(); err != nil {
		obs.Error("redis.set_parked", obs.Fields{"err": err.Error(), "id": e.ID})
	}
}

func (r *redisState) noteUnpark(id string) {
	r.memoryState.noteUnpark(id)
	if err := r.client.Del(context.Background(), redisParkedPrefix+id).Err(); err != nil {
		obs.Error("redis.del_parked", obs.Fields{"err": err.Error(), "id": id})
	}
}

func (r *redisState) noteSession() {
	r.memoryState.noteSession()
	if err := r.client.Incr(context.Background(), redisSessionsKey).Err(); err != nil {
		obs.Error("redis.incr_sessions", obs.Fields{"err": err.Error()})
	}
}

func (r *redisState) noteEvicted(n int) {
	r.memoryState.noteEvicted(n)
	if err := r.client.IncrBy(context.Background(), redisEvictionsKey, int64(n)).Err(); err != nil {
		obs.Error("redis.incr_evictions", obs.Fields{"err": err.Error()})
	}
}

// getStats prefers the shared counters; local values are the fallback when
// Redis is unreachable.
func (r *redisState) getStats() stateSnapshot {
	snap := r.memoryState.getStats()
	ctx := context.Background()
	if v, err := r.client.Get(ctx, redisSessionsKey).Int64(); err == nil {
		snap.Sessions = v
	} else if err != redis.Nil {
		obs.Debug("redis.get_sessions", obs.Fields{"err": err.Error()})
	}
	if v, err := r.client.Get(ctx, redisEvictionsKey).Int64(); err == nil {
		snap.Evictions = v
	} else if err != redis.Nil {
		obs.Debug("redis.get_evictions", obs.Fields{"err": err.Error()})
	}
	return snap
}

// startMaintenance periodically refreshes the TTL of locally parked entries'
// Redis keys so they outlive long parks. A key that is already gone is not
// recreated.
func (r *redisState) startMaintenance(ctx context.Context) {
	ticker := time.NewTicker(redisRefreshEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refreshParked()
		}
	}
}

func (r *redisState) refreshParked() {
	snap := r.memoryState.getStats()
	ctx := context.Background()
	for _, e := range snap.Entries {
		if err := r.client.Expire(ctx, redisParkedPrefix+e.ID, redisParkedTTL).Err(); err != nil {
			obs.Debug("redis.refresh_parked", obs.Fields{"err": err.Error(), "id": e.ID})
		}
	}
}
