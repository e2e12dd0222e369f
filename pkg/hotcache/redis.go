package hotcache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// recordScanScript atomically increments a ticket's scan count and
// refreshes its TTL, mirroring the in-process RecordScan but shared
// across every checkpoint process pointed at the same Redis instance.
//
// KEYS[1] = ticket key
// ARGV[1] = location (may be empty string)
// ARGV[2] = scanned-at unix seconds
// ARGV[3] = max scans per ticket (0 disables blocking)
// ARGV[4] = TTL seconds
var recordScanScript = redis.NewScript(`
local key = KEYS[1]
local location = ARGV[1]
local scanned_at = ARGV[2]
local max_scans = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local count = redis.call("HINCRBY", key, "scan_count", 1)
if location ~= "" then
    redis.call("SADD", key .. ":locations", location)
    redis.call("EXPIRE", key .. ":locations", ttl)
end
redis.call("HSET", key, "last_scan", scanned_at)

local blocked = redis.call("HGET", key, "is_blocked")
if max_scans > 0 and count > max_scans then
    redis.call("HSET", key, "is_blocked", "1")
    if not redis.call("HGET", key, "block_reason") then
        redis.call("HSET", key, "block_reason", "Trop de scans")
    end
    blocked = "1"
end
redis.call("EXPIRE", key, ttl)

return {count, blocked or "0"}
`)

// RedisCache is the distributed variant of the hot cache, backed by
// Redis hashes and sets with a Lua-scripted atomic update. It implements
// the same read/write surface as Cache but without an in-process map, so
// every checkpoint process sees the same view.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache wires a distributed hot cache. addr/password/db follow
// the teacher's redis.Options construction; ttl mirrors Config.TTL.
func NewRedisCache(addr, password string, db int, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisCache{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}),
		ttl:    ttl,
	}
}

func ticketKey(ticketID string) string {
	return fmt.Sprintf("hotcache:ticket:%s", ticketID)
}

// Get reads a ticket's entry directly from Redis. Unlike Cache.Get, there
// is no backfill step here — the distributed cache's source of truth on
// a miss is whatever wrote it last (RecordScan or Put), and callers that
// need store backfill compose a Cache in front of this.
func (r *RedisCache) Get(ctx context.Context, ticketID string) (Entry, bool, error) {
	key := ticketKey(ticketID)
	vals, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return Entry{}, false, fmt.Errorf("hotcache: redis hgetall: %w", err)
	}
	if len(vals) == 0 {
		return Entry{}, false, nil
	}

	entry := Entry{TicketID: ticketID}
	fmt.Sscanf(vals["scan_count"], "%d", &entry.ScanCount)
	if ts := vals["last_scan"]; ts != "" {
		var sec int64
		fmt.Sscanf(ts, "%d", &sec)
		entry.LastScan = time.Unix(sec, 0).UTC()
	}
	entry.IsBlocked = vals["is_blocked"] == "1"
	entry.BlockReason = vals["block_reason"]

	locs, err := r.client.SMembers(ctx, key+":locations").Result()
	if err != nil {
		return Entry{}, false, fmt.Errorf("hotcache: redis smembers: %w", err)
	}
	entry.ScanLocations = locs

	return entry, true, nil
}

// RecordScan runs the atomic Lua update and returns the post-update view.
func (r *RedisCache) RecordScan(ctx context.Context, ticketID, location string, scannedAt time.Time, maxScansPerTicket int) (Entry, error) {
	key := ticketKey(ticketID)
	res, err := recordScanScript.Run(ctx, r.client, []string{key},
		location, scannedAt.Unix(), maxScansPerTicket, int(r.ttl.Seconds()),
	).Result()
	if err != nil {
		return Entry{}, fmt.Errorf("hotcache: record scan script: %w", err)
	}

	results, ok := res.([]interface{})
	if !ok || len(results) != 2 {
		return Entry{}, fmt.Errorf("hotcache: unexpected script response %v", res)
	}

	entry, found, err := r.Get(ctx, ticketID)
	if err != nil {
		return Entry{}, err
	}
	if !found {
		return Entry{}, fmt.Errorf("hotcache: record scan: entry vanished after write")
	}
	return entry, nil
}

// Put seeds Redis with a known-good entry, e.g. from a C4 backfill read.
func (r *RedisCache) Put(ctx context.Context, entry Entry) error {
	key := ticketKey(entry.TicketID)
	fields := map[string]interface{}{
		"scan_count": entry.ScanCount,
		"last_scan":  entry.LastScan.Unix(),
	}
	if entry.IsBlocked {
		fields["is_blocked"] = "1"
	}
	if entry.BlockReason != "" {
		fields["block_reason"] = entry.BlockReason
	}
	if err := r.client.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("hotcache: redis hset: %w", err)
	}
	r.client.Expire(ctx, key, r.ttl)
	if len(entry.ScanLocations) > 0 {
		locs := make([]interface{}, len(entry.ScanLocations))
		for i, l := range entry.ScanLocations {
			locs[i] = l
		}
		if err := r.client.SAdd(ctx, key+":locations", locs...).Err(); err != nil {
			return fmt.Errorf("hotcache: redis sadd locations: %w", err)
		}
		r.client.Expire(ctx, key+":locations", r.ttl)
	}
	return nil
}

// Close releases the underlying Redis connection pool.
func (r *RedisCache) Close() error {
	return r.client.Close()
}

// RedisAdapter adapts RedisCache to the orchestrator.HotCache surface,
// which — matching Cache's own fire-and-forget RecordScan — takes no
// context and returns no error. A scan is never allowed to fail
// admission because the distributed cache hiccuped, so a write error is
// logged and the caller gets back an otherwise empty Entry carrying only
// the ticket id instead of a blocked scan.
type RedisAdapter struct {
	cache   *RedisCache
	timeout time.Duration
}

// NewRedisAdapter wraps cache with a per-call timeout bounding how long
// a scan waits on the distributed cache before giving up.
func NewRedisAdapter(cache *RedisCache, timeout time.Duration) *RedisAdapter {
	if timeout <= 0 {
		timeout = 250 * time.Millisecond
	}
	return &RedisAdapter{cache: cache, timeout: timeout}
}

func (a *RedisAdapter) RecordScan(ticketID, location string, scannedAt time.Time, maxScansPerTicket int) Entry {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	entry, err := a.cache.RecordScan(ctx, ticketID, location, scannedAt, maxScansPerTicket)
	if err != nil {
		slog.Error("hotcache: redis record scan failed", "error", err, "ticketId", ticketID)
		return Entry{TicketID: ticketID}
	}
	return entry
}

// Close releases the adapted cache's Redis connection.
func (a *RedisAdapter) Close() error {
	return a.cache.Close()
}
