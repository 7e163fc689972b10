// Package redisstore implements store.WarmPool and store.SessionStore
// against Redis, using github.com/redis/go-redis/v9 (the same client
// kavos113-quickctf's ctf-builder and ds2-lab-NotebookOS use for their
// own queue/cache state). The schema follows §6 of the spec exactly:
//
//	ws:<userId>    hash   {instanceId, publicEndpoint, customDomain, lastSeen, state, ts}
//	inst:<instanceId>  string = userId
//	ws:pings       sorted set, member=userId, score=lastSeen (ms)
//	ws:pool        unordered set of instanceId
//
// Every correctness-critical multi-key mutation (conditional
// setWorkspace, updatePing, cleanup) is a Lua script run via EVAL, so
// the store gets Redis-server-side atomicity rather than emulating it
// with a pair of non-atomic round trips (§9: "implementers MUST NOT
// emulate this with a pair of non-atomic calls").
package redisstore

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/fogscale/workbench/lib/orchestrator"
	"github.com/fogscale/workbench/lib/orchestrator/wberrors"
)

const (
	keyPoolSet      = "ws:pool"
	keyPingsZSet    = "ws:pings"
	workspaceKeyFmt = "ws:%s"
	instanceKeyFmt  = "inst:%s"
)

func workspaceKey(userID string) string    { return fmt.Sprintf(workspaceKeyFmt, userID) }
func instanceKey(instanceID string) string { return fmt.Sprintf(instanceKeyFmt, instanceID) }

// Store implements store.WarmPool and store.SessionStore against any
// redis.UniversalClient. The multi-key scripts use keys without hash
// tags, so their keys need not share a cluster slot; Redis Cluster
// rejects such scripts, and a single Redis server is what they run on.
type Store struct {
	rdb redis.UniversalClient
}

func New(rdb redis.UniversalClient) *Store {
	return &Store{rdb: rdb}
}

// --- store.WarmPool ---

func (s *Store) Pop(ctx context.Context) (string, bool, error) {
	id, err := s.rdb.SPop(ctx, keyPoolSet).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, wberrors.Wrap(wberrors.TransientUpstream, "SPOP ws:pool", err)
	}
	return id, true, nil
}

func (s *Store) Add(ctx context.Context, instanceID string) error {
	if err := s.rdb.SAdd(ctx, keyPoolSet, instanceID).Err(); err != nil {
		return wberrors.Wrap(wberrors.TransientUpstream, "SADD ws:pool", err)
	}
	return nil
}

func (s *Store) Remove(ctx context.Context, instanceID string) error {
	if err := s.rdb.SRem(ctx, keyPoolSet, instanceID).Err(); err != nil {
		return wberrors.Wrap(wberrors.TransientUpstream, "SREM ws:pool", err)
	}
	return nil
}

func (s *Store) Size(ctx context.Context) (int, error) {
	n, err := s.rdb.SCard(ctx, keyPoolSet).Result()
	if err != nil {
		return 0, wberrors.Wrap(wberrors.TransientUpstream, "SCARD ws:pool", err)
	}
	return int(n), nil
}

func (s *Store) InPool(ctx context.Context, instanceID string) (bool, error) {
	ok, err := s.rdb.SIsMember(ctx, keyPoolSet, instanceID).Result()
	if err != nil {
		return false, wberrors.Wrap(wberrors.TransientUpstream, "SISMEMBER ws:pool", err)
	}
	return ok, nil
}

// --- store.SessionStore ---

func (s *Store) GetWorkspace(ctx context.Context, userID string) (*orchestrator.WorkspaceRecord, bool, error) {
	vals, err := s.rdb.HGetAll(ctx, workspaceKey(userID)).Result()
	if err != nil {
		return nil, false, wberrors.Wrap(wberrors.TransientUpstream, "HGETALL ws:"+userID, err)
	}
	if len(vals) == 0 {
		return nil, false, nil
	}
	rec := &orchestrator.WorkspaceRecord{
		UserID:         userID,
		InstanceID:     vals["instanceId"],
		PublicEndpoint: vals["publicEndpoint"],
		CustomDomain:   vals["customDomain"],
		State:          orchestrator.WorkspaceState(vals["state"]),
	}
	rec.LastSeen, _ = strconv.ParseInt(vals["lastSeen"], 10, 64)
	rec.Ts, _ = strconv.ParseInt(vals["ts"], 10, 64)
	return rec, true, nil
}

var setWorkspaceScript = redis.NewScript(`
local key = KEYS[1]
local instKey = KEYS[2]
local pingsKey = KEYS[3]
local onlyIfAbsent = ARGV[1]
local instanceId = ARGV[2]
local publicEndpoint = ARGV[3]
local customDomain = ARGV[4]
local state = ARGV[5]
local lastSeen = ARGV[6]
local ts = ARGV[7]
local userId = ARGV[8]

if onlyIfAbsent == "1" then
	local existingState = redis.call("HGET", key, "state")
	if existingState == "RUNNING" then
		return 0
	end
end

redis.call("HSET", key,
	"instanceId", instanceId,
	"publicEndpoint", publicEndpoint,
	"customDomain", customDomain,
	"state", state,
	"lastSeen", lastSeen,
	"ts", ts)
redis.call("SET", instKey, userId)
redis.call("ZADD", pingsKey, lastSeen, userId)
return 1
`)

func (s *Store) SetWorkspace(ctx context.Context, userID string, record *orchestrator.WorkspaceRecord, onlyIfAbsent bool) (bool, error) {
	onlyIfAbsentArg := "0"
	if onlyIfAbsent {
		onlyIfAbsentArg = "1"
	}
	keys := []string{workspaceKey(userID), instanceKey(record.InstanceID), keyPingsZSet}
	wrote, err := setWorkspaceScript.Run(ctx, s.rdb, keys,
		onlyIfAbsentArg,
		record.InstanceID,
		record.PublicEndpoint,
		record.CustomDomain,
		string(record.State),
		record.LastSeen,
		record.Ts,
		userID,
	).Int()
	if err != nil {
		return false, wberrors.Wrap(wberrors.TransientUpstream, "setWorkspace ws:"+userID, err)
	}
	return wrote == 1, nil
}

func (s *Store) GetUserForInstance(ctx context.Context, instanceID string) (string, bool, error) {
	userID, err := s.rdb.Get(ctx, instanceKey(instanceID)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, wberrors.Wrap(wberrors.TransientUpstream, "GET inst:"+instanceID, err)
	}
	return userID, true, nil
}

var updatePingScript = redis.NewScript(`
local key = KEYS[1]
local pingsKey = KEYS[2]
local userId = ARGV[1]
local now = ARGV[2]

if redis.call("EXISTS", key) == 0 then
	return 0
end

redis.call("HSET", key, "lastSeen", now, "state", "RUNNING")
redis.call("ZADD", pingsKey, now, userId)
return 1
`)

func (s *Store) UpdatePing(ctx context.Context, userID string, now int64) error {
	keys := []string{workspaceKey(userID), keyPingsZSet}
	_, err := updatePingScript.Run(ctx, s.rdb, keys, userID, now).Int()
	if err != nil {
		return wberrors.Wrap(wberrors.TransientUpstream, "updatePing ws:"+userID, err)
	}
	return nil
}

func (s *Store) ListIdle(ctx context.Context, cutoffTimestamp int64) ([]string, error) {
	members, err := s.rdb.ZRangeByScore(ctx, keyPingsZSet, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoffTimestamp, 10),
	}).Result()
	if err != nil {
		return nil, wberrors.Wrap(wberrors.TransientUpstream, "ZRANGEBYSCORE ws:pings", err)
	}
	return members, nil
}

func (s *Store) ActiveCount(ctx context.Context) (int, error) {
	n, err := s.rdb.ZCard(ctx, keyPingsZSet).Result()
	if err != nil {
		return 0, wberrors.Wrap(wberrors.TransientUpstream, "ZCARD ws:pings", err)
	}
	return int(n), nil
}

var cleanupScript = redis.NewScript(`
local key = KEYS[1]
local instKey = KEYS[2]
local pingsKey = KEYS[3]
local userId = ARGV[1]

redis.call("HSET", key, "state", "STOPPED")
redis.call("ZREM", pingsKey, userId)
redis.call("DEL", instKey)
redis.call("DEL", key)
return 1
`)

func (s *Store) Cleanup(ctx context.Context, userID, instanceID string) error {
	keys := []string{workspaceKey(userID), instanceKey(instanceID), keyPingsZSet}
	_, err := cleanupScript.Run(ctx, s.rdb, keys, userID).Int()
	if err != nil {
		return wberrors.Wrap(wberrors.TransientUpstream, "cleanup ws:"+userID, err)
	}
	return nil
}
