package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	createStatusRejected  int64 = 0
	createStatusCreated   int64 = 1
	createStatusCollision int64 = 2
)

const (
	mutateStatusNotFound int64 = 0
	mutateStatusExpired  int64 = 1
	mutateStatusMismatch int64 = 2
	mutateStatusOK       int64 = 3
)

// pruneFunction removes expired and dangling members of a user index.
// It is shared by the create and reap scripts.
const pruneFunction = `
local function prune(user_key, session_prefix, cutoff)
  local removed = 0
  local stale = redis.call("ZRANGEBYSCORE", user_key, "-inf", cutoff)
  for _, id in ipairs(stale) do
    removed = removed + redis.call("DEL", session_prefix .. id)
    redis.call("ZREM", user_key, id)
  end
  local rest = redis.call("ZRANGE", user_key, 0, -1)
  for _, id in ipairs(rest) do
    if redis.call("EXISTS", session_prefix .. id) == 0 then
      redis.call("ZREM", user_key, id)
    end
  end
  return removed
end
`

// KEYS: session, user index, users set
// ARGV: sid, user id, record, now ms, timeout ms, max sessions, reject(0|1), jti, session prefix
const createSessionScript = pruneFunction + `
local session_key = KEYS[1]
local user_key = KEYS[2]
local users_key = KEYS[3]
local sid = ARGV[1]
local user_id = ARGV[2]
local now = tonumber(ARGV[4])
local timeout = tonumber(ARGV[5])
local max_sessions = tonumber(ARGV[6])
local reject = ARGV[7] == "1"
local session_prefix = ARGV[9]

if redis.call("EXISTS", session_key) == 1 then
  return {2}
end

prune(user_key, session_prefix, now - timeout)

local result = {1}
if max_sessions > 0 then
  local count = redis.call("ZCARD", user_key)
  if count >= max_sessions and reject then
    return {0}
  end
  while count >= max_sessions do
    local oldest = redis.call("ZRANGE", user_key, 0, 0)
    local id = oldest[1]
    if not id then
      break
    end
    redis.call("DEL", session_prefix .. id)
    redis.call("ZREM", user_key, id)
    table.insert(result, id)
    count = count - 1
  end
end

redis.call("HSET", session_key, "d", ARGV[3], "u", user_id, "la", ARGV[4], "rj", ARGV[8])
redis.call("PEXPIRE", session_key, timeout)
redis.call("ZADD", user_key, ARGV[4], sid)
redis.call("PEXPIRE", user_key, timeout)
redis.call("SADD", users_key, user_id)

return result
`

var createSessionLua = redis.NewScript(createSessionScript)

// KEYS: session
// ARGV: sid, now ms, timeout ms, user index prefix
const touchSessionScript = `
local session_key = KEYS[1]
local sid = ARGV[1]
local now = tonumber(ARGV[2])
local timeout = tonumber(ARGV[3])

local vals = redis.call("HMGET", session_key, "u", "la")
if not vals[1] then
  return 0
end
local user_key = ARGV[4] .. vals[1]
local last = tonumber(vals[2]) or 0

if now - last >= timeout then
  redis.call("DEL", session_key)
  redis.call("ZREM", user_key, sid)
  return 1
end

if now > last then
  redis.call("HSET", session_key, "la", ARGV[2])
  redis.call("ZADD", user_key, ARGV[2], sid)
end
redis.call("PEXPIRE", session_key, timeout)
redis.call("PEXPIRE", user_key, timeout)
return 3
`

var touchSessionLua = redis.NewScript(touchSessionScript)

// KEYS: session
// ARGV: sid, now ms, timeout ms, user index prefix, expected jti, next jti
const rotateRefreshScript = `
local session_key = KEYS[1]
local sid = ARGV[1]
local now = tonumber(ARGV[2])
local timeout = tonumber(ARGV[3])

local vals = redis.call("HMGET", session_key, "u", "la", "rj", "d")
if not vals[1] then
  return {0}
end
local user_key = ARGV[4] .. vals[1]
local last = tonumber(vals[2]) or 0

if now - last >= timeout then
  redis.call("DEL", session_key)
  redis.call("ZREM", user_key, sid)
  return {1}
end

if not vals[3] or vals[3] ~= ARGV[5] then
  redis.call("DEL", session_key)
  redis.call("ZREM", user_key, sid)
  return {2}
end

local stamp = ARGV[2]
if now < last then
  stamp = vals[2]
end
redis.call("HSET", session_key, "rj", ARGV[6], "la", stamp)
redis.call("ZADD", user_key, stamp, sid)
redis.call("PEXPIRE", session_key, timeout)
redis.call("PEXPIRE", user_key, timeout)
return {3, vals[4], stamp}
`

var rotateRefreshLua = redis.NewScript(rotateRefreshScript)

// KEYS: session
// ARGV: sid, user index prefix
const destroySessionScript = `
local user_id = redis.call("HGET", KEYS[1], "u")
redis.call("DEL", KEYS[1])
if user_id then
  redis.call("ZREM", ARGV[2] .. user_id, ARGV[1])
  return 1
end
return 0
`

var destroySessionLua = redis.NewScript(destroySessionScript)

// KEYS: user index, users set
// ARGV: user id, session prefix
const destroyUserScript = `
local ids = redis.call("ZRANGE", KEYS[1], 0, -1)
local removed = 0
for _, id in ipairs(ids) do
  removed = removed + redis.call("DEL", ARGV[2] .. id)
end
redis.call("DEL", KEYS[1])
redis.call("SREM", KEYS[2], ARGV[1])
return removed
`

var destroyUserLua = redis.NewScript(destroyUserScript)

// KEYS: user index, users set
// ARGV: user id, session prefix, cutoff ms
const reapUserScript = pruneFunction + `
local removed = prune(KEYS[1], ARGV[2], tonumber(ARGV[3]))
if redis.call("ZCARD", KEYS[1]) == 0 then
  redis.call("DEL", KEYS[1])
  redis.call("SREM", KEYS[2], ARGV[1])
end
return removed
`

var reapUserLua = redis.NewScript(reapUserScript)

// Store is the Redis session backend.
//
// Each session is a hash at <prefix>:s:<sid> holding the encoded record (d),
// the owner (u), lastActivity in unix ms (la) and the current refresh id (rj).
// Each user has a sorted set <prefix>:u:<uid> scored by lastActivity, and
// <prefix>:users lists users that may own sessions. Every mutation touching
// more than one key is a single script, so create, evict and rotate are atomic
// per user. Key TTLs follow the inactivity timeout but liveness is always
// decided from la.
//
// The scripts address session keys they derive at run time, so the store
// expects a single Redis node or a client that routes all keys to one shard.
type Store struct {
	redis  redis.UniversalClient
	prefix string
	opts   Options
}

// NewStore returns a Store using keys under prefix.
func NewStore(rdb redis.UniversalClient, prefix string, opts Options) (*Store, error) {
	if rdb == nil {
		return nil, errors.New("session: redis client is nil")
	}
	opts = opts.normalized()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if prefix == "" {
		prefix = "ws"
	}
	return &Store{redis: rdb, prefix: prefix, opts: opts}, nil
}

func (s *Store) sessionPrefix() string { return s.prefix + ":s:" }
func (s *Store) userPrefix() string    { return s.prefix + ":u:" }

func (s *Store) key(sessionID string) string { return s.sessionPrefix() + sessionID }
func (s *Store) userKey(userID string) string { return s.userPrefix() + userID }
func (s *Store) usersKey() string            { return s.prefix + ":users" }

func (s *Store) timeoutMillis() int64 { return s.opts.InactivityTimeout.Milliseconds() }

// Create implements Backend.
func (s *Store) Create(ctx context.Context, in CreateInput) (string, []string, error) {
	if in.UserID == "" {
		return "", nil, errors.New("session: user id is required")
	}
	sid := in.SessionID
	if sid == "" {
		var err error
		if sid, err = NewSessionID(); err != nil {
			return "", nil, err
		}
	} else if err := checkSessionID(sid); err != nil {
		return "", nil, errors.New("session: malformed session id")
	}

	now := s.opts.Now()
	data, err := Encode(&Session{
		UserID:    in.UserID,
		Username:  in.Username,
		Roles:     in.Roles,
		Device:    in.Device,
		IPAddress: in.IPAddress,
		CreatedAt: now,
	})
	if err != nil {
		return "", nil, err
	}

	reject := "0"
	if s.opts.Policy == LimitReject {
		reject = "1"
	}

	raw, err := createSessionLua.Run(
		ctx,
		s.redis,
		[]string{s.key(sid), s.userKey(in.UserID), s.usersKey()},
		sid,
		in.UserID,
		data,
		now.UnixMilli(),
		s.timeoutMillis(),
		s.opts.MaxSessions,
		reject,
		in.RefreshJTI,
		s.sessionPrefix(),
	).Result()
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	vals, ok := raw.([]interface{})
	if !ok || len(vals) == 0 {
		return "", nil, errors.New("session: unexpected create result")
	}
	status, _ := vals[0].(int64)
	switch status {
	case createStatusRejected:
		return "", nil, ErrTooManySessions
	case createStatusCollision:
		return "", nil, ErrSessionIDInUse
	case createStatusCreated:
	default:
		return "", nil, errors.New("session: unexpected create status")
	}

	var evicted []string
	for _, v := range vals[1:] {
		if id, ok := v.(string); ok {
			evicted = append(evicted, id)
		}
	}
	return sid, evicted, nil
}

// IsValid implements Backend. It never mutates.
func (s *Store) IsValid(ctx context.Context, sessionID string) (bool, error) {
	if checkSessionID(sessionID) != nil {
		return false, nil
	}
	la, err := s.redis.HGet(ctx, s.key(sessionID), "la").Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return !expired(time.UnixMilli(la), s.opts.Now(), s.opts.InactivityTimeout), nil
}

// Refresh implements Backend. An expired session is removed and reported as
// ErrSessionExpired.
func (s *Store) Refresh(ctx context.Context, sessionID string) error {
	if err := checkSessionID(sessionID); err != nil {
		return err
	}
	status, err := touchSessionLua.Run(
		ctx,
		s.redis,
		[]string{s.key(sessionID)},
		sessionID,
		s.opts.Now().UnixMilli(),
		s.timeoutMillis(),
		s.userPrefix(),
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	switch status {
	case mutateStatusNotFound:
		return ErrSessionNotFound
	case mutateStatusExpired:
		return ErrSessionExpired
	default:
		return nil
	}
}

// Get implements Backend.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	if err := checkSessionID(sessionID); err != nil {
		return nil, err
	}
	vals, err := s.redis.HMGet(ctx, s.key(sessionID), "d", "la", "rj").Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return s.fromFields(sessionID, vals)
}

func (s *Store) fromFields(sessionID string, vals []interface{}) (*Session, error) {
	if len(vals) < 3 || vals[0] == nil {
		return nil, ErrSessionNotFound
	}
	data, _ := vals[0].(string)
	laRaw, _ := vals[1].(string)
	la, err := strconv.ParseInt(laRaw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionCorrupt, err)
	}
	lastActivity := time.UnixMilli(la)
	if expired(lastActivity, s.opts.Now(), s.opts.InactivityTimeout) {
		return nil, ErrSessionExpired
	}

	sess, err := Decode([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionCorrupt, err)
	}
	sess.SessionID = sessionID
	sess.LastActivity = lastActivity
	sess.RefreshJTI, _ = vals[2].(string)
	return sess, nil
}

// Destroy implements Backend.
func (s *Store) Destroy(ctx context.Context, sessionID string) error {
	if checkSessionID(sessionID) != nil {
		return nil
	}
	err := destroySessionLua.Run(ctx, s.redis, []string{s.key(sessionID)}, sessionID, s.userPrefix()).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// ListByUser implements Backend. Sessions come back most recently active first.
func (s *Store) ListByUser(ctx context.Context, userID, currentSessionID string) ([]SessionInfo, error) {
	cutoff := s.opts.Now().Add(-s.opts.InactivityTimeout).UnixMilli()
	ids, err := s.redis.ZRevRangeByScore(ctx, s.userKey(userID), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(cutoff, 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(ids) == 0 {
		return []SessionInfo{}, nil
	}

	cmds := make([]*redis.SliceCmd, len(ids))
	_, err = s.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HMGet(ctx, s.key(id), "d", "la", "rj")
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	out := make([]SessionInfo, 0, len(ids))
	for i, cmd := range cmds {
		sess, err := s.fromFields(ids[i], cmd.Val())
		if err != nil {
			// Missing, expired and corrupt records are skipped; the reaper or
			// the next create cleans up the index.
			continue
		}
		if sess.UserID != userID {
			continue
		}
		out = append(out, sess.info(currentSessionID))
	}
	return out, nil
}

// DestroyAllForUser implements Backend.
func (s *Store) DestroyAllForUser(ctx context.Context, userID string) (int, error) {
	n, err := destroyUserLua.Run(
		ctx,
		s.redis,
		[]string{s.userKey(userID), s.usersKey()},
		userID,
		s.sessionPrefix(),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return int(n), nil
}

// RotateRefreshJTI implements Backend.
func (s *Store) RotateRefreshJTI(ctx context.Context, sessionID, expected, next string) (*Session, error) {
	if err := checkSessionID(sessionID); err != nil {
		return nil, err
	}
	if expected == "" || next == "" {
		return nil, errors.New("session: refresh ids must be non-empty")
	}

	raw, err := rotateRefreshLua.Run(
		ctx,
		s.redis,
		[]string{s.key(sessionID)},
		sessionID,
		s.opts.Now().UnixMilli(),
		s.timeoutMillis(),
		s.userPrefix(),
		expected,
		next,
	).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	vals, ok := raw.([]interface{})
	if !ok || len(vals) == 0 {
		return nil, errors.New("session: unexpected rotate result")
	}
	status, _ := vals[0].(int64)
	switch status {
	case mutateStatusNotFound:
		return nil, ErrSessionNotFound
	case mutateStatusExpired:
		return nil, ErrSessionExpired
	case mutateStatusMismatch:
		return nil, ErrRefreshReplay
	case mutateStatusOK:
	default:
		return nil, errors.New("session: unexpected rotate status")
	}
	if len(vals) < 3 {
		return nil, ErrSessionCorrupt
	}

	data, _ := vals[1].(string)
	laRaw, _ := vals[2].(string)
	sess, err := Decode([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionCorrupt, err)
	}
	la, err := strconv.ParseInt(laRaw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionCorrupt, err)
	}
	sess.SessionID = sessionID
	sess.LastActivity = time.UnixMilli(la)
	sess.RefreshJTI = next
	return sess, nil
}

// Reap implements Backend. It walks the users set and prunes each index.
func (s *Store) Reap(ctx context.Context) (int, error) {
	cutoff := s.opts.Now().Add(-s.opts.InactivityTimeout).UnixMilli()
	removed := 0

	var cursor uint64
	for {
		users, next, err := s.redis.SScan(ctx, s.usersKey(), cursor, "", 100).Result()
		if err != nil {
			return removed, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		for _, userID := range users {
			n, err := reapUserLua.Run(
				ctx,
				s.redis,
				[]string{s.userKey(userID), s.usersKey()},
				userID,
				s.sessionPrefix(),
				cutoff,
			).Int64()
			if err != nil {
				return removed, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
			}
			removed += int(n)
		}
		cursor = next
		if cursor == 0 {
			return removed, nil
		}
		if err := ctx.Err(); err != nil {
			return removed, err
		}
	}
}

// Ping reports the round-trip latency to Redis.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}

var _ Backend = (*Store)(nil)
