package queue

import "github.com/redis/go-redis/v9"

// Every state transition runs as one script so a job id is never visible in
// two sets at once (except while a replacement waits behind an in-flight run).

// The version counter lives in its own key so it keeps counting after the job
// hash is deleted; a stale run never matches a job re-enqueued under its id.
// KEYS: job, delayed, wait, failed, version
// ARGV: id, name, data, max_attempts, backoff_ms, now_ms, run_at_ms, trace_id, version_ttl_ms
var enqueueScript = redis.NewScript(`
local version = redis.call('INCR', KEYS[5])
redis.call('PEXPIRE', KEYS[5], ARGV[9])
redis.call('HDEL', KEYS[1], 'last_error', 'failed_at')
redis.call('HSET', KEYS[1], 'version', version,
  'name', ARGV[2], 'data', ARGV[3], 'attempts_made', '0', 'max_attempts', ARGV[4],
  'backoff_ms', ARGV[5], 'created_at', ARGV[6], 'run_at', ARGV[7], 'trace_id', ARGV[8])
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('LREM', KEYS[3], '0', ARGV[1])
redis.call('ZREM', KEYS[4], ARGV[1])
if tonumber(ARGV[7]) > tonumber(ARGV[6]) then
  redis.call('ZADD', KEYS[2], ARGV[7], ARGV[1])
  redis.call('HSET', KEYS[1], 'state', 'delayed')
else
  redis.call('LPUSH', KEYS[3], ARGV[1])
  redis.call('HSET', KEYS[1], 'state', 'waiting')
end
return version
`)

// KEYS: delayed, wait, active
// ARGV: now_ms, lease_deadline_ms, job_key_prefix
var claimScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', '0', '100')
for _, id in ipairs(due) do
  redis.call('ZREM', KEYS[1], id)
  redis.call('LPUSH', KEYS[2], id)
  redis.call('HSET', ARGV[3] .. id, 'state', 'waiting')
end
while true do
  local id = redis.call('RPOP', KEYS[2])
  if not id then
    return false
  end
  local key = ARGV[3] .. id
  if redis.call('EXISTS', key) == 1 then
    redis.call('ZADD', KEYS[3], ARGV[2], id)
    redis.call('HSET', key, 'state', 'active')
    redis.call('HINCRBY', key, 'attempts_made', '1')
    local f = redis.call('HMGET', key, 'name', 'data', 'attempts_made', 'max_attempts',
      'backoff_ms', 'version', 'trace_id', 'created_at', 'run_at')
    return {id, f[1], f[2], f[3], f[4], f[5], f[6], f[7], f[8], f[9]}
  end
end
`)

// KEYS: job, active, delayed, wait
// ARGV: id, version
var completeScript = redis.NewScript(`
local v = redis.call('HGET', KEYS[1], 'version')
if v == ARGV[2] then
  redis.call('ZREM', KEYS[2], ARGV[1])
  redis.call('ZREM', KEYS[3], ARGV[1])
  redis.call('LREM', KEYS[4], '0', ARGV[1])
  redis.call('DEL', KEYS[1])
  return 1
end
if redis.call('HGET', KEYS[1], 'state') ~= 'active' then
  redis.call('ZREM', KEYS[2], ARGV[1])
end
return 0
`)

// KEYS: job, active, delayed, failed
// ARGV: id, version, now_ms, retry_at_ms ('' for no retry), error
var failScript = redis.NewScript(`
local v = redis.call('HGET', KEYS[1], 'version')
if v ~= ARGV[2] then
  if redis.call('HGET', KEYS[1], 'state') ~= 'active' then
    redis.call('ZREM', KEYS[2], ARGV[1])
  end
  return 'stale'
end
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('HSET', KEYS[1], 'last_error', ARGV[5])
if ARGV[4] ~= '' then
  redis.call('ZADD', KEYS[3], ARGV[4], ARGV[1])
  redis.call('HSET', KEYS[1], 'state', 'delayed', 'run_at', ARGV[4])
  return 'retry'
end
redis.call('ZADD', KEYS[4], ARGV[3], ARGV[1])
redis.call('HSET', KEYS[1], 'state', 'failed', 'failed_at', ARGV[3])
return 'failed'
`)

// KEYS: job, delayed, wait
// ARGV: id
var cancelScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if state ~= 'delayed' and state ~= 'waiting' then
  return 0
end
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('LREM', KEYS[3], '0', ARGV[1])
redis.call('DEL', KEYS[1])
return 1
`)

// KEYS: active, wait, failed
// ARGV: now_ms, job_key_prefix
// Returns the ids that ran out of attempts and were moved to failed.
var recoverScript = redis.NewScript(`
local expired = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', '0', '100')
local dead = {}
for _, id in ipairs(expired) do
  redis.call('ZREM', KEYS[1], id)
  local key = ARGV[2] .. id
  if redis.call('HGET', key, 'state') == 'active' then
    local made = tonumber(redis.call('HGET', key, 'attempts_made'))
    local max = tonumber(redis.call('HGET', key, 'max_attempts'))
    if made >= max then
      redis.call('ZADD', KEYS[3], ARGV[1], id)
      redis.call('HSET', key, 'state', 'failed', 'failed_at', ARGV[1], 'last_error', 'lease expired')
      table.insert(dead, id)
    else
      redis.call('RPUSH', KEYS[2], id)
      redis.call('HSET', key, 'state', 'waiting')
    end
  end
end
return dead
`)
