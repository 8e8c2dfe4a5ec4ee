// internal/common/queue/scripts.go
package queue

import "github.com/redis/go-redis/v9"

// KEYS: processing, inflight, attempts
// ARGV: raw, entry, deadline_ms
//
// Swaps the raw item BLMOVE placed at the tail of processing for its tokened
// entry, then records the deadline and bumps the delivery counter. Returns 0
// when the raw item is gone, meaning the reaper already took it back.
var claimScript = redis.NewScript(`
if ARGV[1] ~= ARGV[2] then
  if redis.call('LREM', KEYS[1], -1, ARGV[1]) == 0 then
    return 0
  end
  redis.call('RPUSH', KEYS[1], ARGV[2])
end
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[2])
return redis.call('HINCRBY', KEYS[3], ARGV[2], 1)
`)

// KEYS: processing, inflight, attempts, queue
// ARGV: entry
var ackScript = redis.NewScript(`
local removed = redis.call('LREM', KEYS[1], 1, ARGV[1])
if removed == 0 then
  removed = redis.call('LREM', KEYS[4], 1, ARGV[1])
end
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('HDEL', KEYS[3], ARGV[1])
return removed
`)

// KEYS: processing, inflight, attempts, dead, dead_reasons
// ARGV: entry, reason
var deadLetterScript = redis.NewScript(`
redis.call('LREM', KEYS[1], 1, ARGV[1])
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('HDEL', KEYS[3], ARGV[1])
redis.call('RPUSH', KEYS[4], ARGV[1])
redis.call('HSET', KEYS[5], ARGV[1], ARGV[2])
return 1
`)

// KEYS: dead, queue, dead_reasons
// ARGV: limit (0 = all)
var requeueDeadScript = redis.NewScript(`
local limit = tonumber(ARGV[1])
local moved = 0
while limit == 0 or moved < limit do
  local member = redis.call('LPOP', KEYS[1])
  if not member then
    break
  end
  redis.call('RPUSH', KEYS[2], member)
  redis.call('HDEL', KEYS[3], member)
  moved = moved + 1
end
return moved
`)

// KEYS: queue, processing, inflight, attempts, dead, dead_reasons
// ARGV: now_ms, max_deliveries, batch, adopt_deadline_ms, reason
//
// Processing entries without a deadline belong to a worker that died between
// BLMOVE and the deadline write; they get one so they can expire like the rest.
var requeueScript = redis.NewScript(`
local maxDeliveries = tonumber(ARGV[2])

local pending = redis.call('LRANGE', KEYS[2], 0, -1)
for _, member in ipairs(pending) do
  if not redis.call('ZSCORE', KEYS[3], member) then
    redis.call('ZADD', KEYS[3], ARGV[4], member)
  end
end

local expired = redis.call('ZRANGEBYSCORE', KEYS[3], '-inf', ARGV[1], 'LIMIT', 0, ARGV[3])
local requeued = 0
local dead = {}
for _, member in ipairs(expired) do
  redis.call('ZREM', KEYS[3], member)
  if redis.call('LREM', KEYS[2], 1, member) > 0 then
    local attempts = tonumber(redis.call('HGET', KEYS[4], member) or '0')
    if attempts >= maxDeliveries then
      redis.call('HDEL', KEYS[4], member)
      redis.call('RPUSH', KEYS[5], member)
      redis.call('HSET', KEYS[6], member, ARGV[5])
      table.insert(dead, member)
    else
      redis.call('RPUSH', KEYS[1], member)
      requeued = requeued + 1
    end
  end
end
return {requeued, dead}
`)
