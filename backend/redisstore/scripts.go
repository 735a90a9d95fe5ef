package redisstore

import "github.com/redis/go-redis/v9"

// All scripts take KEYS[1]=record hash, KEYS[2]=version counter. Both keys share a
// hash tag so the scripts run on one cluster slot. Invalidations are published from
// inside the script: a write is never visible without its event.
//
// Event payload: "<u|d>:<version>:<key>".

// ARGV: payload, channel, key, ttl(ms, 0 = none)
var putScript = redis.NewScript(`
local v = redis.call('INCR', KEYS[2])
redis.call('HSET', KEYS[1], 'v', v, 'p', ARGV[1])
local ttl = tonumber(ARGV[4])
if ttl > 0 then
  redis.call('PEXPIRE', KEYS[1], ttl)
end
redis.call('PUBLISH', ARGV[2], 'u:' .. v .. ':' .. ARGV[3])
return v
`)

// ARGV: payload, channel, key, ttl(ms, 0 = none)
// Returns {created(0|1), version, payload}.
var putIfAbsentScript = redis.NewScript(`
local cur = redis.call('HMGET', KEYS[1], 'v', 'p')
if cur[1] then
  return {0, cur[1], cur[2]}
end
local v = redis.call('INCR', KEYS[2])
redis.call('HSET', KEYS[1], 'v', v, 'p', ARGV[1])
local ttl = tonumber(ARGV[4])
if ttl > 0 then
  redis.call('PEXPIRE', KEYS[1], ttl)
end
redis.call('PUBLISH', ARGV[2], 'u:' .. v .. ':' .. ARGV[3])
return {1, tostring(v), ARGV[1]}
`)

// ARGV: channel, key
var deleteScript = redis.NewScript(`
local v = redis.call('INCR', KEYS[2])
redis.call('DEL', KEYS[1])
redis.call('PUBLISH', ARGV[1], 'd:' .. v .. ':' .. ARGV[2])
return v
`)
