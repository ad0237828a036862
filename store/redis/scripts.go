package redis

import "github.com/redis/go-redis/v9"

// enqueueScript stores a record unless its ID is taken.
//
// KEYS: job hash, job id set, queue set, ready zset, reserved zset.
// ARGV: id, available_at, reserved_at or "", queue, then field/value pairs.
var enqueueScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV, 5))
redis.call('SADD', KEYS[2], ARGV[1])
redis.call('SADD', KEYS[3], ARGV[4])
if ARGV[3] ~= '' then
	redis.call('ZADD', KEYS[5], ARGV[3], ARGV[1])
else
	redis.call('ZADD', KEYS[4], ARGV[2], ARGV[1])
end
return 1
`)

// claimScript moves the oldest available record across the given ready
// sets into the reserved set and returns its Hash.
//
// KEYS: ready zsets..., reserved zset (last).
// ARGV: now, job key prefix.
var claimScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local reserved = KEYS[#KEYS]
local bestKey, bestID, bestScore
for i = 1, #KEYS - 1 do
	local hit = redis.call('ZRANGEBYSCORE', KEYS[i], '-inf', ARGV[1], 'WITHSCORES', 'LIMIT', 0, 1)
	if #hit > 0 then
		local score = tonumber(hit[2])
		if bestID == nil or score < bestScore or (score == bestScore and hit[1] < bestID) then
			bestKey, bestID, bestScore = KEYS[i], hit[1], score
		end
	end
end
if bestID == nil then
	return false
end
local key = ARGV[2] .. bestID
redis.call('ZREM', bestKey, bestID)
redis.call('ZADD', reserved, ARGV[1], bestID)
redis.call('HSET', key, 'reserved_at', ARGV[1])
return redis.call('HGETALL', key)
`)

// releaseScript clears a reservation and puts the record back in its
// ready set. With a non-empty ARGV[3] it also counts an attempt and
// reschedules.
//
// KEYS: job hash, reserved zset.
// ARGV: id, ready key prefix, available_at or "", last_error.
var releaseScript = redis.NewScript(`
local queue = redis.call('HGET', KEYS[1], 'queue')
if not queue then
	return 0
end
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('HDEL', KEYS[1], 'reserved_at')
if ARGV[3] ~= '' then
	redis.call('HINCRBY', KEYS[1], 'attempts', 1)
	redis.call('HSET', KEYS[1], 'available_at', ARGV[3], 'last_error', ARGV[4])
end
local avail = redis.call('HGET', KEYS[1], 'available_at')
redis.call('ZADD', ARGV[2] .. queue, avail, ARGV[1])
return 1
`)

// deleteScript removes a record and every index entry pointing at it.
//
// KEYS: job hash, job id set, reserved zset.
// ARGV: id, ready key prefix.
var deleteScript = redis.NewScript(`
local queue = redis.call('HGET', KEYS[1], 'queue')
if not queue then
	return 0
end
redis.call('DEL', KEYS[1])
redis.call('SREM', KEYS[2], ARGV[1])
redis.call('ZREM', KEYS[3], ARGV[1])
redis.call('ZREM', ARGV[2] .. queue, ARGV[1])
return 1
`)

// reapScript bumps the stall counter of every reservation older than the
// cutoff. Records within budget go back to their ready set; the rest get
// a fresh reservation. It returns {released ids, exhausted ids}.
//
// KEYS: reserved zset.
// ARGV: cutoff, now, max stalls, job key prefix, ready key prefix.
var reapScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[1])
local released, exhausted = {}, {}
for _, id in ipairs(ids) do
	local key = ARGV[4] .. id
	local stalls = redis.call('HINCRBY', key, 'stalls', 1)
	if stalls <= tonumber(ARGV[3]) then
		redis.call('ZREM', KEYS[1], id)
		redis.call('HDEL', key, 'reserved_at')
		local queue = redis.call('HGET', key, 'queue')
		local avail = redis.call('HGET', key, 'available_at')
		redis.call('ZADD', ARGV[5] .. queue, avail, id)
		table.insert(released, id)
	else
		redis.call('ZADD', KEYS[1], ARGV[2], id)
		redis.call('HSET', key, 'reserved_at', ARGV[2])
		table.insert(exhausted, id)
	end
end
return {released, exhausted}
`)

var allScripts = []*redis.Script{
	enqueueScript, claimScript, releaseScript, deleteScript, reapScript,
}
