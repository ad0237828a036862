// Package redis implements store.Store on Redis. Records are Hashes, each
// queue is a Sorted Set of unreserved record IDs scored by AvailableAt in
// unix milliseconds, and reservations live in a single Sorted Set scored by
// ReservedAt. Every state transition that touches more than one key runs
// as a Lua script, so a claim is atomic across any number of workers.
//
// Scripts build some keys from the configured prefix. On Redis Cluster,
// use a prefix containing a hash tag, such as "{conveyor}:", so that every
// key lands on the same slot.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
