package redis

// Redis key naming conventions. Every key starts with the store prefix,
// "conveyor:" unless WithKeyPrefix says otherwise.

// DefaultKeyPrefix is the key prefix used when none is configured.
const DefaultKeyPrefix = "conveyor:"

// ── Job keys ──

// jobKeyPrefix is the prefix of every record Hash: conveyor:job:
func (s *Store) jobKeyPrefix() string { return s.prefix + "job:" }

// jobKey returns the Hash key for a record: conveyor:job:{id}
func (s *Store) jobKey(id string) string { return s.jobKeyPrefix() + id }

// readyKeyPrefix is the prefix of every per-queue Sorted Set.
func (s *Store) readyKeyPrefix() string { return s.prefix + "queue:" }

// readyKey returns the Sorted Set of unreserved records in a queue:
// conveyor:queue:{name}
func (s *Store) readyKey(queue string) string { return s.readyKeyPrefix() + queue }

// reservedKey is the Sorted Set of reserved record IDs scored by ReservedAt.
func (s *Store) reservedKey() string { return s.prefix + "reserved" }

// jobIDsKey is the Set tracking all record IDs for enumeration.
func (s *Store) jobIDsKey() string { return s.prefix + "job_ids" }

// queuesKey is the Set of every queue name ever enqueued to.
func (s *Store) queuesKey() string { return s.prefix + "queues" }

// ── Failed job keys ──

// failedKey returns the Hash key for a failed job: conveyor:failed:{id}
func (s *Store) failedKey(id string) string { return s.prefix + "failed:" + id }

// failedIndexKey is the Sorted Set of all failed job IDs scored by FailedAt.
func (s *Store) failedIndexKey() string { return s.prefix + "failed_ids" }

// failedQueueKey returns the per-queue Sorted Set of failed job IDs.
func (s *Store) failedQueueKey(queue string) string { return s.prefix + "failed_queue:" + queue }

// ── Schedule keys ──

// ledgerKey holds the schedule ledger snapshot as a JSON string.
func (s *Store) ledgerKey() string { return s.prefix + "schedule_ledger" }
