// Package postgres implements store.Store on PostgreSQL using pgx/v5 with
// raw SQL. ClaimNext uses FOR UPDATE SKIP LOCKED so concurrent workers
// never block on, or double-claim, the same record. Schema changes are
// embedded SQL files applied in filename order by Migrate.
package postgres
