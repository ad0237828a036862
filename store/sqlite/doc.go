// Package sqlite implements store.Store on SQLite using database/sql and
// github.com/mattn/go-sqlite3. Suitable for single-host deployments, CLI
// tools and tests.
//
// Timestamps are stored as Unix milliseconds. The store pins the pool to
// one connection, so every statement, including the single UPDATE ...
// RETURNING that implements ClaimNext, runs serialized.
//
//	s, err := sqlite.Open(ctx, "storage/conveyor.db")
//	if err != nil { ... }
//	defer s.Close()
//	_ = s.Migrate(ctx)
package sqlite
