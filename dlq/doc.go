// Package dlq holds jobs that failed terminally.
//
// When the worker's retry policy decides a failure is terminal, or a
// claimed record names no registered handler, the executor calls
// [Service.Push] and then deletes the live record. The entry keeps a
// snapshot of the payload together with the final exception text.
//
// Entries are immutable. They leave the store only through operator
// action:
//
//	svc := dlq.NewService(failedStore, jobStore)
//
//	svc.Retry(ctx, entryID)     // re-enqueue as a fresh record, drop the entry
//	svc.RetryAll(ctx, "emails") // same, for a whole queue ("" = every queue)
//	svc.Flush(ctx, "")          // discard everything
package dlq
