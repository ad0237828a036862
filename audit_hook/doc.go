// Package audithook is a conveyor extension that turns lifecycle events
// into audit records.
//
// Every job and schedule hook produces an [AuditEvent] and passes it to a
// [Recorder]. Severity is info for normal operation, warning for retries,
// releases and reaps, and critical for failed jobs and failed scheduled
// runs.
//
// # Usage
//
//	engine.Build(c, engine.WithExtension(
//	    audithook.New(audithook.LogRecorder(auditLogger)),
//	))
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionJobDeadLettered,
//	        audithook.ActionJobReaped,
//	        audithook.ActionScheduleFailed,
//	    ),
//	)
package audithook
