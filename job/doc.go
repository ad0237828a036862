// Package job defines the job record, its derived status, the payload
// descriptor, typed definitions, the handler registry, and the store
// interface.
//
// # Record
//
// A [Record] has no status column. Its status at any instant is derived
// from two timestamps by [StatusAt]:
//
//	reserved  ReservedAt is set; exactly one worker owns the record
//	delayed   ReservedAt is unset and AvailableAt is in the future
//	pending   ReservedAt is unset and AvailableAt <= now
//
// Workers move records between these by claiming (set ReservedAt),
// releasing (clear it), and requeueing (clear it, bump Attempts and
// AvailableAt). Records are deleted on success or when dead-lettered.
//
// # Payload
//
// The payload is opaque to the store. By convention it is a JSON
// [Descriptor] naming the handler and carrying its params:
//
//	{"name":"send_email","params":{"to":"a@b.c"},"maxTries":3}
//
// # Registry
//
// [Registry] maps handler names to [HandlerFunc] values. Typed handlers
// are registered through [RegisterDefinition]:
//
//	var SendEmail = job.NewDefinition("send_email",
//	    func(ctx context.Context, in EmailInput) error {
//	        return mailer.Send(in.To, in.Subject, in.Body)
//	    },
//	)
//	job.RegisterDefinition(registry, SendEmail)
//
// Handlers return [NonRetryable] errors to skip the remaining attempts.
package job
