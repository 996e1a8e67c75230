package dispatch

// Email job types. Failure-recovery work runs ahead of routine sends.
const (
	JobTypeSend     = "email.send"
	JobTypeResend   = "email.resend"
	JobTypeRecovery = "email.recovery" // re-enqueued by the reconciliation sweep
)

const defaultPriority = 3

var jobPriorities = map[string]int{
	JobTypeRecovery: 1,
	JobTypeResend:   2,
	JobTypeSend:     3,
}

// PriorityFor maps a job type to its queue priority (lower runs first).
// Total over the job-type space: unknown types get the default tier.
func PriorityFor(jobType string) int {
	if p, ok := jobPriorities[jobType]; ok {
		return p
	}
	return defaultPriority
}
