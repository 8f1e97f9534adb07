package defaults

// Exit codes for the CLI.
//
// The gate is binary: pipelines only distinguish "scan passed" from
// "do not ship". Failure causes are reported in the log, not the code.
const (
	ExitSuccess = 0 // Scan completed and every severity is within threshold
	ExitFailure = 1 // Readiness timeout, phase failure, cancellation or threshold exceeded
)
