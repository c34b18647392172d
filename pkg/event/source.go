package event

import "context"

// Source is the minimal Event Source interface the core consumes.
// Decoding, live interception and capture-file walking are external
// collaborators; the core only needs this contract.
type Source interface {
	// EnableLog registers interest in a decoded stream by name.
	EnableLog(name string)

	// Run drives messages through onMessage, in monotonic timestamp
	// order, until the source is exhausted or ctx is canceled.
	Run(ctx context.Context, onMessage func(*Message)) error
}
