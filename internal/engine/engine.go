package engine

import (
	"context"
	"time"
)

// ID names an engine in configuration and on persisted tasks.
type ID string

// Known engine identifiers.
const (
	IDLocal      ID = "local"
	IDMistral    ID = "mistral"
	IDNLP        ID = "nlp"
	IDParaformer ID = "ali_paraformer_v2"
)

// Output is what a successful engine call produces.
type Output struct {
	Text string
	// ArtifactPath points at the file the engine wrote its raw output to.
	ArtifactPath string
}

// Engine turns one resource into text.
//
// Process receives either a local file path or, for engines that fetch
// remote media themselves, a URL. Implementations must honour ctx and the
// timeout, must not retry internally, and should wrap their errors with
// ErrTransient or ErrTerminal when they know which applies.
type Engine interface {
	ID() ID
	CheckAvailability(ctx context.Context) bool
	Process(ctx context.Context, input string, timeout time.Duration) (*Output, error)
}

// RemoteFetcher is implemented by engines that can read a remote URL
// themselves, so the orchestrator can skip the local download.
type RemoteFetcher interface {
	AcceptsURL(raw string) bool
}

// BatchResult pairs one input of ProcessBatch with its outcome.
type BatchResult struct {
	Input  string
	Output *Output
	Err    error
}

// ProcessBatch runs e over inputs one at a time, in order. maxWorkers is
// accepted for interface compatibility and ignored; parallelism belongs to
// the orchestrator.
func ProcessBatch(ctx context.Context, e Engine, inputs []string, timeout time.Duration, maxWorkers int) []BatchResult {
	_ = maxWorkers
	results := make([]BatchResult, 0, len(inputs))
	for _, in := range inputs {
		if err := ctx.Err(); err != nil {
			results = append(results, BatchResult{Input: in, Err: err})
			continue
		}
		out, err := e.Process(ctx, in, timeout)
		results = append(results, BatchResult{Input: in, Output: out, Err: err})
	}
	return results
}
