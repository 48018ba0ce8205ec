package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/phrazzld/mediascribe/internal/engine"
)

// MockEngine implements engine.Engine for testing.
type MockEngine struct {
	EngineID  engine.ID
	Available bool

	// ProcessFn allows test cases to script the Process behavior. It
	// receives the 1-based call number.
	ProcessFn func(ctx context.Context, input string, call int) (*engine.Output, error)

	// Default response values
	Output *engine.Output
	Err    error

	mu     sync.Mutex
	inputs []string
}

// NewMockEngine returns an available engine that answers with text.
func NewMockEngine(id engine.ID, text string) *MockEngine {
	return &MockEngine{
		EngineID:  id,
		Available: true,
		Output:    &engine.Output{Text: text},
	}
}

// NewMockEngineWithError returns an available engine that always fails with err.
func NewMockEngineWithError(id engine.ID, err error) *MockEngine {
	return &MockEngine{EngineID: id, Available: true, Err: err}
}

// ID implements engine.Engine.
func (m *MockEngine) ID() engine.ID { return m.EngineID }

// CheckAvailability implements engine.Engine.
func (m *MockEngine) CheckAvailability(context.Context) bool { return m.Available }

// Process implements engine.Engine.
func (m *MockEngine) Process(ctx context.Context, input string, _ time.Duration) (*engine.Output, error) {
	m.mu.Lock()
	m.inputs = append(m.inputs, input)
	call := len(m.inputs)
	m.mu.Unlock()

	if m.ProcessFn != nil {
		return m.ProcessFn(ctx, input, call)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	out := *m.Output
	return &out, nil
}

// Calls returns how many times Process was invoked.
func (m *MockEngine) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inputs)
}

// Inputs returns a copy of the inputs passed to Process, in call order.
func (m *MockEngine) Inputs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.inputs...)
}
