package inference

import (
	"sync"

	"gocv.io/x/gocv"
)

// MockNet is a test implementation of the Net interface.
// It allows tests to control the forward pass results.
type MockNet struct {
	mu       sync.Mutex
	outputs  []Tensor
	fn       func(call int, blob gocv.Mat) (Tensor, error)
	err      error
	panicMsg string
	calls    int
	shapes   [][]int
	backend  gocv.NetBackendType
	target   gocv.NetTargetType
	closed   bool
}

// NewMockNet creates a MockNet that returns the given outputs in order,
// repeating the last one once they are exhausted.
func NewMockNet(outputs ...Tensor) *MockNet {
	return &MockNet{outputs: outputs}
}

// SetOutputs replaces the outputs returned by Forward.
func (m *MockNet) SetOutputs(outputs ...Tensor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outputs = outputs
}

// SetFunc installs a function computing the output of each call. It takes
// precedence over configured outputs.
func (m *MockNet) SetFunc(fn func(call int, blob gocv.Mat) (Tensor, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fn = fn
}

// SetError sets the error that will be returned by Forward.
func (m *MockNet) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SetPanic makes Forward panic with the given message.
func (m *MockNet) SetPanic(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.panicMsg = msg
}

// Forward returns the pre-configured output or error.
func (m *MockNet) Forward(blob gocv.Mat) (Tensor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	call := m.calls
	m.calls++
	if !blob.Empty() {
		m.shapes = append(m.shapes, blob.Size())
	}

	if m.panicMsg != "" {
		panic(m.panicMsg)
	}
	if m.err != nil {
		return Tensor{}, m.err
	}
	if m.fn != nil {
		return m.fn(call, blob)
	}
	if len(m.outputs) == 0 {
		return Tensor{}, ErrBadOutput
	}
	if call < len(m.outputs) {
		return m.outputs[call], nil
	}
	return m.outputs[len(m.outputs)-1], nil
}

// SetBackendTarget records the requested backend and target.
func (m *MockNet) SetBackendTarget(backend gocv.NetBackendType, target gocv.NetTargetType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backend = backend
	m.target = target
}

// BackendTarget returns the last backend and target set.
func (m *MockNet) BackendTarget() (gocv.NetBackendType, gocv.NetTargetType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backend, m.target
}

// Calls returns the number of Forward invocations.
func (m *MockNet) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// InputShapes returns the shapes of the non-empty blobs passed to Forward.
func (m *MockNet) InputShapes() [][]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]int(nil), m.shapes...)
}

// Closed reports whether Close was called.
func (m *MockNet) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Close marks the mock closed.
func (m *MockNet) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
