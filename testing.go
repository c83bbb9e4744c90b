package wnbd

import (
	"sync"

	"github.com/wnbd-io/go-wnbd/internal/interfaces"
)

// MockHostPort provides a mock implementation of interfaces.HostPort for
// tests: it records every completion and bus-change notification instead
// of forwarding them to a real storage port.
type MockHostPort struct {
	mu sync.Mutex

	completions    []Completion
	allCompletions []interfaces.SRBStatus
	busChanges     int
}

// Completion is one recorded CompleteSRB call.
type Completion struct {
	Tag        uint64
	Status     interfaces.SRBStatus
	DataLength uint32
}

// NewMockHostPort returns an empty MockHostPort.
func NewMockHostPort() *MockHostPort {
	return &MockHostPort{}
}

// CompleteSRB implements interfaces.HostPort.
func (m *MockHostPort) CompleteSRB(tag uint64, status interfaces.SRBStatus, dataLength uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completions = append(m.completions, Completion{Tag: tag, Status: status, DataLength: dataLength})
}

// CompleteAllSRBs implements interfaces.HostPort.
func (m *MockHostPort) CompleteAllSRBs(status interfaces.SRBStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allCompletions = append(m.allCompletions, status)
}

// NotifyBusChange implements interfaces.HostPort.
func (m *MockHostPort) NotifyBusChange() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.busChanges++
}

// Completions returns every CompleteSRB call recorded so far.
func (m *MockHostPort) Completions() []Completion {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Completion, len(m.completions))
	copy(out, m.completions)
	return out
}

// BusChanges returns how many times NotifyBusChange was called.
func (m *MockHostPort) BusChanges() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.busChanges
}

// Reset clears every recorded call, for reuse across subtests.
func (m *MockHostPort) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completions = nil
	m.allCompletions = nil
	m.busChanges = 0
}

var _ interfaces.HostPort = (*MockHostPort)(nil)
