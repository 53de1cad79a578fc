package logger

import (
	"github.com/stretchr/testify/mock"
)

// MockLogger is a testify mock implementing Logger.
type MockLogger struct {
	mock.Mock
}

var _ Logger = (*MockLogger)(nil)

func NewMockLogger() *MockLogger {
	return &MockLogger{}
}

func (m *MockLogger) Debug(msg string, keysAndValues ...any) {
	m.Called(msg, keysAndValues)
}

func (m *MockLogger) Info(msg string, keysAndValues ...any) {
	m.Called(msg, keysAndValues)
}

func (m *MockLogger) Warn(msg string, keysAndValues ...any) {
	m.Called(msg, keysAndValues)
}

func (m *MockLogger) Error(msg string, keysAndValues ...any) {
	m.Called(msg, keysAndValues)
}

func (m *MockLogger) Fatal(msg string, keysAndValues ...any) {
	m.Called(msg, keysAndValues)
}

func (m *MockLogger) SetLevel(level Level) {
	m.Called(level)
}

func (m *MockLogger) Level() Level {
	args := m.Called()
	return args.Get(0).(Level) //nolint:forcetypeassert
}

// With returns the logger configured by the test, or the mock itself when none was set.
func (m *MockLogger) With(keyValues ...any) Logger {
	args := m.Called(keyValues)
	if l, ok := args.Get(0).(Logger); ok {
		return l
	}
	return m
}

// NopLogger discards everything.
type NopLogger struct{}

var _ Logger = NopLogger{}

func (NopLogger) Debug(string, ...any)  {}
func (NopLogger) Info(string, ...any)   {}
func (NopLogger) Warn(string, ...any)   {}
func (NopLogger) Error(string, ...any)  {}
func (NopLogger) Fatal(string, ...any)  {}
func (NopLogger) With(...any) Logger    { return NopLogger{} }
func (NopLogger) Level() Level          { return ErrorLevel }
func (NopLogger) SetLevel(Level)        {}
