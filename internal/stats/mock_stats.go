package stats

import "github.com/stretchr/testify/mock"

type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) RegisterMetric(name string) {
	m.Called(name)
}

func (m *MockProvider) Incr(name string) {
	m.Called(name)
}

func (m *MockProvider) Decr(name string) {
	m.Called(name)
}

func (m *MockProvider) Set(name string, value int) {
	m.Called(name, value)
}
