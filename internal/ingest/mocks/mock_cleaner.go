// Package mocks provides test doubles for the ingest package.
package mocks

import (
	"context"

	ingest "github.com/sells-group/qaforge/internal/ingest"
	mock "github.com/stretchr/testify/mock"
)

// MockCleaner is a mock type for the Cleaner interface.
type MockCleaner struct {
	mock.Mock
}

// Clean provides a mock function with given fields: ctx, sources
func (_m *MockCleaner) Clean(ctx context.Context, sources []ingest.Source) ([]string, error) {
	ret := _m.Called(ctx, sources)

	if len(ret) == 0 {
		panic("no return value specified for Clean")
	}

	var r0 []string
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, []ingest.Source) ([]string, error)); ok {
		return rf(ctx, sources)
	}
	if rf, ok := ret.Get(0).(func(context.Context, []ingest.Source) []string); ok {
		r0 = rf(ctx, sources)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).([]string)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, []ingest.Source) error); ok {
		r1 = rf(ctx, sources)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// NewMockCleaner creates a new instance of MockCleaner.
func NewMockCleaner(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockCleaner {
	mock := &MockCleaner{}
	mock.Test(t)

	t.Cleanup(func() { mock.AssertExpectations(t) })

	return mock
}
