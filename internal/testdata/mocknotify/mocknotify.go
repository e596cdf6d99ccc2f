package mocknotify

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/unclebandit/phishguard-backend/internal/model"
)

// MockChannel is a mock implementation of notify.Channel
type MockChannel struct {
	mock.Mock
}

func (m *MockChannel) Send(ctx context.Context, msg model.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

// MockNotifier is a mock implementation of notify.Notifier
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, n model.Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}
