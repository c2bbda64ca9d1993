package types

import (
	"context"
	"testing"
)

// TestInterfaces verifies that the interfaces can be implemented
func TestInterfaces(t *testing.T) {
	var (
		_ Medium        = (*mockMedium)(nil)
		_ HealthChecker = (*mockMedium)(nil)
		_ Closer        = (*mockMedium)(nil)
		_ StatsProvider = (*mockStats)(nil)
	)
}

type mockMedium struct{}

func (m *mockMedium) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, nil
}

func (m *mockMedium) Put(ctx context.Context, key string, data []byte) error {
	return nil
}

func (m *mockMedium) Delete(ctx context.Context, key string) error {
	return nil
}

func (m *mockMedium) List(ctx context.Context, prefix string) ([]string, error) {
	return nil, nil
}

func (m *mockMedium) HealthCheck(ctx context.Context) error {
	return nil
}

func (m *mockMedium) Close() error {
	return nil
}

type mockStats struct{}

func (m *mockStats) Stats() CacheStats {
	return CacheStats{}
}
