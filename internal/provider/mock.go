package provider

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// MockProvider — провайдер для стендов и тестов: имитирует задержку
// 50-300мс и детерминированно падает при fail_provider=true в params.
type MockProvider struct {
	// WithLatency включает имитацию сетевой задержки (в юнит-тестах выключена)
	WithLatency bool
}

func (m *MockProvider) Call(ctx context.Context, params map[string]any, simulate bool) (Result, error) {
	if m.WithLatency {
		latency := time.Duration(50+rand.IntN(250)) * time.Millisecond
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if fail, _ := params["fail_provider"].(bool); fail {
		return nil, fmt.Errorf("mock provider internal error")
	}

	if simulate {
		return Result{"status": "simulated_success", "details": "captured in simulate mode, no real impact made"}, nil
	}
	return Result{"status": "success"}, nil
}
