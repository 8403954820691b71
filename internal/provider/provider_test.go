package provider

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/xela07ax/freedom-sandbox/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Execute(t *testing.T) {
	r := NewRegistry()
	r.Register(domain.KindLog, &MockProvider{})

	res, err := r.Execute(context.Background(), domain.KindLog, nil, false)
	require.NoError(t, err)
	assert.Equal(t, "success", res["status"])
}

func TestRegistry_MissingProvider(t *testing.T) {
	r := NewRegistry()

	_, err := r.Execute(context.Background(), domain.KindTransfer, nil, false)
	require.Error(t, err)

	var mErr *domain.MissingProviderError
	require.ErrorAs(t, err, &mErr)
	assert.Equal(t, domain.KindTransfer, mErr.Kind)
}

func TestRegistry_ReplaceBinding(t *testing.T) {
	r := NewRegistry()
	r.Register(domain.KindLog, &MockProvider{})

	// Повторная регистрация заменяет провайдера (хост оборачивает в Reliability)
	r.Register(domain.KindLog, Func(func(ctx context.Context, params map[string]any, simulate bool) (Result, error) {
		return Result{"status": "wrapped"}, nil
	}))

	res, err := r.Execute(context.Background(), domain.KindLog, nil, false)
	require.NoError(t, err)
	assert.Equal(t, "wrapped", res["status"])
	assert.Len(t, r.Kinds(), 1)
}

func TestMockProvider_Simulate(t *testing.T) {
	m := &MockProvider{}

	res, err := m.Call(context.Background(), nil, true)
	require.NoError(t, err)
	assert.Equal(t, "simulated_success", res["status"])

	_, err = m.Call(context.Background(), map[string]any{"fail_provider": true}, false)
	assert.Error(t, err)
}

func TestFileProviders_PathTraversal(t *testing.T) {
	root := t.TempDir()
	f := NewFileProviders(root)

	// Выход за пределы sandbox dir — ошибка до обращения к ФС
	_, err := f.Read()(context.Background(), map[string]any{"path": "../../etc/passwd"}, false)
	assert.Error(t, err)

	_, err = f.Write()(context.Background(), map[string]any{"path": "../escape.txt", "data": "x"}, false)
	assert.Error(t, err)

	// Абсолютный путь тоже не переписывается внутрь каталога, а отбивается
	_, err = f.Write()(context.Background(), map[string]any{"path": "/etc/hostname", "data": "x"}, false)
	assert.Error(t, err)

	// Ничего не просочилось ни внутрь, ни наружу
	entries, readErr := os.ReadDir(root)
	require.NoError(t, readErr)
	assert.Empty(t, entries)
	assert.NoFileExists(t, filepath.Join(root, "..", "escape.txt"))
}

func TestFileProviders_WriteRead(t *testing.T) {
	root := t.TempDir()
	f := NewFileProviders(root)
	ctx := context.Background()

	res, err := f.Write()(ctx, map[string]any{"path": "notes/report.txt", "data": "hello"}, false)
	require.NoError(t, err)
	assert.Equal(t, "written", res["status"])

	res, err = f.Read()(ctx, map[string]any{"path": "notes/report.txt"}, false)
	require.NoError(t, err)
	assert.Equal(t, "hello", res["data"])
}

func TestFileProviders_WriteSimulate(t *testing.T) {
	root := t.TempDir()
	f := NewFileProviders(root)

	res, err := f.Write()(context.Background(), map[string]any{"path": "ghost.txt", "data": "boo"}, true)
	require.NoError(t, err)
	assert.Equal(t, "simulated", res["status"])

	// Simulate не оставляет следов на диске
	_, statErr := os.Stat(filepath.Join(root, "ghost.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestReliability_SimulateBypassesGuards(t *testing.T) {
	calls := 0
	inner := Func(func(ctx context.Context, params map[string]any, simulate bool) (Result, error) {
		calls++
		return Result{"status": "simulated_success"}, nil
	})
	w := NewReliability(inner, ReliabilitySettings{Name: "test"})

	res, err := w.Call(context.Background(), nil, true)
	require.NoError(t, err)
	assert.Equal(t, "simulated_success", res["status"])
	// Ровно один вызов: ни ретраев, ни лимитера на simulate-пути
	assert.Equal(t, 1, calls)
}
