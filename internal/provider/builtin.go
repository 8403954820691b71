package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Встроенные провайдеры для штатных ActionKind. Каждый обязан поддерживать
// simulate-режим без внешних эффектов; прогноз dry run считается той же
// моделью стоимости, что и live-вызов, так что цифры совпадают.

// NewLogProvider пишет структурированное сообщение агента в журнал хоста.
func NewLogProvider(logger *zap.Logger) Func {
	agentLog := logger.Named("agent")
	return func(ctx context.Context, params map[string]any, simulate bool) (Result, error) {
		msg, _ := params["message"].(string)
		if msg == "" {
			return nil, fmt.Errorf("log: message param is required")
		}
		level, _ := params["level"].(string)

		if simulate {
			return Result{"status": "simulated", "would_log": msg}, nil
		}

		switch level {
		case "error":
			agentLog.Error(msg)
		case "warn":
			agentLog.Warn(msg)
		default:
			agentLog.Info(msg)
		}
		return Result{"status": "logged", "level": level}, nil
	}
}

// FileProviders — FILE_READ/FILE_WRITE, жестко прибитые к sandboxDir.
// Выход за пределы каталога (path traversal) — ошибка, не попытка.
type FileProviders struct {
	root string
}

func NewFileProviders(sandboxDir string) *FileProviders {
	return &FileProviders{root: sandboxDir}
}

// resolve нормализует путь и проверяет, что он остается под root.
// Проверка идет ДО склейки с root: абсолютный путь или ведущие ".."
// отвергаются как есть, а не молча переписываются внутрь каталога.
func (f *FileProviders) resolve(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("file: path param is required")
	}
	rel := filepath.Clean(p)
	if filepath.IsAbs(rel) || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("file: path %q escapes sandbox dir", p)
	}
	return filepath.Join(f.root, rel), nil
}

func (f *FileProviders) Read() Func {
	return func(ctx context.Context, params map[string]any, simulate bool) (Result, error) {
		p, _ := params["path"].(string)
		full, err := f.resolve(p)
		if err != nil {
			return nil, err
		}
		// Чтение — read-only проба, в simulate допустимо
		data, err := os.ReadFile(full)
		if err != nil {
			return nil, fmt.Errorf("file read: %w", err)
		}
		return Result{"status": "read", "path": p, "data": string(data), "size": len(data)}, nil
	}
}

func (f *FileProviders) Write() Func {
	return func(ctx context.Context, params map[string]any, simulate bool) (Result, error) {
		p, _ := params["path"].(string)
		data, _ := params["data"].(string)
		full, err := f.resolve(p)
		if err != nil {
			return nil, err
		}

		if simulate {
			return Result{"status": "simulated", "path": p, "would_write_bytes": len(data)}, nil
		}

		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return nil, fmt.Errorf("file write: %w", err)
		}
		if err := os.WriteFile(full, []byte(data), 0o644); err != nil {
			return nil, fmt.Errorf("file write: %w", err)
		}
		return Result{"status": "written", "path": p, "bytes": len(data)}, nil
	}
}

// NewFetchProvider — NETWORK_FETCH через http.Client хоста.
// В simulate сеть не трогаем вообще, возвращаем прогноз запроса.
func NewFetchProvider(client *http.Client) Func {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return func(ctx context.Context, params map[string]any, simulate bool) (Result, error) {
		url, _ := params["url"].(string)
		if url == "" {
			return nil, fmt.Errorf("fetch: url param is required")
		}

		if simulate {
			return Result{"status": "simulated", "would_fetch": url, "method": http.MethodGet}, nil
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("fetch: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetch: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			// Отдаем Retry-After наверх, Reliability учтет его в бэкоффе
			retryAfter := 5 * time.Second
			if v := resp.Header.Get("Retry-After"); v != "" {
				if d, err := time.ParseDuration(v + "s"); err == nil {
					retryAfter = d
				}
			}
			return nil, &ThrottleError{RetryAfter: retryAfter, Cause: fmt.Errorf("http 429 from %s", url)}
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, fmt.Errorf("fetch: read body: %w", err)
		}
		return Result{"status": "fetched", "url": url, "code": resp.StatusCode, "body": string(body)}, nil
	}
}

// NewSpawnProvider — SPAWN_PROCESS c cwd внутри sandboxDir.
// Simulate возвращает команду, которая была бы запущена, без запуска.
func NewSpawnProvider(sandboxDir string) Func {
	return func(ctx context.Context, params map[string]any, simulate bool) (Result, error) {
		cmdName, _ := params["cmd"].(string)
		if cmdName == "" {
			return nil, fmt.Errorf("spawn: cmd param is required")
		}
		var args []string
		if raw, ok := params["args"].([]any); ok {
			for _, a := range raw {
				if s, ok := a.(string); ok {
					args = append(args, s)
				}
			}
		}

		if simulate {
			return Result{"status": "simulated", "would_run": cmdName, "args": args}, nil
		}

		cmd := exec.CommandContext(ctx, cmdName, args...)
		cmd.Dir = sandboxDir
		out, err := cmd.CombinedOutput()
		if err != nil {
			return nil, fmt.Errorf("spawn: %s: %w (output: %s)", cmdName, err, string(out))
		}
		return Result{"status": "exited", "cmd": cmdName, "output": string(out)}, nil
	}
}

// NewTransferProvider — TOKEN_TRANSFER (ALB). Реальный шлюз к кошельку
// подключается хостом; дефолтная реализация фиксирует перевод локально
// и выдает tx id, чтобы контур budget/audit можно было прогнать целиком.
func NewTransferProvider(logger *zap.Logger) Func {
	wallet := logger.Named("wallet")
	return func(ctx context.Context, params map[string]any, simulate bool) (Result, error) {
		amount, _ := params["amount_alb"].(float64)
		to, _ := params["to"].(string)
		if amount <= 0 || to == "" {
			return nil, fmt.Errorf("transfer: amount_alb and to params are required")
		}

		if simulate {
			return Result{"status": "simulated", "would_transfer_alb": amount, "to": to}, nil
		}

		txID := uuid.New().String()
		wallet.Info("token transfer executed",
			zap.Float64("amount_alb", amount),
			zap.String("to", to),
			zap.String("tx_id", txID),
		)
		return Result{"status": "transferred", "amount_alb": amount, "to": to, "tx_id": txID}, nil
	}
}
