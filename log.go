//go:build !ios && !android && (amd64 || arm64)

package polyhandle

import (
	"log/slog"
	"sync"

	"github.com/obinnaokechukwu/polyhandle/internal/handles"
)

var (
	loggerMu sync.Mutex
	logger   = slog.New(slog.DiscardHandler)
)

// SetLogger sets the logger used by the process-wide registry and the
// native callback boundary. Pass nil to discard log output.
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(slog.DiscardHandler)
	}
	loggerMu.Lock()
	logger = l
	loggerMu.Unlock()
	handles.SetDefaultLogger(l)
}

func currentLogger() *slog.Logger {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	return logger
}
