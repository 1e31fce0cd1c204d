package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/gin-gonic/gin"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	setupOnce sync.Once
	writerMu  sync.Mutex
	logWriter *lumberjack.Logger
)

// SetupBaseLogger routes gin's own output through this package. Safe to call repeatedly.
func SetupBaseLogger() {
	setupOnce.Do(func() {
		SetOutput(os.Stdout)
		SetLevel(slog.LevelInfo)
		SetReportCaller(true)

		gin.SetMode(gin.ReleaseMode)
		gin.DefaultWriter = Writer()
		gin.DefaultErrorWriter = WriterLevel(slog.LevelError)
		gin.DebugPrintFunc = func(format string, values ...any) {
			Debugf(format, values...)
		}

		RegisterExitHandler(closeLogOutputs)
	})
}

// ConfigureLogOutput switches between stdout and a rotating file under dir/logs.
// An empty dir resolves to WRITABLE_PATH or the working directory.
func ConfigureLogOutput(toFile bool, dir string) error {
	SetupBaseLogger()

	writerMu.Lock()
	defer writerMu.Unlock()

	if !toFile {
		if logWriter != nil {
			_ = logWriter.Close()
			logWriter = nil
		}
		SetOutput(os.Stdout)
		return nil
	}

	if dir == "" {
		dir = WritablePath()
	}
	logDir := filepath.Join(dir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return fmt.Errorf("logging: failed to create log directory: %w", err)
	}
	if logWriter != nil {
		_ = logWriter.Close()
	}
	logWriter = &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "medistream.log"),
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     14,
	}
	SetOutput(io.Writer(logWriter))
	return nil
}

func closeLogOutputs() {
	writerMu.Lock()
	defer writerMu.Unlock()

	if logWriter != nil {
		_ = logWriter.Close()
		logWriter = nil
	}
}

// Close flushes and closes the rotating log file, if any.
func Close() {
	closeLogOutputs()
}
