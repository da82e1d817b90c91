package logger

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

var (
	log  Logger = NullLogger{}
	once sync.Once
)

// InitLogger opens ~/.forge/forge.log and installs it as the process logger.
func InitLogger(level string) {
	once.Do(func() {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			panic("Failed to get user home directory: " + err.Error())
		}

		forgeDir := filepath.Join(homeDir, ".forge")
		err = os.MkdirAll(forgeDir, 0755)
		if err != nil {
			panic("Failed to create .forge directory: " + err.Error())
		}

		logFile, err := os.OpenFile(filepath.Join(forgeDir, "forge.log"), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0666)
		if err != nil {
			panic("Failed to open log file: " + err.Error())
		}

		log = NewZerolog(logFile, level)
	})
}

// InitConsoleLogger installs a human readable stderr logger, used by long running commands.
func InitConsoleLogger(level string) {
	once.Do(func() {
		log = NewZerolog(zerolog.ConsoleWriter{Out: os.Stderr}, level)
	})
}

// GetLogger returns the logger instance
func GetLogger() Logger {
	return log
}

// NewZerolog builds a Logger writing JSON lines to w.
func NewZerolog(w io.Writer, level string) Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zl := zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	return &ZerologAdapter{logger: &zl}
}

// ZerologAdapter adapts zerolog.Logger to our Logger interface
type ZerologAdapter struct {
	logger *zerolog.Logger
}

func (z *ZerologAdapter) Debug(msg string) { z.logger.Debug().Msg(msg) }
func (z *ZerologAdapter) Info(msg string)  { z.logger.Info().Msg(msg) }
func (z *ZerologAdapter) Warn(msg string)  { z.logger.Warn().Msg(msg) }
func (z *ZerologAdapter) Error(msg string) { z.logger.Error().Msg(msg) }
func (z *ZerologAdapter) Fatal(msg string) { z.logger.Fatal().Msg(msg) }
func (z *ZerologAdapter) WithField(key string, value interface{}) Logger {
	newLogger := z.logger.With().Interface(key, value).Logger()
	return &ZerologAdapter{logger: &newLogger}
}
