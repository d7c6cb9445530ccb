package utils

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// NewLogger builds the process logger. When a file path is configured the
// output goes to stderr and the file.
func NewLogger(cfg LoggingConfig) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)

	switch strings.ToUpper(cfg.Level) {
	case "DEBUG":
		logger.SetLevel(logrus.DebugLevel)
	case "INFO", "":
		logger.SetLevel(logrus.InfoLevel)
	case "WARN", "WARNING":
		logger.SetLevel(logrus.WarnLevel)
	case "ERROR":
		logger.SetLevel(logrus.ErrorLevel)
	default:
		return nil, fmt.Errorf("unknown log level %q", cfg.Level)
	}

	if strings.EqualFold(cfg.Format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if cfg.FilePath != "" {
		f, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		logger.SetOutput(io.MultiWriter(os.Stderr, f))
	}

	return logger, nil
}
