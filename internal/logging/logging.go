// Package logging configures logrus for the process and provides the gin access log.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/WonderhoyTeam/AntiHub-Backend/internal/config"
	"github.com/WonderhoyTeam/AntiHub-Backend/internal/util"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Setup applies the logging section to the standard logrus logger. The returned closer
// releases the rotating file, if one was opened.
func Setup(cfg config.LoggingConfig) (io.Closer, error) {
	level := log.InfoLevel
	if strings.TrimSpace(cfg.Level) != "" {
		parsed, errLevel := log.ParseLevel(cfg.Level)
		if errLevel != nil {
			return nil, fmt.Errorf("logging: %w", errLevel)
		}
		level = parsed
	}
	log.SetLevel(level)

	if strings.EqualFold(cfg.Format, "json") {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	path := util.ResolveWritable(cfg.File)
	if path == "" {
		log.SetOutput(os.Stdout)
		return nopCloser{}, nil
	}
	if errDir := os.MkdirAll(filepath.Dir(path), 0o755); errDir != nil {
		return nil, fmt.Errorf("logging: create log dir: %w", errDir)
	}
	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stdout, rotator))
	return rotator, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
