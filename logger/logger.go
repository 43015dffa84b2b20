// Package logger configures logrus and forwards errors to Rollbar.
package logger

import (
	"io"
	"os"
	"path/filepath"

	"halaqat_go/config"

	"github.com/rollbar/rollbar-go"
	rollbarerrors "github.com/rollbar/rollbar-go/errors"
	"github.com/sirupsen/logrus"
)

// Setup sets level, format and output from cfg. Development logs go to stdout only,
// other environments also append to cfg.LogFile.
func Setup(cfg *config.Config) {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if cfg.IsDevelopment() || cfg.LogFile == "" {
		logrus.SetOutput(os.Stdout)
	} else if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o755); err == nil {
		if f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			logrus.SetOutput(io.MultiWriter(os.Stdout, f))
		}
	}

	if cfg.RollbarToken != "" {
		logrus.AddHook(NewRollbarHook(cfg.RollbarToken, cfg.AppEnv))
		logrus.Info("rollbar reporting enabled")
	}
}

// RollbarHook sends warnings and errors to Rollbar.
type RollbarHook struct{}

func NewRollbarHook(token, env string) *RollbarHook {
	rollbar.SetToken(token)
	rollbar.SetEnvironment(env)
	rollbar.SetCodeVersion(os.Getenv("APP_VERSION"))
	if host, err := os.Hostname(); err == nil {
		rollbar.SetServerHost(host)
	}
	rollbar.SetStackTracer(rollbarerrors.StackTracer)
	return &RollbarHook{}
}

func (h *RollbarHook) Levels() []logrus.Level {
	return []logrus.Level{logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel, logrus.WarnLevel}
}

func (h *RollbarHook) Fire(e *logrus.Entry) error {
	extras := make(map[string]interface{}, len(e.Data))
	var cause error
	for k, v := range e.Data {
		if err, ok := v.(error); ok && k == logrus.ErrorKey {
			cause = err
			continue
		}
		extras[k] = v
	}
	level := rollbarLevel(e.Level)
	if cause != nil {
		rollbar.Log(level, cause, e.Message, extras)
	} else {
		rollbar.Log(level, e.Message, extras)
	}
	return nil
}

func rollbarLevel(l logrus.Level) string {
	switch l {
	case logrus.PanicLevel, logrus.FatalLevel:
		return rollbar.CRIT
	case logrus.ErrorLevel:
		return rollbar.ERR
	}
	return rollbar.WARN
}

// Close waits for queued Rollbar items.
func Close() {
	rollbar.Close()
}
