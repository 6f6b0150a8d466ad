// Package logging builds the named loggers used across the process.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/ini.v1"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Loggers bundles the named log entries of the application.
type Loggers struct {
	Core   *logrus.Entry
	Engine *logrus.Entry
	Media  *logrus.Entry

	file *lumberjack.Logger
}

// Init configures loggers from the [logging] section: per-component levels,
// console/file minimum levels and whether full SIP messages are logged.
func Init(cfg *ini.File) (*Loggers, error) {
	sec := cfg.Section("logging")

	consoleMin := toLevel(sec.Key("console_min_level").MustInt(0))
	fileMin := toLevel(sec.Key("file_min_level").MustInt(0))

	file := &lumberjack.Logger{
		Filename:   sec.Key("file").MustString("softsip.log"),
		MaxSize:    100, // megabytes
		MaxBackups: 1,
	}

	l := &Loggers{
		Core:   newLogger("core", toLevel(sec.Key("core").MustInt(2)), consoleMin, fileMin, file),
		Engine: newLogger("engine", toLevel(sec.Key("engine").MustInt(2)), consoleMin, fileMin, file),
		Media:  newLogger("media", toLevel(sec.Key("media").MustInt(3)), consoleMin, fileMin, file),
		file:   file,
	}

	if !sec.Key("sip_messages").MustBool(true) {
		// filter out verbose SIP message dumps
		l.Engine.Logger.AddHook(&sipMessageFilterHook{})
	}

	return l, nil
}

// Close flushes and closes the log file.
func (l *Loggers) Close() {
	if l.file != nil {
		_ = l.file.Close()
	}
}

// writerHook writes logs to the specified writer for provided levels.
type writerHook struct {
	Writer    io.Writer
	LogLevels []logrus.Level
}

func (h *writerHook) Fire(e *logrus.Entry) error {
	line, err := e.String()
	if err != nil {
		return err
	}
	_, err = h.Writer.Write([]byte(line))
	return err
}

func (h *writerHook) Levels() []logrus.Level {
	return h.LogLevels
}

func newLogger(name string, level, consoleMin, fileMin logrus.Level, file io.Writer) *logrus.Entry {
	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetOutput(io.Discard)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	logger.AddHook(&writerHook{Writer: os.Stdout, LogLevels: availableLevels(consoleMin)})
	logger.AddHook(&writerHook{Writer: file, LogLevels: availableLevels(fileMin)})
	return logger.WithField("name", name)
}

func availableLevels(min logrus.Level) []logrus.Level {
	levels := []logrus.Level{}
	for _, l := range logrus.AllLevels {
		if l <= min {
			levels = append(levels, l)
		}
	}
	return levels
}

func toLevel(v int) logrus.Level {
	switch {
	case v <= 0:
		return logrus.TraceLevel
	case v == 1:
		return logrus.DebugLevel
	case v == 2:
		return logrus.InfoLevel
	case v == 3:
		return logrus.WarnLevel
	case v == 4:
		return logrus.ErrorLevel
	case v == 5:
		return logrus.FatalLevel
	default:
		return logrus.PanicLevel // off
	}
}

// sipMessageFilterHook suppresses logging of full SIP messages when disabled
// via configuration.
type sipMessageFilterHook struct{}

func (h *sipMessageFilterHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h *sipMessageFilterHook) Fire(e *logrus.Entry) error {
	if strings.HasPrefix(e.Message, "received SIP message:") {
		// elevate level so writer hooks ignore the entry
		e.Level = logrus.PanicLevel + 1
	}
	return nil
}
