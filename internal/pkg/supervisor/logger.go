package supervisor

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	defaultLogLevel = "info"
	logTimeLayout   = "2006/01/02 15:04:05.000"
)

// Logging configures the supervisor's own diagnostics. The child's output is
// never routed through it.
type Logging struct {
	Level    string `yaml:"level,omitempty" json:"level,omitempty"`
	Path     string `yaml:"path,omitempty" json:"path,omitempty"`
	RollSize int    `yaml:"rollSize,omitempty" json:"rollSize,omitempty"`
	RollKeep int    `yaml:"rollKeep,omitempty" json:"rollKeep,omitempty"`

	writer       io.Writer
	encoder      zapcore.Encoder
	dynamicLevel zap.AtomicLevel

	logger *zap.Logger
}

// Provision builds the zap logger. An empty path logs to stderr so the
// child's stdout stays untouched.
func (l *Logging) Provision() error {
	level := l.Level
	if level == "" {
		level = defaultLogLevel
	}

	var err error
	l.dynamicLevel, err = zap.ParseAtomicLevel(level)
	if err != nil {
		return err
	}

	if l.writer == nil {
		if l.Path != "" {
			l.writer = &lumberjack.Logger{
				Filename:   l.Path,
				MaxSize:    l.RollSize,
				MaxBackups: l.RollKeep,
				LocalTime:  true,
			}
		} else {
			l.writer = os.Stderr
		}
	}

	if l.encoder == nil {
		l.encoder = newConsoleEncoder()
	}

	core := zapcore.NewCore(l.encoder, zapcore.AddSync(l.writer), l.dynamicLevel)
	l.logger = zap.New(core)

	// capture logs from libraries which may not be using zap directly
	_ = zap.RedirectStdLog(l.logger)
	return nil
}

// Logger returns the provisioned logger, or a no-op logger before Provision.
func (l *Logging) Logger() *zap.Logger {
	if l == nil || l.logger == nil {
		return zap.NewNop()
	}
	return l.logger
}

// Close flushes buffered entries and releases the rotated file, if any.
func (l *Logging) Close() error {
	if l == nil || l.logger == nil {
		return nil
	}
	_ = l.logger.Sync()
	if c, ok := l.writer.(io.Closer); ok && l.Path != "" {
		return c.Close()
	}
	return nil
}

// newConsoleEncoder writes one tab separated line per entry, without caller
// or stack trace.
func newConsoleEncoder() zapcore.Encoder {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout(logTimeLayout)
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	encCfg.CallerKey = zapcore.OmitKey
	encCfg.StacktraceKey = zapcore.OmitKey
	return zapcore.NewConsoleEncoder(encCfg)
}
