package telemetry

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"

	ddlogrus "github.com/DataDog/dd-trace-go/contrib/sirupsen/logrus/v2"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
)

const timestampFormat = "2006-01-02T15:04:05.000Z07:00"

var (
	logger     *logrus.Logger
	baseFields logrus.Fields
	loggerOnce sync.Once
	fileHook   *FileLogHook
)

// FileLogHook mirrors every entry into a JSON lines file for local collectors.
type FileLogHook struct {
	mu      sync.Mutex
	file    *os.File
	encoder *json.Encoder
}

// InitLogger configures the process logger once. Later calls are no-ops.
func InitLogger(cfg *Config) error {
	var err error
	loggerOnce.Do(func() {
		l := newLogger(cfg, os.Stdout)

		if !cfg.EnableLogging {
			l.SetOutput(io.Discard)
		}

		// dd.trace_id and dd.span_id for entries carrying a DataDog span context
		l.AddHook(&ddlogrus.DDContextLogHook{})

		if cfg.ExportToFile && cfg.LogsFilePath != "" {
			fileHook, err = NewFileLogHook(cfg.LogsFilePath)
			if err != nil {
				l.WithError(err).Error("Failed to create file logger")
			} else {
				l.AddHook(fileHook)
			}
		}

		logger = l
		baseFields = logrus.Fields{
			"service.name":    cfg.ServiceName,
			"service.version": cfg.ServiceVersion,
			"environment":     cfg.Environment,
			"aleo.network":    cfg.Network,
		}
	})
	return err
}

func newLogger(cfg *Config, out io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	l.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: timestampFormat,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "@timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})
	return l
}

// NewFileLogHook opens (appending) the file at filePath.
func NewFileLogHook(filePath string) (*FileLogHook, error) {
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}

	return &FileLogHook{file: file, encoder: json.NewEncoder(file)}, nil
}

// Levels returns the log levels this hook is interested in
func (f *FileLogHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire writes entry as one JSON object
func (f *FileLogHook) Fire(entry *logrus.Entry) error {
	data := make(map[string]interface{}, len(entry.Data)+3)
	for k, v := range entry.Data {
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		data[k] = v
	}
	data["@timestamp"] = entry.Time.Format(timestampFormat)
	data["level"] = entry.Level.String()
	data["message"] = entry.Message

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.encoder.Encode(data)
}

// Close closes the underlying file
func (f *FileLogHook) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.file.Close()
}

// L returns the process logger, or the logrus standard logger before InitLogger.
func L() *logrus.Logger {
	if logger == nil {
		return logrus.StandardLogger()
	}
	return logger
}

// Entry returns an entry carrying the service fields.
func Entry() *logrus.Entry {
	return L().WithFields(baseFields)
}

// WithContext returns an entry with the trace and span ids of ctx, if any.
func WithContext(ctx context.Context) *logrus.Entry {
	entry := Entry().WithContext(ctx)

	sc := trace.SpanFromContext(ctx).SpanContext()
	if sc.IsValid() {
		entry = entry.WithFields(logrus.Fields{
			"trace.id": sc.TraceID().String(),
			"span.id":  sc.SpanID().String(),
		})
	}
	return entry
}

// WithFields adds fields to the service entry
func WithFields(fields logrus.Fields) *logrus.Entry {
	return Entry().WithFields(fields)
}

// WithError adds an error to the service entry
func WithError(err error) *logrus.Entry {
	return Entry().WithError(err)
}

// CloseLogger closes the file hook if one is open
func CloseLogger() error {
	if fileHook != nil {
		return fileHook.Close()
	}
	return nil
}
