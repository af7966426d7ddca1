package logging

// LogConfig configures logger construction via NewLogger, mirroring the
// teacher's own LogConfig used from internal/cli/root.go's PersistentPreRunE.
type LogConfig struct {
	Level           LogLevel
	OutputFile      string
	EnableConsole   bool
	EnableDebug     bool
	RedactSensitive bool
	EnableColor     bool
	EnableTimestamp bool
	MaxFileSize     int64
	RotateEnabled   bool
}

// DefaultLogConfig returns the engine's default logging configuration:
// console-only, INFO level, sensitive-data redaction on, 100MiB file
// rotation threshold if a file is ever configured.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:           INFO,
		EnableConsole:   true,
		RedactSensitive: true,
		EnableColor:     true,
		EnableTimestamp: true,
		MaxFileSize:     100 * 1024 * 1024,
		RotateEnabled:   true,
	}
}

// NewLogger builds a Logger from config: a ConsoleLogger if only console
// output is enabled, a FileLogger if only a file is configured, a
// MultiLogger fanning out to both if both are enabled, or a NoOpLogger if
// neither is configured.
func NewLogger(config LogConfig) (Logger, error) {
	var console *ConsoleLogger
	if config.EnableConsole {
		console = NewConsoleLogger(ConsoleLoggerConfig{
			Level:            config.Level,
			ColorEnabled:     config.EnableColor,
			TimestampEnabled: config.EnableTimestamp,
			RedactSensitive:  config.RedactSensitive,
		})
	}

	var file *FileLogger
	if config.OutputFile != "" {
		f, err := NewFileLogger(FileLoggerConfig{
			FilePath:      config.OutputFile,
			Level:         config.Level,
			MaxFileSize:   config.MaxFileSize,
			RotateEnabled: config.RotateEnabled,
		})
		if err != nil {
			return nil, err
		}
		file = f
	}

	switch {
	case console != nil && file != nil:
		return NewMultiLogger(file, console), nil
	case console != nil:
		return console, nil
	case file != nil:
		return file, nil
	default:
		return NewNoOpLogger(), nil
	}
}
