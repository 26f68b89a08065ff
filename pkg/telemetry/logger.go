package telemetry

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger builds the zerolog.Logger the rest of the module passes around
// directly (the scheduler, event bus, and remote-source fetcher all take a
// zerolog.Logger, not a wrapper). LoggingConfig only decides where the
// stream goes and how it is shaped; field vocabulary lives in the *Logger
// helpers below.
func NewLogger(cfg LoggingConfig) (zerolog.Logger, error) {
	var writer io.Writer
	switch cfg.Output {
	case "stdout", "":
		writer = os.Stdout
	case "stderr":
		writer = os.Stderr
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return zerolog.Nop(), err
		}
		writer = file
	}

	if cfg.Format == "console" {
		writer = zerolog.ConsoleWriter{Out: writer, TimeFormat: time.RFC3339}
	}

	switch cfg.TimeFormat {
	case "unix":
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	case "unixms":
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	default:
		zerolog.TimeFieldFormat = time.RFC3339
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	log := zerolog.New(writer).Level(level).With().Timestamp().Logger()
	if cfg.EnableCaller {
		log = log.With().Caller().Logger()
	}
	if cfg.EnableSampling {
		log = log.Sample(&zerolog.BurstSampler{
			Burst:       uint32(cfg.SamplingInitial),
			Period:      time.Second,
			NextSampler: &zerolog.BasicSampler{N: uint32(cfg.SamplingThereafter)},
		})
	}
	return log, nil
}

// The helpers below bind the execution core's identity fields so every
// component logs the same vocabulary: a run groups one Process call, a
// task is identified by its scheduler key/baseKey plus the task family
// from its type tag, and providers log under their registry name.

// RunLogger binds the run identity.
func RunLogger(log zerolog.Logger, runID string) zerolog.Logger {
	return log.With().Str("run_id", runID).Logger()
}

// TaskLogger binds a scheduler task's identity: the de-duplication baseKey,
// the params-qualified key, and the task family (the part of baseKey before
// the first dot: build, deployService, runTask, ...).
func TaskLogger(log zerolog.Logger, runID, key, baseKey string) zerolog.Logger {
	return log.With().
		Str("run_id", runID).
		Str("task_key", key).
		Str("task_base_key", baseKey).
		Str("task_type", TaskFamily(baseKey)).
		Logger()
}

// ModuleLogger binds a module's name and type tag.
func ModuleLogger(log zerolog.Logger, name, moduleType string) zerolog.Logger {
	return log.With().Str("module", name).Str("module_type", moduleType).Logger()
}

// ProviderLogger binds a provider plugin's registry name.
func ProviderLogger(log zerolog.Logger, provider string) zerolog.Logger {
	return log.With().Str("provider", provider).Logger()
}

// TaskFamily extracts the type tag from a scheduler baseKey ("type.name").
func TaskFamily(baseKey string) string {
	for i := 0; i < len(baseKey); i++ {
		if baseKey[i] == '.' {
			return baseKey[:i]
		}
	}
	return baseKey
}
