// Package profiling pushes continuous profiles of the running engine to a
// Pyroscope server.
package profiling

import (
	"fmt"
	"log/slog"

	"github.com/grafana/pyroscope-go"
)

// Config selects the Pyroscope server and how this process is labelled.
type Config struct {
	ServerAddress string
	AppName       string
	AuthToken     string
	Tags          map[string]string
}

var profileTypes = []pyroscope.ProfileType{
	pyroscope.ProfileCPU,
	pyroscope.ProfileAllocObjects,
	pyroscope.ProfileAllocSpace,
	pyroscope.ProfileInuseObjects,
	pyroscope.ProfileInuseSpace,
	pyroscope.ProfileGoroutines,
}

// Start begins uploading profiles and returns the func that stops it.
func Start(cfg Config, logger *slog.Logger) (stop func(), err error) {
	p, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: cfg.AppName,
		ServerAddress:   cfg.ServerAddress,
		AuthToken:       cfg.AuthToken,
		Tags:            cfg.Tags,
		Logger:          slogAdapter{logger.With(slog.String("component", "profiling"))},
		ProfileTypes:    profileTypes,
	})
	if err != nil {
		return nil, fmt.Errorf("profiling: start: %w", err)
	}
	return func() { _ = p.Stop() }, nil
}

// slogAdapter routes the profiler's printf-style logs into slog.
type slogAdapter struct{ l *slog.Logger }

func (a slogAdapter) Infof(format string, args ...any)  { a.l.Info(fmt.Sprintf(format, args...)) }
func (a slogAdapter) Debugf(format string, args ...any) { a.l.Debug(fmt.Sprintf(format, args...)) }
func (a slogAdapter) Errorf(format string, args ...any) { a.l.Error(fmt.Sprintf(format, args...)) }
