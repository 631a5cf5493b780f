package prof

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/grafana/pyroscope-go"

	"github.com/keithlinneman/linnemanlabs-contact/internal/log"
	"github.com/keithlinneman/linnemanlabs-contact/internal/xerrors"
)

type Options struct {
	Enabled       bool
	AppName       string
	ServerAddress string
	TenantID      string
	Tags          map[string]string

	// runtime sampling rates, 0 leaves the runtime default and skips the
	// matching profile types since they would be empty
	ProfileMutexFraction int
	BlockProfileRate     int
}

// profileTypes always pushes cpu, heap and goroutines, mutex and block only
// when their runtime sampling is switched on.
func (o Options) profileTypes() []pyroscope.ProfileType {
	types := []pyroscope.ProfileType{
		pyroscope.ProfileCPU,
		pyroscope.ProfileAllocObjects,
		pyroscope.ProfileAllocSpace,
		pyroscope.ProfileInuseObjects,
		pyroscope.ProfileInuseSpace,
		pyroscope.ProfileGoroutines,
	}
	if o.ProfileMutexFraction > 0 {
		types = append(types, pyroscope.ProfileMutexCount, pyroscope.ProfileMutexDuration)
	}
	if o.BlockProfileRate > 0 {
		types = append(types, pyroscope.ProfileBlockCount, pyroscope.ProfileBlockDuration)
	}
	return types
}

// agentLogger routes the agent's own messages into the service logger.
type agentLogger struct {
	ctx context.Context
	L   log.Logger
}

func (a agentLogger) Infof(format string, args ...any) {
	a.L.Debug(a.ctx, fmt.Sprintf(format, args...), "component", "pyroscope")
}

func (a agentLogger) Debugf(format string, args ...any) {
	a.L.Debug(a.ctx, fmt.Sprintf(format, args...), "component", "pyroscope")
}

func (a agentLogger) Errorf(format string, args ...any) {
	a.L.Warn(a.ctx, fmt.Sprintf(format, args...), "component", "pyroscope")
}

// Start pushes continuous profiles to a pyroscope server. The returned stop
// func is always safe to call, more than once too.
func Start(ctx context.Context, opts Options) (func(), error) {
	L := log.FromContext(ctx)
	noop := func() {}

	if !opts.Enabled {
		L.Info(ctx, "pyroscope disabled")
		return noop, nil
	}
	if opts.ServerAddress == "" {
		return noop, xerrors.New("pyroscope server address is empty")
	}

	if opts.ProfileMutexFraction > 0 {
		runtime.SetMutexProfileFraction(opts.ProfileMutexFraction)
	}
	if opts.BlockProfileRate > 0 {
		runtime.SetBlockProfileRate(opts.BlockProfileRate)
	}

	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: opts.AppName,
		ServerAddress:   opts.ServerAddress,
		TenantID:        opts.TenantID,
		Tags:            opts.Tags,
		Logger:          agentLogger{ctx: context.WithoutCancel(ctx), L: L},
		ProfileTypes:    opts.profileTypes(),
	})
	if err != nil {
		return noop, xerrors.Wrapf(err, "start pyroscope agent for %s", opts.ServerAddress)
	}

	L.Info(ctx, "pyroscope started",
		"server_address", opts.ServerAddress,
		"app_name", opts.AppName,
	)

	var once sync.Once
	return func() {
		once.Do(func() {
			_ = profiler.Stop()
			L.Info(context.Background(), "pyroscope stopped", "server_address", opts.ServerAddress)
		})
	}, nil
}
