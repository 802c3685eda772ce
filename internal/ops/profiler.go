package ops

import (
	"github.com/grafana/pyroscope-go"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

type emptyLogger struct{}

func (emptyLogger) Infof(_ string, _ ...interface{})  {}
func (emptyLogger) Debugf(_ string, _ ...interface{}) {}
func (emptyLogger) Errorf(format string, args ...interface{}) {
	logs.Errorf("[Pyroscope] "+format, args...)
}

// StartProfiler pushes CPU and allocation profiles to a pyroscope server
// until the returned stop is called.
func StartProfiler(cfg PyroscopeConfig, trader string) (func() error, error) {
	tags := map[string]string{"trader": trader}
	for k, v := range cfg.Tags {
		tags[k] = v
	}
	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: cfg.ApplicationName,
		ServerAddress:   cfg.ServerAddress,
		Tags:            tags,
		Logger:          emptyLogger{},
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "start pyroscope")
	}
	logs.Infof("[Ops] profiling to %s as %s", cfg.ServerAddress, cfg.ApplicationName)
	return profiler.Stop, nil
}
