package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/srediag/plugin-loader/adapter"
	"github.com/srediag/plugin-loader/api"
	"github.com/srediag/plugin-loader/internal/config"
	"github.com/srediag/plugin-loader/internal/logging"
	"github.com/srediag/plugin-loader/internal/sysinfo"
	"github.com/srediag/plugin-loader/pkg/audit"
	"github.com/srediag/plugin-loader/pkg/shm"
	"github.com/srediag/plugin-loader/pkg/transport"
	"github.com/srediag/plugin-loader/plugin"
)

type options struct {
	configPath string
	logLevel   string
}

func newRootCommand() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "plugind",
		Short: "Plugin loader for allow-listed module images",
		Long: `plugind discovers module images under the plugin directory, registers their
digests with the host loader, loads them and runs their entry points.`,
		SilenceUsage: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "plugind.yaml", "configuration file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(newLoadCommand(opts), newServeCommand(opts), newSymbolsCommand(opts))
	return root
}

// app carries what every subcommand needs once configuration is read.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger
	sink   *transport.TCPSink
}

func (o *options) setup() (*app, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}

	rt := &app{cfg: cfg}
	lc := cfg.LoggingConfig()
	if cfg.Log.SinkAddr != "" {
		rt.sink = transport.NewTCPSink(cfg.Log.SinkAddr)
		if err := rt.sink.Start(); err != nil {
			return nil, err
		}
		lc.Sink = rt.sink
	}
	rt.logger = logging.NewWithComponent(lc, "plugind")
	return rt, nil
}

func (rt *app) close() {
	if rt.sink != nil {
		_ = rt.sink.Stop()
	}
}

// newManager wires a Manager and its host loader from the configuration.
func (rt *app) newManager(reg prometheus.Registerer) (*plugin.Manager, error) {
	pc, err := rt.cfg.PluginConfig()
	if err != nil {
		return nil, err
	}
	if pc.ProgramID == 0 {
		if pc.ProgramID, err = sysinfo.ProgramID(); err != nil {
			return nil, err
		}
	}

	loader, err := rt.hostLoader(pc)
	if err != nil {
		return nil, err
	}

	otel := adapter.OTel{}
	alloc, err := shm.NewAllocator(shm.Config{Meter: otel.Meter(), Tracer: otel.Tracer()})
	if err != nil {
		return nil, err
	}
	return plugin.New(pc, loader,
		plugin.WithLogger(rt.logger),
		plugin.WithTracer(otel.Tracer()),
		plugin.WithAllocator(alloc),
		plugin.WithMetrics(plugin.NewMetrics(reg)),
		plugin.WithAudit(audit.NewLogRecorder(rt.logger)))
}

func (rt *app) hostLoader(pc *plugin.Config) (api.HostLoader, error) {
	switch rt.cfg.Loader {
	case config.LoaderGoPlugin:
		return adapter.NewGoPluginLoader(pc.ProgramID, rt.cfg.StageDir)
	case config.LoaderMemory:
		// dry run: every image validates and its entry point is a no-op
		return adapter.NewMemoryLoader(pc.ProgramID,
			adapter.WithPageSize(pc.PageSize),
			adapter.WithPermissiveExports(func() {})), nil
	}
	return nil, fmt.Errorf("unknown loader %q", rt.cfg.Loader)
}
