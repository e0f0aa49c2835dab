package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/srediag/plugin-loader/pkg/health"
	"github.com/srediag/plugin-loader/pkg/symtab"
	"github.com/srediag/plugin-loader/plugin"
)

func newServeCommand(opts *options) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Load plugins and serve health, metrics and address lookups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := opts.setup()
			if err != nil {
				return err
			}
			defer rt.close()
			if addr != "" {
				rt.cfg.Serve.Addr = addr
			}
			return rt.serve(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides serve.addr")
	return cmd
}

func (rt *app) serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m, err := rt.newManager(reg)
	if err != nil {
		return err
	}
	if err := m.LoadPlugins(ctx); err != nil {
		rt.logger.Error().Err(err).Msg("initial plugin load incomplete")
	}

	syms, err := rt.loadSymbols(symtab.SectionBases{})
	if err != nil {
		rt.logger.Warn().Err(err).Msg("host symbols unavailable")
		syms = symtab.New(symtab.SectionBases{})
	}

	hc := health.NewHandler(m, health.Options{Registerer: reg, Namespace: "plugin_loader"})
	mux := http.NewServeMux()
	mux.Handle("/live", hc)
	mux.Handle("/ready", hc)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("GET /plugins", func(w http.ResponseWriter, _ *http.Request) {
		plugin.DebugCatalogDetail(w, m)
	})
	mux.HandleFunc("POST /plugins", func(w http.ResponseWriter, r *http.Request) {
		addPlugin(w, r, m)
	})
	mux.HandleFunc("GET /resolve", func(w http.ResponseWriter, r *http.Request) {
		resolve(w, r, m, syms)
	})

	srv := &http.Server{Addr: rt.cfg.Serve.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	rt.logger.Info().Str("addr", rt.cfg.Serve.Addr).Msg("serving")

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return m.Close(shutdownCtx)
}

// addPlugin admits the plugin at ?path= and runs a load pass.
func addPlugin(w http.ResponseWriter, r *http.Request, m *plugin.Manager) {
	path := r.URL.Query().Get("path")
	if path == "" {
		http.Error(w, "missing path", http.StatusBadRequest)
		return
	}
	if err := m.AddPlugin(r.Context(), path); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	if err := m.LoadPluginModules(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// resolve reports the plugin and the following host symbol for ?addr=.
func resolve(w http.ResponseWriter, r *http.Request, m *plugin.Manager, syms *symtab.Table) {
	n, err := strconv.ParseUint(r.URL.Query().Get("addr"), 0, 64)
	if err != nil {
		http.Error(w, "addr must be an integer", http.StatusBadRequest)
		return
	}
	addr := uintptr(n)
	if p, ok := m.ContainingPlugin(addr); ok {
		fmt.Fprintf(w, "plugin:%s base:%#x offset:%#x\n", p.Path, p.Base, addr-p.Base)
		return
	}
	if name := syms.AddressToName(addr); name != "" {
		fmt.Fprintf(w, "symbol:%s\n", name)
		return
	}
	http.Error(w, "not found", http.StatusNotFound)
}
