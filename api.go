package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/pprof" // register handlers
	"regexp"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (b *Bot) api(ctx context.Context, listen string, mux *http.ServeMux, metrics []prometheus.Collector) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(
		collectors.WithGoCollectorMemStatsMetricsDisabled(),
		collectors.WithGoCollectorRuntimeMetrics(
			collectors.GoRuntimeMetricsRule{
				Matcher: regexp.MustCompile(`^(/gc/gogc:percent|/gc/gomemlimit:bytes|/gc/heap/allocs:bytes|/gc/heap/allocs:objects|/gc/heap/goal:bytes|/memory/classes/heap/released:bytes|/memory/classes/heap/stacks:bytes|/memory/classes/total:bytes|/sched/gomaxprocs:threads|/sched/goroutines:goroutines|/sched/latencies:seconds)$`),
			},
		),
	))
	reg.MustRegister(metrics...)
	opts := promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, opts))
	mux.HandleFunc("GET /debug/pprof/", pprof.Index)
	mux.HandleFunc("GET /debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("GET /debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("GET /debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("GET /debug/pprof/trace", pprof.Trace)
	mux.HandleFunc("GET /api/status", b.apiStatus)
	mux.HandleFunc("GET /api/guilds/{id}", b.apiGuild)
	l, err := net.Listen("tcp", listen)
	if err != nil {
		return fmt.Errorf("couldn't start API server: %w", err)
	}
	srv := http.Server{
		Handler:     mux,
		ReadTimeout: 5 * time.Second,
		BaseContext: func(l net.Listener) context.Context { return ctx },
	}
	go func() {
		slog.InfoContext(ctx, "HTTP API server", slog.Any("addr", l.Addr()))
		err := srv.Serve(l)
		if err == http.ErrServerClosed {
			return
		}
		slog.ErrorContext(ctx, "HTTP API server closed", slog.Any("err", err))
	}()
	<-ctx.Done()
	// The context is now done, so it is obviously the wrong choice for
	// managing the shutdown.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

func jsonerror(w http.ResponseWriter, status int, msg string) {
	v := struct {
		Error  string `json:"error"`
		Status int    `json:"status"`
	}{
		Error:  msg,
		Status: status,
	}
	b, err := json.Marshal(&v)
	if err != nil {
		panic(err)
	}
	w.WriteHeader(status)
	w.Write(b)
}

func (b *Bot) apiStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slog.With(slog.String("api", "status"), slog.Any("trace", uuid.New()))
	log.InfoContext(ctx, "handle", slog.String("route", r.Pattern), slog.String("remote", r.RemoteAddr))
	defer log.InfoContext(ctx, "done")
	w.Header().Set("Content-Type", "application/json")
	type pluginStatus struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	var ps []pluginStatus
	for _, p := range b.plugins.All() {
		ps = append(ps, pluginStatus{ID: p.ID, Name: p.Name})
	}
	u := struct {
		Maintenance bool           `json:"maintenance"`
		Uptime      string         `json:"uptime"`
		Guilds      int            `json:"guilds"`
		Plugins     []pluginStatus `json:"plugins"`
	}{
		Maintenance: b.Maintenance(),
		Uptime:      b.Uptime().Round(time.Second).String(),
		Guilds:      len(b.guilds.All()),
		Plugins:     ps,
	}
	out, err := json.Marshal(&u)
	if err != nil {
		panic(err)
	}
	if _, err := w.Write(out); err != nil {
		log.ErrorContext(ctx, "write response failed", slog.Any("err", err))
	}
}

func (b *Bot) apiGuild(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slog.With(slog.String("api", "guild"), slog.Any("trace", uuid.New()))
	log.InfoContext(ctx, "handle", slog.String("route", r.Pattern), slog.String("remote", r.RemoteAddr))
	defer log.InfoContext(ctx, "done")
	w.Header().Set("Content-Type", "application/json")
	g := b.guilds.Lookup(r.PathValue("id"))
	if g == nil {
		log.WarnContext(ctx, "no such guild")
		jsonerror(w, http.StatusNotFound, "no such guild")
		return
	}
	u := struct {
		ID       string   `json:"id"`
		Prefix   string   `json:"prefix,omitzero"`
		Channels []string `json:"channels,omitzero"`
		Plugins  []string `json:"plugins,omitzero"`
	}{
		ID:       g.ID,
		Prefix:   g.Prefix,
		Channels: g.Channels.IDs(),
		Plugins:  g.Plugins.IDs(),
	}
	out, err := json.Marshal(&u)
	if err != nil {
		panic(err)
	}
	if _, err := w.Write(out); err != nil {
		log.ErrorContext(ctx, "write response failed", slog.Any("err", err))
	}
}
