package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/containerd/log"
	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/Ratio1/couch_sdk_go/internal/config"
	"github.com/Ratio1/couch_sdk_go/pkg/couch/couchtest"
)

type failConfig struct {
	rate float64
	code int
}

func main() {
	fs := pflag.NewFlagSet("couch-sandbox", pflag.ExitOnError)
	addr := fs.String("addr", ":5984", "listen address")
	seedPath := fs.String("seed", "", "path to a JSON seed file (comments allowed)")
	latency := fs.Duration("latency", 0, "artificial latency to inject per request")
	fail := fs.String("fail", "", "failure injection (rate=<float>,code=<httpStatus>)")
	user := fs.String("user", "", "require basic auth with this user")
	password := fs.String("password", "", "password for --user")
	gzip := fs.Bool("gzip", true, "compress responses for clients that accept gzip")
	logLevel := fs.String("log-level", "info", "log level")
	_ = fs.Parse(os.Args[1:])

	if err := log.SetLevel(*logLevel); err != nil {
		log.L.WithError(err).Fatal("invalid log level")
	}

	failCfg, err := parseFailConfig(*fail)
	if err != nil {
		log.L.WithError(err).Fatal("parse fail flag")
	}

	var opts []couchtest.Option
	if *user != "" {
		opts = append(opts, couchtest.WithBasicAuth(*user, *password))
	}
	store := couchtest.New(opts...)
	if *seedPath != "" {
		seed, err := couchtest.LoadSeed(*seedPath)
		if err != nil {
			log.L.WithError(err).Fatal("load seed")
		}
		if err := seed.Apply(store); err != nil {
			log.L.WithError(err).Fatal("apply seed")
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "couch",
		Subsystem: "sandbox",
		Name:      "requests_total",
		Help:      "Requests served by the sandbox, by method and status code.",
	}, []string{"method", "code"})
	reg.MustRegister(requests)

	var handler http.Handler = store
	if *gzip {
		handler = gzhttp.GzipHandler(handler)
	}
	handler = promhttp.InstrumentHandlerCounter(requests, handler)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.Handle("/", withMiddleware(*latency, failCfg, handler))

	server := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.L.WithField("addr", *addr).Info("couch-sandbox listening")
	fmt.Println()
	fmt.Printf("export %s=%s\n", config.EnvMode, config.ModeHTTP)
	host := *addr
	if strings.HasPrefix(host, ":") {
		host = "localhost" + host
	}
	endpoint := "http://" + host
	fmt.Printf("export %s=%s\n", config.EnvEndpoint, endpoint)
	if *user != "" {
		fmt.Printf("export %s=%s\n", config.EnvUser, *user)
		fmt.Printf("export %s=%s\n", config.EnvPassword, *password)
	}
	fmt.Println()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.L.WithError(err).Fatal("server failed")
	}
}

func withMiddleware(delay time.Duration, failCfg failConfig, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.G(r.Context()).WithFields(log.Fields{
			"method": r.Method,
			"path":   r.URL.EscapedPath(),
		}).Debug("exec request")
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		if failCfg.rate > 0 && rand.Float64() < failCfg.rate {
			status := failCfg.code
			if status == 0 {
				status = http.StatusInternalServerError
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = fmt.Fprintf(w, "{\"error\":\"injected\",\"reason\":\"failure injected\"}\n")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func parseFailConfig(raw string) (failConfig, error) {
	if strings.TrimSpace(raw) == "" {
		return failConfig{}, nil
	}
	cfg := failConfig{code: http.StatusInternalServerError}
	parts := strings.Split(raw, ",")
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		keyVal := strings.SplitN(part, "=", 2)
		if len(keyVal) != 2 {
			return failConfig{}, fmt.Errorf("invalid fail segment %q", part)
		}
		switch strings.TrimSpace(keyVal[0]) {
		case "rate":
			val, err := strconv.ParseFloat(strings.TrimSpace(keyVal[1]), 64)
			if err != nil {
				return failConfig{}, err
			}
			if val < 0 || val > 1 {
				return failConfig{}, fmt.Errorf("fail rate %v out of range [0,1]", val)
			}
			cfg.rate = val
		case "code":
			val, err := strconv.Atoi(strings.TrimSpace(keyVal[1]))
			if err != nil {
				return failConfig{}, err
			}
			cfg.code = val
		default:
			return failConfig{}, fmt.Errorf("unknown fail key %q", keyVal[0])
		}
	}
	return cfg, nil
}
