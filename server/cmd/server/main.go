package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/airscribe/airscribe/server/internal/api"
	"github.com/airscribe/airscribe/server/internal/auth"
	"github.com/airscribe/airscribe/server/internal/classify"
	"github.com/airscribe/airscribe/server/internal/collector"
	"github.com/airscribe/airscribe/server/internal/config"
	"github.com/airscribe/airscribe/server/internal/corrector"
	"github.com/airscribe/airscribe/server/internal/drawing"
	"github.com/airscribe/airscribe/server/internal/health"
	"github.com/airscribe/airscribe/server/internal/metrics"
	"github.com/airscribe/airscribe/server/internal/normalize"
	"github.com/airscribe/airscribe/server/internal/recognize"
	"github.com/airscribe/airscribe/server/internal/store"
	"github.com/airscribe/airscribe/server/internal/ws"
)

func main() {
	configPath := flag.String("config", "", "path to config file; built-in defaults when empty")
	flag.Parse()

	var level slog.LevelVar
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: &level}))
	slog.SetDefault(logger)

	slog.Info("airscribe-server starting", "config", *configPath)

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			slog.Error("failed to load config", "err", err)
			os.Exit(1)
		}
	}
	sc := cfg.Server
	level.Set(sc.Level())

	slog.Info("config loaded",
		"http_port", sc.HTTPPort,
		"grpc_port", sc.GRPCPort,
		"auth_mode", sc.Auth.Mode,
		"source", sc.Collection.Source,
		"imu_model", sc.Models.IMU.Path,
		"history_ttl", sc.History.TTL,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Prediction history with background TTL eviction and optional SQLite archive.
	st := store.New(sc.History.TTL)
	if sc.History.SQLitePath != "" {
		st.WithArchive(store.NewSQLite(sc.History.SQLitePath))
		n, err := st.Restore(sc.History.Restore)
		if err != nil {
			slog.Error("failed to restore prediction history", "path", sc.History.SQLitePath, "err", err)
			os.Exit(1)
		}
		slog.Info("prediction history restored", "count", n)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Warn("closing prediction history", "err", err)
		}
	}()
	go st.Run(ctx)

	imuPredictor, err := buildPredictor(sc.Models.IMU, 1)
	if err != nil {
		slog.Error("failed to load IMU model", "err", err)
		os.Exit(1)
	}
	drawPredictor, err := buildPredictor(sc.Models.Drawing, 2)
	if err != nil {
		slog.Error("failed to load drawing model", "err", err)
		os.Exit(1)
	}

	m := metrics.New()
	recognizer, err := recognize.New(recognize.Config{
		Normalizer: normalize.New(normalize.Options{
			MaxLen:   sc.Normalize.MaxLen,
			Channels: sc.Normalize.Channels,
			Clip:     sc.Normalize.Clip,
		}),
		IMU:          imuPredictor,
		Drawing:      drawPredictor,
		DrawingInput: drawing.New(sc.Models.Drawing.InputSize),
		Store:        st,
		Metrics:      m,
	})
	if err != nil {
		slog.Error("failed to build recognizer", "err", err)
		os.Exit(1)
	}
	// gRPC health stays NOT_SERVING until a warmup inference succeeds.
	if err := recognizer.Warmup(ctx); err != nil {
		slog.Error("recognizer warmup failed, health will report NOT_SERVING", "err", err)
	}

	// Collection coordinator and its sample source.
	var (
		src  collector.Source
		push *collector.Push
	)
	switch sc.Collection.Source {
	case "push":
		push = collector.NewPush(sc.Collection.PushBuffer)
		src = push
	default:
		src = collector.NewSimulated(sc.Collection.SampleRateHz, 0.05, time.Now().UnixNano())
	}
	coll := collector.New(src, collector.Options{
		DataDir:     sc.Collection.DataDir,
		StopTimeout: sc.Collection.StopTimeout,
	})

	// WebSocket hub: periodic status plus immediate collection and prediction events.
	hub := ws.New(coll, sc.Stream.Interval)
	coll.OnChange(func(s collector.Status) { hub.Publish(api.EventStatus, api.StatusFrom(s)) })
	go hub.Run(ctx)

	llm := corrector.New(correctorSettings(sc.Corrector))

	if *configPath != "" {
		go func() {
			err := config.Watch(ctx, *configPath, func(next *config.Config) {
				level.Set(next.Server.Level())
				llm.SetSettings(correctorSettings(next.Server.Corrector))
				slog.Info("config: applied reloadable settings",
					"log_level", next.Server.LogLevel,
					"corrector_model", next.Server.Corrector.Model,
				)
			})
			if err != nil {
				slog.Warn("config watch stopped", "err", err)
			}
		}()
	}

	// gRPC health service with optional API key authentication.
	grpcSrv := grpc.NewServer(
		grpc.UnaryInterceptor(auth.APIKeyInterceptor(sc.Auth.Mode, sc.Auth.EffectiveHeader(), sc.Auth.Key())),
		grpc.StreamInterceptor(auth.APIKeyStreamInterceptor(sc.Auth.Mode, sc.Auth.EffectiveHeader(), sc.Auth.Key())),
	)
	healthpb.RegisterHealthServer(grpcSrv, health.New(recognizer.Ready))

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", sc.GRPCPort))
	if err != nil {
		slog.Error("failed to listen on gRPC port", "port", sc.GRPCPort, "err", err)
		os.Exit(1)
	}
	go func() {
		slog.Info("gRPC health listening", "port", sc.GRPCPort)
		if err := grpcSrv.Serve(lis); err != nil {
			slog.Error("gRPC server stopped", "err", err)
		}
	}()

	// Combined HTTP server: REST API, /metrics and WebSocket hub on HTTPPort.
	apiHandler := api.New(api.Deps{
		Collector:  coll,
		Push:       push,
		Recognizer: recognizer,
		Store:      st,
		Metrics:    m,
		Corrector:  llm,
		Events:     hub,
	})
	httpMux := http.NewServeMux()
	httpMux.Handle("/", apiHandler)
	httpMux.Handle("/ws/stream", hub)

	guarded := auth.Middleware(sc.Auth.Mode, sc.Auth.EffectiveHeader(), sc.Auth.Key(), "/metrics")(httpMux)
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", sc.HTTPPort),
		Handler:           corsFor(sc.CORS).Handler(guarded),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "port", sc.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server stopped", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("airscribe-server shutting down")
	if rec, err := coll.Stop(); err == nil {
		slog.Info("collection stopped on shutdown", "session", rec.ID, "file", rec.Path)
	}
	grpcSrv.GracefulStop()
	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	httpSrv.Shutdown(shutdownCtx) //nolint:errcheck
}

// buildPredictor loads the configured ONNX model, or a simulated classifier
// when no path is set.
func buildPredictor(mc config.ModelConfig, seed int64) (*classify.Predictor, error) {
	labels, err := classify.Labels(mc.Labels)
	if err != nil {
		return nil, err
	}
	var c classify.Classifier
	if mc.Path == "" {
		slog.Warn("no model configured, using simulated classifier", "labels", mc.Labels)
		c = classify.NewSimulated(len(labels), time.Now().UnixNano()+seed)
	} else {
		model, err := classify.LoadONNX(mc.Path)
		if err != nil {
			return nil, err
		}
		slog.Info("model loaded", "path", model.Path(), "labels", mc.Labels)
		c = model
	}
	return classify.NewPredictor(c, labels)
}

func correctorSettings(c config.CorrectorConfig) corrector.Settings {
	return corrector.Settings{
		Endpoint:    c.Endpoint,
		Model:       c.Model,
		Temperature: c.Temperature,
		Timeout:     c.Timeout,
	}
}

func corsFor(c config.CORSConfig) *cors.Cors {
	origins := c.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})
}
