package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"attendance-backend/lib/restyutil"
	"attendance-backend/lib/scrapers/pesu"
	"attendance-backend/lib/serviceutil"
	"attendance-backend/lib/telemetry"
	"attendance-backend/services/attendance"

	"github.com/lmittmann/tint"
)

// the relay handler wraps the terminal handler so every log line tagged
// with a request id is also mirrored to that request's context and any
// live websocket connection watching it.
func initSlog(verbose bool, registry *attendance.Registry) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	})
	slog.SetDefault(slog.New(attendance.NewRelayHandler(handler, registry)))
}

func InitTelemetry(ctx context.Context, verbose bool, registry *attendance.Registry) {
	t, err := telemetry.SetupFromEnv(ctx, "server")
	if err != nil {
		serviceutil.Fatal("setup telemetry", err)
	}
	go func() {
		<-ctx.Done()
		t.Shutdown(context.Background())
	}()
	telemetry.InstrumentPerfStats(ctx)

	initSlog(verbose, registry)
	if !verbose {
		return
	}

	pesu.SetRestyInstrumentOutput(
		restyutil.NewFilesystemOutput("dev/resty_telemetry/pesu"),
	)
}
