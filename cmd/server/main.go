package main

import (
	"flag"
	"net/http"

	"attendance-backend/lib/configutil"
	"attendance-backend/lib/serviceutil"
	"attendance-backend/services/attendance"
)

type Config struct {
	Port int `json:"port"`
	// path to the branch mapping table, relative to the working dir
	Mappings string `json:"mappings"`
}

func main() {
	verbose := flag.Bool("v", false, "Enable verbose logging/instrumentation.")
	flag.Parse()

	ctx := serviceutil.SignalContext()

	cfg, err := configutil.ReadConfig[Config]("config.json5")
	if err != nil {
		serviceutil.Fatal("read config", err)
	}
	if cfg.Mappings == "" {
		cfg.Mappings = "mappings.json5"
	}

	settings, err := attendance.LoadSettings()
	if err != nil {
		serviceutil.Fatal("load settings", err)
	}
	mappings, err := configutil.ReadConfig[attendance.Mappings](cfg.Mappings)
	if err != nil {
		serviceutil.Fatal("read mappings", err)
	}

	service := attendance.NewService(settings, mappings)

	InitTelemetry(ctx, *verbose, service.Registry())

	mux := http.NewServeMux()
	InitApi(mux, service)

	serviceutil.StartHttpServer(cfg.Port, mux)
}
