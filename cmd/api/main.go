package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"maps"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	adactor "github.com/berfenger/pvheat/internal/adapter/actor"
	"github.com/berfenger/pvheat/internal/adapter/device"
	"github.com/berfenger/pvheat/internal/adapter/solar"
	"github.com/berfenger/pvheat/internal/config"
	"github.com/berfenger/pvheat/internal/core/actor"
	"github.com/berfenger/pvheat/internal/core/port"
	"github.com/berfenger/pvheat/internal/core/service"
	"github.com/berfenger/pvheat/internal/metrics"
	"github.com/berfenger/pvheat/internal/mqtt"
	"github.com/berfenger/pvheat/internal/scheduler"
	"github.com/berfenger/pvheat/internal/server"
	"github.com/berfenger/pvheat/internal/util/actorutil"
	"github.com/berfenger/pvheat/pkg/sunspec_modbus"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/carlmjohnson/versioninfo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func gracefulShutdown(apiServer *http.Server, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Listen for the interrupt signal.
	<-ctx.Done()

	log.Println("shutting down gracefully, press Ctrl+C again to force")

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown with error: %v", err)
	}

	log.Println("Server exiting")

	// Notify the main goroutine that the shutdown is complete
	done <- true
}

func main() {

	// load and print config
	cfg, err := initConfig()
	if err != nil {
		slog.Error("config errors", "error", err)
		os.Exit(1)
	}
	safePrintConfig(*cfg)

	// zap logger
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)

	logger := zap.Must(zapCfg.Build())
	defer logger.Sync()
	logger.Info("pvheat starting", zap.String("version", versioninfo.Short()))

	// heater devices
	devices, err := heaterDevices(cfg, logger)
	if err != nil {
		logger.Fatal("heater devices", zap.Error(err))
	}

	// telemetry source
	source, closeSource, err := telemetrySource(cfg, logger)
	if err != nil {
		logger.Fatal("telemetry source", zap.Error(err))
	}
	defer closeSource()

	control, err := service.NewHeatControlFromConfig(cfg, devices, source, logger)
	if err != nil {
		logger.Fatal("heat control", zap.Error(err))
	}

	sink, err := metrics.NewPromSink(prometheus.DefaultRegisterer)
	if err != nil {
		logger.Fatal("metrics", zap.Error(err))
	}

	// init actor system
	as := actorutil.NewActorSystemWithZapLogger(logger)
	ctx := as.Root

	heatManagerProv := func(es *eventstream.EventStream) *actor.HeatManagerActor {
		return actor.NewHeatManagerActor(cfg, control, es, sink, logger)
	}

	props := pactor.PropsFromProducer(func() pactor.Actor {
		return actor.NewMasterOfPuppetsActor(*cfg, heatManagerProv, mqttActorProvider(cfg, logger), as.EventStream, logger)
	})
	pid, err := ctx.SpawnNamed(props, "master")
	if err != nil {
		logger.Fatal("master actor", zap.Error(err))
	}

	// daily energy report
	schedCtx, cancelSched := context.WithCancel(context.Background())
	defer cancelSched()
	job := scheduler.NewEnergyReportJob(ctx, pid, cfg.Manager.StatusTimeout(), logger)
	sched, err := scheduler.StartEnergyReport(schedCtx, cfg.Manager.EnergyReportCron, job, logger)
	if err != nil {
		logger.Fatal("scheduler", zap.Error(err))
	}

	server := server.NewServer(*cfg, ctx, pid, prometheus.DefaultGatherer)
	// Create a done channel to signal when the shutdown is complete
	done := make(chan bool, 1)

	// Run graceful shutdown in a separate goroutine
	go gracefulShutdown(server, done)

	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		panic(fmt.Sprintf("http server error: %s", err))
	}

	// Wait for the graceful shutdown to complete
	<-done
	log.Println("Graceful shutdown complete.")

	sched.Stop()
	// heaters are turned off while the heat manager stops
	if err := ctx.StopFuture(pid).Wait(); err != nil {
		logger.Warn("master stop", zap.Error(err))
	}
	as.Shutdown()
}

func initConfig() (*config.Config, error) {

	// alias PORT => PVHEAT_PORT
	if port := os.Getenv("PORT"); port != "" {
		os.Setenv("PVHEAT_PORT", port)
	}

	setConfigDefaults()

	viper.SetEnvPrefix("pvheat")
	viper.AutomaticEnv()

	// if defined, try to load config from yaml file
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			slog.Info("Using config", "file", cfgFile)
			viper.SetConfigFile(cfgFile)

			err = viper.ReadInConfig()
			if err != nil {
				slog.Error("Error reading config file", "error", err)
			}
		}
	}

	var cfg config.Config

	err := viper.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	// parse log level
	switch viper.GetString("log_level") {
	case "trace":
		cfg.LogLevel = zap.DebugLevel
	case "debug":
		cfg.LogLevel = zap.DebugLevel
	case "info":
		cfg.LogLevel = zap.InfoLevel
	case "error":
		cfg.LogLevel = zap.ErrorLevel
	case "warn":
		cfg.LogLevel = zap.WarnLevel
	case "fatal":
		cfg.LogLevel = zap.FatalLevel
	default:
		cfg.LogLevel = zap.InfoLevel
	}

	// check and fix base topic
	baseTopic, err := config.CheckMQTTTopic(cfg.MQTT.BaseTopic)
	if err != nil {
		return nil, errors.New("invalid base topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.BaseTopic = baseTopic

	// check and fix homeassistant discovery topic
	hadBaseTopic, err := config.CheckMQTTTopic(cfg.MQTT.HADiscoveryTopic)
	if err != nil {
		return nil, errors.New("invalid homeassistant discovery topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.HADiscoveryTopic = hadBaseTopic

	// heaters and steps
	config.ApplyHeaterDefaults(cfg.Heaters)
	if err := config.CheckHeaters(cfg.Heaters, cfg.Steps); err != nil {
		return nil, err
	}

	// check bounds
	if cfg.Manager.TickIntervalMillis < 1000 {
		return nil, errors.New("config param manager.tick_interval_millis should be >= 1000")
	}
	if cfg.Manager.TryToleranceWatt < 0 {
		return nil, errors.New("config param manager.try_tolerance_watt should be >= 0")
	}
	if cfg.Manager.TryStickyTicks < 0 {
		return nil, errors.New("config param manager.try_sticky_ticks should be >= 0")
	}
	if cfg.Solar.FullChargeHour < 0 || cfg.Solar.FullChargeHour > 23 {
		return nil, errors.New("config param solar.full_charge_hour should be within [0, 23]")
	}
	switch cfg.Solar.Provider {
	case config.SOLAR_PROVIDER_FRONIUS_HTTP:
		if cfg.Solar.URL == "" {
			return nil, errors.New("config param solar.url is required by provider " + cfg.Solar.Provider)
		}
	case config.SOLAR_PROVIDER_SUNSPEC_MODBUS:
		if cfg.Solar.Modbus.Host == "" {
			return nil, errors.New("config param solar.modbus.host is required by provider " + cfg.Solar.Provider)
		}
	case config.SOLAR_PROVIDER_STATIC:
	default:
		return nil, fmt.Errorf("unknown solar provider %q", cfg.Solar.Provider)
	}

	return &cfg, nil
}

func heaterDevices(cfg *config.Config, logger *zap.Logger) (map[string]port.HeaterDevice, error) {
	var bus *mqtt.MQTTClient
	if cfg.UsesMQTTDevices() {
		bus = mqtt.CreateMQTTClient(cfg, mqtt.DeviceBusOptsFromConfig(cfg), nil, nil)
		if err := bus.ConnectSync(10 * time.Second); err != nil {
			return nil, fmt.Errorf("device bus: %w", err)
		}
	}

	devices := make(map[string]port.HeaterDevice, len(cfg.Heaters))
	for _, h := range cfg.Heaters {
		switch h.Driver {
		case config.DRIVER_TUYA_MQTT:
			d, err := device.NewTuyaMQTTDevice(bus, device.TuyaMQTTConfig{
				DeviceTopic: cfg.MQTT.DeviceTopic,
				DeviceId:    h.DeviceId,
				IsOnIndex:   h.IsOnIndex,
				LoadIndex:   h.LoadIndex,
				StaleAfter:  h.StaleAfter(),
				RefreshWait: h.RefreshWait(),
			}, logger.With(zap.String("heater", h.Name)))
			if err != nil {
				return nil, fmt.Errorf("heater %s: %w", h.Name, err)
			}
			devices[h.Name] = d
		default:
			devices[h.Name] = device.NewMemoryDevice(lowestLoad(h.Loads))
		}
	}
	return devices, nil
}

func lowestLoad(loads map[string]float64) string {
	levels := slices.Collect(maps.Keys(loads))
	if len(levels) == 0 {
		return ""
	}
	slices.SortFunc(levels, func(a, b string) int {
		return cmp.Or(cmp.Compare(loads[a], loads[b]), cmp.Compare(a, b))
	})
	return levels[0]
}

func telemetrySource(cfg *config.Config, logger *zap.Logger) (port.TelemetrySource, func(), error) {
	reservation := solar.NewChargeReservation(cfg.Solar.MaxChargePercent, cfg.Solar.FullChargeHour, cfg.Solar.WattHoursPerPercent)
	noop := func() {}

	switch cfg.Solar.Provider {
	case config.SOLAR_PROVIDER_FRONIUS_HTTP:
		return solar.NewFroniusSource(cfg.Solar.URL, cfg.Solar.Timeout(), cfg.Solar.SupplyToGrid, reservation), noop, nil
	case config.SOLAR_PROVIDER_SUNSPEC_MODBUS:
		modbusCfg := cfg.Solar.Modbus
		inv, err := sunspec_modbus.CreateInverterIntSFModbusReader(modbusCfg.Host, modbusCfg.Port,
			uint8(modbusCfg.InverterId), cfg.Solar.Timeout(), modbusCfg.IgnoreFronius, logger, nil)
		if err != nil {
			return nil, noop, err
		}
		acMeter, err := sunspec_modbus.CreateACMeterIntSFModbusReader(modbusCfg.Host, modbusCfg.Port,
			uint8(modbusCfg.MeterId), cfg.Solar.Timeout(), modbusCfg.IgnoreFronius, logger, nil)
		if err != nil {
			return nil, noop, err
		}
		src := solar.NewSunSpecSource(inv, acMeter, cfg.Solar.SupplyToGrid, reservation, logger)
		return src, src.Close, nil
	default:
		logger.Warn("using the static telemetry source, it always reports zero flows")
		return solar.NewStaticSource(cfg.Solar.SupplyToGrid, reservation), noop, nil
	}
}

func mqttActorProvider(cfg *config.Config, logger *zap.Logger) actor.MQTTActorProvider {
	if cfg.MQTT.Host == "" {
		return nil
	}
	return func(es *eventstream.EventStream) *adactor.MQTTActor {
		return adactor.NewMQTTActor(cfg, es, logger)
	}
}

func setConfigDefaults() {
	viper.SetDefault("log_level", "warn")
	viper.SetDefault("manager.tick_interval_millis", 60000)
	viper.SetDefault("manager.try_tolerance_watt", 30)
	viper.SetDefault("manager.try_sticky_ticks", 5)
	viper.SetDefault("manager.connect_retry_millis", 180000)
	viper.SetDefault("manager.autostart", true)
	viper.SetDefault("manager.verbose", false)
	viper.SetDefault("manager.status_timeout_millis", 10000)
	viper.SetDefault("manager.energy_report_cron", "0 0 0 * * *")
	viper.SetDefault("solar.provider", config.SOLAR_PROVIDER_FRONIUS_HTTP)
	viper.SetDefault("solar.timeout_millis", 5000)
	viper.SetDefault("solar.supply_to_grid", true)
	viper.SetDefault("solar.max_charge_percent", solar.DefaultMaxChargePercent)
	viper.SetDefault("solar.full_charge_hour", solar.DefaultFullChargeHour)
	viper.SetDefault("solar.watt_hours_per_percent", solar.DefaultWattHoursPerPercent)
	viper.SetDefault("solar.modbus.port", 502)
	viper.SetDefault("solar.modbus.meter_id", 200)
	viper.SetDefault("mqtt.port", 1883)
	viper.SetDefault("mqtt.base_topic", "pvheat")
	viper.SetDefault("mqtt.device_topic", "tuya")
	viper.SetDefault("mqtt.ha_discovery_enable", false)
	viper.SetDefault("mqtt.ha_discovery_topic", "homeassistant")
	viper.SetDefault("port", 8888)
}

func safePrintConfig(cfg config.Config) {
	cfg.MQTT.Username = "*redacted*"
	cfg.MQTT.Password = "*redacted*"
	slog.Info("Using", "config", cfg)
}
