package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/cjeanneret/WinkGo/internal/config"
	"github.com/cjeanneret/WinkGo/internal/controller"
	"github.com/cjeanneret/WinkGo/internal/debug"
	"github.com/cjeanneret/WinkGo/internal/detect"
	"github.com/cjeanneret/WinkGo/internal/hw/can"
	"github.com/cjeanneret/WinkGo/internal/hw/gpio"
	"github.com/cjeanneret/WinkGo/internal/store"
	"github.com/cjeanneret/WinkGo/internal/transport"
	"github.com/cjeanneret/WinkGo/internal/web"
)

// hubQueue bounds the number of commands waiting for the control loop.
const hubQueue = 32

func main() {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "override web port; -web= for default 8080, -web 0 to disable")
	cfgPath := flag.String("config", "", "path to config file (YAML); empty uses defaults and WINKGO_* env")
	debugLevel := flag.Int("debug", -1, "override debug level (0-4)")
	printConfig := flag.Bool("print-config", false, "print the effective configuration and exit")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	if err := applyFlags(cfg, webPort, *debugLevel); err != nil {
		log.Fatalf("invalid flag: %v", err)
	}

	if *printConfig {
		if err := writeConfig(os.Stdout, cfg); err != nil {
			log.Fatalf("print config: %v", err)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("winkgo: %v", err)
	}
}

// run opens the hardware and storage, starts the carriers and blocks in
// the control loop until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config) error {
	logs := web.NewLogBroadcaster()
	debug.Init(cfg.DebugLevel)
	debug.SetOutput(io.MultiWriter(os.Stdout, logs.Writer()))
	defer debug.Sync()

	debug.Info("WinkGo starting")
	debug.Value("Debug level", cfg.DebugLevel)
	debug.Value("Detection", cfg.Detection.Mode)
	debug.Value("Store", cfg.Store.Driver)
	debug.PrintStruct("Service config", *cfg)

	debug.Step(1, "Initializing GPIO driver")
	gpioDriver, err := gpio.NewDriver(cfg.GPIO.Driver, cfg.GPIO.Chip)
	if err != nil {
		return fmt.Errorf("init GPIO: %w", err)
	}
	defer func() {
		if err := gpioDriver.Close(); err != nil {
			debug.Error(fmt.Errorf("closing GPIO driver: %w", err))
		}
	}()

	debug.Step(2, "Opening store")
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			debug.Error(fmt.Errorf("closing store: %w", err))
		}
	}()

	var frames can.Source
	if cfg.Detection.Mode == detect.ModeBus {
		debug.Step(3, "Opening bus interface "+cfg.Detection.BusInterface)
		sock, err := can.OpenSocketCAN(cfg.Detection.BusInterface)
		if err != nil {
			return fmt.Errorf("open bus: %w", err)
		}
		defer sock.Close()
		frames = sock
	}

	hub := transport.NewHub(hubQueue)
	sys, err := controller.New(controller.Deps{
		GPIO:   gpioDriver,
		Store:  st,
		Frames: frames,
		Hub:    hub,
	}, optionsFromConfig(cfg))
	if err != nil {
		return fmt.Errorf("build controller: %w", err)
	}

	var wg sync.WaitGroup
	carrier := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				debug.Error(fmt.Errorf("%s: %w", name, err))
			}
		}()
	}

	debug.Step(4, "Starting carriers")
	if addr := cfg.WebAddr(); addr != "" {
		carrier("web", web.NewServer(addr, hub, logs).Run)
	}
	if cfg.Transport.SerialPort != "" {
		link, err := transport.OpenSerialLink(cfg.Transport.SerialPort, cfg.Transport.SerialBaud, hub)
		if err != nil {
			return fmt.Errorf("open serial: %w", err)
		}
		carrier("serial", link.Run)
	}
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
		defer client.Close()
		carrier("redis", transport.NewRedisLink(client, transport.RedisConfig{
			CommandKey:      cfg.Transport.RedisCommandKey,
			ResponseChannel: cfg.Transport.RedisResponseChannel,
			StatusKey:       cfg.Transport.RedisStatusKey,
		}, hub).Run)
	}

	err = sys.Run(ctx)
	wg.Wait()
	debug.Info("WinkGo stopped")
	return err
}

// optionsFromConfig maps the service configuration onto the loop options.
func optionsFromConfig(cfg *config.Config) controller.Options {
	opts := controller.DefaultOptions()
	opts.Period = cfg.Loop.Period
	opts.StatusInterval = cfg.Loop.StatusInterval
	opts.FlushInterval = cfg.Loop.PositionFlushInterval
	opts.SettleDelay = cfg.Loop.SettleDelay
	opts.AnimationStartDelay = cfg.Loop.AnimationStartDelay
	opts.Detection = cfg.Detection.Mode
	opts.SilenceTimeout = cfg.Detection.SilenceTimeout
	return opts
}

// openStore opens the record store selected by cfg.Store.Driver.
func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Driver {
	case store.DriverFile:
		s, err := store.OpenFileStore(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("open file store: %w", err)
		}
		return s, nil
	case store.DriverRedis:
		s, err := store.DialRedisStore(cfg.Redis.Addr, cfg.Redis.DB, cfg.Store.RedisKey)
		if err != nil {
			return nil, fmt.Errorf("open redis store: %w", err)
		}
		return s, nil
	case store.DriverMemory:
		debug.Warn("Using in-memory store: configuration and position are lost on exit")
		return store.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// applyFlags applies command-line overrides on top of the loaded config.
// A negative debug level means "keep the configured one".
func applyFlags(cfg *config.Config, port *webPortFlag, debugLevel int) error {
	if port.set {
		cfg.Transport.WebPort = port.val
	}
	if debugLevel >= 0 {
		cfg.DebugLevel = debugLevel
	}
	return cfg.Validate()
}

func writeConfig(w io.Writer, cfg *config.Config) error {
	out, err := cfg.Dump()
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, out)
	return err
}

// webPortFlag implements flag.Value for -web: -web= → default port,
// -web 0 → disabled, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	set         bool
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w == nil || !w.set {
		return ""
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val, w.set = w.defaultPort, true
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v < 0 || v > 65535 {
		return fmt.Errorf("port must be 0-65535, got %d", v)
	}
	w.val, w.set = v, true
	return nil
}
