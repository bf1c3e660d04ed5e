// Command cadence-dimmer measures how fast two buttons are pressed in
// alternation and dims three LEDs with a shared software PWM signal.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sweeney/cadence-dimmer/internal/config"
	"github.com/sweeney/cadence-dimmer/internal/device"
	"github.com/sweeney/cadence-dimmer/internal/events"
	"github.com/sweeney/cadence-dimmer/internal/gpio"
	"github.com/sweeney/cadence-dimmer/internal/logging"
	"github.com/sweeney/cadence-dimmer/internal/logic"
	"github.com/sweeney/cadence-dimmer/internal/metrics"
	"github.com/sweeney/cadence-dimmer/internal/mqtt"
	"github.com/sweeney/cadence-dimmer/internal/pwm"
	"github.com/sweeney/cadence-dimmer/internal/state"
	"github.com/sweeney/cadence-dimmer/internal/status"
	"github.com/sweeney/cadence-dimmer/internal/web"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// defaultTick drives the main loop when no follow interval is configured.
const defaultTick = 500 * time.Millisecond

// Duty change sources recorded on the event bus.
const (
	sourceMQTT   = "mqtt"
	sourceFollow = "follow"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var printState bool

	cmd := &cobra.Command{
		Use:   "cadence-dimmer",
		Short: "Dim three LEDs by how fast two buttons are pressed",
		Long: `Measures the cadence of alternating presses on two GPIO buttons and drives ` +
			`three LEDs with a software PWM signal. Duty cycles are set over HTTP, MQTT or ` +
			`a Unix socket, or follow the button speed.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fs := cmd.Flags()
			path := config.Path(fs)
			cfg, err := config.Load(path, fs)
			if err != nil {
				fmt.Fprintf(os.Stderr, "config: %v\n", err)
				return err
			}
			logging.Initialize(cfg.Logging)

			if printState {
				return runPrintState(cfg, cmd.OutOrStdout())
			}
			if err := run(cfg, path, fs); err != nil {
				logging.GetLogger("main").Error("fatal", "error", err)
				return err
			}
			return nil
		},
	}

	config.RegisterFlags(cmd.Flags())
	cmd.Flags().BoolVar(&printState, "print-state", false, "print current button levels and exit")
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "cadence-dimmer %s\n", version)
		},
	}
}

func runPrintState(cfg config.Config, out io.Writer) error {
	hw, err := gpio.Open(cfg.Hardware(), func(logic.Input) {})
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer hw.Close()

	return printLevels(hw.Inputs, out)
}

func printLevels(in gpio.Inputs, out io.Writer) error {
	a, b, err := in.Read()
	if err != nil {
		return fmt.Errorf("read gpio: %w", err)
	}
	_, err = fmt.Fprintf(out, "A: %s, B: %s\n", levelString(a), levelString(b))
	return err
}

func run(cfg config.Config, path string, fs *pflag.FlagSet) error {
	logger := logging.GetLogger("main")
	startTime := time.Now()

	bus := events.New()
	st := state.New(
		state.WithPeriod(cfg.PWM.Period.Std()),
		state.WithPublisher(bus),
	)
	defer bus.OnDutyChanged(func(ev events.DutyChangedEvent) {
		logger.Debug("duty changed", "duties", ev.Duties, "source", ev.Source)
	})()

	hw, err := gpio.Open(cfg.Hardware(), st.Press)
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer func() {
		if err := hw.Close(); err != nil {
			logger.Warn("release gpio", "error", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched := pwm.New(st, hw.Outputs,
		pwm.WithLogger(logging.GetLogger("pwm")),
		pwm.WithPublisher(bus),
	)
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start pwm: %w", err)
	}
	// Deferred after the hardware release, so it runs first.
	defer sched.Stop()

	tracker := status.NewTracker(startTime, statusConfig(cfg), st, sched)
	tracker.SetFollow(cfg.Follow.Enabled)

	m := metrics.New(st, sched)
	defer m.Subscribe(bus)()

	// MQTT is optional; without a broker events go nowhere.
	var (
		publisher  mqtt.Publisher
		mqttStatus mqtt.ConnectionStatus
	)
	if cfg.MQTT.Broker != "" {
		mqttLogger := logging.GetLogger("mqtt")
		mp, err := mqtt.NewRealPublisher(mqtt.Options{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Topics:   mqtt.NewTopics(cfg.MQTT.TopicPrefix),
			Logger:   mqttLogger,
			OnCommand: func(payload string) error {
				return st.WriteDuties(payload, sourceMQTT)
			},
		})
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		defer mp.Close()
		defer mqtt.Bridge(bus, mp, mqttLogger)()
		publisher, mqttStatus = mp, mp

		tracker.SetMQTTConnected(mp.IsConnected())
		publishSystem(logger, publisher, tracker, mqtt.EventStartup, "")
	}

	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, tracker, st, web.Options{
			Logger:  logging.GetLogger("web"),
			Metrics: m.Handler(),
		})
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("http shutdown", "error", err)
			}
		}()
		logger.Info("http server listening", "addr", cfg.HTTP.Addr)
	}

	if cfg.Device.Socket != "" {
		dev := device.New(cfg.Device.Socket, st, logging.GetLogger("device"))
		if err := dev.Listen(); err != nil {
			return fmt.Errorf("init device: %w", err)
		}
		defer dev.Close()
	}

	ticker := time.NewTicker(tickInterval(cfg))
	defer ticker.Stop()

	var follow atomic.Bool
	follow.Store(cfg.Follow.Enabled)

	current := cfg
	watcher := config.NewWatcher(path, func(p string) (config.Config, error) {
		return config.Load(p, fs)
	}, logging.GetLogger("config"), config.DefaultDebounce)
	watcher.OnReload(func(next config.Config) {
		logging.SetLevels(next.Logging)
		follow.Store(next.Follow.Enabled)
		tracker.SetFollow(next.Follow.Enabled)
		if tickInterval(next) != tickInterval(current) {
			ticker.Reset(tickInterval(next))
		}
		if keys := config.RestartRequired(current, next); len(keys) > 0 {
			logger.Warn("config changes need a restart", "keys", strings.Join(keys, ","))
		}
		current = next
	})
	if err := watcher.Start(ctx); err != nil {
		logger.Warn("config watcher disabled", "error", err)
	}
	defer watcher.Stop()

	logger.Info("started",
		"backend", cfg.GPIO.Backend,
		"period", cfg.PWM.Period.Std(),
		"broker", cfg.MQTT.Broker,
		"follow", cfg.Follow.Enabled,
		"version", version,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	l := &loop{
		st:         st,
		publisher:  publisher,
		mqttStatus: mqttStatus,
		tracker:    tracker,
		follow:     &follow,
		heartbeat:  cfg.MQTT.Heartbeat.Std(),
		logger:     logger,
		now:        time.Now,
	}
	return l.run(ticker.C, sigCh)
}

// loop is the daemon's main select loop. Signal generation and edge
// handling run on their own goroutines; the loop only drives follow mode,
// heartbeats and shutdown.
type loop struct {
	st         *state.Shared
	publisher  mqtt.Publisher // nil without a broker
	mqttStatus mqtt.ConnectionStatus
	tracker    *status.Tracker
	follow     *atomic.Bool
	heartbeat  time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

func (l *loop) run(tick <-chan time.Time, sig <-chan os.Signal) error {
	lastHeartbeat := l.now()

	for {
		select {
		case s := <-sig:
			name := signalName(s)
			l.logger.Info("shutting down", "signal", name)
			l.system(mqtt.EventShutdown, name)
			return nil

		case <-tick:
			t := l.now()
			if l.follow.Load() {
				l.followSpeed()
			}
			if l.mqttStatus != nil {
				l.tracker.SetMQTTConnected(l.mqttStatus.IsConnected())
			}
			if l.heartbeat > 0 && t.Sub(lastHeartbeat) >= l.heartbeat {
				lastHeartbeat = t
				snap := l.tracker.Snapshot()
				l.logger.Info("heartbeat",
					"uptime", snap.Uptime().Truncate(time.Second),
					"speed", snap.Speed(),
					"duties", snap.Signal.Duties,
					"ticks", snap.Scheduler.Ticks,
				)
				l.system(mqtt.EventHeartbeat, "")
			}
		}
	}
}

// followSpeed sets the duties the current button speed maps to. Writes are
// skipped when nothing would change so the bus stays quiet while idle.
func (l *loop) followSpeed() {
	d := logic.DutiesForSpeed(l.st.Speed())
	if d == l.st.Duties() {
		return
	}
	if err := l.st.SetDuties(d, sourceFollow); err != nil {
		l.logger.Warn("follow write rejected", "duties", d, "error", err)
	}
}

func (l *loop) system(event, reason string) {
	if l.publisher == nil {
		return
	}
	if l.mqttStatus != nil {
		l.tracker.SetMQTTConnected(l.mqttStatus.IsConnected())
	}
	publishSystem(l.logger, l.publisher, l.tracker, event, reason)
}

func publishSystem(logger *slog.Logger, pub mqtt.Publisher, tracker *status.Tracker, event, reason string) {
	snap := tracker.Snapshot()
	ev := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      event,
		Reason:     reason,
		Retained:   event != mqtt.EventHeartbeat,
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	}
	if err := pub.PublishSystem(ev); err != nil {
		logger.Warn("failed to publish system event", "event", event, "error", err)
		return
	}
	logger.Debug("published system event", "event", event)
}

// tickInterval is the main loop period. Follow mode uses the configured
// interval; heartbeats only need the loop to run now and then.
func tickInterval(cfg config.Config) time.Duration {
	if d := cfg.Follow.Interval.Std(); d > 0 {
		return d
	}
	return defaultTick
}

func statusConfig(cfg config.Config) status.Config {
	return status.Config{
		Backend:      cfg.GPIO.Backend,
		PeriodNs:     cfg.PWM.Period.Std().Nanoseconds(),
		DebounceMs:   cfg.GPIO.Debounce.Std().Milliseconds(),
		HeartbeatMs:  cfg.MQTT.Heartbeat.Std().Milliseconds(),
		Broker:       cfg.MQTT.Broker,
		HTTPAddr:     cfg.HTTP.Addr,
		DeviceSocket: cfg.Device.Socket,
	}
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	default:
		return "UNKNOWN"
	}
}

func levelString(high bool) string {
	if high {
		return "HIGH"
	}
	return "LOW"
}
