package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce collapses the burst of events an editor save produces.
const DefaultDebounce = 1500 * time.Millisecond

// Watcher reloads the config file when it changes and hands the fresh,
// validated Config to every registered handler.
type Watcher struct {
	path     string
	debounce time.Duration
	load     func(path string) (Config, error)
	logger   *slog.Logger

	mu       sync.RWMutex
	handlers []func(Config)

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewWatcher creates a watcher for path. load is called on every change;
// a load error keeps the previous configuration in effect.
func NewWatcher(path string, load func(path string) (Config, error), logger *slog.Logger, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		path:     path,
		debounce: debounce,
		load:     load,
		logger:   logger,
	}
}

// OnReload registers a handler. Handlers run on the watcher goroutine.
func (w *Watcher) OnReload(handler func(Config)) {
	w.mu.Lock()
	w.handlers = append(w.handlers, handler)
	w.mu.Unlock()
}

// Start watches the directory holding the file, so editors that replace the
// file by rename are still seen.
func (w *Watcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		fw.Close()
		return err
	}
	w.watcher = fw

	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	w.logger.Info("config watcher started", "path", w.path, "debounce", w.debounce)
	go w.watch(ctx)
	return nil
}

// Stop ends the watch loop and releases the fsnotify watcher. It is safe to
// call on a watcher that was never started.
func (w *Watcher) Stop() error {
	if w.cancel == nil {
		return nil
	}
	w.cancel()
	err := w.watcher.Close()
	<-w.done
	return err
}

func (w *Watcher) watch(ctx context.Context) {
	defer close(w.done)

	var timer *time.Timer
	var timerC <-chan time.Time
	target := filepath.Clean(w.path)

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Rename) {
				continue
			}
			w.logger.Debug("config file change detected", "op", ev.Op.String())
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.debounce)
			timerC = timer.C

		case <-timerC:
			timerC = nil
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := w.load(w.path)
	if err != nil {
		w.logger.Warn("config reload failed, keeping previous settings", "error", err)
		return
	}
	w.logger.Info("config reloaded", "path", w.path)

	w.mu.RLock()
	handlers := append([]func(Config){}, w.handlers...)
	w.mu.RUnlock()
	for _, h := range handlers {
		h(cfg)
	}
}

// RestartRequired lists the keys that differ between old and next but are
// only read at startup.
func RestartRequired(old, next Config) []string {
	var keys []string
	if old.GPIO.Backend != next.GPIO.Backend {
		keys = append(keys, "gpio.backend")
	}
	if old.GPIO.Chip != next.GPIO.Chip {
		keys = append(keys, "gpio.chip")
	}
	if !reflect.DeepEqual(old.GPIO.LEDPins, next.GPIO.LEDPins) {
		keys = append(keys, "gpio.led_pins")
	}
	if !reflect.DeepEqual(old.GPIO.ButtonPins, next.GPIO.ButtonPins) {
		keys = append(keys, "gpio.button_pins")
	}
	if old.GPIO.Debounce != next.GPIO.Debounce {
		keys = append(keys, "gpio.debounce")
	}
	if old.PWM.Period != next.PWM.Period {
		keys = append(keys, "pwm.period")
	}
	if old.HTTP != next.HTTP {
		keys = append(keys, "http.addr")
	}
	if old.Device != next.Device {
		keys = append(keys, "device.socket")
	}
	if old.MQTT != next.MQTT {
		keys = append(keys, "mqtt")
	}
	if old.Logging.Format != next.Logging.Format {
		keys = append(keys, "logging.format")
	}
	return keys
}
