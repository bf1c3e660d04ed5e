package config

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func writeFile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "cadence-dimmer.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate(): %v", err)
	}
	if cfg.PWM.Period.Std() != 10*time.Millisecond {
		t.Errorf("period: got %v, want 10ms", cfg.PWM.Period.Std())
	}
	if cfg.Follow.Enabled {
		t.Error("follow: got enabled, want disabled by default")
	}
	p := cfg.Pins()
	if p.LEDs != [3]int{17, 27, 22} || p.Buttons != [2]int{23, 24} {
		t.Errorf("pins: got %+v", p)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"), nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Errorf("http.addr: got %q, want %q", cfg.HTTP.Addr, ":8080")
	}
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), `
[gpio]
backend = "fake"
led_pins = [5, 6, 13]
debounce = "2ms"

[pwm]
period = "20ms"

[mqtt]
broker = "tcp://broker:1883"
heartbeat = "1m"

[follow]
enabled = true
interval = "250ms"

[logging]
level = "debug"
modules = { pwm = "warn" }
`)
	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GPIO.Backend != "fake" {
		t.Errorf("backend: got %q, want fake", cfg.GPIO.Backend)
	}
	if got := cfg.Pins().LEDs; got != [3]int{5, 6, 13} {
		t.Errorf("led pins: got %v", got)
	}
	if got := cfg.Pins().Buttons; got != [2]int{23, 24} {
		t.Errorf("button pins kept default: got %v", got)
	}
	if cfg.GPIO.Debounce.Std() != 2*time.Millisecond {
		t.Errorf("debounce: got %v, want 2ms", cfg.GPIO.Debounce.Std())
	}
	if cfg.PWM.Period.Std() != 20*time.Millisecond {
		t.Errorf("period: got %v, want 20ms", cfg.PWM.Period.Std())
	}
	if cfg.MQTT.Heartbeat.Std() != time.Minute {
		t.Errorf("heartbeat: got %v, want 1m", cfg.MQTT.Heartbeat.Std())
	}
	if cfg.MQTT.TopicPrefix != "cadence/dimmer" {
		t.Errorf("topic prefix kept default: got %q", cfg.MQTT.TopicPrefix)
	}
	if !cfg.Follow.Enabled || cfg.Follow.Interval.Std() != 250*time.Millisecond {
		t.Errorf("follow: got %+v", cfg.Follow)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Modules["pwm"] != "warn" {
		t.Errorf("logging: got %+v", cfg.Logging)
	}
}

func TestLoadFileParseError(t *testing.T) {
	path := writeFile(t, t.TempDir(), "[pwm\nperiod=")
	if _, err := Load(path, nil); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "[http]\naddr = \":9000\"\n")
	t.Setenv("CADENCE_DIMMER_HTTP_ADDR", ":9100")
	t.Setenv("CADENCE_DIMMER_GPIO_LED_PINS", "1, 2, 3")
	t.Setenv("CADENCE_DIMMER_FOLLOW_ENABLED", "true")

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTP.Addr != ":9100" {
		t.Errorf("http.addr: got %q, want :9100", cfg.HTTP.Addr)
	}
	if got := cfg.Pins().LEDs; got != [3]int{1, 2, 3} {
		t.Errorf("led pins: got %v", got)
	}
	if !cfg.Follow.Enabled {
		t.Error("follow: got disabled, want enabled")
	}
}

func TestEnvInvalidValue(t *testing.T) {
	t.Setenv("CADENCE_DIMMER_PWM_PERIOD", "soon")
	_, err := Load("", nil)
	if err == nil || !strings.Contains(err.Error(), "CADENCE_DIMMER_PWM_PERIOD") {
		t.Fatalf("got %v, want error naming the variable", err)
	}
}

func TestFlagsOverrideEnv(t *testing.T) {
	t.Setenv("CADENCE_DIMMER_HTTP_ADDR", ":9100")
	t.Setenv("CADENCE_DIMMER_GPIO_BACKEND", "periph")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	if err := fs.Parse([]string{"--http-addr=:9200", "--pwm-period=5ms"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load("", fs)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTP.Addr != ":9200" {
		t.Errorf("http.addr: got %q, want :9200", cfg.HTTP.Addr)
	}
	if cfg.PWM.Period.Std() != 5*time.Millisecond {
		t.Errorf("period: got %v, want 5ms", cfg.PWM.Period.Std())
	}
	// Unset flags must not clobber the environment.
	if cfg.GPIO.Backend != "periph" {
		t.Errorf("backend: got %q, want periph", cfg.GPIO.Backend)
	}
}

func TestPath(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	if got := Path(fs); got != DefaultPath {
		t.Errorf("default path: got %q", got)
	}
	_ = fs.Parse([]string{"--config=/tmp/x.toml"})
	if got := Path(fs); got != "/tmp/x.toml" {
		t.Errorf("path: got %q", got)
	}
	if got := Path(nil); got != DefaultPath {
		t.Errorf("nil flagset: got %q", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero period", func(c *Config) { c.PWM.Period = 0 }, "pwm.period"},
		{"negative period", func(c *Config) { c.PWM.Period = Duration(-time.Millisecond) }, "pwm.period"},
		{"two leds", func(c *Config) { c.GPIO.LEDPins = []int{1, 2} }, "gpio.led_pins"},
		{"three buttons", func(c *Config) { c.GPIO.ButtonPins = []int{1, 2, 3} }, "gpio.button_pins"},
		{"unknown backend", func(c *Config) { c.GPIO.Backend = "sysfs" }, "gpio.backend"},
		{"duplicate pin", func(c *Config) { c.GPIO.ButtonPins = []int{17, 24} }, "already used"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"follow without interval", func(c *Config) { c.Follow.Enabled = true; c.Follow.Interval = 0 }, "follow.interval"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("got %v, want error containing %q", err, tt.want)
			}
		})
	}
}

func TestHardware(t *testing.T) {
	cfg := Default()
	cfg.GPIO.Debounce = Duration(time.Millisecond)
	hw := cfg.Hardware()
	if hw.Backend != "gpiocdev" || hw.Chip != "gpiochip0" || hw.Debounce != time.Millisecond {
		t.Errorf("hardware: got %+v", hw)
	}
}

func TestRestartRequired(t *testing.T) {
	old := Default()
	next := Default()
	next.Logging.Level = "debug"
	next.Follow.Enabled = true
	if keys := RestartRequired(old, next); len(keys) != 0 {
		t.Errorf("live keys flagged for restart: %v", keys)
	}

	next.PWM.Period = Duration(time.Millisecond)
	next.GPIO.LEDPins = []int{1, 2, 3}
	keys := RestartRequired(old, next)
	if strings.Join(keys, ",") != "gpio.led_pins,pwm.period" {
		t.Errorf("keys: got %v", keys)
	}
}

func TestWatcherReloads(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "[logging]\nlevel = \"info\"\n")

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	w := NewWatcher(path, LoadFile, logger, 20*time.Millisecond)

	got := make(chan Config, 4)
	w.OnReload(func(c Config) { got <- c })
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(path, []byte("[logging]\nlevel = \"debug\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case c := <-got:
		if c.Logging.Level != "debug" {
			t.Errorf("reloaded level: got %q, want debug", c.Logging.Level)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload within 5s")
	}
}

func TestWatcherStopWithoutStart(t *testing.T) {
	w := NewWatcher("/nonexistent/x.toml", LoadFile, slog.New(slog.NewTextHandler(io.Discard, nil)), 0)
	if err := w.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
}
