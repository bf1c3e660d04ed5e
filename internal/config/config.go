// Package config loads daemon settings with precedence CLI flags >
// environment (CADENCE_DIMMER_*) > TOML file > built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/pflag"

	"github.com/sweeney/cadence-dimmer/internal/gpio"
	"github.com/sweeney/cadence-dimmer/internal/logging"
	"github.com/sweeney/cadence-dimmer/internal/logic"
)

// DefaultPath is read when no --config flag is given.
const DefaultPath = "/etc/cadence-dimmer.toml"

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "CADENCE_DIMMER_"

// Duration is a time.Duration written as a Go duration string ("10ms").
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// GPIO selects the hardware backend and wiring.
type GPIO struct {
	Backend    string   `toml:"backend"`
	Chip       string   `toml:"chip"`
	LEDPins    []int    `toml:"led_pins"`
	ButtonPins []int    `toml:"button_pins"`
	Debounce   Duration `toml:"debounce"`
}

// PWM configures the software PWM signal.
type PWM struct {
	Period Duration `toml:"period"`
}

// HTTP configures the attribute/API server. An empty Addr disables it.
type HTTP struct {
	Addr string `toml:"addr"`
}

// Device configures the character-device-like socket. An empty Socket disables it.
type Device struct {
	Socket string `toml:"socket"`
}

// MQTT configures telemetry. An empty Broker disables it.
type MQTT struct {
	Broker      string   `toml:"broker"`
	ClientID    string   `toml:"client_id"`
	TopicPrefix string   `toml:"topic_prefix"`
	Heartbeat   Duration `toml:"heartbeat"`
}

// Follow configures the speed-to-brightness loop.
type Follow struct {
	Enabled  bool     `toml:"enabled"`
	Interval Duration `toml:"interval"`
}

// Config is the full daemon configuration.
type Config struct {
	GPIO    GPIO           `toml:"gpio"`
	PWM     PWM            `toml:"pwm"`
	HTTP    HTTP           `toml:"http"`
	Device  Device         `toml:"device"`
	MQTT    MQTT           `toml:"mqtt"`
	Follow  Follow         `toml:"follow"`
	Logging logging.Config `toml:"logging"`
}

// Default returns the built-in configuration.
func Default() Config {
	pins := gpio.DefaultPins()
	return Config{
		GPIO: GPIO{
			Backend:    gpio.BackendGPIOCDev,
			Chip:       gpio.DefaultChip,
			LEDPins:    pins.LEDs[:],
			ButtonPins: pins.Buttons[:],
		},
		PWM:    PWM{Period: Duration(logic.DefaultPeriod)},
		HTTP:   HTTP{Addr: ":8080"},
		Device: Device{Socket: "/run/cadence-dimmer.sock"},
		MQTT: MQTT{
			ClientID:    "cadence-dimmer",
			TopicPrefix: "cadence/dimmer",
			Heartbeat:   Duration(15 * time.Minute),
		},
		Follow: Follow{Interval: Duration(500 * time.Millisecond)},
		Logging: logging.Config{
			Level:   "info",
			Format:  "text",
			Modules: map[string]string{},
		},
	}
}

// setting binds one scalar key to its environment variable and CLI flag.
type setting struct {
	key  string // TOML path, for messages
	env  string // without EnvPrefix
	flag string // empty if there is no flag
	set  func(c *Config, v string) error
}

var settings = []setting{
	{"gpio.backend", "GPIO_BACKEND", "gpio-backend", func(c *Config, v string) error { c.GPIO.Backend = v; return nil }},
	{"gpio.chip", "GPIO_CHIP", "gpio-chip", func(c *Config, v string) error { c.GPIO.Chip = v; return nil }},
	{"gpio.led_pins", "GPIO_LED_PINS", "", func(c *Config, v string) error { return setInts(&c.GPIO.LEDPins, v) }},
	{"gpio.button_pins", "GPIO_BUTTON_PINS", "", func(c *Config, v string) error { return setInts(&c.GPIO.ButtonPins, v) }},
	{"gpio.debounce", "GPIO_DEBOUNCE", "gpio-debounce", func(c *Config, v string) error { return c.GPIO.Debounce.UnmarshalText([]byte(v)) }},
	{"pwm.period", "PWM_PERIOD", "pwm-period", func(c *Config, v string) error { return c.PWM.Period.UnmarshalText([]byte(v)) }},
	{"http.addr", "HTTP_ADDR", "http-addr", func(c *Config, v string) error { c.HTTP.Addr = v; return nil }},
	{"device.socket", "DEVICE_SOCKET", "device-socket", func(c *Config, v string) error { c.Device.Socket = v; return nil }},
	{"mqtt.broker", "MQTT_BROKER", "mqtt-broker", func(c *Config, v string) error { c.MQTT.Broker = v; return nil }},
	{"mqtt.client_id", "MQTT_CLIENT_ID", "", func(c *Config, v string) error { c.MQTT.ClientID = v; return nil }},
	{"mqtt.topic_prefix", "MQTT_TOPIC_PREFIX", "mqtt-topic-prefix", func(c *Config, v string) error { c.MQTT.TopicPrefix = v; return nil }},
	{"mqtt.heartbeat", "MQTT_HEARTBEAT", "", func(c *Config, v string) error { return c.MQTT.Heartbeat.UnmarshalText([]byte(v)) }},
	{"follow.enabled", "FOLLOW_ENABLED", "follow", func(c *Config, v string) error { return setBool(&c.Follow.Enabled, v) }},
	{"follow.interval", "FOLLOW_INTERVAL", "", func(c *Config, v string) error { return c.Follow.Interval.UnmarshalText([]byte(v)) }},
	{"logging.level", "LOG_LEVEL", "log-level", func(c *Config, v string) error { c.Logging.Level = v; return nil }},
	{"logging.format", "LOG_FORMAT", "log-format", func(c *Config, v string) error { c.Logging.Format = v; return nil }},
}

// RegisterFlags adds the overridable settings to fs. Defaults shown in help
// are the built-in ones; only flags the user actually sets take effect.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("config", DefaultPath, "path to TOML config file")
	fs.String("gpio-backend", d.GPIO.Backend, "gpio backend: gpiocdev, periph or fake")
	fs.String("gpio-chip", d.GPIO.Chip, "gpio chip for the gpiocdev backend")
	fs.Duration("gpio-debounce", d.GPIO.Debounce.Std(), "button debounce period (0 disables)")
	fs.Duration("pwm-period", d.PWM.Period.Std(), "software PWM period")
	fs.String("http-addr", d.HTTP.Addr, "HTTP listen address (empty disables)")
	fs.String("device-socket", d.Device.Socket, "device socket path (empty disables)")
	fs.String("mqtt-broker", d.MQTT.Broker, "MQTT broker URL (empty disables)")
	fs.String("mqtt-topic-prefix", d.MQTT.TopicPrefix, "MQTT topic prefix")
	fs.Bool("follow", d.Follow.Enabled, "drive duties from button speed")
	fs.String("log-level", d.Logging.Level, "log level: debug, info, warn, error")
	fs.String("log-format", d.Logging.Format, "log format: text or json")
}

// Path returns the config file named by fs, or DefaultPath.
func Path(fs *pflag.FlagSet) string {
	if fs != nil {
		if f := fs.Lookup("config"); f != nil && f.Value.String() != "" {
			return f.Value.String()
		}
	}
	return DefaultPath
}

// Load builds the configuration from defaults, the TOML file at path, the
// environment and finally any flags changed in fs. A missing file is not an
// error. The result is validated.
func Load(path string, fs *pflag.FlagSet) (Config, error) {
	cfg, err := LoadFile(path)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.applyFlags(fs); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile decodes the TOML file at path over the defaults.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	for _, s := range settings {
		v, ok := lookup(EnvPrefix + s.env)
		if !ok || v == "" {
			continue
		}
		if err := s.set(c, v); err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, s.env, err)
		}
	}
	return nil
}

func (c *Config) applyFlags(fs *pflag.FlagSet) error {
	if fs == nil {
		return nil
	}
	for _, s := range settings {
		if s.flag == "" || !fs.Changed(s.flag) {
			continue
		}
		if err := s.set(c, fs.Lookup(s.flag).Value.String()); err != nil {
			return fmt.Errorf("--%s: %w", s.flag, err)
		}
	}
	return nil
}

// Validate rejects settings the daemon cannot start with.
func (c Config) Validate() error {
	var errs []error
	switch c.GPIO.Backend {
	case gpio.BackendGPIOCDev, gpio.BackendPeriph, gpio.BackendFake:
	default:
		errs = append(errs, fmt.Errorf("gpio.backend: unknown backend %q", c.GPIO.Backend))
	}
	if len(c.GPIO.LEDPins) != logic.Channels {
		errs = append(errs, fmt.Errorf("gpio.led_pins: got %d pins, want %d", len(c.GPIO.LEDPins), logic.Channels))
	}
	if len(c.GPIO.ButtonPins) != 2 {
		errs = append(errs, fmt.Errorf("gpio.button_pins: got %d pins, want 2", len(c.GPIO.ButtonPins)))
	}
	if c.GPIO.Debounce < 0 {
		errs = append(errs, fmt.Errorf("gpio.debounce: must not be negative"))
	}
	if c.PWM.Period <= 0 {
		errs = append(errs, fmt.Errorf("pwm.period: must be positive, got %s", c.PWM.Period.Std()))
	}
	if c.MQTT.Broker != "" && c.MQTT.Heartbeat <= 0 {
		errs = append(errs, fmt.Errorf("mqtt.heartbeat: must be positive"))
	}
	if c.Follow.Enabled && c.Follow.Interval <= 0 {
		errs = append(errs, fmt.Errorf("follow.interval: must be positive"))
	}
	if c.Logging.Level != "" && !logging.ValidLevel(c.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}
	if len(errs) == 0 {
		if err := c.Pins().Validate(); err != nil {
			errs = append(errs, fmt.Errorf("gpio: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Pins returns the wiring as gpio.Pins. Call only on a validated Config.
func (c Config) Pins() gpio.Pins {
	var p gpio.Pins
	copy(p.LEDs[:], c.GPIO.LEDPins)
	copy(p.Buttons[:], c.GPIO.ButtonPins)
	return p
}

// Hardware returns the gpio backend configuration.
func (c Config) Hardware() gpio.Config {
	return gpio.Config{
		Backend:  c.GPIO.Backend,
		Chip:     c.GPIO.Chip,
		Pins:     c.Pins(),
		Debounce: c.GPIO.Debounce.Std(),
	}
}

func setInts(dst *[]int, v string) error {
	parts := strings.Split(v, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return err
		}
		out = append(out, n)
	}
	*dst = out
	return nil
}

func setBool(dst *bool, v string) error {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return err
	}
	*dst = b
	return nil
}
