// Package config loads daemon configuration from YAML with defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/debounced-pin/internal/debounce"
	"github.com/sweeney/debounced-pin/internal/gpio"
	"github.com/sweeney/debounced-pin/internal/logic"
)

// Config is the full daemon configuration.
type Config struct {
	GPIO   GPIOConfig   `yaml:"gpio"`
	MQTT   MQTTConfig   `yaml:"mqtt"`
	HTTP   HTTPConfig   `yaml:"http"`
	Logger LoggerConfig `yaml:"logger"`

	// Poll is the interval between debounce updates.
	Poll time.Duration `yaml:"poll"`
	// Heartbeat is the interval between heartbeat events; 0 disables them.
	Heartbeat time.Duration `yaml:"heartbeat"`
	// LongPress flags releases held at least this long; 0 disables.
	LongPress time.Duration `yaml:"long_press"`
}

// GPIOConfig selects the pins and how they are read.
type GPIOConfig struct {
	Backend   string `yaml:"backend"`
	PinButton int    `yaml:"pin_button"`
	PinLED    int    `yaml:"pin_led"`
	Polarity  string `yaml:"polarity"`
	Bias      string `yaml:"bias"`
	LEDMode   string `yaml:"led_mode"`
}

// MQTTConfig configures the event publisher.
type MQTTConfig struct {
	Broker     string `yaml:"broker"`
	ClientID   string `yaml:"client_id"`
	BufferSize int    `yaml:"buffer_size"`
}

// HTTPConfig configures the status server. An empty Addr disables it.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// LoggerConfig configures logrus.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		GPIO: GPIOConfig{
			Backend:   string(gpio.BackendGPIOCDev),
			PinButton: gpio.DefaultPinButton,
			PinLED:    gpio.DefaultPinLED,
			Polarity:  debounce.ActiveHigh.String(),
			Bias:      string(gpio.BiasPullDown),
			LEDMode:   string(logic.IndicatorFollow),
		},
		MQTT: MQTTConfig{
			Broker:     "tcp://192.168.1.200:1883",
			ClientID:   "button-sensor",
			BufferSize: 100,
		},
		HTTP:      HTTPConfig{Addr: ":80"},
		Logger:    LoggerConfig{Level: "info", Format: "text"},
		Poll:      time.Millisecond,
		Heartbeat: 15 * time.Minute,
		LongPress: time.Second,
	}
}

// Load reads the YAML file at path over the defaults and validates the result.
// A missing file is not an error; the defaults are used.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that every enumerated value parses and intervals are sane.
func (c *Config) Validate() error {
	if c.Poll <= 0 {
		return fmt.Errorf("config: poll must be positive, got %v", c.Poll)
	}
	if c.Heartbeat < 0 {
		return fmt.Errorf("config: heartbeat must not be negative, got %v", c.Heartbeat)
	}
	if c.LongPress < 0 {
		return fmt.Errorf("config: long_press must not be negative, got %v", c.LongPress)
	}
	if _, err := debounce.ParsePolarity(c.GPIO.Polarity); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := gpio.ParseBias(c.GPIO.Bias); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := gpio.ParseBackend(c.GPIO.Backend); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := logic.ParseIndicatorMode(c.GPIO.LEDMode); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.GPIO.PinButton < 0 || c.GPIO.PinLED < 0 {
		return errors.New("config: pin numbers must not be negative")
	}
	if c.GPIO.LEDMode != string(logic.IndicatorOff) && c.GPIO.PinLED == c.GPIO.PinButton {
		return fmt.Errorf("config: button and led share pin %d", c.GPIO.PinButton)
	}
	if c.MQTT.Broker == "" {
		return errors.New("config: mqtt broker required")
	}
	return nil
}

// Polarity returns the parsed button polarity. Call after Validate.
func (c *Config) Polarity() debounce.Polarity {
	p, _ := debounce.ParsePolarity(c.GPIO.Polarity)
	return p
}

// Bias returns the parsed input bias. Call after Validate.
func (c *Config) Bias() gpio.Bias {
	b, _ := gpio.ParseBias(c.GPIO.Bias)
	return b
}

// Backend returns the parsed GPIO backend. Call after Validate.
func (c *Config) Backend() gpio.Backend {
	b, _ := gpio.ParseBackend(c.GPIO.Backend)
	return b
}

// LEDMode returns the parsed indicator mode. Call after Validate.
func (c *Config) LEDMode() logic.IndicatorMode {
	m, _ := logic.ParseIndicatorMode(c.GPIO.LEDMode)
	return m
}
