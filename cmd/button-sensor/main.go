// Command button-sensor debounces a push button on a GPIO input and publishes
// press and release events to MQTT.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sweeney/debounced-pin/internal/config"
	"github.com/sweeney/debounced-pin/internal/debounce"
	"github.com/sweeney/debounced-pin/internal/gpio"
	"github.com/sweeney/debounced-pin/internal/logic"
	"github.com/sweeney/debounced-pin/internal/mqtt"
	"github.com/sweeney/debounced-pin/internal/status"
	"github.com/sweeney/debounced-pin/internal/web"
)

func main() {
	cfg, printState, err := loadConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		logrus.Fatalf("fatal: %v", err)
	}

	log, err := newLogger(cfg.Logger)
	if err != nil {
		logrus.Fatalf("fatal: %v", err)
	}

	if err := run(cfg, printState, log); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

// loadConfig parses flags, loads the config file they name and applies any
// flags set explicitly on the command line over the file's values.
func loadConfig(fs *flag.FlagSet, args []string) (*config.Config, bool, error) {
	fc := config.Defaults()

	configPath := fs.String("config", "", "YAML config file (missing file uses defaults)")
	printState := fs.Bool("print-state", false, "Print the raw button level and exit")
	fs.DurationVar(&fc.Poll, "poll", fc.Poll, "Debounce update interval")
	fs.StringVar(&fc.GPIO.Polarity, "polarity", fc.GPIO.Polarity, "Button polarity (high|low)")
	fs.IntVar(&fc.GPIO.PinButton, "pin-button", fc.GPIO.PinButton, "BCM pin number for the button")
	fs.IntVar(&fc.GPIO.PinLED, "pin-led", fc.GPIO.PinLED, "BCM pin number for the indicator LED")
	fs.StringVar(&fc.GPIO.Bias, "bias", fc.GPIO.Bias, "Button input bias (pull-up|pull-down|none)")
	fs.StringVar(&fc.GPIO.Backend, "backend", fc.GPIO.Backend, "GPIO backend (gpiocdev|periph)")
	fs.StringVar(&fc.GPIO.LEDMode, "led-mode", fc.GPIO.LEDMode, "Indicator LED mode (follow|toggle|off)")
	fs.StringVar(&fc.MQTT.Broker, "broker", fc.MQTT.Broker, "MQTT broker address")
	fs.DurationVar(&fc.Heartbeat, "heartbeat", fc.Heartbeat, "Heartbeat interval (0 to disable)")
	fs.DurationVar(&fc.LongPress, "long-press", fc.LongPress, "Hold time reported as a long press (0 to disable)")
	fs.StringVar(&fc.HTTP.Addr, "http", fc.HTTP.Addr, "HTTP status address (empty to disable)")
	fs.StringVar(&fc.Logger.Level, "log-level", fc.Logger.Level, "Log level (debug|info|warn|error)")
	fs.StringVar(&fc.Logger.Format, "log-format", fc.Logger.Format, "Log format (text|json)")

	if err := fs.Parse(args); err != nil {
		return nil, false, err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, false, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "poll":
			cfg.Poll = fc.Poll
		case "polarity":
			cfg.GPIO.Polarity = fc.GPIO.Polarity
		case "pin-button":
			cfg.GPIO.PinButton = fc.GPIO.PinButton
		case "pin-led":
			cfg.GPIO.PinLED = fc.GPIO.PinLED
		case "bias":
			cfg.GPIO.Bias = fc.GPIO.Bias
		case "backend":
			cfg.GPIO.Backend = fc.GPIO.Backend
		case "led-mode":
			cfg.GPIO.LEDMode = fc.GPIO.LEDMode
		case "broker":
			cfg.MQTT.Broker = fc.MQTT.Broker
		case "heartbeat":
			cfg.Heartbeat = fc.Heartbeat
		case "long-press":
			cfg.LongPress = fc.LongPress
		case "http":
			cfg.HTTP.Addr = fc.HTTP.Addr
		case "log-level":
			cfg.Logger.Level = fc.Logger.Level
		case "log-format":
			cfg.Logger.Format = fc.Logger.Format
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, false, err
	}
	return cfg, *printState, nil
}

func newLogger(c config.LoggerConfig) (*logrus.Logger, error) {
	log := logrus.New()

	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	log.SetLevel(level)

	switch c.Format {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("unknown log format %q", c.Format)
	}
	return log, nil
}

func run(cfg *config.Config, printState bool, log *logrus.Logger) error {
	pin, err := gpio.OpenInput(cfg.Backend(), cfg.GPIO.PinButton, cfg.Bias())
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer pin.Close()

	if printState {
		return printPinState(os.Stdout, pin, cfg.Polarity())
	}

	var led gpio.Output
	if cfg.LEDMode() != logic.IndicatorOff {
		out, err := gpio.OpenOutput(cfg.Backend(), cfg.GPIO.PinLED)
		if err != nil {
			return fmt.Errorf("init led: %w", err)
		}
		defer out.Close()
		led = out
	}

	publisher, err := mqtt.NewRealPublisher(mqtt.Options{
		Broker:     cfg.MQTT.Broker,
		ClientID:   cfg.MQTT.ClientID,
		BufferSize: cfg.MQTT.BufferSize,
		Logger:     log,
	})
	if err != nil {
		return fmt.Errorf("init mqtt: %w", err)
	}
	defer publisher.Close()

	// Tracker exists before STARTUP so the snapshot is available.
	tracker := status.NewTracker(time.Now(), status.Config{
		PollUs:      cfg.Poll.Microseconds(),
		Polarity:    cfg.Polarity().String(),
		Backend:     string(cfg.Backend()),
		PinButton:   cfg.GPIO.PinButton,
		PinLED:      cfg.GPIO.PinLED,
		LEDMode:     string(cfg.LEDMode()),
		HeartbeatMs: cfg.Heartbeat.Milliseconds(),
		Broker:      cfg.MQTT.Broker,
		HTTPAddr:    cfg.HTTP.Addr,
	})
	if info := readNetworkInfo(); info != nil {
		tracker.SetNetwork(info)
	}
	tracker.SetMQTTConnected(publisher.IsConnected())

	snap := tracker.Snapshot()
	startup := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startup); err != nil {
		log.WithError(err).Warn("mqtt: failed to publish startup event")
	} else {
		log.Info("mqtt: published startup event")
	}

	if cfg.HTTP.Addr != "" {
		ln, err := net.Listen("tcp", cfg.HTTP.Addr)
		if err != nil {
			return fmt.Errorf("http listen: %w", err)
		}
		srv := web.New(cfg.HTTP.Addr, tracker)
		go func() {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("http: server error")
			}
		}()
		defer srv.Shutdown(context.Background())
		log.WithField("addr", cfg.HTTP.Addr).Info("http: status server listening")
	}

	log.WithFields(logrus.Fields{
		"poll":      cfg.Poll,
		"polarity":  cfg.Polarity(),
		"pin":       cfg.GPIO.PinButton,
		"backend":   cfg.Backend(),
		"led_mode":  cfg.LEDMode(),
		"broker":    cfg.MQTT.Broker,
		"heartbeat": cfg.Heartbeat,
	}).Info("started")

	ticker := time.NewTicker(cfg.Poll)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	d := debounce.New(pin, cfg.Polarity())
	return runLoop(loop{
		debouncer:  d,
		led:        led,
		indicator:  logic.NewIndicator(cfg.LEDMode()),
		publisher:  publisher,
		mqttStatus: publisher,
		tracker:    tracker,
		longPress:  cfg.LongPress,
		heartbeat:  cfg.Heartbeat,
		now:        time.Now,
		log:        log,
	}, ticker.C, sigCh)
}

// loop holds the collaborators driven by runLoop. led and tracker may be nil.
type loop struct {
	debouncer  debounce.Debouncer
	led        gpio.Output
	indicator  *logic.Indicator
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus
	tracker    *status.Tracker
	longPress  time.Duration
	heartbeat  time.Duration
	now        func() time.Time
	log        logrus.FieldLogger
}

func runLoop(l loop, tick <-chan time.Time, sig <-chan os.Signal) error {
	detector := logic.NewDetector(l.longPress, l.now())

	for {
		select {
		case s := <-sig:
			l.shutdown(s)
			return nil

		case <-tick:
			t := l.now()
			state, err := l.debouncer.Update()
			if err != nil {
				l.log.WithError(err).Warn("gpio: read error")
				if l.tracker != nil {
					l.tracker.AddReadError()
				}
				continue
			}

			for _, event := range detector.Process(logic.Input{State: state, Time: t}) {
				entry := l.log.WithFields(logrus.Fields{"event": event.Type, "state": event.State})
				if event.Type == logic.EventReleased {
					entry = entry.WithFields(logrus.Fields{"held": event.Held, "long": event.Long})
				}
				entry.Info("button: event")
				if err := l.publisher.Publish(event); err != nil {
					l.log.WithError(err).Warn("mqtt: publish error")
				}
			}

			l.driveLED(state)

			if hb := detector.CheckHeartbeat(t, l.heartbeat); hb != nil {
				l.heartbeatEvent(detector, hb)
			}

			l.updateTracker(detector)
		}
	}
}

func (l loop) driveLED(state debounce.State) {
	if l.led == nil || l.indicator == nil || l.indicator.Mode() == logic.IndicatorOff {
		return
	}
	level, changed := l.indicator.Next(state)
	if !changed {
		return
	}
	if err := l.led.Set(level); err != nil {
		l.log.WithError(err).Warn("gpio: led write error")
		return
	}
	if l.tracker != nil {
		l.tracker.SetLED(level)
	}
}

func (l loop) heartbeatEvent(detector *logic.Detector, hb *logic.HeartbeatData) {
	l.log.WithFields(logrus.Fields{
		"uptime":       hb.Uptime,
		"pressed":      hb.Counts.Pressed,
		"released":     hb.Counts.Released,
		"long_presses": hb.Counts.LongPresses,
	}).Info("heartbeat")

	// The poll loop must not stall on a slow broker ack.
	event := mqtt.SystemEvent{
		Timestamp: hb.Timestamp,
		Event:     "HEARTBEAT",
		NoWait:    true,
	}
	if l.tracker != nil {
		// Refresh network info for heartbeat
		if info := readNetworkInfo(); info != nil {
			l.tracker.SetNetwork(info)
		}
		l.updateTracker(detector)
		event.RawPayload = status.FormatStatusEvent(l.tracker.Snapshot(), "HEARTBEAT", "")
	}
	if err := l.publisher.PublishSystem(event); err != nil {
		l.log.WithError(err).Warn("mqtt: heartbeat publish error")
	}
}

func (l loop) updateTracker(detector *logic.Detector) {
	if l.tracker == nil {
		return
	}
	l.tracker.Update(detector.CurrentState(), detector.IsPressed(), detector.IsReady(), detector.Counts())
	if l.mqttStatus != nil {
		l.tracker.SetMQTTConnected(l.mqttStatus.IsConnected())
	}
}

func (l loop) shutdown(s os.Signal) {
	l.log.WithField("signal", s).Info("shutting down")
	name := signalName(s)
	event := mqtt.SystemEvent{
		Timestamp: l.now(),
		Event:     "SHUTDOWN",
		Reason:    name,
		Retained:  true,
	}
	if l.tracker != nil {
		if l.mqttStatus != nil {
			l.tracker.SetMQTTConnected(l.mqttStatus.IsConnected())
		}
		event.RawPayload = status.FormatStatusEvent(l.tracker.Snapshot(), "SHUTDOWN", name)
	}
	if err := l.publisher.PublishSystem(event); err != nil {
		l.log.WithError(err).Warn("mqtt: failed to publish shutdown event")
	} else {
		l.log.Info("mqtt: published shutdown event")
	}

	if l.led != nil && l.indicator != nil && l.indicator.Level() {
		if err := l.led.Set(false); err != nil {
			l.log.WithError(err).Warn("gpio: led write error")
		} else if l.tracker != nil {
			l.tracker.SetLED(false)
		}
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

// printPinState reads the raw pin once and reports its level and whether
// that level counts as pressed for the given polarity.
func printPinState(w io.Writer, pin debounce.InputPin, polarity debounce.Polarity) error {
	high, err := pin.IsHigh()
	if err != nil {
		return fmt.Errorf("read gpio: %w", err)
	}
	asserted := high == (polarity == debounce.ActiveHigh)
	_, err = fmt.Fprintf(w, "Button: %s (active-%s, %s)\n", levelString(high), polarity, pressedString(asserted))
	return err
}

func levelString(high bool) string {
	if high {
		return "HIGH"
	}
	return "LOW"
}

func pressedString(asserted bool) string {
	if asserted {
		return "pressed"
	}
	return "released"
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
