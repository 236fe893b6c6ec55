package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"io"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/debounced-pin/internal/config"
	"github.com/sweeney/debounced-pin/internal/debounce"
	"github.com/sweeney/debounced-pin/internal/gpio"
	"github.com/sweeney/debounced-pin/internal/logic"
	"github.com/sweeney/debounced-pin/internal/mqtt"
	"github.com/sweeney/debounced-pin/internal/status"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// TestEnvVarNames verifies the env var constants match what pi-helper writes
// to /run/pi-helper.env. If pi-helper changes its var names, this test fails
// and we update the constants, not the other way around.
func TestEnvVarNames(t *testing.T) {
	want := map[string]string{
		"NETWORK_TYPE":        envNetworkType,
		"NETWORK_IP":          envNetworkIP,
		"NETWORK_STATUS":      envNetworkStatus,
		"NETWORK_GATEWAY":     envNetworkGateway,
		"NETWORK_WIFI_STATUS": envNetworkWifiStatus,
		"NETWORK_WIFI_SSID":   envNetworkWifiSSID,
	}
	for canonical, got := range want {
		assert.Equal(t, canonical, got)
	}
}

func TestReadNetworkInfoAllSet(t *testing.T) {
	t.Setenv(envNetworkType, "wifi")
	t.Setenv(envNetworkIP, "192.168.1.100")
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkGateway, "192.168.1.1")
	t.Setenv(envNetworkWifiStatus, "connected")
	t.Setenv(envNetworkWifiSSID, "MyNetwork")

	info := readNetworkInfo()
	require.NotNil(t, info)
	assert.Equal(t, &status.NetworkInfo{
		Type:       "wifi",
		IP:         "192.168.1.100",
		Status:     "connected",
		Gateway:    "192.168.1.1",
		WifiStatus: "connected",
		SSID:       "MyNetwork",
	}, info)
}

func TestReadNetworkInfoNoneSet(t *testing.T) {
	t.Setenv(envNetworkStatus, "")
	assert.Nil(t, readNetworkInfo())
}

func TestReadNetworkInfoPartial(t *testing.T) {
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkIP, "")

	info := readNetworkInfo()
	require.NotNil(t, info)
	assert.Equal(t, "connected", info.Status)
	assert.Empty(t, info.IP)
}

// --- runLoop tests ---

// fakeClock returns a function that yields start, start+step, start+2*step, ...
// on successive calls. Not safe for concurrent use.
func fakeClock(start time.Time, step time.Duration) func() time.Time {
	n := 0
	return func() time.Time {
		t := start.Add(time.Duration(n) * step)
		n++
		return t
	}
}

// levels builds a level script from (level, count) runs.
func levels(runs ...interface{}) []bool {
	var out []bool
	for i := 0; i+1 < len(runs); i += 2 {
		level := runs[i].(bool)
		for n := 0; n < runs[i+1].(int); n++ {
			out = append(out, level)
		}
	}
	return out
}

// faultPin wraps a FakePin and fails reads in [faultStart, faultEnd).
type faultPin struct {
	inner      *gpio.FakePin
	call       int
	faultStart int
	faultEnd   int
}

func (p *faultPin) read(f func() (bool, error)) (bool, error) {
	i := p.call
	p.call++
	if i >= p.faultStart && i < p.faultEnd {
		return false, errors.New("gpio fault")
	}
	return f()
}

func (p *faultPin) IsHigh() (bool, error) { return p.read(p.inner.IsHigh) }
func (p *faultPin) IsLow() (bool, error)  { return p.read(p.inner.IsLow) }

type harness struct {
	pub     *mqtt.FakePublisher
	led     *gpio.FakeOutput
	tracker *status.Tracker
	hook    *test.Hook
	loop    loop
}

func newHarness(pin debounce.InputPin, polarity debounce.Polarity, mode logic.IndicatorMode) *harness {
	log, hook := test.NewNullLogger()
	h := &harness{
		pub:     mqtt.NewFakePublisher(),
		led:     gpio.NewFakeOutput(),
		tracker: status.NewTracker(t0, status.Config{Polarity: polarity.String()}),
		hook:    hook,
	}
	h.loop = loop{
		debouncer:  debounce.New(pin, polarity),
		led:        h.led,
		indicator:  logic.NewIndicator(mode),
		publisher:  h.pub,
		mqttStatus: h.pub,
		tracker:    h.tracker,
		now:        fakeClock(t0, time.Millisecond),
		log:        log,
	}
	return h
}

// run drives runLoop for nTicks ticks and then delivers signal.
func (h *harness) run(t *testing.T, nTicks int, signal os.Signal) {
	t.Helper()
	tick := make(chan time.Time)
	sig := make(chan os.Signal, 1)

	errCh := make(chan error, 1)
	go func() {
		errCh <- runLoop(h.loop, tick, sig)
	}()

	for i := 0; i < nTicks; i++ {
		tick <- time.Time{}
	}
	sig <- signal

	require.NoError(t, <-errCh)
}

func TestRunLoopNoEventsWhileReleased(t *testing.T) {
	h := newHarness(gpio.NewFakePin(levels(false, 50)), debounce.ActiveHigh, logic.IndicatorOff)
	h.run(t, 50, syscall.SIGTERM)

	assert.Empty(t, h.pub.Events)
	require.Len(t, h.pub.SystemEvents, 1)
	assert.Equal(t, "SHUTDOWN", h.pub.SystemEvents[0].Event)
}

func TestRunLoopPressAndRelease(t *testing.T) {
	script := levels(false, 3, true, 15, false, 2)
	h := newHarness(gpio.NewFakePin(script), debounce.ActiveHigh, logic.IndicatorOff)
	h.run(t, len(script), syscall.SIGTERM)

	require.Len(t, h.pub.Events, 2)

	press := h.pub.Events[0]
	assert.Equal(t, logic.EventPressed, press.Type)
	assert.Equal(t, debounce.StateActive, press.State)
	// Tick i is stamped t0+(i+1)ms; the 10th high sample is tick 12.
	assert.True(t, press.Timestamp.Equal(t0.Add(13*time.Millisecond)), "press at %v", press.Timestamp)

	release := h.pub.Events[1]
	assert.Equal(t, logic.EventReleased, release.Type)
	assert.Equal(t, debounce.StateReset, release.State)
	assert.Equal(t, 6*time.Millisecond, release.Held)

	var payload mqtt.Payload
	require.NoError(t, json.Unmarshal(h.pub.Payloads[1], &payload))
	assert.Equal(t, "RELEASED", payload.Button.Event)
	assert.Equal(t, "RESET", payload.Button.State)
	assert.Equal(t, int64(6), payload.Button.HeldMs)
}

func TestRunLoopActiveLow(t *testing.T) {
	script := levels(true, 2, false, 10, true, 1)
	h := newHarness(gpio.NewFakePin(script), debounce.ActiveLow, logic.IndicatorOff)
	h.run(t, len(script), syscall.SIGTERM)

	require.Len(t, h.pub.Events, 2)
	assert.Equal(t, logic.EventPressed, h.pub.Events[0].Type)
	assert.Equal(t, logic.EventReleased, h.pub.Events[1].Type)
}

func TestRunLoopBounceRejection(t *testing.T) {
	// Runs of up to nine asserted samples never reach the threshold.
	script := levels(true, 5, false, 1, true, 9, false, 1, true, 3, false, 5)
	h := newHarness(gpio.NewFakePin(script), debounce.ActiveHigh, logic.IndicatorFollow)
	h.run(t, len(script), syscall.SIGTERM)

	assert.Empty(t, h.pub.Events)
	assert.Equal(t, logic.EventCounts{}, h.tracker.Snapshot().Counts)
	assert.Equal(t, []bool{false}, h.led.Levels, "initial drive only; an unlit LED is left alone at shutdown")
}

func TestRunLoopReadError(t *testing.T) {
	// Four good reads, three faults, then the button stays down.
	pin := &faultPin{inner: gpio.NewFakePin([]bool{true}), faultStart: 4, faultEnd: 7}
	h := newHarness(pin, debounce.ActiveHigh, logic.IndicatorOff)
	h.run(t, 4+3+6, syscall.SIGTERM)

	snap := h.tracker.Snapshot()
	assert.Equal(t, 3, snap.ReadErrors)

	// The count carried across the faults: 4 + 6 asserted samples reach the threshold.
	require.Len(t, h.pub.Events, 1)
	assert.Equal(t, logic.EventPressed, h.pub.Events[0].Type)
	assert.Equal(t, debounce.StateActive, snap.State)

	var warnings int
	for _, e := range h.hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Message == "gpio: read error" {
			warnings++
		}
	}
	assert.Equal(t, 3, warnings)
}

func TestRunLoopPublishError(t *testing.T) {
	script := levels(true, 12, false, 1)
	h := newHarness(gpio.NewFakePin(script), debounce.ActiveHigh, logic.IndicatorOff)
	h.pub.PublishError = errors.New("broker down")
	h.run(t, len(script), syscall.SIGTERM)

	assert.Empty(t, h.pub.Events)
	// Detection continues regardless of publish failures.
	assert.Equal(t, logic.EventCounts{Pressed: 1, Released: 1}, h.tracker.Snapshot().Counts)
	require.Len(t, h.pub.SystemEvents, 1)
	assert.Equal(t, "SHUTDOWN", h.pub.SystemEvents[0].Event)
}

func TestRunLoopLEDFollow(t *testing.T) {
	script := levels(false, 2, true, 12, false, 2)
	h := newHarness(gpio.NewFakePin(script), debounce.ActiveHigh, logic.IndicatorFollow)
	h.run(t, len(script), syscall.SIGTERM)

	// Initial drive, on at Active, off at Reset.
	assert.Equal(t, []bool{false, true, false}, h.led.Levels)
	assert.False(t, h.tracker.Snapshot().LED)
}

func TestRunLoopLEDToggle(t *testing.T) {
	script := levels(true, 10, false, 3, true, 10, false, 3, true, 10)
	h := newHarness(gpio.NewFakePin(script), debounce.ActiveHigh, logic.IndicatorToggle)
	h.run(t, len(script), syscall.SIGTERM)

	require.Len(t, h.pub.Events, 5)
	// Initial drive, three presses, then shutdown turns the lit LED off.
	assert.Equal(t, []bool{false, true, false, true, false}, h.led.Levels)
	assert.False(t, h.tracker.Snapshot().LED, "shutdown switches the lit LED off")
}

func TestRunLoopLEDOffModeNeverDrives(t *testing.T) {
	script := levels(true, 12, false, 1, true, 12)
	h := newHarness(gpio.NewFakePin(script), debounce.ActiveHigh, logic.IndicatorOff)
	h.run(t, len(script), syscall.SIGTERM)

	require.Len(t, h.pub.Events, 3)
	assert.Empty(t, h.led.Levels)
}

func TestRunLoopLEDWriteError(t *testing.T) {
	script := levels(true, 12)
	h := newHarness(gpio.NewFakePin(script), debounce.ActiveHigh, logic.IndicatorFollow)
	h.led.SetError = errors.New("line busy")
	h.run(t, len(script), syscall.SIGTERM)

	require.Len(t, h.pub.Events, 1)
	assert.False(t, h.tracker.Snapshot().LED)
}

func TestRunLoopHeartbeat(t *testing.T) {
	h := newHarness(gpio.NewFakePin(levels(false, 1)), debounce.ActiveHigh, logic.IndicatorOff)
	h.loop.heartbeat = 5 * time.Millisecond
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkIP, "10.0.0.7")
	h.run(t, 12, syscall.SIGTERM)

	// Detector starts at t0; ticks land at 1ms..12ms, so heartbeats at 5ms and 10ms.
	require.Len(t, h.pub.SystemEvents, 3)
	for _, e := range h.pub.SystemEvents[:2] {
		assert.Equal(t, "HEARTBEAT", e.Event)
		assert.True(t, e.NoWait, "heartbeats must not block the poll loop")
		require.NotNil(t, e.RawPayload)

		var raw map[string]map[string]interface{}
		require.NoError(t, json.Unmarshal(e.RawPayload, &raw))
		assert.Equal(t, "HEARTBEAT", raw["status"]["event"])
		network, ok := raw["status"]["network"].(map[string]interface{})
		require.True(t, ok, "heartbeat carries network info")
		assert.Equal(t, "10.0.0.7", network["ip"])
	}
	assert.True(t, h.pub.SystemEvents[0].Timestamp.Equal(t0.Add(5*time.Millisecond)))
	assert.True(t, h.pub.SystemEvents[1].Timestamp.Equal(t0.Add(10*time.Millisecond)))
	assert.Equal(t, "SHUTDOWN", h.pub.SystemEvents[2].Event)
}

func TestRunLoopHeartbeatDisabled(t *testing.T) {
	h := newHarness(gpio.NewFakePin(levels(false, 1)), debounce.ActiveHigh, logic.IndicatorOff)
	h.run(t, 100, syscall.SIGTERM)

	require.Len(t, h.pub.SystemEvents, 1)
	assert.Equal(t, "SHUTDOWN", h.pub.SystemEvents[0].Event)
}

func TestRunLoopShutdown(t *testing.T) {
	for _, tc := range []struct {
		signal os.Signal
		reason string
	}{
		{syscall.SIGINT, "SIGINT"},
		{syscall.SIGTERM, "SIGTERM"},
		{syscall.SIGHUP, "UNKNOWN"},
	} {
		t.Run(tc.reason, func(t *testing.T) {
			h := newHarness(gpio.NewFakePin(levels(true, 20)), debounce.ActiveHigh, logic.IndicatorOff)
			h.pub.Connected = true
			h.run(t, 20, tc.signal)

			require.Len(t, h.pub.SystemEvents, 1)
			e := h.pub.SystemEvents[0]
			assert.Equal(t, "SHUTDOWN", e.Event)
			assert.Equal(t, tc.reason, e.Reason)
			assert.True(t, e.Retained)

			var raw map[string]map[string]interface{}
			require.NoError(t, json.Unmarshal(e.RawPayload, &raw))
			inner := raw["status"]
			assert.Equal(t, tc.reason, inner["reason"])
			assert.Equal(t, "ACTIVE", inner["state"])
			assert.Equal(t, true, inner["pressed"])
		})
	}
}

func TestRunLoopTracksState(t *testing.T) {
	script := levels(true, 10, false, 1, true, 30)
	h := newHarness(gpio.NewFakePin(script), debounce.ActiveHigh, logic.IndicatorOff)
	h.pub.Connected = true
	h.loop.longPress = 20 * time.Millisecond
	h.run(t, len(script), syscall.SIGTERM)

	snap := h.tracker.Snapshot()
	assert.True(t, snap.Ready)
	assert.True(t, snap.Pressed)
	assert.Equal(t, debounce.StateActive, snap.State)
	assert.True(t, snap.MQTTConnected)
	assert.Equal(t, logic.EventCounts{Pressed: 2, Released: 1}, snap.Counts)
}

func TestRunLoopWithoutTracker(t *testing.T) {
	script := levels(true, 12, false, 1)
	h := newHarness(gpio.NewFakePin(script), debounce.ActiveHigh, logic.IndicatorFollow)
	h.loop.tracker = nil
	h.loop.heartbeat = time.Millisecond
	h.run(t, len(script), syscall.SIGINT)

	require.Len(t, h.pub.Events, 2)
	last := h.pub.SystemEvents[len(h.pub.SystemEvents)-1]
	assert.Equal(t, "SHUTDOWN", last.Event)
	assert.Nil(t, last.RawPayload)
}

// --- flags and config ---

func newFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("button-sensor", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, printState, err := loadConfig(newFlagSet(), nil)
	require.NoError(t, err)
	assert.False(t, printState)
	assert.Equal(t, time.Millisecond, cfg.Poll)
	assert.Equal(t, debounce.ActiveHigh, cfg.Polarity())
	assert.Equal(t, gpio.DefaultPinButton, cfg.GPIO.PinButton)
}

func TestLoadConfigFlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "button.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
poll: 5ms
gpio:
  polarity: low
  pin_button: 4
  bias: pull-up
mqtt:
  broker: tcp://file:1883
`), 0600))

	cfg, printState, err := loadConfig(newFlagSet(), []string{
		"-config", path,
		"-broker", "tcp://flag:1883",
		"-led-mode", "toggle",
		"-print-state",
	})
	require.NoError(t, err)
	assert.True(t, printState)

	// From the file.
	assert.Equal(t, 5*time.Millisecond, cfg.Poll)
	assert.Equal(t, debounce.ActiveLow, cfg.Polarity())
	assert.Equal(t, 4, cfg.GPIO.PinButton)
	assert.Equal(t, gpio.BiasPullUp, cfg.Bias())

	// From flags.
	assert.Equal(t, "tcp://flag:1883", cfg.MQTT.Broker)
	assert.Equal(t, logic.IndicatorToggle, cfg.LEDMode())
}

func TestLoadConfigInvalidFlag(t *testing.T) {
	_, _, err := loadConfig(newFlagSet(), []string{"-polarity", "sideways"})
	assert.ErrorContains(t, err, "polarity")

	_, _, err = loadConfig(newFlagSet(), []string{"-poll", "0s"})
	assert.Error(t, err)

	_, _, err = loadConfig(newFlagSet(), []string{"-no-such-flag"})
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	log, err := newLogger(config.LoggerConfig{Level: "debug", Format: "json"})
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, log.Formatter)

	log, err = newLogger(config.LoggerConfig{Level: "warn", Format: "text"})
	require.NoError(t, err)
	assert.Equal(t, logrus.WarnLevel, log.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, log.Formatter)

	_, err = newLogger(config.LoggerConfig{Level: "loud", Format: "text"})
	assert.Error(t, err)

	_, err = newLogger(config.LoggerConfig{Level: "info", Format: "xml"})
	assert.Error(t, err)
}

func TestPrintPinState(t *testing.T) {
	for _, tc := range []struct {
		high     bool
		polarity debounce.Polarity
		want     string
	}{
		{true, debounce.ActiveHigh, "Button: HIGH (active-high, pressed)\n"},
		{false, debounce.ActiveHigh, "Button: LOW (active-high, released)\n"},
		{true, debounce.ActiveLow, "Button: HIGH (active-low, released)\n"},
		{false, debounce.ActiveLow, "Button: LOW (active-low, pressed)\n"},
	} {
		var buf bytes.Buffer
		require.NoError(t, printPinState(&buf, gpio.NewFakePin([]bool{tc.high}), tc.polarity))
		assert.Equal(t, tc.want, buf.String())
	}
}

func TestPrintPinStateReadError(t *testing.T) {
	pin := gpio.NewFakePin(nil)
	var buf bytes.Buffer
	err := printPinState(&buf, pin, debounce.ActiveHigh)
	assert.ErrorContains(t, err, "read gpio")
	assert.Empty(t, buf.String())
}
