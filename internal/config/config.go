// Package config loads node settings from the environment.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ryandielhenn/lightmesh/pkg/beacon"
	"github.com/ryandielhenn/lightmesh/pkg/flood"
)

type Config struct {
	Flood flood.Config

	ListenAddr string
	Neighbors  []string
	Rank       uint16
	HTTPAddr   string
	PoolSize   int

	TriggerPeriod time.Duration
	BeaconPeriod  time.Duration
	SyncTimeout   time.Duration

	LightPath  string
	LightScale float64
	TxLEDPath  string
	RxLEDPath  string

	EtcdEndpoints []string
	MQTTBroker    string
	MQTTTopic     string
	NATSURL       string
	NATSSubject   string

	LogLevel string
	LogDev   bool
}

// FromEnv reads the process environment.
func FromEnv() (Config, error) {
	return Load(os.Getenv)
}

// Load builds a Config from getenv, applying defaults for unset keys. All
// malformed values are reported together.
func Load(getenv func(string) string) (Config, error) {
	e := &env{get: getenv}
	def := flood.DefaultConfig()

	var c Config
	addr := e.str("LIGHTMESH_ADDR", "")
	if addr == "" {
		e.errs = append(e.errs, errors.New("LIGHTMESH_ADDR is required"))
	} else if a, err := flood.ParseAddr(addr); err != nil {
		e.errs = append(e.errs, fmt.Errorf("LIGHTMESH_ADDR: %w", err))
	} else {
		c.Flood.Self = a
	}

	c.Flood.SensorID = e.u16("LIGHTMESH_SENSOR_ID", 0x0001)
	c.Flood.SinkID = e.u16("LIGHTMESH_SINK_ID", 0x0002)
	c.Flood.Threshold = e.u16("LUX_THRESHOLD", def.Threshold)
	c.Flood.Hysteresis = e.u16("LUX_HYSTERESIS", def.Hysteresis)
	burst := e.u16("LIGHT_BURSTSIZE", uint16(def.BurstSize))
	if burst > math.MaxUint8 {
		e.errs = append(e.errs, fmt.Errorf("LIGHT_BURSTSIZE=%d: at most %d", burst, math.MaxUint8))
	}
	c.Flood.BurstSize = uint8(min(burst, math.MaxUint8))
	c.Flood.BurstInterval = time.Duration(e.u16("LIGHT_SEND_PERIOD_MS", uint16(def.BurstInterval/time.Millisecond))) * time.Millisecond
	c.Flood.JitterMask = e.u16("LIGHT_JITTER_MASK", def.JitterMask)
	c.Flood.FakeSend = e.boolean("LIGHT_FAKESEND", false)
	c.Flood.FakeSendPeriod = e.dur("LIGHT_FAKESEND_PERIOD", def.FakeSendPeriod)
	c.Flood.PrintoutReading = e.boolean("LIGHT_PRINTOUT_READING", false)
	c.Flood.Debug = e.boolean("LIGHT_DEBUG", false)
	c.Flood.MeasureDelay = e.boolean("LIGHT_CALCULATE_DELAY", false)

	c.ListenAddr = e.str("LIGHTMESH_LISTEN", ":47000")
	c.Neighbors = e.list("LIGHTMESH_NEIGHBORS")
	c.Rank = e.u16("LIGHTMESH_RANK", 2*beacon.RankIncrease)
	c.HTTPAddr = e.str("LIGHTMESH_HTTP", ":8080")
	c.PoolSize = int(e.u16("LIGHTMESH_POOL_SIZE", 10))

	c.TriggerPeriod = e.dur("LIGHT_TRIGGER_PERIOD", 100*time.Millisecond)
	c.BeaconPeriod = e.dur("BEACON_PERIOD", time.Second)
	c.SyncTimeout = e.dur("SYNC_TIMEOUT", 5*time.Second)

	c.LightPath = e.str("LIGHT_SENSOR_PATH", "")
	c.LightScale = e.f64("LIGHT_SENSOR_SCALE", 1)
	c.TxLEDPath = e.str("TX_LED_PATH", "")
	c.RxLEDPath = e.str("RX_LED_PATH", "")

	c.EtcdEndpoints = e.list("ETCD_ENDPOINTS")
	c.MQTTBroker = e.str("MQTT_BROKER", "")
	c.MQTTTopic = e.str("MQTT_TOPIC", "lightmesh/sink/state")
	c.NATSURL = e.str("NATS_URL", "")
	c.NATSSubject = e.str("NATS_SUBJECT", "lightmesh.sink.state")

	c.LogLevel = e.str("LOG_LEVEL", "info")
	c.LogDev = e.boolean("LOG_DEV", false)

	if c.Flood.SensorID == c.Flood.SinkID {
		e.errs = append(e.errs, flood.ErrSameSourceAndSink)
	}
	if c.Flood.BurstSize == 0 {
		e.errs = append(e.errs, errors.New("LIGHT_BURSTSIZE must be at least 1"))
	}
	if c.Flood.BurstInterval <= 0 {
		e.errs = append(e.errs, errors.New("LIGHT_SEND_PERIOD_MS must be at least 1"))
	}
	if c.PoolSize == 0 {
		e.errs = append(e.errs, errors.New("LIGHTMESH_POOL_SIZE must be at least 1"))
	}
	return c, errors.Join(e.errs...)
}

type env struct {
	get  func(string) string
	errs []error
}

func (e *env) str(key, def string) string {
	if v := strings.TrimSpace(e.get(key)); v != "" {
		return v
	}
	return def
}

// u16 accepts decimal or 0x-prefixed hex.
func (e *env) u16(key string, def uint16) uint16 {
	v := strings.TrimSpace(e.get(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseUint(v, 0, 16)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s=%q: %w", key, v, err))
		return def
	}
	return uint16(n)
}

func (e *env) f64(key string, def float64) float64 {
	v := strings.TrimSpace(e.get(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s=%q: %w", key, v, err))
		return def
	}
	return f
}

func (e *env) dur(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(e.get(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s=%q: %w", key, v, err))
		return def
	}
	return d
}

func (e *env) boolean(key string, def bool) bool {
	v := strings.TrimSpace(e.get(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s=%q: %w", key, v, err))
		return def
	}
	return b
}

func (e *env) list(key string) []string {
	var out []string
	for _, s := range strings.Split(e.get(key), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
