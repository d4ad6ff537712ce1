package lib

import (
	"log"
	"time"

	"github.com/Clouded-Sabre/tcpcore/config"
)

// ListenerConfig holds the tunables of a Listener and the connections it accepts.
type ListenerConfig struct {
	MSS                  int           // largest payload carried by one outbound segment
	WindowSize           uint16        // advertised receive window
	RetransmitInterval   time.Duration // delay before the oldest unacknowledged segment is resent
	PayloadPoolSize      int           // number of MSS-sized chunks in the payload ring pool
	Debug                bool          // per-segment trace logging
	PoolDebug            bool          // ring pool footprint tracking
	ProcessTimeThreshold time.Duration // ring pool chunk holding time warning threshold
	Logger               *log.Logger
	Clock                Clock
}

func DefaultListenerConfig() *ListenerConfig {
	return &ListenerConfig{
		MSS:                  DefaultMSS,
		WindowSize:           DefaultWindowSize,
		RetransmitInterval:   DefaultRetransmitInterval,
		PayloadPoolSize:      DefaultPayloadPoolSize,
		ProcessTimeThreshold: 10 * time.Millisecond,
		Logger:               log.Default(),
		Clock:                systemClock{},
	}
}

// NewListenerConfig converts the application configuration into a ListenerConfig.
func NewListenerConfig(appConfig *config.Config) *ListenerConfig {
	c := DefaultListenerConfig()
	if appConfig.MSS > 0 {
		c.MSS = appConfig.MSS
	}
	if appConfig.WindowSize > 0 {
		c.WindowSize = uint16(appConfig.WindowSize)
	}
	if appConfig.RetransmitIntervalMs > 0 {
		c.RetransmitInterval = time.Duration(appConfig.RetransmitIntervalMs) * time.Millisecond
	}
	if appConfig.PayloadPoolSize > 0 {
		c.PayloadPoolSize = appConfig.PayloadPoolSize
	}
	if appConfig.ProcessTimeThresholdMs > 0 {
		c.ProcessTimeThreshold = time.Duration(appConfig.ProcessTimeThresholdMs) * time.Millisecond
	}
	c.Debug = appConfig.Debug
	c.PoolDebug = appConfig.PoolDebug
	return c
}

// withDefaults returns a copy of c with unset fields filled in.
func (c *ListenerConfig) withDefaults() *ListenerConfig {
	d := DefaultListenerConfig()
	if c == nil {
		return d
	}
	out := *c
	if out.MSS <= 0 {
		out.MSS = d.MSS
	}
	if out.WindowSize == 0 {
		out.WindowSize = d.WindowSize
	}
	if out.RetransmitInterval <= 0 {
		out.RetransmitInterval = d.RetransmitInterval
	}
	if out.PayloadPoolSize <= 0 {
		out.PayloadPoolSize = d.PayloadPoolSize
	}
	if out.Logger == nil {
		out.Logger = d.Logger
	}
	if out.Clock == nil {
		out.Clock = d.Clock
	}
	return &out
}
