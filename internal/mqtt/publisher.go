package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/sleepside/internal/buildinfo"
	"github.com/nugget/sleepside/internal/config"
)

// SideState is one bed side's publishable state. Nil fields mean the
// value is not available yet and publish as "unknown" so HA marks the
// entity accordingly instead of holding a stale reading.
type SideState struct {
	Side         string // "left" or "right"
	HeatingLevel *int
	TargetLevel  *int
	NowHeating   *bool
	Present      bool
	LastScore    *int
}

// BedSource provides the per-side state for publishing. The concrete
// adapter is wired in main to avoid coupling this package to the bed
// reducer.
type BedSource interface {
	SideStates() []SideState
}

// Publisher manages the MQTT connection, publishes HA discovery
// config messages on (re-)connect, and runs a periodic loop that
// pushes bed state updates to the broker.
type Publisher struct {
	cfg        config.MQTTConfig
	instanceID string
	device     DeviceInfo
	source     BedSource
	logger     *slog.Logger
	cm         *autopaho.ConnectionManager
}

// New creates a Publisher but does not connect. Call [Publisher.Start]
// to begin the connection and publish loop.
func New(cfg config.MQTTConfig, instanceID string, source BedSource, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		cfg:        cfg,
		instanceID: instanceID,
		device:     NewDeviceInfo(instanceID, cfg.DeviceName),
		source:     source,
		logger:     logger,
	}
}

// Start connects to the MQTT broker and begins the periodic publish
// loop. It blocks until ctx is cancelled. On every (re-)connect it
// publishes discovery configs and a birth message.
func (p *Publisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	availTopic := p.availabilityTopic()

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   availTopic,
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected to broker", "broker", p.cfg.Broker)
			p.publishDiscovery(ctx, cm)
			p.publishAvailability(ctx, cm, "online")
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "sleepside-" + p.cfg.DeviceName,
		},
	}

	// Enable TLS for mqtts:// or ssl:// schemes.
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.cm = cm

	// Wait for the initial connection before starting the publish loop.
	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		// Log but don't fail — autopaho will keep retrying in the background.
		p.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	p.runLoop(ctx)
	return nil
}

// Stop gracefully disconnects by publishing an "offline" availability
// message before closing the MQTT connection. The provided context
// controls how long to wait for the publish and disconnect to complete.
func (p *Publisher) Stop(ctx context.Context) error {
	if p.cm == nil {
		return nil
	}
	p.publishAvailability(ctx, p.cm, "offline")
	return p.cm.Disconnect(ctx)
}

// --- Topic helpers ---

func (p *Publisher) baseTopic() string {
	return "sleepside/" + p.cfg.DeviceName
}

func (p *Publisher) availabilityTopic() string {
	return p.baseTopic() + "/availability"
}

func (p *Publisher) stateTopic(entity string) string {
	return p.baseTopic() + "/" + entity + "/state"
}

func (p *Publisher) discoveryTopic(component, entity string) string {
	return p.cfg.DiscoveryPrefix + "/" + component + "/" + p.cfg.DeviceName + "/" + entity + "/config"
}

// --- Discovery ---

type entityDef struct {
	component    string // "sensor" or "binary_sensor"
	entitySuffix string
	config       EntityConfig
}

func (p *Publisher) entityDefinitions() []entityDef {
	avail := p.availabilityTopic()

	defs := []entityDef{
		{
			component:    "sensor",
			entitySuffix: "version",
			config: EntityConfig{
				Name:              "Version",
				UniqueID:          p.instanceID + "_version",
				StateTopic:        p.stateTopic("version"),
				AvailabilityTopic: avail,
				Device:            p.device,
				Icon:              "mdi:tag",
				EntityCategory:    "diagnostic",
			},
		},
		{
			component:    "sensor",
			entitySuffix: "uptime",
			config: EntityConfig{
				Name:              "Uptime",
				UniqueID:          p.instanceID + "_uptime",
				StateTopic:        p.stateTopic("uptime"),
				AvailabilityTopic: avail,
				Device:            p.device,
				Icon:              "mdi:clock-outline",
				EntityCategory:    "diagnostic",
			},
		},
	}

	for _, side := range []string{"left", "right"} {
		defs = append(defs,
			entityDef{
				component:    "sensor",
				entitySuffix: side + "_heating_level",
				config: EntityConfig{
					Name:              sideTitle(side) + " Heating Level",
					UniqueID:          p.instanceID + "_" + side + "_heating_level",
					StateTopic:        p.stateTopic(side + "_heating_level"),
					AvailabilityTopic: avail,
					Device:            p.device,
					Icon:              "mdi:thermometer",
					StateClass:        "measurement",
				},
			},
			entityDef{
				component:    "sensor",
				entitySuffix: side + "_target_level",
				config: EntityConfig{
					Name:              sideTitle(side) + " Target Level",
					UniqueID:          p.instanceID + "_" + side + "_target_level",
					StateTopic:        p.stateTopic(side + "_target_level"),
					AvailabilityTopic: avail,
					Device:            p.device,
					Icon:              "mdi:thermometer-chevron-up",
					StateClass:        "measurement",
				},
			},
			entityDef{
				component:    "sensor",
				entitySuffix: side + "_sleep_score",
				config: EntityConfig{
					Name:              sideTitle(side) + " Sleep Score",
					UniqueID:          p.instanceID + "_" + side + "_sleep_score",
					StateTopic:        p.stateTopic(side + "_sleep_score"),
					AvailabilityTopic: avail,
					Device:            p.device,
					Icon:              "mdi:sleep",
					StateClass:        "measurement",
				},
			},
			entityDef{
				component:    "binary_sensor",
				entitySuffix: side + "_occupied",
				config: EntityConfig{
					Name:              sideTitle(side) + " Occupied",
					UniqueID:          p.instanceID + "_" + side + "_occupied",
					StateTopic:        p.stateTopic(side + "_occupied"),
					AvailabilityTopic: avail,
					Device:            p.device,
					DeviceClass:       "occupancy",
					PayloadOn:         "ON",
					PayloadOff:        "OFF",
				},
			},
		)
	}

	return defs
}

func (p *Publisher) publishDiscovery(ctx context.Context, cm *autopaho.ConnectionManager) {
	for _, e := range p.entityDefinitions() {
		topic := p.discoveryTopic(e.component, e.entitySuffix)
		payload, err := json.Marshal(e.config)
		if err != nil {
			p.logger.Error("mqtt marshal discovery payload",
				"entity", e.entitySuffix, "error", err)
			continue
		}

		if _, err := cm.Publish(ctx, &paho.Publish{
			Topic:   topic,
			Payload: payload,
			QoS:     1,
			Retain:  true,
		}); err != nil {
			p.logger.Warn("mqtt discovery publish failed",
				"entity", e.entitySuffix, "topic", topic, "error", err)
		} else {
			p.logger.Debug("mqtt discovery published",
				"entity", e.entitySuffix, "topic", topic)
		}
	}
}

func (p *Publisher) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   p.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		p.logger.Warn("mqtt availability publish failed",
			"status", status, "error", err)
	} else {
		p.logger.Info("mqtt availability published", "status", status)
	}
}

// --- Periodic state loop ---

func (p *Publisher) runLoop(ctx context.Context) {
	interval := time.Duration(p.cfg.PublishIntervalSec) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Publish immediately on start.
	p.publishStates(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.publishStates(ctx)
		}
	}
}

func (p *Publisher) publishStates(ctx context.Context) {
	if p.cm == nil {
		return
	}

	states := map[string]string{
		"version": buildinfo.Version,
		"uptime":  buildinfo.Uptime().String(),
	}

	for _, side := range p.source.SideStates() {
		states[side.Side+"_heating_level"] = optInt(side.HeatingLevel)
		states[side.Side+"_target_level"] = optInt(side.TargetLevel)
		states[side.Side+"_sleep_score"] = optInt(side.LastScore)
		if side.Present {
			states[side.Side+"_occupied"] = "ON"
		} else {
			states[side.Side+"_occupied"] = "OFF"
		}
	}

	for entity, value := range states {
		if _, err := p.cm.Publish(ctx, &paho.Publish{
			Topic:   p.stateTopic(entity),
			Payload: []byte(value),
			QoS:     0,
			Retain:  true,
		}); err != nil {
			p.logger.Debug("mqtt state publish failed",
				"entity", entity, "error", err)
		}
	}

	p.logger.Debug("mqtt bed states published", "entities", len(states))
}

// optInt renders a possibly absent value for an HA state topic.
func optInt(v *int) string {
	if v == nil {
		return "unknown"
	}
	return strconv.Itoa(*v)
}

func sideTitle(side string) string {
	if side == "right" {
		return "Right"
	}
	return "Left"
}
