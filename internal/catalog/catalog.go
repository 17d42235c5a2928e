package catalog

import (
	"context"

	"github.com/fisaks/mountlink/internal/config"
	"github.com/fisaks/mountlink/internal/events"
	"github.com/fisaks/mountlink/internal/messaging"
	"github.com/fisaks/mountlink/internal/mount"
	"github.com/fisaks/mountlink/internal/poller"
)

type MountCatalogMessage struct {
	Host     string             `json:"host"`
	Port     int                `json:"port"`
	Mac      string             `json:"mac,omitempty"`
	Up       bool               `json:"up"`
	Firmware mount.FirmwareInfo `json:"firmware"`
	Dome     *DomeSummary       `json:"dome,omitempty"`
	Events   []string           `json:"events"`
	Commands map[string]string  `json:"commands"`
}

type DomeSummary struct {
	Type    string `json:"type"`
	Address string `json:"address"`
	UnitId  uint8  `json:"unitId"`
}

type SnapshotSource interface {
	Snapshot() poller.Snapshot
}

type Catalog struct {
	cfg    *config.Config
	source SnapshotSource
}

func NewMountCatalog(cfg *config.Config, source SnapshotSource) *Catalog {
	return &Catalog{cfg: cfg, source: source}
}

func (catalog *Catalog) buildMountCatalog() *MountCatalogMessage {
	msg := &MountCatalogMessage{
		Host: catalog.cfg.Mount.Host,
		Port: catalog.cfg.Mount.Port,
		Mac:  catalog.cfg.Mount.MacAddress,
		Commands: map[string]string{
			"cmd":   "cmd",
			"reply": "reply",
		},
	}
	if catalog.source != nil {
		snap := catalog.source.Snapshot()
		msg.Up = snap.Up
		msg.Firmware = snap.Firmware
	}
	if d := catalog.cfg.Dome; d != nil {
		msg.Dome = &DomeSummary{Type: d.Type, Address: d.Address(), UnitId: d.UnitId}
	}
	for _, k := range events.Kinds() {
		if k == events.Dome && msg.Dome == nil {
			continue
		}
		msg.Events = append(msg.Events, "event/"+k.String())
	}
	return msg
}

func (catalog *Catalog) OnConnectPublish(ctx context.Context) (*messaging.ConnectMessage, error) {
	return &messaging.ConnectMessage{
		Topic:   "catalog",
		Qos:     messaging.AtLeastOnce,
		Retain:  true,
		Payload: catalog.buildMountCatalog(),
	}, nil
}

// Republish sends the catalog again, used once the firmware is known.
func (catalog *Catalog) Republish(ctx context.Context, broker messaging.Broker) error {
	msg, _ := catalog.OnConnectPublish(ctx)
	return broker.PublishJSON(ctx, broker.Topic(msg.Topic), msg.Qos, msg.Retain, msg.Payload)
}
