package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fisaks/mountlink/internal/catalog"
	"github.com/fisaks/mountlink/internal/config"
	"github.com/fisaks/mountlink/internal/dome"
	"github.com/fisaks/mountlink/internal/events"
	"github.com/fisaks/mountlink/internal/logging"
	"github.com/fisaks/mountlink/internal/messaging"
	"github.com/fisaks/mountlink/internal/mirror"
	"github.com/fisaks/mountlink/internal/mount"
	"github.com/fisaks/mountlink/internal/poller"
	"github.com/fisaks/mountlink/internal/protocol"
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	path := getenv("MOUNT_CONFIG_PATH", "/etc/mountlink/mountd.yaml")

	cfg, err := config.Load(path)
	if err != nil {
		logging.Fatal("Mount config error", "path", path, "error", err)
	}
	logging.Info("Loaded config",
		"host", cfg.Mount.Host,
		"port", cfg.Mount.Port,
		"dome", cfg.Dome != nil,
		"mqtt", cfg.MQTT != nil,
		"redis", cfg.Redis != nil,
	)

	conn := protocol.NewConnection(cfg.Mount.Host, cfg.Mount.Port)
	conn.Timeout = cfg.Mount.SocketTimeout()
	conn.ConnectTimeout = cfg.Mount.ConnectTimeout()

	if cfg.Mount.MacAddress != "" && getenv("MOUNT_WAKE", "1") == "1" {
		if err := protocol.WakeOnLAN(cfg.Mount.MacAddress, cfg.Mount.Broadcast); err != nil {
			logging.Warn("Wake on LAN failed", "mac", cfg.Mount.MacAddress, "error", err)
		}
	}

	subs := poller.SubStates{
		Firmware:  mount.NewFirmware(conn),
		Location:  mount.NewLocation(conn),
		Pointing:  mount.NewPointing(conn),
		Settings:  mount.NewSettings(conn),
		Model:     mount.NewModel(conn),
		Names:     mount.NewNameList(conn),
		Satellite: mount.NewSatellite(conn),
		Clock:     mount.NewClock(conn),
	}
	if cfg.Dome != nil {
		d, err := dome.New(cfg.Dome)
		if err != nil {
			logging.Fatal("Dome init failed", "error", err)
		}
		defer d.Close()
		subs.Dome = d
	}

	// Graceful shutdown context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewBus()
	orch := poller.New(subs, conn, bus, poller.Options{
		Pointing:     cfg.Cycles.Pointing(),
		Dome:         cfg.Cycles.Dome(),
		Clock:        cfg.Cycles.Clock(),
		Liveness:     cfg.Cycles.Liveness(),
		Settings:     cfg.Cycles.Settings(),
		Workers:      cfg.Workers,
		SettleFlip:   cfg.SettleFlip(),
		ClockSamples: cfg.ClockSamples,
	})

	if cfg.MQTT != nil {
		broker := messaging.NewBroker(messaging.BrokerConfig{
			BrokerURL:        cfg.MQTT.BrokerURL,
			ClientName:       cfg.MQTT.ClientName,
			TopicPrefix:      cfg.MQTT.TopicPrefix,
			ConnectTimeout:   10 * time.Second,
			PublishTimeout:   5 * time.Second,
			SubscribeTimeout: 5 * time.Second,
		})
		cat := catalog.NewMountCatalog(cfg, orch)
		broker.AddOnConnectPublisher("catalog", cat.OnConnectPublish)
		if err := broker.Connect(ctx); err != nil {
			logging.Error("MQTT connect failed", "broker", cfg.MQTT.BrokerURL, "error", err)
		}
		defer broker.Close(context.Background())

		bridge := messaging.NewMountBridge(broker, conn, cfg.MQTT.Heartbeat())
		if err := bridge.Start(ctx, bus); err != nil {
			logging.Error("MQTT command subscribe failed", "error", err)
		}
		defer bridge.Wait()

		unsubscribe := bus.Subscribe(func(events.Event) {
			go func() {
				if err := cat.Republish(ctx, broker); err != nil {
					logging.Warn("Catalog republish failed", "error", err)
				}
			}()
		}, events.Firmware)
		defer unsubscribe()
	}

	if cfg.Redis != nil {
		client := mirror.NewClient(cfg.Redis)
		defer client.Close()
		m := mirror.New(client, cfg.Redis.KeyPrefix)
		m.Start(ctx, bus)
		defer m.Wait()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		orch.Run(ctx)
	}()

	// Wait for SIGINT/SIGTERM
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	logging.Info("Shutting down", "signal", s)

	cancel()
	<-done
	logging.Info("bye")
}
