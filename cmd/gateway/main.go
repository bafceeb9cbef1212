// Command gateway runs the BMS-to-Victron CAN bridge: it polls a BMS
// over a serial link, computes CVL/CCL/DCL limits, and republishes
// everything onto a CAN bus for an inverter/charger to consume.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	gw "github.com/vbms/gateway"
	"github.com/vbms/gateway/internal/settings"
	"github.com/vbms/gateway/pkg/canpub"
	"github.com/vbms/gateway/pkg/energy"
	"github.com/vbms/gateway/pkg/orchestrator"
	"github.com/vbms/gateway/pkg/serial"
)

func main() {
	configPath := flag.String("config", "/etc/vbms/gateway.ini", "path to the gateway's INI configuration file")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	entry := logrus.NewEntry(log)

	cfg, err := settings.Load(*configPath)
	if err != nil {
		entry.WithError(err).Fatal("gateway: failed to load configuration")
	}

	uart, err := openUART(cfg.SerialPort, cfg.SerialBaudRate)
	if err != nil {
		entry.WithError(err).Fatal("gateway: failed to open serial port")
	}
	defer uart.Close()

	canSender, err := newSocketcanSender(cfg.CanChannel)
	if err != nil {
		entry.WithError(err).Fatal("gateway: failed to open CAN interface")
	}
	defer canSender.Close()

	engine := serial.NewEngine(uart, entry)

	var store energy.Store
	if cfg.EnergyStorePath != "" {
		store = energy.NewMemoryStore() // TODO: swap in a file-backed Store once the on-disk format is settled
	}

	orchCfg := orchestrator.Config{
		PollPeriod:       cfg.PollPeriod,
		EnergyStore:      store,
		CvlConfig:        cfg.Cvl,
		Identity:         canpub.Identity{Manufacturer: cfg.Manufacturer, BatteryName: cfg.BatteryName},
		KeepaliveTimeout: cfg.KeepaliveTimeout,
		PublisherTick:    cfg.PublisherPeriod,
	}

	orch := orchestrator.New(engine, canSender, gw.NewSystemClock(), orchCfg, entry)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	entry.Info("gateway: starting")
	orch.Start(ctx)

	<-ctx.Done()
	entry.Info("gateway: shutting down")
	orch.Stop()
}
