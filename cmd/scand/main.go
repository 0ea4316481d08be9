// Command scand is the driver daemon: it opens one physical channel,
// brings it on-bus per the configured defaults, and serves the control
// plane (C12, gRPC over a Unix socket) plus the read-only HTTP admin
// surface (C13) in front of it. Grounded on
// guiperry-HASHER/cmd/driver/hasher-server's flag parsing, signal
// handling and grpc.NewServer/net.Listen/GracefulStop shape, adapted
// from a single long-lived TCP gRPC server to a Unix-socket control
// server plus a second HTTP listener.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/gousb"
	"google.golang.org/grpc"

	"github.com/jgressmann/supercan-go/internal/broker"
	"github.com/jgressmann/supercan-go/internal/channel"
	"github.com/jgressmann/supercan-go/internal/config"
	"github.com/jgressmann/supercan-go/internal/control"
	"github.com/jgressmann/supercan-go/internal/discovery"
	"github.com/jgressmann/supercan-go/internal/httpapi"
	"github.com/jgressmann/supercan-go/internal/logging"
	"github.com/jgressmann/supercan-go/internal/usbtransport"
	"github.com/jgressmann/supercan-go/pkg/supercan"
)

var (
	// vendorID/productID default to the candleLight-class bulk-CAN
	// vendor/product pair this protocol's HELLO/DEVICE_INFO/CAN_INFO
	// handshake is modeled on.
	vendorID     = flag.Uint("vendor-id", 0x1d50, "USB vendor ID to match")
	productID    = flag.Uint("product-id", 0x606f, "USB product ID to match")
	configNum    = flag.Int("usb-config", 1, "USB configuration number")
	interfaceNum = flag.Int("usb-interface", 0, "USB interface number")

	channelIndex = flag.Int("channel", -1, "channel index to open (-1 uses config default)")
	serial       = flag.String("serial", "", "device serial to open (overrides -channel)")
)

func main() {
	flag.Parse()
	log := logging.Default().With("scand")

	cfg, err := config.Load()
	if err != nil {
		log.Error("failed to load channel defaults", "err", err)
		os.Exit(1)
	}

	sel := discovery.ByIndex(cfg.ChannelIndex)
	if *serial != "" {
		sel = discovery.BySerial(*serial)
	} else if *channelIndex >= 0 {
		sel = discovery.ByIndex(*channelIndex)
	}

	usbCtx := gousb.NewContext()
	defer usbCtx.Close()

	allow := []discovery.VIDPID{{VendorID: gousb.ID(*vendorID), ProductID: gousb.ID(*productID)}}
	summaries, err := discovery.Enumerate(usbCtx, allow)
	if err != nil {
		log.Error("device enumeration failed", "err", err)
		os.Exit(1)
	}
	dev, err := discovery.Resolve(summaries, sel)
	if err != nil {
		log.Error("failed to resolve requested channel", "err", err)
		os.Exit(1)
	}
	log.Info("resolved channel", "serial", dev.Serial, "bus", dev.Bus, "address", dev.Address)

	identity := usbtransport.Identity{
		VendorID:     dev.VendorID,
		ProductID:    dev.ProductID,
		Serial:       dev.Serial,
		ConfigNum:    *configNum,
		InterfaceNum: *interfaceNum,
	}
	endpoints := usbtransport.EndpointAddrs{
		CommandOut: 0x01,
		CommandIn:  0x81,
		MessageOut: 0x02,
		MessageIn:  0x82,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bringUp := channel.BringUpRequest{
		Nominal: channel.BitTimingRequest{Bitrate: cfg.Bitrate, SamplePoint: cfg.SamplePoint, SJW: cfg.SJW},
		Data:    channel.BitTimingRequest{Bitrate: cfg.DataBitrate, SamplePoint: cfg.DataSamplePoint, SJW: cfg.DataSJW},
		FD:      cfg.FD,
	}

	engine, err := supercan.Open(ctx, supercan.Config{
		Identity:  identity,
		Endpoints: endpoints,
		BringUp:   bringUp,
	})
	if err != nil {
		log.Error("failed to open channel", "err", err)
		os.Exit(1)
	}
	defer engine.Close(context.Background())

	// scand brings the bus up on startup under its own lease holder id,
	// chosen outside [0, MaxClients) so it can never collide with a
	// ClientID the client table hands out through Attach.
	const systemClient = broker.ClientID(broker.MaxClients + 1000)
	if err := engine.Bus(ctx, systemClient, true, bringUp); err != nil {
		log.Error("failed to bring channel on-bus", "err", err)
		os.Exit(1)
	}

	id := fmt.Sprintf("%d", cfg.ChannelIndex)
	if dev.Serial != "" {
		id = dev.Serial
	}

	reg := control.NewRegistry()
	reg.Register(id, &control.ChannelHandle{
		Ctrl:   engine.Controller,
		Broker: engine.Broker,
		Stats:  engine.Stats,
	})

	ctrlSrv := control.NewServer(reg)
	grpcServer := grpc.NewServer()
	control.RegisterServer(grpcServer, ctrlSrv)

	listener, err := listen(cfg.ControlSocket)
	if err != nil {
		log.Error("failed to listen on control socket", "addr", cfg.ControlSocket, "err", err)
		os.Exit(1)
	}

	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: httpapi.New(ctrlSrv)}

	go func() {
		log.Info("control plane listening", "addr", cfg.ControlSocket)
		if err := grpcServer.Serve(listener); err != nil {
			log.Error("control plane stopped", "err", err)
		}
	}()
	go func() {
		log.Info("http admin surface listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http admin surface stopped", "err", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down")

	grpcServer.GracefulStop()
	httpServer.Shutdown(context.Background())
}

// listen parses a "unix:///path" or "host:port" address into a net.Listener.
func listen(addr string) (net.Listener, error) {
	if path, ok := strings.CutPrefix(addr, "unix://"); ok {
		os.Remove(path)
		return net.Listen("unix", path)
	}
	return net.Listen("tcp", addr)
}
