// Command scanctl is a flag-driven demo client exercising one channel
// end-to-end: open, bring on-bus, send a frame, print received frames
// until interrupted. Grounded on guiperry-HASHER/cmd/cli's flag-based
// single-shot command style, adapted from a chat-loop CLI to a
// CAN send/receive smoke test driven directly through pkg/supercan
// rather than a server process.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/gousb"

	"github.com/jgressmann/supercan-go/internal/broker"
	"github.com/jgressmann/supercan-go/internal/channel"
	"github.com/jgressmann/supercan-go/internal/config"
	"github.com/jgressmann/supercan-go/internal/discovery"
	"github.com/jgressmann/supercan-go/internal/stream"
	"github.com/jgressmann/supercan-go/internal/usbtransport"
	"github.com/jgressmann/supercan-go/internal/wire"
	"github.com/jgressmann/supercan-go/pkg/supercan"
)

var (
	vendorID  = flag.Uint("vendor-id", 0x1d50, "USB vendor ID to match")
	productID = flag.Uint("product-id", 0x606f, "USB product ID to match")
	serial    = flag.String("serial", "", "device serial to open (overrides -channel)")
	channelN  = flag.Int("channel", -1, "channel index to open (-1 uses config default)")

	sendID   = flag.String("send-id", "", "CAN ID (hex) of one frame to transmit, e.g. 123")
	sendData = flag.String("send-data", "", "hex-encoded payload for -send-id, e.g. deadbeef")
	extended = flag.Bool("extended", false, "use a 29-bit extended CAN ID for -send-id")
)

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fatal("load config", err)
	}

	usbCtx := gousb.NewContext()
	defer usbCtx.Close()

	allow := []discovery.VIDPID{{VendorID: gousb.ID(*vendorID), ProductID: gousb.ID(*productID)}}
	summaries, err := discovery.Enumerate(usbCtx, allow)
	if err != nil {
		fatal("enumerate devices", err)
	}

	sel := discovery.ByIndex(cfg.ChannelIndex)
	if *serial != "" {
		sel = discovery.BySerial(*serial)
	} else if *channelN >= 0 {
		sel = discovery.ByIndex(*channelN)
	}
	dev, err := discovery.Resolve(summaries, sel)
	if err != nil {
		fatal("resolve channel", err)
	}
	fmt.Printf("opening channel: serial=%s bus=%d addr=%d\n", dev.Serial, dev.Bus, dev.Address)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine, err := supercan.Open(ctx, supercan.Config{
		Identity: usbtransport.Identity{
			VendorID: dev.VendorID, ProductID: dev.ProductID, Serial: dev.Serial,
			ConfigNum: 1, InterfaceNum: 0,
		},
		Endpoints: usbtransport.EndpointAddrs{
			CommandOut: 0x01, CommandIn: 0x81, MessageOut: 0x02, MessageIn: 0x82,
		},
		BringUp: channel.BringUpRequest{
			Nominal: channel.BitTimingRequest{Bitrate: cfg.Bitrate, SamplePoint: cfg.SamplePoint, SJW: cfg.SJW},
			Data:    channel.BitTimingRequest{Bitrate: cfg.DataBitrate, SamplePoint: cfg.DataSamplePoint, SJW: cfg.DataSJW},
			FD:      cfg.FD,
		},
	})
	if err != nil {
		fatal("open channel", err)
	}
	defer engine.Close(context.Background())

	client, ring, notifications, err := engine.AttachClient(ctx)
	if err != nil {
		fatal("attach client", err)
	}
	defer engine.DetachClient(ctx, client)
	if cfg.ReceiveOwnMessages {
		engine.Broker.SetEchoMode(client, stream.EchoLate)
	} else {
		engine.Broker.SetEchoMode(client, stream.EchoOff)
	}
	go drainNotifications(engine, client, notifications)

	if err := engine.Bus(ctx, client, true, channel.BringUpRequest{
		Nominal: channel.BitTimingRequest{Bitrate: cfg.Bitrate, SamplePoint: cfg.SamplePoint, SJW: cfg.SJW},
		Data:    channel.BitTimingRequest{Bitrate: cfg.DataBitrate, SamplePoint: cfg.DataSamplePoint, SJW: cfg.DataSJW},
		FD:      cfg.FD,
	}); err != nil {
		fatal("bus on", err)
	}
	fmt.Println("channel is on-bus")

	if *sendID != "" {
		if err := sendFrame(engine, client, *sendID, *sendData, *extended); err != nil {
			fatal("send frame", err)
		}
		fmt.Println("frame queued for transmission")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go receiveLoop(ring, sigCh)
	<-sigCh
	fmt.Println("shutting down")
}

func sendFrame(engine *supercan.Engine, client broker.ClientID, idHex, dataHex string, ext bool) error {
	id, err := strconv.ParseUint(strings.TrimPrefix(idHex, "0x"), 16, 32)
	if err != nil {
		return fmt.Errorf("invalid -send-id: %w", err)
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return fmt.Errorf("invalid -send-data: %w", err)
	}
	flags := wire.FrameFlag(0)
	if ext {
		flags |= wire.FlagEXT
	}
	return engine.Send(client, stream.TxRequest{
		CANID: uint32(id), DLC: wire.LenToDLC(len(data)), Flags: flags, Data: data,
	})
}

func receiveLoop(ring *broker.Ring, stop <-chan os.Signal) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		elem, ok := ring.Pop()
		if !ok {
			continue
		}
		switch elem.Kind {
		case broker.ElemRX:
			fmt.Printf("RX id=0x%x dlc=%d data=%s\n", elem.CANID, elem.DLC, hex.EncodeToString(elem.Data))
		case broker.ElemStatus:
			fmt.Printf("STATUS bus_status=%d\n", elem.BusStatus)
		case broker.ElemError:
			fmt.Printf("ERROR code=%d\n", elem.ErrorCode)
		case broker.ElemTxR:
			fmt.Printf("TXR track_id=%d id=0x%x data=%s\n", elem.TrackID, elem.CANID, hex.EncodeToString(elem.Data))
		}
	}
}

func drainNotifications(engine *supercan.Engine, client broker.ClientID, ch <-chan broker.Notification) {
	for range ch {
		// scanctl doesn't act on peer attach/detach/lease notifications;
		// just ack so the notifier's barrier never stalls on us.
		engine.Broker.AckNotification(client)
	}
}

func fatal(op string, err error) {
	fmt.Fprintf(os.Stderr, "scanctl: %s: %v\n", op, err)
	os.Exit(1)
}
