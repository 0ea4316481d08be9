// Package supercan is the public entry point for this driver stack: it
// wires internal/usbtransport, internal/command, internal/channel and
// internal/broker into one running channel and runs the RX/TX worker
// goroutines spec.md §5 requires (the USB RX worker, the USB TX worker,
// and the controller/command thread — the third of which is simply
// whichever goroutine calls Engine's exported methods, since
// internal/command.Channel.Do is already synchronous and serialized by
// Controller's own mutex).
//
// A caller that only needs the wire-protocol pieces (to write an
// alternate transport, or a test harness) can import the internal/
// packages directly; this package exists for the common case of driving
// one physical channel end-to-end.
package supercan

import (
	"context"
	"sync"
	"time"

	"github.com/jgressmann/supercan-go/internal/broker"
	"github.com/jgressmann/supercan-go/internal/channel"
	"github.com/jgressmann/supercan-go/internal/command"
	"github.com/jgressmann/supercan-go/internal/logging"
	"github.com/jgressmann/supercan-go/internal/metrics"
	"github.com/jgressmann/supercan-go/internal/stream"
	"github.com/jgressmann/supercan-go/internal/usbtransport"
	"github.com/jgressmann/supercan-go/internal/wire"
)

// Config bundles the parameters needed to open and bring up one channel.
type Config struct {
	Identity  usbtransport.Identity
	Endpoints usbtransport.EndpointAddrs

	RingCapacity int // broker.DefaultRingCapacity if zero
	TrackSlots   int // track-id pool size (256 if zero)

	BringUp channel.BringUpRequest
}

// Engine is one open, running channel: its USB transport, command
// channel, controller and broker, plus the background RX/TX workers
// that keep the stream engine moving once the channel is on-bus.
type Engine struct {
	log *logging.Logger

	transport *usbtransport.Transport
	cmd       *command.Channel
	Controller *channel.Controller
	Broker    *broker.Broker
	Stats     *metrics.Stats

	parser  *stream.Parser
	encoder *stream.Encoder

	txInterval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Open claims the USB device named by cfg.Identity/Endpoints, runs the
// handshake (HELLO/DEVICE_INFO/CAN_INFO), and returns a ready Engine in
// channel.StateOpened. Call Bus(ctx, client, true, cfg.BringUp) to bring
// it on-bus and start the workers.
func Open(ctx context.Context, cfg Config) (*Engine, error) {
	ringCap := cfg.RingCapacity
	if ringCap == 0 {
		ringCap = broker.DefaultRingCapacity
	}
	trackSlots := cfg.TrackSlots
	if trackSlots == 0 {
		trackSlots = 256
	}

	t, err := usbtransport.Open(cfg.Identity, cfg.Endpoints)
	if err != nil {
		return nil, err
	}

	cmdCh := command.New(t, t.CommandMaxPacketSize())
	br := broker.New(ringCap, trackSlots)
	ctrl := channel.New(cmdCh, br)

	if err := ctrl.Open(ctx); err != nil {
		t.Close()
		return nil, err
	}

	info := ctrl.CANInfo()
	e := &Engine{
		log:        logging.Default().With("supercan"),
		transport:  t,
		cmd:        cmdCh,
		Controller: ctrl,
		Broker:     br,
		Stats:      metrics.New(),
		encoder:    stream.NewEncoder(wire.LittleEndian, int(info.MsgBufferSize), t.MessageMaxPacketSize()),
		txInterval: 2 * time.Millisecond,
	}
	e.parser = stream.NewParser(wire.LittleEndian, br.Tracker(), br.BusStateMachine())
	return e, nil
}

// Bus claims the configuration-access lease on behalf of client (if not
// already held) and brings the channel on-bus, starting the RX/TX
// workers on success. on=false tears the bus down and stops them.
func (e *Engine) Bus(ctx context.Context, client broker.ClientID, on bool, req channel.BringUpRequest) error {
	if on {
		if err := e.Broker.AcquireConfigurationAccess(ctx, client); err != nil {
			e.Stats.RecordLeaseDenial()
			return err
		}
		e.Stats.RecordLeaseGrant()
		if err := e.Controller.SetBus(ctx, client, true, req); err != nil {
			return err
		}
		e.startWorkers()
		return nil
	}

	e.stopWorkers()
	return e.Controller.SetBus(ctx, client, false, req)
}

// startWorkers launches the RX and TX background loops. Safe to call
// only once per bring-up; Bus guards this.
func (e *Engine) startWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	e.wg.Add(2)
	go e.rxLoop(ctx)
	go e.txLoop(ctx)
}

// stopWorkers signals both loops to exit and waits for them.
func (e *Engine) stopWorkers() {
	if e.cancel == nil {
		return
	}
	e.cancel()
	e.wg.Wait()
	e.cancel = nil
}

// rxLoop repeatedly reads a completed bulk-in buffer from the message
// pipe and hands it to the Parser, which dispatches decoded events to
// the Broker. Mirrors spec.md §4.7/§4.8's completion-to-parse pipeline,
// translated from an OS completion callback into a dedicated goroutine
// per spec.md §9's callback-to-task-loop design note.
func (e *Engine) rxLoop(ctx context.Context) {
	defer e.wg.Done()
	buf := make([]byte, e.transport.MessageMaxPacketSize()*4)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, err := e.transport.ReadMessage(ctx, buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			e.log.Warn("bulk-in read failed", "err", err)
			e.Controller.HandleDeviceGone()
			e.Broker.HandleDeviceGone()
			return
		}
		if n == 0 {
			continue
		}
		e.Stats.AddRx(n)
		e.parser.Parse(buf[:n], e.Broker)
	}
}

// txLoop periodically drains one round-robin TX batch across clients
// with queued frames, encoding and submitting each via the Broker's
// shared track-id pool.
func (e *Engine) txLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.txInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := e.Broker.DrainTxBatch(ctx, e.encoder, e.transport)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				e.log.Warn("TX batch failed", "err", err)
				continue
			}
			if n > 0 {
				e.Stats.AddTx(n)
			}
		}
	}
}

// AttachClient adds a new client to the broker, matching spec.md §4.9's
// per-client attach/barrier protocol.
func (e *Engine) AttachClient(ctx context.Context) (broker.ClientID, *broker.Ring, <-chan broker.Notification, error) {
	return e.Broker.Attach(ctx)
}

// DetachClient removes a client, releasing its lease and track-ids.
func (e *Engine) DetachClient(ctx context.Context, id broker.ClientID) error {
	return e.Broker.Detach(ctx, id)
}

// Send queues a transmit request on behalf of client for the next TX
// batch, after validating it against the channel's current FD/classic
// mode.
func (e *Engine) Send(client broker.ClientID, req stream.TxRequest) error {
	mode := stream.Mode{FD: e.Controller.State() == channel.StateOnBus && e.Controller.IsFD()}
	if err := mode.Validate(req); err != nil {
		return err
	}
	e.Broker.QueueTx(client, req)
	return nil
}

// Close stops the background workers, closes the channel (bus-off if
// still on-bus) and releases the USB transport.
func (e *Engine) Close(ctx context.Context) error {
	e.stopWorkers()
	if err := e.Controller.Close(ctx); err != nil {
		e.log.Warn("channel close did not complete cleanly", "err", err)
	}
	return e.transport.Close()
}
