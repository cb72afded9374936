package engine

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/TaskforceCobra/instrument-contoller/device"
	"github.com/TaskforceCobra/instrument-contoller/errors"
	"github.com/TaskforceCobra/instrument-contoller/metric"
	"github.com/TaskforceCobra/instrument-contoller/pkg/buffer"
	"github.com/TaskforceCobra/instrument-contoller/reading"
)

// Consumer receives the acquisition stream. Implementations must not block:
// deliveries ride a per-consumer bounded queue with its own dispatch
// goroutine, and overflow drops the oldest pending delivery.
type Consumer interface {
	// OnReading delivers every reading, error cycles included, in emission
	// order per device.
	OnReading(r reading.Reading)

	// OnFrame delivers each closed frame in index order.
	OnFrame(f reading.Frame)

	// OnDeviceStateChanged delivers worker state transitions.
	OnDeviceStateChanged(deviceID string, from, to device.State)

	// OnDroppedReadings reports the cumulative count of readings lost to
	// queue overflow for one device.
	OnDroppedReadings(deviceID string, count uint64)
}

type deliveryKind int

const (
	deliverReading deliveryKind = iota
	deliverFrame
	deliverState
	deliverDrops
)

// delivery is one queued hand-off to a consumer.
type delivery struct {
	kind     deliveryKind
	reading  reading.Reading
	frame    reading.Frame
	deviceID string
	from, to device.State
	drops    uint64
}

// dispatcher pairs one consumer with its queue and dispatch goroutine. The
// goroutine runs from registration until removal, across sessions.
type dispatcher struct {
	name     string
	consumer Consumer
	queue    buffer.Buffer[delivery]
	wake     chan struct{}
	stop     chan struct{}
	done     chan struct{}
	dropped  atomic.Uint64
}

func newDispatcher(name string, c Consumer, capacity int, metrics *metric.Metrics) (*dispatcher, error) {
	d := &dispatcher{
		name:     name,
		consumer: c,
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	queue, err := buffer.NewCircularBuffer(capacity,
		buffer.WithOverflowPolicy[delivery](buffer.DropOldest),
		buffer.WithDropCallback[delivery](func(item delivery) {
			d.dropped.Add(1)
			if metrics != nil {
				dev := item.deviceID
				if dev == "" {
					dev = "frame"
				}
				metrics.RecordReadingDropped(dev, "consumer:"+name)
			}
		}),
	)
	if err != nil {
		return nil, errors.Wrap(err, "Engine", "RegisterConsumer", "dispatch queue creation")
	}
	d.queue = queue
	return d, nil
}

func (d *dispatcher) run() {
	defer close(d.done)
	for {
		select {
		case <-d.stop:
			// Hand over what is already queued before exiting.
			d.flush()
			return
		case <-d.wake:
			d.flush()
		}
	}
}

func (d *dispatcher) flush() {
	for {
		batch := d.queue.ReadBatch(32)
		if len(batch) == 0 {
			return
		}
		for _, item := range batch {
			d.deliver(item)
		}
	}
}

func (d *dispatcher) deliver(item delivery) {
	switch item.kind {
	case deliverReading:
		d.consumer.OnReading(item.reading)
	case deliverFrame:
		d.consumer.OnFrame(item.frame)
	case deliverState:
		d.consumer.OnDeviceStateChanged(item.deviceID, item.from, item.to)
	case deliverDrops:
		d.consumer.OnDroppedReadings(item.deviceID, item.drops)
	}
}

// enqueue never blocks the caller. A full queue falls to drop-oldest.
func (d *dispatcher) enqueue(item delivery) {
	if err := d.queue.Write(item); err != nil {
		return
	}
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// halt stops the dispatch goroutine, letting it drain queued deliveries
// until the deadline. It reports whether the goroutine exited in time.
func (d *dispatcher) halt(deadline time.Time) bool {
	select {
	case <-d.stop:
	default:
		close(d.stop)
	}
	select {
	case <-d.done:
		return true
	case <-time.After(time.Until(deadline)):
		return false
	}
}

// consumerSet is the registry of live dispatchers.
type consumerSet struct {
	mu       sync.RWMutex
	byName   map[string]*dispatcher
	queueCap int
	logger   *slog.Logger
	metrics  *metric.Metrics
}

func newConsumerSet(queueCap int, logger *slog.Logger, metrics *metric.Metrics) *consumerSet {
	return &consumerSet{
		byName:   make(map[string]*dispatcher),
		queueCap: queueCap,
		logger:   logger,
		metrics:  metrics,
	}
}

func (cs *consumerSet) register(name string, c Consumer) error {
	if name == "" {
		return errors.WrapInvalid(fmt.Errorf("empty consumer name"),
			"Engine", "RegisterConsumer", "consumer registry")
	}
	if c == nil {
		return errors.WrapInvalid(fmt.Errorf("nil consumer %q", name),
			"Engine", "RegisterConsumer", "consumer registry")
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()

	if _, dup := cs.byName[name]; dup {
		return errors.WrapInvalid(fmt.Errorf("consumer %q already registered", name),
			"Engine", "RegisterConsumer", "consumer registry")
	}

	d, err := newDispatcher(name, c, cs.queueCap, cs.metrics)
	if err != nil {
		return err
	}
	cs.byName[name] = d
	go d.run()

	cs.logger.Info("consumer registered", "consumer", name)
	return nil
}

func (cs *consumerSet) remove(name string, timeout time.Duration) error {
	cs.mu.Lock()
	d, ok := cs.byName[name]
	if ok {
		delete(cs.byName, name)
	}
	cs.mu.Unlock()

	if !ok {
		return errors.WrapInvalid(fmt.Errorf("consumer %q not registered", name),
			"Engine", "RemoveConsumer", "consumer registry")
	}
	if !d.halt(time.Now().Add(timeout)) {
		return errors.WrapTransient(fmt.Errorf("consumer %q did not drain in %v", name, timeout),
			"Engine", "RemoveConsumer", "dispatcher shutdown")
	}

	cs.logger.Info("consumer removed", "consumer", name)
	return nil
}

func (cs *consumerSet) names() []string {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	out := make([]string, 0, len(cs.byName))
	for name := range cs.byName {
		out = append(out, name)
	}
	return out
}

func (cs *consumerSet) snapshot() []*dispatcher {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	out := make([]*dispatcher, 0, len(cs.byName))
	for _, d := range cs.byName {
		out = append(out, d)
	}
	return out
}

func (cs *consumerSet) broadcastReading(r reading.Reading) {
	for _, d := range cs.snapshot() {
		d.enqueue(delivery{kind: deliverReading, reading: r, deviceID: r.DeviceID})
	}
}

func (cs *consumerSet) broadcastFrame(f reading.Frame) {
	for _, d := range cs.snapshot() {
		d.enqueue(delivery{kind: deliverFrame, frame: f})
	}
}

func (cs *consumerSet) broadcastState(deviceID string, from, to device.State) {
	for _, d := range cs.snapshot() {
		d.enqueue(delivery{kind: deliverState, deviceID: deviceID, from: from, to: to})
	}
}

func (cs *consumerSet) broadcastDrops(deviceID string, count uint64) {
	for _, d := range cs.snapshot() {
		d.enqueue(delivery{kind: deliverDrops, deviceID: deviceID, drops: count})
	}
}

func (cs *consumerSet) stopAll(timeout time.Duration) {
	cs.mu.Lock()
	dispatchers := make([]*dispatcher, 0, len(cs.byName))
	for _, d := range cs.byName {
		dispatchers = append(dispatchers, d)
	}
	cs.byName = make(map[string]*dispatcher)
	cs.mu.Unlock()

	deadline := time.Now().Add(timeout)
	for _, d := range dispatchers {
		if !d.halt(deadline) {
			cs.logger.Warn("consumer dispatcher abandoned at shutdown", "consumer", d.name)
		}
	}
}
