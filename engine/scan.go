package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/TaskforceCobra/instrument-contoller/errors"
	"github.com/TaskforceCobra/instrument-contoller/scpi"
)

// scanQueueCapacity bounds how many probe jobs can wait in the scan pool.
const scanQueueCapacity = 64

// scanProbeTimeout caps the connect-plus-identify round trip per address.
const scanProbeTimeout = 2 * time.Second

// ScanResult is the probe outcome for one bus address. Err is set in-band so
// one dead address never fails the whole scan.
type ScanResult struct {
	Address  string `json:"address"`
	Identity string `json:"identity,omitempty"`
	Err      string `json:"error,omitempty"`
	Cached   bool   `json:"cached,omitempty"`
}

type scanJob struct {
	ctx     context.Context
	address string
	index   int
	out     chan<- scanOutcome
}

type scanOutcome struct {
	index  int
	result ScanResult
}

// ScanBus probes the given addresses concurrently and reports one result per
// address, in input order. Identities seen within the cache TTL are answered
// without touching the bus. Cancelling ctx returns early; unprobed slots
// carry a canceled error.
func (e *Engine) ScanBus(ctx context.Context, addresses []string) ([]ScanResult, error) {
	if !e.running.Load() {
		return nil, errors.WrapInvalid(errors.ErrNotStarted,
			"Engine", "ScanBus", "engine state")
	}
	if len(addresses) == 0 {
		return nil, errors.WrapInvalid(fmt.Errorf("no addresses to scan"),
			"Engine", "ScanBus", "address list")
	}

	results := make([]ScanResult, len(addresses))
	for i, addr := range addresses {
		results[i] = ScanResult{Address: addr, Err: "scan canceled"}
	}

	// Buffered per job so abandoned probes never block on send.
	out := make(chan scanOutcome, len(addresses))

	expected := 0
	for i, addr := range addresses {
		job := scanJob{ctx: ctx, address: addr, index: i, out: out}
		if err := e.scanPool.Submit(job); err != nil {
			results[i].Err = "scan queue full"
			e.logger.Warn("scan probe rejected", "address", addr, "error", err)
			continue
		}
		expected++
	}

	for received := 0; received < expected; received++ {
		select {
		case <-ctx.Done():
			return results, nil
		case oc := <-out:
			results[oc.index] = oc.result
		}
	}
	return results, nil
}

// runProbe is the scan pool processor. The outcome always lands on the job's
// channel; the returned error only feeds pool metrics.
func (e *Engine) runProbe(ctx context.Context, job scanJob) error {
	result := ScanResult{Address: job.address}

	if err := job.ctx.Err(); err != nil {
		result.Err = "scan canceled"
		job.out <- scanOutcome{index: job.index, result: result}
		return nil
	}

	if identity, ok := e.scanCache.Get(job.address); ok {
		result.Identity = identity
		result.Cached = true
		e.em.recordScanProbe("cached")
		job.out <- scanOutcome{index: job.index, result: result}
		return nil
	}

	identity, err := e.probeAddress(ctx, job)
	if err != nil {
		result.Err = err.Error()
		e.em.recordScanProbe("error")
		job.out <- scanOutcome{index: job.index, result: result}
		return err
	}

	if _, err := e.scanCache.Set(job.address, identity); err != nil {
		e.logger.Warn("scan identity cache write", "address", job.address, "error", err)
	}
	result.Identity = identity
	e.em.recordScanProbe("probed")
	job.out <- scanOutcome{index: job.index, result: result}
	return nil
}

// probeAddress opens the address, asks for *IDN?, and returns the trimmed
// reply. The whole round trip shares one timeout.
func (e *Engine) probeAddress(poolCtx context.Context, job scanJob) (string, error) {
	ctx, cancel := context.WithTimeout(job.ctx, scanProbeTimeout)
	defer cancel()

	// Pool shutdown also aborts an in-flight probe.
	go func() {
		select {
		case <-poolCtx.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	conn, err := e.transports.Open(ctx, job.address)
	if err != nil {
		return "", err
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			e.logger.Warn("scan probe close", "address", job.address, "error", cerr)
		}
	}()

	if err := conn.Write(ctx, scpi.CmdIdentify); err != nil {
		return "", err
	}
	reply, err := conn.Read(ctx, scanProbeTimeout)
	if err != nil {
		return "", err
	}

	identity := strings.TrimSpace(reply)
	if identity == "" {
		return "", errors.WrapTransient(fmt.Errorf("empty identification reply"),
			"Engine", "probeAddress", fmt.Sprintf("probe %s", job.address))
	}
	return identity, nil
}
