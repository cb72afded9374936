// Package engine coordinates acquisition sessions across bench multimeters.
//
// # Overview
//
// The engine package sits between the device registry (what instruments
// exist and how to poll them) and the consumers (where readings go). It
// owns exactly one acquisition session at a time: StartSession snapshots
// the enabled device configs, spawns one polling worker per device, and
// assembles aligned frames on a fixed tick until StopSession or engine
// shutdown.
//
// # Architecture
//
//	┌────────────┐  RegisterDevice / StartSession
//	│ HTTP / CLI │ ─────────────────────────────┐
//	└────────────┘                              ▼
//	                                     ┌─────────────┐
//	              ┌───────────────────── │   Engine    │
//	              │                      │             │
//	              ▼                      │ - sessions  │
//	      ┌──────────────┐    events     │ - frames    │
//	      │ device.Worker│ ───────────>  │ - scan pool │
//	      │  (per device)│   (queue +    └──────┬──────┘
//	      └──────┬───────┘     wake)            │ broadcast
//	             │ SCPI                         ▼
//	             ▼                       ┌─────────────┐
//	      ┌──────────────┐               │  Consumers  │
//	      │ transport.Conn│              │ table/graph │
//	      │  (shared bus) │              │ export/ws   │
//	      └──────────────┘               │ NATS        │
//	                                     └─────────────┘
//
// Each worker owns its transport connection and a bounded drop-oldest event
// queue. Collector goroutines drain those queues into the consumer set;
// consumers get their own bounded queues so one slow sink never stalls
// acquisition or its peers.
//
// # Session Lifecycle
//
//	idle ──StartSession()──> running ──StopSession()──> idle
//	  ▲                         │
//	  │                         │ engine Stop() also ends
//	  └─────────────────────────┘ the session first
//
// StartSession while running returns ErrSessionAlreadyRunning; StopSession
// while idle returns ErrSessionNotRunning. Device registration is a
// between-sessions operation: the session's view of the registry is the
// snapshot taken at start.
//
// # Frame Assembly
//
// On every FrameTick the engine closes a frame: for each device in the
// session it takes the freshest reading that arrived since the previous
// tick, or a stale marker if none did. Frame indices increase by exactly
// one per tick and a reading never lands in two frames. Raw readings still
// reach consumers individually and at full rate; frames are the aligned,
// decimated view.
//
// # Error Handling
//
// Following the errors package taxonomy:
//
//   - WrapInvalid: session state conflicts, unknown devices, bad configs
//   - WrapTransient: worker stop timeouts, probe and command I/O failures
//   - Per-device faults never surface here: workers degrade or go offline
//     on their own and the session keeps running for the healthy devices
//
// # Example Usage
//
//	eng, err := engine.New(engine.Deps{
//		Config:     engine.Config{ID: "bench"},
//		Transports: transport.NewDefaultRegistry(),
//	})
//	// register instruments, then:
//	err = eng.Start(ctx)
//	sess, err := eng.StartSession(ctx)
//	// ... acquisition runs, consumers receive readings and frames ...
//	sess, err = eng.StopSession(ctx)
//	err = eng.Stop(5 * time.Second)
package engine
