// Package websocket streams the live acquisition feed to WebSocket clients.
//
// # Overview
//
// The hub is a push-only engine consumer: every reading, every closed
// frame, device state changes, and drop reports are fanned out to all
// connected clients as typed JSON envelopes. Each client gets a bounded
// drop-oldest send queue with its own writer goroutine, so one slow
// browser never stalls the engine's dispatch or another client.
//
// # Quick Start
//
// Serve the stream on the built-in listener:
//
//	hub, err := websocket.New(websocket.Deps{
//	    Config: websocket.Config{Port: 8081},
//	})
//	if err != nil {
//	    return err
//	}
//	if err := hub.Initialize(); err != nil {
//	    return err
//	}
//	if err := hub.Start(ctx); err != nil {
//	    return err
//	}
//	eng.Subscribe(hub)
//
// Clients then connect to ws://host:8081/api/v1/stream.
//
// With Port zero the hub runs no listener of its own; mount Handler on
// the gateway instead:
//
//	mux.Handle("/api/v1/stream", hub.Handler())
//
// # Message Envelope
//
// Every message on the wire is a MessageEnvelope. Type selects the
// payload shape:
//
//   - "reading": one measurement cycle result (reading.Reading)
//   - "frame": one closed alignment frame (reading.Frame)
//   - "state": a device state transition (StateEvent)
//   - "drops": a cumulative drop report for one device (DropsEvent)
//
// For example:
//
//	{
//	  "type": "reading",
//	  "id": "msg-1735689600123-42",
//	  "timestamp": 1735689600123,
//	  "payload": {
//	    "device_id": "dmm-1",
//	    "function": "dc_voltage",
//	    "value": 12.0042,
//	    "unit": "V",
//	    "sequence": 1042,
//	    "timestamp": 1735689600120,
//	    "monotonic_ns": 91282004112
//	  }
//	}
//
// # Slow Clients
//
// Sends never block the engine. A client that cannot keep up overflows
// its queue and sheds the oldest pending messages; the shed count is
// visible in the instrumentd_websocket_queue_dropped_total metric. A
// client whose writes fail or time out is disconnected.
//
// # Keepalive
//
// The hub pings every client on PingInterval and expects a pong within
// 60 seconds. Silent clients are culled. Inbound text frames are
// discarded; the stream is one way.
//
// # Lifecycle
//
// Start brings up the listener and the maintenance loop; Stop shuts the
// listener down, closes every client connection, and waits for the
// per-client goroutines within the given timeout. Both are safe to call
// more than once.
//
// # Security
//
// The hub speaks plain ws:// and accepts any origin. Put TLS
// termination, authentication, and rate limiting in a reverse proxy in
// front of it.
package websocket
