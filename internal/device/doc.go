// Package device provides the Device Registry for Gray Tap Core.
//
// The registry discovers the device instances reachable through a Link,
// identifies each one, and keeps the deduplicated result as the canonical
// device list for the rest of the engine.
//
// # Architecture
//
//	┌────────────────────────────────────────────────────────────────────┐
//	│                          Device Registry                           │
//	│                                                                    │
//	│  ┌──────────────────┐   ┌──────────────────┐   ┌────────────────┐  │
//	│  │  InstanceSource  │   │   Port probing   │   │ Identification │  │
//	│  │ (emulator mgr)   │──▶│ default + extra  │──▶│ brand + model  │  │
//	│  │ declared ports   │   │ only if mgr empty│   │ dedup by ID    │  │
//	│  └──────────────────┘   └──────────────────┘   └────────────────┘  │
//	│            │                     │                     │           │
//	└────────────│─────────────────────│─────────────────────│───────────┘
//	             ▼                     ▼                     ▼
//	      ┌─────────────────────────────────────────────────────────┐
//	      │                 Link (adb.Client in production)         │
//	      │  Connect · DiscoverCandidates · Query                   │
//	      └─────────────────────────────────────────────────────────┘
//
// # Caching
//
// Discovery is slow (each probe waits for the transport to settle), so the
// registry is cache-first: Discover(ctx, false) returns the previous
// non-empty result without touching the transport. Discover(ctx, true)
// clears the cache and scans again. The cache lock is never held across
// transport I/O.
//
// # Failure handling
//
// Discovery never fails as a whole. An endpoint that cannot be identified is
// dropped; a manager or transport error is logged and the scan continues
// with whatever remains. The result is never nil.
//
// # Usage
//
//	registry := device.NewRegistry(link, device.RegistryConfig{
//	    Host:         "127.0.0.1",
//	    DefaultPorts: []int{16384, 16416},
//	})
//	registry.SetInstanceSource(mumu)
//	registry.SetLogger(log)
//
//	devices := registry.Discover(ctx, false)
package device
