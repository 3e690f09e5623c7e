// Package device provides the reader registry for the fingerprint core.
//
// The registry is the single owner of every piece of shared reader state:
// the open handles, the session reservations and the per-reader task slots.
// All compound operations (reserve, start-task-if-absent, remove-on-disconnect)
// run under one registry lock so a reservation or task can never outlive the
// reader it refers to.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────────────┐
//	│                          Reader Registry                         │
//	│                                                                  │
//	│  ┌────────────────┐   ┌────────────────┐   ┌─────────────────┐   │
//	│  │   Registry     │   │  Reservations  │   │  Compatibility  │   │
//	│  │ (registry.go)  │   │(reservation.go)│   │(compatibility.go│   │
//	│  │                │   │                │   │                 │   │
//	│  │ • Refresh/diff │   │ • reserve      │   │ • vendor list   │   │
//	│  │ • open/close   │   │ • release      │   │ • technology    │   │
//	│  │ • task slots   │   │ • by session   │   │ • can capture   │   │
//	│  └────────────────┘   └────────────────┘   └─────────────────┘   │
//	│          │                                                       │
//	└──────────│───────────────────────────────────────────────────────┘
//	           ▼
//	┌──────────────────────┐
//	│  Enumerator / Reader │  (vendor SDK or simreader)
//	└──────────────────────┘
//
// # Key Types
//
//   - Reader: the device protocol every driver implements
//   - Enumerator: lists the readers physically present right now
//   - Compatibility: pure predicate deciding whether a reader is supported
//   - Task: handle of a background loop bound to one reader
//
// # Usage
//
//	reg := device.NewRegistry(enumerator, device.DefaultCompatibility())
//	reg.SetLogger(log)
//
//	names, err := reg.Refresh(ctx)
//	if err != nil {
//	    return err
//	}
//	if err := reg.Reserve(names[0], sessionID); err != nil {
//	    // errors.Is(err, device.ErrDeviceAlreadyReserved) ...
//	}
//
// # Thread Safety
//
// All Registry methods are safe for concurrent use.
package device
