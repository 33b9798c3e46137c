// Package x10 implements the X10 power line bridge.
//
// X10 devices are reached only through the heyu controller binary. This
// package turns MQTT commands into heyu invocations and turns the heyu
// monitor stream back into retained MQTT state.
//
// # Architecture
//
//	┌─────────────────┐          ┌─────────────────┐   heyu    ┌──────────┐
//	│ Home Assistant  │   MQTT   │   X10 Bridge    │◄─────────►│ CM11A /  │
//	│ or other client │◄────────►│   (this pkg)    │  monitor  │ CM17A    │
//	└─────────────────┘          └─────────────────┘           └──────────┘
//
// Two flows run concurrently over one shared MQTT client:
//
//   - Command flow: <command-topic>/<housecode> with payload ON or OFF is
//     validated, queued on a bounded worker pool and executed as
//     "heyu on a1" (or "fon"/"foff" in CM17A mode). The commanded state is
//     then published retained to <state-topic>/<housecode>, even when heyu
//     fails.
//   - Monitor flow: "heyu monitor" reports each bus change as an address
//     line followed by a function line. A two-state automaton (Step) pairs
//     them and the result is published retained as well.
//
// On every connection to the broker the bridge subscribes to
// <command-topic>/+ and then publishes Home Assistant discovery descriptors
// for units 1-16 of every configured house letter.
//
// # Housecodes
//
// A housecode is a letter A-P followed by a unit number. Topics use the
// lower-case form ("x10/stat/a1"); discovery names use upper case.
//
// # Thread Safety
//
// All exported types are safe for concurrent use unless documented otherwise.
package x10
