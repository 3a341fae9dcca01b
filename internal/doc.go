// Package internal contains the implementation packages for wasmscope.
//
// # Package Organization
//
//   - analyzer: WebAssembly module and component decoding, WIT rendering
//   - bus: change-event fan-out with bounded per-subscriber queues
//   - config: viper-backed configuration loading and validation
//   - errors: structured WatchError types and validation collections
//   - logging: log/slog wrapper injected into every package
//   - monitoring: Prometheus collectors and health checks
//   - registry: component records, lifecycle transitions, eviction, dependency links
//   - server: HTTP API over the component service
//   - services: ComponentService, the pipeline's single entry point
//   - testutils: wasm encoders and filesystem helpers for tests
//   - types: records, interface descriptors and change events
//   - version: build information
//   - watcher: fsnotify event loop, filters, debouncing and bounded analysis
//   - websocket: change stream transport
//
// # Data Flow
//
// The watcher observes the root, debounces per path and hands settled paths
// to the analyzer under a worker cap. Results are applied to the registry,
// which reports the resulting change; the watcher publishes it on the bus,
// and the bus delivers it to every subscriber in order.
package internal
