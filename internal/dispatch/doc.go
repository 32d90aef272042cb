// Package dispatch routes inbound chat events to plugin handlers.
//
// The Dispatcher owns one plugin.Router per loaded plugin. Each inbound event
// is offered to every router enabled for its conversation, and each of those
// spawns an independent worker, so a slow plugin in one conversation never
// holds up another.
//
// Text starting with the command prefix (default "//") is an administrative
// command. Commands are handled synchronously on the caller's goroutine,
// never inside a worker, and only for senders listed under masters:
//
//	//help
//	//enable plugin [plugin ...]
//	//disable plugin [plugin ...]
//	//list-enabled
//	//list-available
//
// Every command produces exactly one reply. Enable and disable persist the
// new enable map to the config file.
//
// Lifecycle:
//   - NotStarted: routers exist and enables from config are applied, but
//     lifecycle hooks have not run and events are rejected.
//   - Running: events are routed.
//   - Stopped: events are rejected; in-flight workers are not waited for.
package dispatch
