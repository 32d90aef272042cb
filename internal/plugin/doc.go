// Package plugin hosts chat plugins and runs their workers.
//
// A Catalog holds the compiled-in plugin Definitions. For every loaded plugin
// the dispatcher owns one Router, which maps each conversation the plugin is
// enabled in to a Handler. A Handler owns that conversation's isolation gate
// and spawns one worker per inbound event:
//
//	gate.Enter -> Plugin.HandleEvent -> gate.Exit
//
// Exit runs on every path, including plugin panics. An ErrExclusivityDenied
// the plugin did not handle itself is turned into a single error reply to the
// conversation; any other error is logged and contained to that worker.
package plugin
