// Package server hosts the Fiber HTTP service and the ordered request
// pipeline. NewApp attaches recovery and request-id middleware, bypasses
// diagnostics paths under /-/, and hands every other request to a Dispatcher
// that walks its stages (static responder, then proxy forwarder) until one
// reports Handled. The package also owns the shared upstream http.Client so
// that proxy code never builds its own transport. Keep exports narrow: stages
// live in their own packages and depend on server, never the other way around.
package server
