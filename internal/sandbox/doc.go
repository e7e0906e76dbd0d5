/*
Package sandbox hosts isolated JavaScript execution contexts for the CSS build
pipeline.

# Overview

Each sandbox is a goja runtime owned by a goja_nodejs event loop. Nothing but
the loop touches the VM: messages posted by the host, timer callbacks and
module loads are all queued onto it. At most one sandbox per Kind is alive at a
time; the Host is the registry of those handles.

# Protocol

Scripts talk to the host the way a framed document talks to its parent page:

	onmessage = function (event) { ... event.data ... }
	postMessage({type: "iframe-ready"})

Messages cross the boundary as JSON, so neither side can hold references into
the other. Every envelope leaving a sandbox is stamped by the host with the
sandbox's ID; scripts cannot choose their own source. Waiters on the host are
one-shot listeners keyed by that ID and are removed once they fire or give up.

# Compiler sandboxes

The compiler kind is bootstrapped with an import map, substituted into the
document at ImportMapPlaceholder, and gets a require() that resolves
specifiers through that map and loads module sources through a ModuleLoader.
ES module sources are rewritten to CommonJS before evaluation, so CDN builds
using import and export load the same way as CommonJS bundles.
*/
package sandbox
