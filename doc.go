// Package plume is the document synchronization core of the Plume writing
// platform: an offline-first local store with an outbound change queue, and
// a real-time collaboration session that reconciles concurrent edits into
// one document string.
//
// The Client ties the pieces together for the common case; each subpackage
// is usable on its own:
//
//   - pkg/localstore: compressed, versioned document persistence plus the
//     pending-change queue, on bbolt.
//   - pkg/syncqueue: drains the queue against a remote endpoint with
//     per-record retry limits and a status surface.
//   - pkg/resolver: the append-only operation log that merges concurrent
//     edits.
//   - pkg/collab: the websocket room session with presence, chat and
//     reconnection.
package plume
