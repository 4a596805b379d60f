// Package kernel wires cache configurations to a live client.
//
// Provider publishes immutable snapshots of the combined codecs, namespaces,
// processors and database handle. Syncer feeds conversation history and the
// live message stream through the current snapshot.
package kernel
