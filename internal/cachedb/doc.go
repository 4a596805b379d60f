// Package cachedb is the versioned local store behind the message cache.
//
// Each namespace is a table inside one goleveldb database. Schema metadata
// records the version and the content type owning each table, so reopening
// with a different configuration can be checked before anything is written.
package cachedb
