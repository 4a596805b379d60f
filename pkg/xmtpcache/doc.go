// Package xmtpcache defines the contracts of the message cache: content type
// identifiers, codecs, per-content-type cache configurations, and the pure
// combination steps that merge those configurations into one codec list,
// namespace table, and processor table.
package xmtpcache
