// Package contenttype resolves configured content type names into cache
// configurations contributed by the built-in modules.
package contenttype
