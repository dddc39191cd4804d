// Package imagestore implements ImageStore: content-addressed
// layer storage, registry resolution against a configurable search
// path (mirror-then-fallback per registry, unqualified names probed
// in order), and the image index Builder composes into.
package imagestore
