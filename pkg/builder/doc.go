// Package builder implements Builder: it enumerates a build
// context, parses a recipe, and executes its instructions sequentially
// against a content-hash keyed layer cache, composing the result into
// a new image registered with imagestore.
package builder
