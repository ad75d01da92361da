// Package migrate moves documents onto canonical, name-derived identities.
//
// A normalization plan merges one or more source collections (typically a
// deprecated collection and its successor) into a target collection keyed by
// prefix + Slug(name), records every replaced identity in a Map, and then
// rewrites links held by dependent documents so nothing keeps pointing at an
// identity that no longer exists.
//
// Normalization is a one-shot batch step. Running it on an already canonical
// store writes nothing and returns an empty Map.
package migrate
