// Package codex models the codex content tree.
//
// Each document in the codex collection is a top-level category; its
// object-valued fields are sub-categories to any depth. The reserved field
// "content" holds a node's block list. Statblock blocks carry an entityId,
// the only edge from the tree into the entity collection.
package codex
