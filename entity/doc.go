// Package entity defines the minimal shape of a managed record and resolves
// the column layout of bun-tagged entity structs once per type.
package entity
