// Package repository provides a generic repository over bun-tagged entity
// structs: CRUD and batch operations, attribute filters, sparse updates, an
// error taxonomy and a begin/success/failure audit log with redaction.
package repository
