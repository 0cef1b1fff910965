// Package database adapts bun to the repository session contract. It owns
// connection configuration, the connection manager for mysql, postgres and
// sqlite, autobegin and savepoint session providers, engine error
// classification, query log hooks, and a small model registry used to create
// and drop tables in tests and bootstrap code.
package database
