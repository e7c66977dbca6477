// Package containers runs the MySQL and ntfy backends that dealerdash
// integration tests talk to, via testcontainers-go.
//
// Everything here is behind the "integration" build tag:
//
//	go test -tags=integration ./internal/...
//
// Start one MySQLStore per package in TestMain and call Reset between tests.
package containers
