// Package internaldefs holds the metric names and bucket bounds shared by
// exporter implementations.
//
// Both the Prometheus and OTel exporters read these definitions, so they
// expose identical names and bucket boundaries.
//
// # What this package must NOT do
//
//   - Import any exporter package.
//   - Perform I/O.
package internaldefs
