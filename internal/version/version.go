// Package version identifies this service to peers and to the ledger.
package version

// ServiceName is the descriptor peers look for when probing /health.
const ServiceName = "hashtensor-validator"

// Version is the release version.
const Version = "2.1.0"

// SpecVersion is the version key submitted with weights
// (1000*major + 10*minor + patch).
const SpecVersion uint64 = 2010
