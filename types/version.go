package types

// Version is the canonical project version.
// The CLI and the wire peers share this version; peers are assumed to run
// compatible binaries (the wire format carries no version field).
const Version = "0.2.0"
