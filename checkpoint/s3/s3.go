package s3

// Placeholder for an S3 backed checkpoint.Store implementation.
//
// Intent: persist walker records to AWS S3 (or compatible APIs) keyed by
// global walker index under a run-scoped prefix, so interrupted distributed
// runs can restart on a fresh set of workers. This file intentionally remains
// a stub so that downstream contributors can supply credentials / client
// wiring without pulling an AWS dependency into minimal builds. If you
// implement this, keep the dependency surface narrow and make the
// configuration (bucket, prefix, encryption) explicit via a small Config
// struct, and encode Record.Data in a fixed-endianness binary layout.
