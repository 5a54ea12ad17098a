// Package shm implements the cross-process shared-memory primitives: a
// lock-free SPSC ring buffer carrying RequestMetric records from a worker
// process to the aggregator, a bounded MPSC channel carrying rarely-seen
// EndpointLabel registrations, and a single-writer single-reader command
// block carrying scale/stop commands from the coordinator to each worker.
//
// Every primitive here is backed by a memory-mapped file under a per-run
// directory (golang.org/x/sys/unix.Mmap), so that independent OS processes
// can share the region directly. Synchronization is release/acquire on a
// single atomic word per primitive — never a lock — keeping the producer
// side lock-free and wait-free.
package shm
