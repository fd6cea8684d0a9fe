// Package wheel implements a hierarchical timing wheel.
//
// Tasks are binned by truncated expiration into fixed-size rings of Buckets.
// Expirations beyond one ring's span are pushed into a lazily created overflow
// wheel whose tick equals the whole span of the wheel below it. Only buckets
// that currently hold work are tracked by the shared DelayQueue, so draining
// never scans empty slots.
package wheel
