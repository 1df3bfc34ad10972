// Package cache persists decoded copies of proxied upstream responses to disk.
// The layout mirrors request paths under <cwd>/<CacheDir>/<path>, or a single
// literal file when CacheDir is absolute. Writes are side effects for external
// consumers: entries are never read back, never evicted, and concurrent writers
// to the same path resolve as last-writer-wins through temp file + rename.
// The proxy forwarder wraps upstream bodies with Writer.Observe; everything
// after the client stream (draining, decoding, the final rename) runs on a
// background goroutine and reports through a Hook.
package cache
