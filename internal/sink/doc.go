// Package sink implements crawler.Sink outputs: blob-store JSON documents,
// message-bus notifications, and a fan-out combinator.
package sink
