// Package session owns per-participant moderation state for live streams.
// A stream is opened as an explicit handle when the broadcast starts and
// closed when it ends; closing discards every participant's state. State can
// live in process memory or in Redis, bounded by the stream's lifetime.
package session
