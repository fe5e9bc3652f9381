// Package bus distributes sample chunks from a single real-time producer to any
// number of independently paced subscribers. Each subscription owns a bounded
// ring: a subscriber that falls behind loses its oldest chunks and is told how
// many, while publishing never waits on a consumer.
package bus
