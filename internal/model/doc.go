// Package model defines the shared data types of the bar ingestion pipeline.
//
// Conventions:
//   - Timestamps: time.Time in UTC, naive wall-clock instants aligned to the resolution
//   - Prices: float64 as delivered by the provider
//   - A Series is always sorted ascending with unique timestamps
package model
