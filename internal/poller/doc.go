// Package poller implements the ingestion loop.
//
// Every cycle the Poller visits each configured series key:
//   - fetches the bars missing since the persisted watermark
//   - merges them into the stored series, newest value winning per timestamp
//   - saves the merged series atomically and mirrors the changed bars
//
// Keys are processed concurrently up to a limit, each under its own lock and
// deadline. A failing key is logged and skipped until the next cycle; only an
// authentication failure stops the loop.
package poller
