// Package enrich joins the daily gold series with macro indicators and
// writes a feature table for downstream models.
//
// Each indicator is a daily bar series fetched from the Yahoo Finance chart
// endpoint. Indicator values are left-joined onto the gold dates, gaps are
// forward-filled, and ratio and volatility columns are derived from the
// joined values. The table is written as CSV, atomically.
package enrich
