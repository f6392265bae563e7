package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"pohchain/internal/entrylog"
	"pohchain/internal/poh"
)

// result is the verification outcome printed by pohverify.
type result struct {
	Source      string  `json:"source"`
	Hasher      string  `json:"hasher"`
	Initial     string  `json:"initial"`
	Entries     int     `json:"entries"`
	Checkpoints int     `json:"checkpoints"`
	Mixins      int     `json:"mixins"`
	Claimed     uint64  `json:"claimed_hashes"`
	Verified    int     `json:"verified_entries"`
	Hashes      uint64  `json:"hashes"`
	Workers     int     `json:"workers"`
	ElapsedMs   float64 `json:"elapsed_ms"`
	Valid       bool    `json:"valid"`
	Malformed   bool    `json:"malformed,omitempty"`
	Incomplete  bool    `json:"incomplete,omitempty"`
	FailedIndex *int    `json:"failed_index,omitempty"`
	Error       string  `json:"error,omitempty"`
}

func newResult(source string, log *entrylog.Log, report poh.Report, workers int, elapsed time.Duration) *result {
	stats := log.Stats()
	res := &result{
		Source:      source,
		Hasher:      log.Hasher,
		Initial:     log.Initial.String(),
		Entries:     stats.Entries,
		Checkpoints: stats.Checkpoints,
		Mixins:      stats.Mixins,
		Claimed:     stats.Hashes,
		Verified:    report.Entries,
		Hashes:      report.Hashes,
		Workers:     workers,
		ElapsedMs:   float64(elapsed.Microseconds()) / 1000,
		Valid:       report.Valid,
	}
	if !report.Valid {
		idx := report.FailedIndex
		res.FailedIndex = &idx
	}
	if report.Err != nil {
		res.Error = report.Err.Error()
		res.Malformed = isMalformed(report.Err)
		res.Incomplete = report.Cancelled()
	}
	return res
}

func (r *result) exitCode() int {
	switch {
	case r.Valid:
		return exitValid
	case r.Incomplete:
		return exitIncomplete
	case r.Malformed:
		return exitMalformed
	default:
		return exitInvalid
	}
}

func (r *result) status() string {
	switch {
	case r.Valid:
		return "VALID"
	case r.Incomplete:
		return fmt.Sprintf("INCOMPLETE (stopped before entry %d)", *r.FailedIndex)
	case r.Malformed:
		return fmt.Sprintf("MALFORMED at entry %d", *r.FailedIndex)
	case r.FailedIndex != nil:
		return fmt.Sprintf("INVALID at entry %d", *r.FailedIndex)
	default:
		return "INVALID"
	}
}

func writeReport(w io.Writer, r *result, format string) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Source:\t%s\n", r.Source)
	fmt.Fprintf(tw, "Hasher:\t%s\n", r.Hasher)
	fmt.Fprintf(tw, "Initial:\t%s\n", r.Initial)
	fmt.Fprintf(tw, "Entries:\t%d (%d checkpoints, %d mixins)\n", r.Entries, r.Checkpoints, r.Mixins)
	fmt.Fprintf(tw, "Hashes:\t%d claimed, %d replayed\n", r.Claimed, r.Hashes)
	fmt.Fprintf(tw, "Workers:\t%s\n", workersString(r.Workers))
	fmt.Fprintf(tw, "Elapsed:\t%.3fms\n", r.ElapsedMs)
	fmt.Fprintf(tw, "Result:\t%s\n", r.status())
	if r.Error != "" {
		fmt.Fprintf(tw, "Error:\t%s\n", r.Error)
	}
	return tw.Flush()
}

func workersString(n int) string {
	switch {
	case n == 1:
		return "1 (sequential)"
	case n <= 0:
		return "auto"
	default:
		return fmt.Sprintf("%d", n)
	}
}
