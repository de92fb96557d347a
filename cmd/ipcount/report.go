package main

import (
	"fmt"
	"io"
	"time"
)

type report struct {
	Exact        uint64
	Estimate     uint64
	ExactTime    time.Duration
	EstimateTime time.Duration
}

func writeReport(w io.Writer, r report) {
	fmt.Fprintf(w, "%-25s%-20s%-20s\n", "Method", "Exact count", "HyperLogLog")
	fmt.Fprintf(w, "%-25s%-20d%-20d\n", "Unique elements", r.Exact, r.Estimate)
	fmt.Fprintf(w, "%-25s%-20.6f%-20.6f\n", "Execution time (sec.)", r.ExactTime.Seconds(), r.EstimateTime.Seconds())
}
