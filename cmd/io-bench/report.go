package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// BenchmarkResult stores the block transfers of one operation at one size
type BenchmarkResult struct {
	Operation string
	RBlocks   int
	SBlocks   int
	Count     int
	Reads     uint64
	Writes    uint64
	Duration  float64 // milliseconds
	Timestamp time.Time
}

// IO returns the total block transfers
func (r BenchmarkResult) IO() uint64 {
	return r.Reads + r.Writes
}

// SaveResultCSV saves benchmark results to a CSV file
func SaveResultCSV(results []BenchmarkResult, filename string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Timestamp", "Operation", "RBlocks", "SBlocks", "Count",
		"Reads", "Writes", "IO", "Duration",
	}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, r := range results {
		record := []string{
			r.Timestamp.Format(time.RFC3339),
			r.Operation,
			strconv.Itoa(r.RBlocks),
			strconv.Itoa(r.SBlocks),
			strconv.Itoa(r.Count),
			strconv.FormatUint(r.Reads, 10),
			strconv.FormatUint(r.Writes, 10),
			strconv.FormatUint(r.IO(), 10),
			fmt.Sprintf("%.3f", r.Duration),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

// LoadResultCSV loads benchmark results from a CSV file
func LoadResultCSV(filename string) ([]BenchmarkResult, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}

	// Skip header
	if len(records) <= 1 {
		return []BenchmarkResult{}, nil
	}
	records = records[1:]

	results := make([]BenchmarkResult, 0, len(records))
	for _, record := range records {
		if len(record) < 9 {
			continue
		}

		timestamp, _ := time.Parse(time.RFC3339, record[0])
		rBlocks, _ := strconv.Atoi(record[2])
		sBlocks, _ := strconv.Atoi(record[3])
		count, _ := strconv.Atoi(record[4])
		reads, _ := strconv.ParseUint(record[5], 10, 64)
		writes, _ := strconv.ParseUint(record[6], 10, 64)
		duration, _ := strconv.ParseFloat(record[8], 64)

		results = append(results, BenchmarkResult{
			Timestamp: timestamp,
			Operation: record[1],
			RBlocks:   rBlocks,
			SBlocks:   sBlocks,
			Count:     count,
			Reads:     reads,
			Writes:    writes,
			Duration:  duration,
		})
	}

	return results, nil
}

// PrintResultTable prints a formatted table of benchmark results
func PrintResultTable(w io.Writer, results []BenchmarkResult) {
	if len(results) == 0 {
		fmt.Fprintln(w, "No results to display")
		return
	}

	fmt.Fprintln(w, "+--------------+-------+-------+--------+--------+--------+--------+-----------+")
	fmt.Fprintln(w, "| Operation    | R blk | S blk | Count  | Reads  | Writes | IO     | Time (ms) |")
	fmt.Fprintln(w, "+--------------+-------+-------+--------+--------+--------+--------+-----------+")

	for _, r := range results {
		fmt.Fprintf(w, "| %-12s | %5d | %5d | %6d | %6d | %6d | %6d | %9.3f |\n",
			r.Operation,
			r.RBlocks,
			r.SBlocks,
			r.Count,
			r.Reads,
			r.Writes,
			r.IO(),
			r.Duration)
	}
	fmt.Fprintln(w, "+--------------+-------+-------+--------+--------+--------+--------+-----------+")
}
