//go:build tracing

package trace

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileExporter_BasicExport(t *testing.T) {
	dir := t.TempDir()
	tracePath := filepath.Join(dir, "traces.jsonl")

	exporter, err := NewFileExporter(tracePath)
	if err != nil {
		t.Fatalf("NewFileExporter failed: %v", err)
	}
	defer exporter.Close()

	record := &TraceRecord{
		Timestamp:   time.Date(2026, 8, 30, 10, 30, 0, 0, time.UTC),
		OperationID: "test-op-1",
		Operation:   "call",
		SessionID:   "session-1",
		DurationMs:  1234,
		Status:      "success",
		Spans: []SpanRecord{
			{Name: "complete", DurationMs: 900, OK: true},
			{Name: "parse", DurationMs: 300, OK: true, Counters: map[string]int64{"attempts": 1}},
		},
	}

	if err := exporter.Export(context.Background(), record); err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if err := exporter.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	file, err := os.Open(tracePath)
	if err != nil {
		t.Fatalf("Open trace file failed: %v", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	if !scanner.Scan() {
		t.Fatal("Expected one JSONL record")
	}

	var got TraceRecord
	if err := json.Unmarshal(scanner.Bytes(), &got); err != nil {
		t.Fatalf("Unmarshal record failed: %v", err)
	}
	if got.Operation != "call" || got.SessionID != "session-1" {
		t.Errorf("Record mismatch: %+v", got)
	}
	if len(got.Spans) != 2 || got.Spans[1].Counters["attempts"] != 1 {
		t.Errorf("Spans not preserved: %+v", got.Spans)
	}
}

func TestFileExporter_Rotation(t *testing.T) {
	dir := t.TempDir()
	tracePath := filepath.Join(dir, "traces.jsonl")

	exporter, err := NewFileExporter(tracePath, WithMaxSize(128), WithMaxRotatedFiles(2))
	if err != nil {
		t.Fatalf("NewFileExporter failed: %v", err)
	}
	defer exporter.Close()

	for i := 0; i < 10; i++ {
		record := &TraceRecord{
			Timestamp:   time.Now(),
			OperationID: "op",
			Operation:   "call",
			DurationMs:  int64(i),
			Status:      "success",
		}
		if err := exporter.Export(context.Background(), record); err != nil {
			t.Fatalf("Export %d failed: %v", i, err)
		}
	}

	if _, err := os.Stat(tracePath + ".1"); err != nil {
		t.Errorf("Expected rotated file: %v", err)
	}
}

func TestFileExporter_ExportAfterClose(t *testing.T) {
	dir := t.TempDir()
	exporter, err := NewFileExporter(filepath.Join(dir, "traces.jsonl"))
	if err != nil {
		t.Fatalf("NewFileExporter failed: %v", err)
	}

	exporter.Close()
	if err := exporter.Export(context.Background(), &TraceRecord{}); err == nil {
		t.Error("Expected error exporting after close")
	}
}
