package tui

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/logflow/bxes/pkg/codec"
)

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
	}
	for _, tt := range tests {
		if got := FormatBytes(tt.in); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatNumberAndDuration(t *testing.T) {
	if got := FormatNumber(999); got != "999" {
		t.Errorf("FormatNumber(999) = %q", got)
	}
	if got := FormatNumber(12500); got != "12.5K" {
		t.Errorf("FormatNumber(12500) = %q", got)
	}
	if got := FormatNumber(3200000); got != "3.2M" {
		t.Errorf("FormatNumber(3200000) = %q", got)
	}
	if got := FormatDuration(250 * time.Millisecond); got != "250ms" {
		t.Errorf("FormatDuration(250ms) = %q", got)
	}
	if got := FormatDuration(90 * time.Second); got != "1m30s" {
		t.Errorf("FormatDuration(90s) = %q", got)
	}
}

func TestPrintStats(t *testing.T) {
	s := &codec.Stats{
		Layout:    "multi-file",
		Version:   1,
		Variants:  3,
		Events:    12,
		Traces:    40,
		FileBytes: 2048,
		Sections: []codec.Section{
			{Name: codec.ValuesFile, Bytes: 1024},
			{Name: codec.TracesFile, Bytes: 1024},
		},
	}
	var buf bytes.Buffer
	PrintStats(&buf, "log", s)

	out := buf.String()
	for _, want := range []string{"multi-file", codec.ValuesFile, codec.TracesFile, "50.0%", "2.0 KB"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintReport(t *testing.T) {
	var buf bytes.Buffer
	PrintReport(&buf, &Report{Operation: "ENCODE", Variants: 2, Events: 10, Traces: 7, InputSize: 4096, OutputSize: 1024, Duration: time.Second})
	PrintFailure(&buf, "a.xes", errors.New("boom"))

	out := buf.String()
	for _, want := range []string{"ENCODE COMPLETE", "4.0x", "a.xes", "boom"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestShowProgress(t *testing.T) {
	bar := ShowProgress(io.Discard, 3, "files")
	for i := 0; i < 3; i++ {
		if err := bar.Add(1); err != nil {
			t.Fatalf("Add() error: %v", err)
		}
	}
	if !bar.IsFinished() {
		t.Error("bar not finished after reaching total")
	}
}
