package debuglog

import (
	"bytes"
	"log/slog"
	"testing"
)

func TestEmitNilSinkIsSafe(t *testing.T) {
	Emit(nil, "va=0x%x", 0x1000)
}

func TestEmitFormatsAndDelivers(t *testing.T) {
	var got string
	sink := func(line string) { got = line }

	Emit(sink, "pfn=%d access=%s", 7, "read|write")

	if want := "pfn=7 access=read|write"; got != want {
		t.Fatalf("Emit delivered %q, want %q", got, want)
	}
}

func TestFromLoggerRoutesThroughTraceLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: LevelTrace}))

	sink := FromLogger(logger)
	sink("hello from the sink")

	if !bytes.Contains(buf.Bytes(), []byte("hello from the sink")) {
		t.Fatalf("log output missing message: %s", buf.String())
	}
}

func TestFromLoggerSuppressedAboveTraceLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	sink := FromLogger(logger)
	sink("should not appear")

	if buf.Len() != 0 {
		t.Fatalf("expected no output below configured level, got: %s", buf.String())
	}
}
