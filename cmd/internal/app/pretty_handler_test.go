package app

import (
	"log/slog"
	"strings"
	"testing"
)

func TestStripANSI(t *testing.T) {
	t.Parallel()

	in := ansiBlue + "INFO" + ansiReset + " plain " + ansiRed + "ERR" + ansiReset
	got := stripANSI(in)
	want := "INFO plain ERR"
	if got != want {
		t.Fatalf("stripANSI()=%q want=%q", got, want)
	}
}

func TestPrettyHandler_ColorOnlyChangesPaint(t *testing.T) {
	t.Parallel()

	render := func(color bool) string {
		var b strings.Builder
		log := slog.New(newPrettyHandler(&b, &slog.HandlerOptions{Level: slog.LevelDebug}, color))
		log.Warn("ws.command", "command", "selectTable", "code", "QUERY_FAILED", "status", 502, "took_ms", 12)
		return b.String()
	}

	plain := render(false)
	colored := render(true)

	if plain == colored {
		t.Fatalf("expected colored output to differ")
	}
	// Drop the timestamp column before comparing.
	cut := func(s string) string { return s[strings.Index(s, " ")+1:] }
	if cut(stripANSI(colored)) != cut(plain) {
		t.Fatalf("stripped output mismatch:\n%q\n%q", stripANSI(colored), plain)
	}
	for _, want := range []string{"WARN", "msg=ws.command", "command=selectTable", "code=QUERY_FAILED", "status=502", "took_ms=12"} {
		if !strings.Contains(plain, want) {
			t.Fatalf("missing %q in %q", want, plain)
		}
	}
}

func TestPrettyHandler_GroupsAndQuoting(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	log := slog.New(newPrettyHandler(&b, nil, false)).WithGroup("gw").With("op", "connect")
	log.Info("gateway.connect.unreachable", "msg_detail", "no route to host", "empty", "")

	out := b.String()
	for _, want := range []string{"gw.op=connect", `gw.msg_detail="no route to host"`, `gw.empty=""`} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in %q", want, out)
		}
	}
}

func TestPrettyHandler_LevelFilter(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	log := slog.New(newPrettyHandler(&b, &slog.HandlerOptions{Level: slog.LevelWarn}, false))
	log.Info("hidden")
	log.Debug("hidden")
	if b.Len() != 0 {
		t.Fatalf("expected no output, got %q", b.String())
	}
}
