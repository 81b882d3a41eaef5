package cli

import (
	"flag"
	"io"
	"strings"
	"testing"
)

func TestHelpFlag(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	flags := AddHelpVersionFlags(fs, "", "")

	if err := fs.Parse([]string{"-h"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !flags.Help {
		t.Fatalf("expected help flag set")
	}
}

func TestVersionFlag(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	flags := AddHelpVersionFlags(fs, "", "")

	if err := fs.Parse([]string{"--version"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !flags.Version {
		t.Fatalf("expected version flag set")
	}
}

func TestStringListRepeats(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var values StringList
	fs.Var(&values, "ignore", "ignore pattern")

	if err := fs.Parse([]string{"--ignore", `\.git`, "--ignore", "dist"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(values) != 2 || values[0] != `\.git` || values[1] != "dist" {
		t.Fatalf("unexpected values %v", values)
	}
	if values.String() != `\.git,dist` {
		t.Fatalf("unexpected string %q", values.String())
	}
	if err := fs.Parse([]string{"--ignore", " "}); err == nil {
		t.Fatalf("expected empty value to be rejected")
	}
}

func TestWriteOptionGroup(t *testing.T) {
	var out strings.Builder
	WriteOptionGroup(&out, "Walk", []HelpOption{{Name: "--watch", Desc: "Watch matched paths"}})
	if !strings.Contains(out.String(), "  Walk:\n") || !strings.Contains(out.String(), "--watch") {
		t.Fatalf("unexpected output %q", out.String())
	}
}
