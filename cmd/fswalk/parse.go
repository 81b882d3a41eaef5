package main

import (
	"flag"
	"fmt"
	"io"
	"strings"

	"fswalk/internal/cli"
	"fswalk/internal/config"
)

// Flags holds the parsed command line. Set records which flags were given so
// they override the config file only when present.
type Flags struct {
	ConfigFile  string
	Path        string
	Watch       bool
	Ignore      cli.StringList
	Files       string
	Dirs        string
	Listen      string
	Token       string
	LogLevel    string
	ShowVersion bool
	Set         map[string]bool
}

func parseArgs(args []string, errOut io.Writer) (Flags, error) {
	fs := flag.NewFlagSet("fswalk", flag.ContinueOnError)
	fs.SetOutput(errOut)
	flags := Flags{}
	fs.StringVar(&flags.ConfigFile, "config", "", "YAML config file")
	fs.StringVar(&flags.Path, "path", "", "Root directory")
	fs.BoolVar(&flags.Watch, "watch", false, "Report changes to matched paths")
	fs.Var(&flags.Ignore, "ignore", "Ignore paths matching REGEXP (repeatable)")
	fs.StringVar(&flags.Files, "files", "", "Print files matching GLOB")
	fs.StringVar(&flags.Dirs, "dirs", "", "Print directories matching GLOB")
	fs.StringVar(&flags.Listen, "listen", "", "Serve the event stream on ADDR")
	fs.StringVar(&flags.Token, "token", "", "Token required by the event stream")
	fs.StringVar(&flags.LogLevel, "log-level", "", "Minimum log level")
	helpVersion := cli.AddHelpVersionFlags(fs, "Show this help message", "Print version and exit")
	fs.Usage = func() {
		printHelp(fs.Output())
	}

	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}
	if helpVersion.Help {
		fs.Usage()
		return Flags{}, flag.ErrHelp
	}
	if helpVersion.Version {
		return Flags{ShowVersion: true}, nil
	}

	flags.Set = make(map[string]bool)
	fs.Visit(func(flagValue *flag.Flag) {
		flags.Set[flagValue.Name] = true
	})

	if fs.NArg() > 1 {
		fs.Usage()
		return Flags{}, fmt.Errorf("expected at most one path, got %d", fs.NArg())
	}
	if fs.NArg() == 1 {
		if flags.Set["path"] {
			return Flags{}, fmt.Errorf("path given both as --path and as an argument")
		}
		flags.Path = fs.Arg(0)
		flags.Set["path"] = true
	}
	if flags.Set["path"] && strings.TrimSpace(flags.Path) == "" {
		return Flags{}, fmt.Errorf("invalid --path: value cannot be empty")
	}
	return flags, nil
}

// apply layers flags over cfg and adds the --files and --dirs rules. Without
// any rule every file and directory is printed.
func (f Flags) apply(cfg *config.Config) {
	if cfg.Sources == nil {
		cfg.Sources = make(map[string]config.Source)
	}
	if f.Set["path"] {
		cfg.Path = f.Path
		cfg.Sources["path"] = config.SourceFlag
	}
	if f.Set["watch"] {
		cfg.Watch = f.Watch
	}
	if f.Set["log-level"] {
		cfg.LogLevel = f.LogLevel
		cfg.Sources["log_level"] = config.SourceFlag
	}
	cfg.Ignore = append(cfg.Ignore, f.Ignore...)

	if f.Set["files"] {
		cfg.Rules = append(cfg.Rules, config.Rule{Name: "file", Kind: "file", Pattern: f.Files, Watch: true})
	}
	if f.Set["dirs"] {
		cfg.Rules = append(cfg.Rules, config.Rule{Name: "dir", Kind: "directory", Pattern: f.Dirs, Watch: true})
	}
	if len(cfg.Rules) == 0 {
		cfg.Rules = []config.Rule{
			{Name: "file", Kind: "file", Watch: true},
			{Name: "dir", Kind: "directory", Watch: true},
		}
	}
}

func printHelp(out io.Writer) {
	fmt.Fprintln(out, "Usage: fswalk [options] [path]")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Walk a directory tree once, print matching paths and optionally report changes")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Options:")
	cli.WriteOptionGroup(out, "Walk", []cli.HelpOption{
		{Name: "--config FILE", Desc: "YAML config file"},
		{Name: "--path DIR", Desc: "Root directory, file or file:// URI (env: " + config.EnvPath + ", default: .)"},
		{Name: "--ignore REGEXP", Desc: "Ignore matching paths; repeatable (node_modules is always ignored)"},
		{Name: "--files GLOB", Desc: "Print files matching GLOB"},
		{Name: "--dirs GLOB", Desc: "Print directories matching GLOB"},
	})
	cli.WriteOptionGroup(out, "Watch", []cli.HelpOption{
		{Name: "--watch", Desc: "Keep running and print changes to matched paths"},
		{Name: "--listen ADDR", Desc: "Stream path events over websocket at ADDR/events"},
		{Name: "--token TOKEN", Desc: "Token required by the event stream (default: none)"},
	})
	cli.WriteOptionGroup(out, "General", []cli.HelpOption{
		{Name: "--log-level LEVEL", Desc: "debug, info, warning or error (env: " + config.EnvLogLevel + ", default: info)"},
		{Name: "--help", Desc: "Show this help message"},
		{Name: "--version", Desc: "Print version and exit"},
	})
	fmt.Fprintln(out, "Output:")
	fmt.Fprintln(out, "  One line per match: <rule>\\t<path>; with --watch, changed\\t<path> per change.")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Exit codes: 0 ok, 1 usage, 2 configuration error, 3 walk failure.")
	fmt.Fprintln(out, "Environment variables override the config file; CLI flags override environment variables.")
}
