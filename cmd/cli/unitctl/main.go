package main

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	flags "github.com/jessevdk/go-flags"

	"github.com/core-tools/hsu-unitd/pkg/control"
	"github.com/core-tools/hsu-unitd/pkg/logging"
	"github.com/core-tools/hsu-unitd/pkg/properties"
)

type flagOptions struct {
	SocketPath  string `long:"socket" description:"management socket path" default:"/run/unitd/control.sock"`
	Mode        string `long:"mode" description:"job mode for lifecycle commands" default:"replace"`
	Runtime     bool   `long:"runtime" description:"apply property changes for this runtime only"`
	Interactive bool   `long:"interactive" description:"allow interactive authorization"`
	Verbose     bool   `long:"verbose" description:"verbose output"`
}

var jobVerbs = map[string]string{
	"start":                 "Start",
	"stop":                  "Stop",
	"reload":                "Reload",
	"restart":               "Restart",
	"try-restart":           "TryRestart",
	"reload-or-restart":     "ReloadOrRestart",
	"reload-or-try-restart": "ReloadOrTryRestart",
}

func usage() {
	fmt.Println("usage: unitctl [options] <command> <unit> [args...]")
	fmt.Println("commands: start stop reload restart try-restart reload-or-restart")
	fmt.Println("          reload-or-try-restart kill reset-failed set-property")
	fmt.Println("          list-processes attach ref unref show")
	os.Exit(1)
}

func main() {
	var opts flagOptions
	parser := flags.NewParser(&opts, flags.HelpFlag)
	args, err := parser.ParseArgs(os.Args[1:])
	if err != nil {
		fmt.Printf("Command line flags parsing failed: %v\n", err)
		os.Exit(1)
	}
	if len(args) < 2 {
		usage()
	}
	command, unitName := args[0], args[1]
	rest := args[2:]

	logFuncs := logging.LogFuncs{
		Debugf: discardf,
		Infof:  discardf,
		Warnf:  warnf,
		Errorf: errorf,
	}
	if opts.Verbose {
		logFuncs.Debugf = printf
		logFuncs.Infof = printf
	}
	logger := logging.NewLogger("", logFuncs)

	gw, err := control.NewClientGateway(opts.SocketPath, logger)
	if err != nil {
		fmt.Printf("Failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer gw.Close()

	if verb, ok := jobVerbs[command]; ok {
		job, err := gw.QueueJob(unitName, verb, opts.Mode, opts.Interactive)
		if err != nil {
			fail(err)
		}
		fmt.Printf("Queued job %d (%s)\n", job.ID, job.Path)
		return
	}

	switch command {
	case "kill":
		who := ""
		signal := int64(15)
		if len(rest) > 0 {
			who = rest[0]
		}
		if len(rest) > 1 {
			signal, err = strconv.ParseInt(rest[1], 10, 32)
			if err != nil {
				fmt.Printf("Invalid signal number: %s\n", rest[1])
				os.Exit(1)
			}
		}
		if err := gw.Kill(unitName, who, int32(signal), opts.Interactive); err != nil {
			fail(err)
		}

	case "reset-failed":
		if err := gw.ResetFailed(unitName); err != nil {
			fail(err)
		}

	case "set-property":
		if len(rest) == 0 {
			fmt.Println("set-property needs at least one NAME=VALUE argument")
			os.Exit(1)
		}
		entries, err := parseAssignments(rest)
		if err != nil {
			fmt.Printf("%v\n", err)
			os.Exit(1)
		}
		if err := gw.SetProperties(unitName, opts.Runtime, entries, opts.Interactive); err != nil {
			fail(err)
		}

	case "list-processes":
		procs, err := gw.GetProcesses(unitName)
		if err != nil {
			fail(err)
		}
		for _, p := range procs {
			group := p.Group
			if group == "" {
				group = "-"
			}
			fmt.Printf("%8d  %-40s %s\n", p.PID, group, p.Command)
		}

	case "attach":
		pids := make([]uint32, 0, len(rest))
		for _, arg := range rest {
			pid, err := strconv.ParseUint(arg, 10, 32)
			if err != nil {
				fmt.Printf("Invalid process identifier: %s\n", arg)
				os.Exit(1)
			}
			pids = append(pids, uint32(pid))
		}
		if err := gw.AttachProcesses(unitName, "", pids); err != nil {
			fail(err)
		}

	case "ref":
		if err := gw.Ref(unitName, opts.Interactive); err != nil {
			fail(err)
		}

	case "unref":
		if err := gw.Unref(unitName); err != nil {
			fail(err)
		}

	case "show":
		props, err := gw.GetProperties(unitName)
		if err != nil {
			fail(err)
		}
		names := make([]string, 0, len(props))
		for name := range props {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("%s=%v\n", name, props[name])
		}

	default:
		usage()
	}
}

// parseAssignments turns NAME=VALUE arguments into property entries. Values
// are sent as strings, "yes"/"no" as booleans and digit runs as integers,
// which covers the settable surface.
func parseAssignments(args []string) ([]properties.Entry, error) {
	entries := make([]properties.Entry, 0, len(args))
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("not a NAME=VALUE assignment: %s", arg)
		}
		entry, err := properties.NewEntry(name, inferValue(value))
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func inferValue(value string) interface{} {
	switch value {
	case "yes", "true", "on":
		return true
	case "no", "false", "off":
		return false
	}
	if n, err := strconv.ParseUint(value, 10, 64); err == nil {
		return n
	}
	return value
}

func fail(err error) {
	fmt.Printf("Failed: %v\n", err)
	os.Exit(1)
}

func discardf(format string, args ...interface{}) {}

func printf(format string, args ...interface{}) {
	fmt.Printf(format+"\n", args...)
}

func warnf(format string, args ...interface{}) {
	fmt.Printf("warning: "+format+"\n", args...)
}

func errorf(format string, args ...interface{}) {
	fmt.Printf("error: "+format+"\n", args...)
}
