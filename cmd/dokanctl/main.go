// Command dokanctl installs the driver and the mount service,
// and talks to a running mount service.
//
//	dokanctl /u <drive letter | mount index>
//	dokanctl /m
//	dokanctl /i {d|s|a|n}
//	dokanctl /r {d|s|a|n}
//	dokanctl /v
//	dokanctl /d <0-9>
//
// The slash forms stand for the subcommands of the same
// initial, which may be spelled out as well.
package main

import (
	"context"
	"flag"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/subcommands"

	"github.com/aegistudio/go-dokan/mountctl"
	"github.com/aegistudio/go-dokan/service"
)

// exitFailure is the exit code of bad arguments and of
// requests the mount service turns down.
const exitFailure subcommands.ExitStatus = -1

var slashCommands = map[byte]string{
	'u': "unmount",
	'm': "list",
	'i': "install",
	'r': "remove",
	'v': "version",
	'd': "debug",
}

// env is what the commands run against.
type env struct {
	stdout  io.Writer
	stderr  io.Writer
	address string
	connect func() (service.Manager, error)

	driverPath   string
	mounterPath  string
	providerPath string
}

func (e *env) dial(ctx context.Context) (*mountctl.Client, error) {
	return mountctl.Dial(ctx, e.address)
}

// normalize turns the leading slash form into its command.
func normalize(args []string) ([]string, bool) {
	if len(args) == 0 {
		return args, true
	}
	first := args[0]
	if len(first) < 1 || first[0] != '/' {
		return args, true
	}
	if len(first) != 2 {
		return nil, false
	}
	name, ok := slashCommands[strings.ToLower(first)[1]]
	if !ok {
		return nil, false
	}
	result := append([]string{name}, args[1:]...)
	return result, true
}

func run(ctx context.Context, args []string, e *env) int {
	flags := flag.NewFlagSet("dokanctl", flag.ContinueOnError)
	flags.SetOutput(e.stderr)
	flags.StringVar(&e.address, "address", e.address,
		"address of the mount service, as unix:<path> or tcp:<host:port>")
	flags.StringVar(&e.mounterPath, "mounter", e.mounterPath,
		"binary installed as the mount service")
	if err := flags.Parse(args); err != nil {
		return int(exitFailure)
	}
	rest, ok := normalize(flags.Args())
	if !ok {
		flags.Usage()
		return int(exitFailure)
	}
	// The command line is positional from here on.
	if err := flags.Parse(rest); err != nil {
		return int(exitFailure)
	}

	commander := subcommands.NewCommander(flags, "dokanctl")
	commander.Register(commander.HelpCommand(), "")
	commander.Register(&unmountCmd{}, "")
	commander.Register(&listCmd{}, "")
	commander.Register(&componentCmd{install: true}, "")
	commander.Register(&componentCmd{}, "")
	commander.Register(&versionCmd{}, "")
	commander.Register(&debugCmd{}, "")

	status := commander.Execute(ctx, e)
	if status == subcommands.ExitUsageError {
		return int(exitFailure)
	}
	return int(status)
}

func defaultEnv() *env {
	address := os.Getenv("DOKAN_CONTROL_ADDRESS")
	if address == "" {
		address = mountctl.DefaultAddress
	}
	mounterPath := "mounter.exe"
	if exe, err := os.Executable(); err == nil {
		mounterPath = filepath.Join(filepath.Dir(exe), mounterPath)
	}
	return &env{
		stdout:       os.Stdout,
		stderr:       os.Stderr,
		address:      address,
		connect:      service.Connect,
		driverPath:   systemDirectory() + `\drivers\dokan.sys`,
		mounterPath:  mounterPath,
		providerPath: `%SystemRoot%\system32\dokannp.dll`,
	}
}

func main() {
	os.Exit(run(context.Background(), os.Args[1:], defaultEnv()))
}
