package main

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"github.com/google/subcommands"

	"github.com/aegistudio/go-dokan"
	"github.com/aegistudio/go-dokan/driver"
	"github.com/aegistudio/go-dokan/mountctl"
	"github.com/aegistudio/go-dokan/service"
)

// singleLetter is the lowered argument of a command taking
// one letter, or zero when it is anything else.
func singleLetter(f *flag.FlagSet) byte {
	if f.NArg() != 1 || len(f.Arg(0)) != 1 {
		return 0
	}
	return strings.ToLower(f.Arg(0))[0]
}

// unmountCmd implements subcommands.Command for "unmount".
type unmountCmd struct{}

func (*unmountCmd) Name() string     { return "unmount" }
func (*unmountCmd) Synopsis() string { return "unmount a drive" }
func (*unmountCmd) Usage() string {
	return "unmount <drive letter | mount index 0-9>\n"
}
func (*unmountCmd) SetFlags(*flag.FlagSet) {}

func (*unmountCmd) Execute(
	ctx context.Context, f *flag.FlagSet, args ...interface{},
) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	e := args[0].(*env)
	target := f.Arg(0)
	client, err := e.dial(ctx)
	if err != nil {
		fmt.Fprintf(e.stderr, "unmount failed: %v\n", err)
		return exitFailure
	}
	defer func() { _ = client.Close() }()

	mountPoint := target
	if len(target) == 1 && target[0] >= '0' && target[0] <= '9' {
		index := uint32(target[0] - '0')
		entry, ok, err := client.Entry(ctx, index)
		if err != nil {
			fmt.Fprintf(e.stderr, "unmount failed: %v\n", err)
			return exitFailure
		}
		if !ok {
			fmt.Fprintf(e.stderr, "mount entry %d not found\n", index)
			return exitFailure
		}
		mountPoint = entry.MountPoint
	}
	drive, err := mountctl.ParseDrive(mountPoint)
	if err != nil {
		fmt.Fprintf(e.stderr, "%v\n", err)
		return subcommands.ExitUsageError
	}
	if err := client.Unmount(ctx, drive); err != nil {
		fmt.Fprintf(e.stderr, "unmount failed: %v\n", err)
		return exitFailure
	}
	fmt.Fprintf(e.stderr, "unmount %s ok\n", mountctl.MountPointOf(drive))
	return subcommands.ExitSuccess
}

// listCmd implements subcommands.Command for "list".
type listCmd struct{}

func (*listCmd) Name() string           { return "list" }
func (*listCmd) Synopsis() string       { return "list the mount points" }
func (*listCmd) Usage() string          { return "list\n" }
func (*listCmd) SetFlags(*flag.FlagSet) {}

func (*listCmd) Execute(
	ctx context.Context, f *flag.FlagSet, args ...interface{},
) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	e := args[0].(*env)
	client, err := e.dial(ctx)
	if err != nil {
		fmt.Fprintf(e.stderr, "list failed: %v\n", err)
		return subcommands.ExitSuccess
	}
	defer func() { _ = client.Close() }()
	entries, err := client.List(ctx)
	if err != nil {
		fmt.Fprintf(e.stderr, "list failed: %v\n", err)
	}
	for _, entry := range entries {
		fmt.Fprintf(e.stdout, "[%2d] MountPoint: %s\n     DeviceName: %s\n",
			entry.Index, entry.MountPoint, entry.DeviceName)
	}
	return subcommands.ExitSuccess
}

// step is one component to install or remove.
type step struct {
	label string
	run   func(service.Manager, *env) error
}

var installSteps = map[byte][]step{
	'd': {installDriver},
	's': {installMounter},
	'a': {installDriver, installMounter},
	'n': {{"network provider", func(m service.Manager, e *env) error {
		return m.InstallNetworkProvider(e.providerPath)
	}}},
}

var removeSteps = map[byte][]step{
	'd': {removeDriver},
	's': {removeMounter},
	'a': {removeMounter, removeDriver},
	'n': {{"network provider", func(m service.Manager, e *env) error {
		return m.RemoveNetworkProvider()
	}}},
}

var (
	installDriver = step{"driver", func(m service.Manager, e *env) error {
		return m.Install(service.DriverName, service.KindDriver, e.driverPath)
	}}
	installMounter = step{"mounter", func(m service.Manager, e *env) error {
		return m.Install(service.MounterName, service.KindService, e.mounterPath)
	}}
	removeDriver = step{"driver", func(m service.Manager, e *env) error {
		return m.Remove(service.DriverName)
	}}
	removeMounter = step{"mounter", func(m service.Manager, e *env) error {
		return m.Remove(service.MounterName)
	}}
)

// componentCmd implements subcommands.Command for "install"
// and "remove".
type componentCmd struct {
	install bool
}

func (c *componentCmd) Name() string {
	if c.install {
		return "install"
	}
	return "remove"
}

func (c *componentCmd) Synopsis() string {
	if c.install {
		return "install the driver, the mount service or the network provider"
	}
	return "remove the driver, the mount service or the network provider"
}

func (c *componentCmd) Usage() string {
	return c.Name() + ` {d|s|a|n}
  d	driver
  s	mount service
  a	driver and mount service
  n	network provider
`
}

func (*componentCmd) SetFlags(*flag.FlagSet) {}

func (c *componentCmd) Execute(
	ctx context.Context, f *flag.FlagSet, args ...interface{},
) subcommands.ExitStatus {
	steps := removeSteps
	if c.install {
		steps = installSteps
	}
	plan, ok := steps[singleLetter(f)]
	if !ok {
		f.Usage()
		return subcommands.ExitUsageError
	}
	e := args[0].(*env)
	manager, err := e.connect()
	if err != nil {
		fmt.Fprintf(e.stderr, "%s failed: %v\n", c.Name(), err)
		return subcommands.ExitSuccess
	}
	for _, s := range plan {
		if err := s.run(manager, e); err != nil {
			fmt.Fprintf(e.stderr, "%s %s failed: %v\n", s.label, c.Name(), err)
			continue
		}
		fmt.Fprintf(e.stderr, "%s %s ok\n", s.label, c.Name())
	}
	return subcommands.ExitSuccess
}

// versionCmd implements subcommands.Command for "version".
type versionCmd struct{}

func (*versionCmd) Name() string           { return "version" }
func (*versionCmd) Synopsis() string       { return "print the versions" }
func (*versionCmd) Usage() string          { return "version\n" }
func (*versionCmd) SetFlags(*flag.FlagSet) {}

func (*versionCmd) Execute(
	_ context.Context, _ *flag.FlagSet, args ...interface{},
) subcommands.ExitStatus {
	e := args[0].(*env)
	fmt.Fprintf(e.stdout, "Dokan version : %X\n", dokan.Version)
	fmt.Fprintf(e.stdout, "Dokan driver version : %X\n", driver.DriverVersion)
	return subcommands.ExitSuccess
}

// debugCmd implements subcommands.Command for "debug".
type debugCmd struct{}

func (*debugCmd) Name() string           { return "debug" }
func (*debugCmd) Synopsis() string       { return "set the debug level of the driver" }
func (*debugCmd) Usage() string          { return "debug <0-9>\n" }
func (*debugCmd) SetFlags(*flag.FlagSet) {}

func (*debugCmd) Execute(
	ctx context.Context, f *flag.FlagSet, args ...interface{},
) subcommands.ExitStatus {
	level := singleLetter(f)
	if level < '0' || level > '9' {
		f.Usage()
		return subcommands.ExitUsageError
	}
	e := args[0].(*env)
	client, err := e.dial(ctx)
	if err == nil {
		err = client.SetDebugMode(ctx, uint32(level-'0'))
		_ = client.Close()
	}
	if err != nil {
		fmt.Fprintf(e.stderr, "set debug mode failed: %v\n", err)
	} else {
		fmt.Fprintf(e.stderr, "set debug mode ok\n")
	}
	return subcommands.ExitSuccess
}
