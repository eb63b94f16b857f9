// Command mirror serves a native directory as a volume.
//
// The process hosts the driver and the mount service next
// to the file system, so dokanctl run against the address
// of the mirror lists and unmounts its volume.
package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/aegistudio/go-dokan"
	"github.com/aegistudio/go-dokan/driver"
	"github.com/aegistudio/go-dokan/gofs"
	"github.com/aegistudio/go-dokan/mountctl"
)

var (
	configPath = flag.String("config", "", "TOML file of the mount options.")
	root       = flag.String("root", "", "directory to mirror.")
	address    = flag.String("address", "", "address the mount service listens on, "+
		"$DOKAN_CONTROL_ADDRESS or "+mountctl.DefaultAddress+" by default.")
	debug = flag.Bool("debug", false, "log at debug level.")
)

// serve mounts the directory and answers the mount service
// on the listener, until the context is done or the volume
// is unmounted.
func serve(
	ctx context.Context, l net.Listener, dir string,
	logger *logrus.Logger, opts ...dokan.Option,
) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	global := driver.NewGlobal(driver.DefaultConfig(), logger)
	server := mountctl.NewServer(global, logger)
	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return server.Serve(ctx, l)
	})

	client, err := mountctl.Dial(ctx, l.Addr().Network()+":"+l.Addr().String())
	if err != nil {
		cancel()
		_ = group.Wait()
		return err
	}
	fs, err := dokan.Mount(ctx, global.NewDevice(), gofs.New(gofs.Dir(dir)),
		dokan.Options(opts...), dokan.MountControl(client), dokan.Logger(logger))
	if err != nil {
		_ = client.Close()
		cancel()
		_ = group.Wait()
		return errors.Wrap(err, "mount")
	}
	group.Go(func() error {
		defer cancel()
		defer func() { _ = client.Close() }()
		select {
		case <-ctx.Done():
		case <-fs.Done():
			logger.Info("volume unmounted")
		}
		return fs.Unmount()
	})
	return group.Wait()
}

func main() {
	flag.Parse()
	logger := logrus.StandardLogger()
	if *debug {
		logger.SetLevel(logrus.DebugLevel)
	}
	if *root == "" {
		flag.Usage()
		os.Exit(2)
	}
	var opts []dokan.Option
	if *configPath != "" {
		config, err := dokan.LoadConfig(*configPath)
		if err != nil {
			logger.WithError(err).Fatal("load config")
		}
		opts = append(opts, config.Options())
	}
	listen := *address
	if listen == "" {
		listen = os.Getenv("DOKAN_CONTROL_ADDRESS")
	}
	if listen == "" {
		listen = mountctl.DefaultAddress
	}
	l, err := net.Listen(mountctl.ParseAddress(listen))
	if err != nil {
		logger.WithError(err).Fatal("listen")
	}
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := serve(ctx, l, *root, logger, opts...); err != nil {
		logger.WithError(err).Fatal("mirror")
	}
}
