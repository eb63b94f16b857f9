package dokan

import (
	"context"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// MountController records the mount points of devices, the
// way the mount service does.
type MountController interface {
	Mount(ctx context.Context, device uint32, drive uint16) error
	Unmount(ctx context.Context, drive uint16) error
}

type option struct {
	threadCount       int
	debugMode         bool
	useStdErr         bool
	useAltStream      bool
	useKeepAlive      bool
	mountPoint        uint16
	volumeLabel       string
	fileSystemName    string
	keepAliveInterval time.Duration
	logger            logrus.FieldLogger
	mountControl      MountController
}

func newOption() *option {
	return &option{
		threadCount:       5,
		mountPoint:        'M',
		volumeLabel:       "DOKAN",
		fileSystemName:    "Dokan",
		keepAliveInterval: time.Second,
	}
}

// Option is the options that could be passed to mount.
type Option func(*option)

// ThreadCount sets the number of workers serving events.
func ThreadCount(value int) Option {
	return func(o *option) {
		o.threadCount = value
	}
}

// DebugMode raises the verbosity of the library log.
func DebugMode(value bool) Option {
	return func(o *option) {
		o.debugMode = value
	}
}

// UseStdErr routes the library log to the standard error.
func UseStdErr(value bool) Option {
	return func(o *option) {
		o.useStdErr = value
	}
}

// UseAltStream allows stream names to be opened.
func UseAltStream(value bool) Option {
	return func(o *option) {
		o.useAltStream = value
	}
}

// UseKeepAlive makes the device unmount itself once the
// process stops pinging it, so a crashed file system does
// not leave a dead volume behind.
func UseKeepAlive(value bool) Option {
	return func(o *option) {
		o.useKeepAlive = value
	}
}

// MountPoint sets the drive letter to mount at.
func MountPoint(value rune) Option {
	return func(o *option) {
		o.mountPoint = uint16(value)
	}
}

// VolumeLabel sets the label reported when the file system
// does not answer volume information itself.
func VolumeLabel(value string) Option {
	return func(o *option) {
		o.volumeLabel = value
	}
}

// FileSystemName sets the file system's type for display.
func FileSystemName(value string) Option {
	return func(o *option) {
		o.fileSystemName = value
	}
}

// KeepAliveInterval sets the period of keepalive pings.
func KeepAliveInterval(value time.Duration) Option {
	return func(o *option) {
		o.keepAliveInterval = value
	}
}

// Logger sets the logger of the library, the standard
// logger of logrus is used by default.
func Logger(value logrus.FieldLogger) Option {
	return func(o *option) {
		o.logger = value
	}
}

// MountControl registers the mount point with the controller
// after mounting, and removes it on unmount.
func MountControl(value MountController) Option {
	return func(o *option) {
		o.mountControl = value
	}
}

// Options is used to aggregate a bundle of options.
func Options(opts ...Option) Option {
	return func(o *option) {
		for _, opt := range opts {
			opt(o)
		}
	}
}

func (o *option) validate() error {
	if o.threadCount < 1 || o.threadCount > 64 {
		return errors.Errorf("invalid thread count %d", o.threadCount)
	}
	drive := o.mountPoint
	if drive >= 'a' && drive <= 'z' {
		drive -= 'a' - 'A'
	}
	if drive < 'D' || drive > 'Z' {
		return errors.Errorf("invalid drive letter %q", rune(o.mountPoint))
	}
	o.mountPoint = drive
	if o.useKeepAlive && o.keepAliveInterval <= 0 {
		return errors.Errorf(
			"invalid keepalive interval %s", o.keepAliveInterval)
	}
	return nil
}

// makeLogger resolves the logger the library writes to.
//
// Debug mode and standard error only apply to a logger the
// library owns, a logger passed in is left as configured.
func (o *option) makeLogger() logrus.FieldLogger {
	if o.logger != nil {
		return o.logger
	}
	if !o.debugMode && !o.useStdErr {
		return logrus.StandardLogger()
	}
	logger := logrus.New()
	if o.debugMode {
		logger.SetLevel(logrus.DebugLevel)
	}
	if o.useStdErr {
		logger.SetOutput(os.Stderr)
	}
	return logger
}

// Config is the file form of the mount options.
type Config struct {
	MountPoint        string   `toml:"mount_point"`
	ThreadCount       int      `toml:"thread_count"`
	DebugMode         bool     `toml:"debug_mode"`
	UseStdErr         bool     `toml:"use_stderr"`
	UseAltStream      bool     `toml:"use_alt_stream"`
	UseKeepAlive      bool     `toml:"use_keepalive"`
	KeepAliveInterval duration `toml:"keepalive_interval"`
	VolumeLabel       string   `toml:"volume_label"`
	FileSystemName    string   `toml:"file_system_name"`
}

type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	value, err := time.ParseDuration(string(text))
	if err != nil {
		return errors.Wrapf(err, "parse duration %q", text)
	}
	d.Duration = value
	return nil
}

// LoadConfig reads the mount options from a TOML file.
func LoadConfig(path string) (*Config, error) {
	config := &Config{}
	meta, err := toml.DecodeFile(path, config)
	if err != nil {
		return nil, errors.Wrapf(err, "load config %q", path)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, errors.Errorf(
			"unknown config key %q in %q", undecoded[0].String(), path)
	}
	return config, nil
}

// Options converts the fields set in the file into options.
func (c *Config) Options() Option {
	var opts []Option
	if c.MountPoint != "" {
		opts = append(opts, MountPoint(rune(c.MountPoint[0])))
	}
	if c.ThreadCount != 0 {
		opts = append(opts, ThreadCount(c.ThreadCount))
	}
	if c.KeepAliveInterval.Duration != 0 {
		opts = append(opts, KeepAliveInterval(c.KeepAliveInterval.Duration))
	}
	if c.VolumeLabel != "" {
		opts = append(opts, VolumeLabel(c.VolumeLabel))
	}
	if c.FileSystemName != "" {
		opts = append(opts, FileSystemName(c.FileSystemName))
	}
	opts = append(opts,
		DebugMode(c.DebugMode),
		UseStdErr(c.UseStdErr),
		UseAltStream(c.UseAltStream),
		UseKeepAlive(c.UseKeepAlive),
	)
	return Options(opts...)
}
