// zfszipper performs scheduled, rotating, incremental backups of ZFS file
// systems between a live source pool and one of several removable backup
// pools. The configuration file format is the YAML shape defined in
// internal/config/load.go.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/diekhans/zfs-zipper/internal/backup"
	"github.com/diekhans/zfs-zipper/internal/clock"
	"github.com/diekhans/zfs-zipper/internal/config"
	"github.com/diekhans/zfs-zipper/internal/lockfile"
	"github.com/diekhans/zfs-zipper/internal/recorder"
	"github.com/diekhans/zfs-zipper/internal/zerrors"
	"github.com/diekhans/zfs-zipper/internal/zfsutil"
)

// Exit codes: 0 success, 1 operational failure, 2 misuse.
const (
	exitSuccess  = 0
	exitOperFail = 1
	exitMisuse   = 2
)

var opts struct {
	confPath         string
	sourceFileSystem []string
	snapOnly         bool
	verboseLevel     string
}

func main() {
	os.Exit(run())
}

// run executes the command and returns the process exit code, keeping
// os.Exit out of the cobra command tree so RunE stays a normal function.
func run() int {
	root := newRootCmd()
	exitCode := exitSuccess
	root.RunE = func(cmd *cobra.Command, args []string) error {
		code, err := runRoot(cmd, args)
		exitCode = code
		return err
	}
	if err := root.Execute(); err != nil {
		if exitCode == exitSuccess {
			exitCode = exitMisuse
		}
	}
	return exitCode
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "zfszipper [backup-set-name]",
		Short:        "rotating incremental ZFS backups",
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.confPath, "conf", "", "path to the backup configuration file (required)")
	flags.StringArrayVar(&opts.sourceFileSystem, "sourceFileSystem", nil, "restrict the run to this source file system (repeatable)")
	flags.BoolVar(&opts.snapOnly, "snapOnly", false, "create source-side snapshots only; do not touch any backup pool")
	flags.StringVar(&opts.verboseLevel, "verboseLevel", "", "log verbosity: debug, info, warning, or error (overrides the config file)")
	return cmd
}

// runRoot runs one backup invocation and reports both the process exit
// code and an error for cobra to print, if any.
func runRoot(cmd *cobra.Command, args []string) (int, error) {
	if opts.confPath == "" {
		return exitMisuse, fmt.Errorf("--conf is required")
	}

	conf, err := config.Load(opts.confPath)
	if err != nil {
		if zerrors.Is(err, zerrors.ConfigError) {
			return exitMisuse, err
		}
		return exitOperFail, err
	}

	log, err := newLogger(conf, opts.verboseLevel)
	if err != nil {
		return exitMisuse, err
	}

	set, err := selectBackupSet(conf, args)
	if err != nil {
		return exitMisuse, err
	}

	lock := lockfile.New(conf.LockFilePath)
	if err := lock.TryAcquire(); err != nil {
		log.WithError(err).Error("failed to acquire lock")
		return exitOperFail, err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			log.WithError(err).Warn("failed to release lock")
		}
	}()

	rec, err := recorder.Open(conf.RecordFilePath, nil)
	if err != nil {
		return exitOperFail, err
	}
	defer rec.Close()
	log.WithField("recordFile", rec.FileName()).Info("recording backup actions")

	driver := zfsutil.NewCLIDriver(log)
	orch := backup.NewBackupSetBackup(driver, rec, clock.System{}, log, set, conf.AllowDegraded)

	if opts.snapOnly {
		err = orch.SnapOnly(opts.sourceFileSystem)
	} else {
		err = orch.Backup(opts.sourceFileSystem)
	}
	if err != nil {
		log.WithError(err).Error("backup run failed")
		return exitOperFail, err
	}

	log.Info("backup run complete")
	return exitSuccess, nil
}

// selectBackupSet resolves which configured backup set this run applies
// to: the single configured set if there is exactly one and no name was
// given, otherwise the positional name, which must be supplied and must
// match.
func selectBackupSet(conf *config.BackupConf, args []string) (*config.BackupSetConf, error) {
	if len(args) == 1 {
		set, ok := conf.GetBackupSet(args[0])
		if !ok {
			return nil, fmt.Errorf("unknown backup set: %s", args[0])
		}
		return set, nil
	}
	if len(conf.BackupSets) == 1 {
		return conf.BackupSets[0], nil
	}
	return nil, fmt.Errorf("multiple backup sets configured; a backup set name is required")
}

func newLogger(conf *config.BackupConf, verboseOverride string) (*logrus.Logger, error) {
	log := logrus.New()
	log.Formatter = &logrus.TextFormatter{FullTimestamp: true}

	levelName := conf.LogSink.Level
	if verboseOverride != "" {
		levelName = verboseOverride
	}
	level, err := parseVerboseLevel(levelName)
	if err != nil {
		return nil, err
	}
	log.SetLevel(level)

	if conf.LogSink.SyslogFacility != "" {
		hook, err := newSyslogHook(conf.LogSink.SyslogFacility)
		if err != nil {
			return nil, err
		}
		log.AddHook(hook)
	}

	return log, nil
}

// parseVerboseLevel maps the CLI's verbosity vocabulary onto logrus's
// levels; "warning" is logrus's "warn".
func parseVerboseLevel(name string) (logrus.Level, error) {
	switch name {
	case "debug":
		return logrus.DebugLevel, nil
	case "info":
		return logrus.InfoLevel, nil
	case "warning":
		return logrus.WarnLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	default:
		return 0, fmt.Errorf("--verboseLevel must be one of debug, info, warning, error, got %q", name)
	}
}
