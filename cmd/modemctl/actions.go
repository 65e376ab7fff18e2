package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/envirodiy/loggermodem/components/board"
	boardfake "github.com/envirodiy/loggermodem/components/board/fake"
	"github.com/envirodiy/loggermodem/components/board/periph"
	"github.com/envirodiy/loggermodem/components/modem"
	"github.com/envirodiy/loggermodem/components/modem/atdriver"
	"github.com/envirodiy/loggermodem/components/modem/hostnet"
	"github.com/envirodiy/loggermodem/components/rtc"
	"github.com/envirodiy/loggermodem/components/rtc/ds3231"
	rtcfake "github.com/envirodiy/loggermodem/components/rtc/fake"
	"github.com/envirodiy/loggermodem/config"
	"github.com/envirodiy/loggermodem/logging"
	"github.com/envirodiy/loggermodem/services/timesync"
	"github.com/envirodiy/loggermodem/timing"
)

// stack is everything built from one config file.
type stack struct {
	conf   *config.Config
	logger logging.Logger
	modem  *modem.Modem
	rtc    rtc.Clock
	// closers release devices; the modem's power state is left alone.
	closers []io.Closer
}

func newLogger(c *cli.Context, conf config.LogConfig) (logging.Logger, func() error, error) {
	level, err := logging.LevelFromString(conf.Level)
	if err != nil {
		return nil, nil, err
	}
	if c.Bool(flagDebug) {
		level = logging.DEBUG
	}
	logger := logging.NewBlankLogger("modemctl")
	logger.SetLevel(level)
	logger.AddAppender(logging.NewWriterAppender(c.App.ErrWriter))
	closeLog := func() error { return logger.Sync() }
	if conf.File != "" {
		maxSize, maxBackups := conf.Rotation()
		file := logging.NewFileAppender(conf.File, maxSize, maxBackups)
		logger.AddAppender(file)
		closeLog = func() error { return multierr.Combine(logger.Sync(), file.Close()) }
	}
	return logger, closeLog, nil
}

func openBoard(conf board.Config, clk timing.Clock, logger logging.Logger) (board.Board, error) {
	if conf.Kind == board.KindFake {
		return boardfake.NewBoard(clk), nil
	}
	return periph.NewBoard(logger)
}

func openStack(ctx context.Context, conf *config.Config, logger logging.Logger) (_ *stack, err error) {
	s := &stack{conf: conf, logger: logger}
	defer func() {
		if err != nil {
			err = multierr.Combine(err, s.Close())
		}
	}()

	clk := timing.NewSystem()
	b, err := openBoard(conf.Board, clk, logger.Sublogger("board"))
	if err != nil {
		return nil, err
	}

	opts, err := conf.Modem.Options()
	if err != nil {
		return nil, err
	}
	deps := modem.Dependencies{Board: b, Clock: clk}
	switch {
	case opts.Capabilities.Attach == modem.AttachHost:
		driver := hostnet.New(clk, logger.Sublogger("hostnet"))
		deps.Driver, deps.Client = driver, driver
	case conf.Modem.Serial != nil:
		driver, err := atdriver.Open(*conf.Modem.Serial, opts.Capabilities, conf.Modem.Attributes, clk, logger.Sublogger("at"))
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, driver)
		deps.Driver, deps.Client = driver, driver
	default:
		logger.Info("no serial line configured, only power control is available")
	}
	if s.modem, err = modem.New(ctx, opts, deps, logger.Sublogger("modem")); err != nil {
		return nil, err
	}

	switch conf.RTC.Kind {
	case rtc.KindDS3231:
		clock, err := ds3231.Open(conf.RTC.I2CBus, logger.Sublogger("rtc"))
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, clock)
		s.rtc = clock
	default:
		//nolint:gosec
		s.rtc = rtcfake.NewClock(uint32(time.Now().Unix()))
	}
	return s, nil
}

func (s *stack) Close() error {
	var err error
	for _, closer := range s.closers {
		err = multierr.Combine(err, closer.Close())
	}
	return err
}

func (s *stack) timeClient() *timesync.Client {
	return timesync.NewClient(s.modem, s.rtc, s.conf.TimeSync, s.logger.Sublogger("timesync"))
}

func (s *stack) scheduler() (*timesync.Scheduler, error) {
	interval, err := s.conf.TimeSync.SyncInterval()
	if err != nil {
		return nil, err
	}
	return timesync.NewScheduler(s.modem, s.timeClient(), interval, s.logger)
}

// withStack reads the config and builds the stack around action.
func withStack(action func(*cli.Context, *stack) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		if envFile := c.String(flagEnvFile); envFile != "" {
			if err := godotenv.Load(envFile); err != nil {
				return errors.Wrapf(err, "loading %q", envFile)
			}
		}
		configPath := c.String(flagConfig)
		if configPath == "" {
			return errors.Errorf("--%s is required", flagConfig)
		}
		conf, err := config.Read(configPath)
		if err != nil {
			return err
		}
		logger, closeLog, err := newLogger(c, conf.Log)
		if err != nil {
			return err
		}
		s, err := openStack(c.Context, conf, logger)
		if err != nil {
			return multierr.Combine(err, closeLog())
		}
		err = action(c, s)
		return multierr.Combine(err, s.Close(), closeLog())
	}
}

func familiesAction(c *cli.Context) error {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Family", "Attach", "DNS", "Handshake", "Detach", "Pin sleep"})
	for _, name := range modem.Families() {
		caps, err := modem.LookupFamily(name)
		if err != nil {
			return err
		}
		t.AppendRow(table.Row{
			caps.Family, caps.Attach.String(), caps.SupportsDNS, caps.RequiresHandshake, caps.ExplicitDetach, caps.PinSleep,
		})
	}
	fmt.Fprintln(c.App.Writer, t.Render())
	return nil
}

func printState(c *cli.Context, active bool) {
	state := "off"
	if active {
		state = "on"
	}
	fmt.Fprintln(c.App.Writer, state)
}

func powerOnAction(c *cli.Context, s *stack) error {
	s.modem.Lock()
	defer s.modem.Unlock()
	if err := s.modem.Activate(c.Context); err != nil {
		return err
	}
	printState(c, s.modem.IsActive(c.Context))
	return nil
}

func powerOffAction(c *cli.Context, s *stack) error {
	s.modem.Lock()
	defer s.modem.Unlock()
	if err := s.modem.Deactivate(c.Context); err != nil {
		return err
	}
	printState(c, s.modem.IsActive(c.Context))
	return nil
}

func powerStatusAction(c *cli.Context, s *stack) error {
	s.modem.Lock()
	defer s.modem.Unlock()
	printState(c, s.modem.IsActive(c.Context))
	return nil
}

// attached runs fn with the network up and always puts the modem back to sleep afterwards.
func attached(c *cli.Context, s *stack, fn func() error) (err error) {
	s.modem.Lock()
	defer s.modem.Unlock()
	defer func() {
		err = multierr.Combine(err, s.modem.Close(c.Context))
	}()
	if err := s.modem.ConnectNetwork(c.Context); err != nil {
		return err
	}
	return fn()
}

func connectAction(c *cli.Context, s *stack) error {
	return attached(c, s, func() error {
		session := s.modem.Session()
		fmt.Fprintf(c.App.Writer, "connected over %s, session %s\n", session.Attach, session.ID)
		return nil
	})
}

func timeAction(c *cli.Context, s *stack) error {
	return attached(c, s, func() error {
		epoch, err := s.timeClient().NetworkTime(c.Context)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "%d %s\n", epoch, time.Unix(int64(epoch), 0).UTC().Format(time.RFC3339))
		return nil
	})
}

func syncAction(c *cli.Context, s *stack) error {
	scheduler, err := s.scheduler()
	if err != nil {
		return err
	}
	synced, err := scheduler.RunOnce(c.Context)
	if err != nil {
		return err
	}
	if synced {
		fmt.Fprintln(c.App.Writer, "clock synced to network time")
	} else {
		fmt.Fprintln(c.App.Writer, "clock already within tolerance")
	}
	return nil
}

func daemonAction(c *cli.Context, s *stack) error {
	scheduler, err := s.scheduler()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := scheduler.Start(); err != nil {
		return err
	}
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return config.Watch(groupCtx, s.conf.ConfigFilePath, s.logger, func(conf *config.Config) {
			level, err := logging.LevelFromString(conf.Log.Level)
			if err != nil {
				return
			}
			if !c.Bool(flagDebug) && level != s.logger.GetLevel() {
				s.logger.Infow("log level changed", "level", level.String())
				s.logger.SetLevel(level)
			}
		})
	})
	err = group.Wait()
	s.logger.Info("stopping")
	return errors.Wrap(multierr.Combine(err, scheduler.Shutdown()), "running daemon")
}
