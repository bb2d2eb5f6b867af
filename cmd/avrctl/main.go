// cmd/avrctl/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"marantz-avr/internal/config"
	"marantz-avr/internal/utils"
	"marantz-avr/pkg/avr"
	"marantz-avr/pkg/marantz"
)

type options struct {
	host            string
	port            int
	serial          string
	family          string
	show            bool
	turnOn          bool
	turnOff         bool
	muteOn          bool
	muteOff         bool
	volume          string
	volumeUp        bool
	volumeDown      bool
	selectSource    string
	selectSoundMode string
	watch           bool
	timeout         time.Duration
	logLevel        string
}

func main() {
	var opts options

	flags := pflag.NewFlagSet("avrctl", pflag.ExitOnError)
	flags.StringVar(&opts.host, "host", "", "receiver host name or IP")
	flags.IntVar(&opts.port, "port", 23, "receiver TCP port")
	flags.StringVar(&opts.serial, "serial", "", "serial device instead of TCP, e.g. /dev/ttyUSB0")
	flags.StringVar(&opts.family, "family", "marantz", "model family")
	flags.BoolVar(&opts.show, "show", false, "print the receiver state")
	flags.BoolVar(&opts.turnOn, "turn-on", false, "power on")
	flags.BoolVar(&opts.turnOff, "turn-off", false, "put the receiver in standby")
	flags.BoolVar(&opts.muteOn, "mute-volume-on", false, "mute")
	flags.BoolVar(&opts.muteOff, "mute-volume-off", false, "unmute")
	flags.StringVar(&opts.volume, "volume", "", "set volume, 0 to 98 in half steps")
	flags.BoolVar(&opts.volumeUp, "volume-up", false, "raise volume one step")
	flags.BoolVar(&opts.volumeDown, "volume-down", false, "lower volume one step")
	flags.StringVar(&opts.selectSource, "select-source", "", "select an input source ("+sourceList()+")")
	flags.StringVar(&opts.selectSoundMode, "select-sound-mode", "", "select a surround mode")
	flags.BoolVar(&opts.watch, "watch", false, "print status changes until interrupted")
	flags.DurationVar(&opts.timeout, "timeout", time.Second, "per command reply timeout")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "log level")
	flags.Parse(os.Args[1:])

	if opts.host == "" && opts.serial == "" {
		fmt.Fprintln(os.Stderr, "either --host or --serial is required")
		flags.Usage()
		os.Exit(2)
	}

	logger, err := utils.NewLogger(&config.LoggingConfig{
		Level:  opts.logLevel,
		Format: "console",
		Output: "stderr",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid --log-level: %v\n", err)
		os.Exit(2)
	}
	defer utils.CloseLogger(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, logger); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, logger *zap.Logger) error {
	transport := "tcp"
	if opts.serial != "" {
		transport = "serial"
	}

	client, err := marantz.Connect(ctx, marantz.Options{
		Transport:      transport,
		Host:           opts.host,
		Port:           opts.port,
		SerialPort:     opts.serial,
		ModelFamily:    opts.family,
		CommandTimeout: opts.timeout,
		Logger:         logger,
	})
	if err != nil {
		return err
	}
	defer client.Close()

	var watch *marantz.Subscription
	if opts.watch {
		watch = client.Subscribe()
		defer watch.Close()
	}

	if err := runActions(ctx, client, opts); err != nil {
		return err
	}

	if opts.show {
		if err := client.Refresh(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		}
		printState(client.State())
	}

	if watch != nil {
		return watchEvents(ctx, client, watch)
	}
	return nil
}

func runActions(ctx context.Context, client *marantz.Client, opts options) error {
	if opts.turnOn {
		if err := client.TurnOn(ctx); err != nil {
			return fmt.Errorf("turn on: %w", err)
		}
	}
	if opts.turnOff {
		if err := client.TurnOff(ctx); err != nil {
			return fmt.Errorf("turn off: %w", err)
		}
	}
	if opts.muteOn {
		if err := client.Mute(ctx, true); err != nil {
			return fmt.Errorf("mute: %w", err)
		}
	}
	if opts.muteOff {
		if err := client.Mute(ctx, false); err != nil {
			return fmt.Errorf("unmute: %w", err)
		}
	}
	if opts.volume != "" {
		level, err := decimal.NewFromString(opts.volume)
		if err != nil {
			return fmt.Errorf("invalid --volume %q: %w", opts.volume, err)
		}
		if err := client.SetVolume(ctx, level); err != nil {
			return fmt.Errorf("set volume: %w", err)
		}
	}
	if opts.volumeUp {
		level, err := client.VolumeUp(ctx)
		if err != nil {
			return fmt.Errorf("volume up: %w", err)
		}
		fmt.Printf("volume: %s\n", level)
	}
	if opts.volumeDown {
		level, err := client.VolumeDown(ctx)
		if err != nil {
			return fmt.Errorf("volume down: %w", err)
		}
		fmt.Printf("volume: %s\n", level)
	}
	if opts.selectSource != "" {
		source := avr.InputSource(strings.ToUpper(opts.selectSource))
		if err := client.SelectSource(ctx, source); err != nil {
			return fmt.Errorf("select source: %w", err)
		}
	}
	if opts.selectSoundMode != "" {
		mode := avr.SurroundMode(strings.ToUpper(opts.selectSoundMode))
		if err := client.SelectSoundMode(ctx, mode); err != nil {
			return fmt.Errorf("select sound mode: %w", err)
		}
	}
	return nil
}

func printState(snapshot avr.Snapshot) {
	kinds := []avr.StatusKind{
		avr.KindPower, avr.KindMute, avr.KindVolume, avr.KindMaxVolume,
		avr.KindInput, avr.KindSurroundMode,
	}
	for _, kind := range kinds {
		value, _ := snapshot.Get(kind)
		fmt.Printf("%-14s %s\n", strings.ToLower(string(kind)), avr.FormatValue(value))
	}
}

func watchEvents(ctx context.Context, client *marantz.Client, sub *marantz.Subscription) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-sub.C:
			if !ok {
				if err := client.Err(); err != nil && !errors.Is(err, avr.ErrSessionClosed) {
					return err
				}
				return nil
			}
			fmt.Printf("%s %s\n", event.ReceivedAt.Format(time.TimeOnly), event)
		}
	}
}

func sourceList() string {
	sources := avr.InputSources()
	names := make([]string, 0, len(sources))
	for _, source := range sources {
		names = append(names, string(source))
	}
	return strings.Join(names, ", ")
}
