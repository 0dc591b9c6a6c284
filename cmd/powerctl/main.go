// Command powerctl connects to a remote power daemon, sends one or more
// command tokens and disconnects.
//
//	powerctl -e ws://192.168.1.73:8080/ sleep
//	powerctl -e redis://localhost:6379/office --linger 2s shutdown
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"

	"github.com/TheAlpha16/powerctl-go"
	"github.com/TheAlpha16/powerctl-go/internal/config"
	"github.com/TheAlpha16/powerctl-go/internal/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "powerctl: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cfg, err := config.Load(args)
	if err != nil {
		return err
	}

	log := logger.Init(stderr, cfg.Debug, cfg.Verbose, logger.IsService())

	events := make(chan powerctl.LifecycleEvent, 32)
	observer := powerctl.ObserverFunc(func(evt powerctl.LifecycleEvent) {
		select {
		case events <- evt:
		default:
			log.Warn().Stringer("event", evt.Type).Msg("event dropped, consumer is behind")
		}
	})

	c, err := powerctl.NewController(cfg.Endpoint,
		powerctl.WithLogger(log),
		powerctl.WithCloseTimeout(cfg.CloseTimeout),
		powerctl.WithObserver(observer),
		powerctl.WithDialer(dialerFor(cfg)),
	)
	if err != nil {
		return err
	}
	defer c.Shutdown()

	c.Connect()
	if err := awaitConnected(ctx, events, cfg.ConnectTimeout); err != nil {
		return err
	}
	log.Info().Str("endpoint", cfg.Endpoint).Msg("connected")

	for _, cmd := range cfg.Commands {
		if err := c.SendCommand(cmd); err != nil {
			return fmt.Errorf("send %q: %w", cmd, err)
		}
		log.Info().Str("command", cmd.String()).Msg("command sent")
	}

	if done := printReplies(ctx, events, cfg.Linger, stdout, log); done {
		return nil
	}

	c.Disconnect()
	return awaitDisconnected(events, cfg.CloseTimeout+time.Second, log)
}

// dialerFor picks the transport for the endpoint scheme and applies the
// transport-specific settings
func dialerFor(cfg *config.Config) powerctl.Dialer {
	u, err := url.Parse(cfg.Endpoint)
	if err == nil {
		switch strings.ToLower(u.Scheme) {
		case "redis", "valkey":
			var opts []powerctl.ValkeyOption
			if cfg.ReplyChannel != "" {
				opts = append(opts, powerctl.WithReplyChannel(cfg.ReplyChannel))
			}
			return powerctl.ValkeyDialer(opts...)
		}
	}
	return powerctl.WebSocketDialer(
		powerctl.WithHandshakeTimeout(cfg.ConnectTimeout),
		powerctl.WithPingInterval(cfg.PingInterval),
	)
}

func awaitConnected(ctx context.Context, events <-chan powerctl.LifecycleEvent, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case evt := <-events:
			switch evt.Type {
			case powerctl.EventConnected:
				return nil
			case powerctl.EventConnectionError:
				return fmt.Errorf("connect: %w", evt.Err)
			case powerctl.EventCancelled:
				return errors.New("connect: cancelled")
			case powerctl.EventDisconnected:
				return fmt.Errorf("connect: disconnected: %s", evt.Reason)
			}
		case <-timer.C:
			return fmt.Errorf("connect: no connection after %s", timeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// printReplies writes received messages to out for the linger period. It
// reports true when the connection ended on its own.
func printReplies(ctx context.Context, events <-chan powerctl.LifecycleEvent, linger time.Duration, out io.Writer, log zerolog.Logger) bool {
	if linger <= 0 {
		return false
	}
	timer := time.NewTimer(linger)
	defer timer.Stop()

	for {
		select {
		case evt := <-events:
			switch evt.Type {
			case powerctl.EventMessageReceived:
				if evt.Binary {
					fmt.Fprintf(out, "received %d bytes\n", len(evt.Payload))
				} else {
					fmt.Fprintln(out, string(evt.Payload))
				}
			case powerctl.EventDisconnected, powerctl.EventConnectionError, powerctl.EventCancelled:
				log.Warn().Stringer("event", evt.Type).Str("reason", evt.Reason).AnErr("error", evt.Err).Msg("connection ended")
				return true
			}
		case <-timer.C:
			return false
		case <-ctx.Done():
			return false
		}
	}
}

func awaitDisconnected(events <-chan powerctl.LifecycleEvent, timeout time.Duration, log zerolog.Logger) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case evt := <-events:
			switch evt.Type {
			case powerctl.EventDisconnected:
				log.Info().Str("reason", evt.Reason).Int("code", evt.Code).Msg("disconnected")
				return nil
			case powerctl.EventConnectionError, powerctl.EventCancelled:
				return nil
			}
		case <-timer.C:
			return errors.New("disconnect: no confirmation")
		}
	}
}
