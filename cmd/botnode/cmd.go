package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/mbocsi/botanynet/config"
	"github.com/mbocsi/botanynet/mcp"
	"github.com/mbocsi/botanynet/netlink"
	"github.com/mbocsi/botanynet/proto"
	"github.com/mbocsi/botanynet/telemetry"
	"github.com/mbocsi/botanynet/web"
	"github.com/urfave/cli/v2"
)

// settings is filled in by Instance's Before hook.
type settings struct {
	cfg    *config.Config
	logger *slog.Logger
}

func Instance() *cli.App {
	var (
		configPath string
		logLevel   string
		logFormat  string
		s          settings
	)
	return &cli.App{
		Name:    "botnode",
		Usage:   "Soil sensor node that reports chirps to an MQTT broker",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to botanynet.yaml; searched for when empty",
				EnvVars:     []string{"BOTANYNET_CONFIG"},
				Destination: &configPath,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "Verbosity of log, valid values are: trace, debug, info, warn, error",
				EnvVars:     []string{"BOTANYNET_LOG_LEVEL"},
				Destination: &logLevel,
			},
			&cli.StringFlag{
				Name:        "log-format",
				Usage:       "text or json",
				Destination: &logFormat,
			},
		},
		Before: func(ctx *cli.Context) error {
			cfg, from, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			if logFormat != "" {
				cfg.LogFormat = logFormat
			}
			// Logs go to stderr; stdout carries MCP and command output.
			logger, err := config.NewLogger(ctx.App.ErrWriter, cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)
			if from != "" {
				logger.Debug("Loaded config", "path", from)
			}
			s.cfg, s.logger = cfg, logger
			return nil
		},
		Commands: []*cli.Command{
			runCmd(&s),
			chirpCmd(&s),
			resolveCmd(&s),
		},
	}
}

// loadConfig reads the explicit or discovered config file. Without one the
// node runs on defaults.
func loadConfig(path string) (*config.Config, string, error) {
	found, err := config.FindConfig(path)
	if err != nil {
		if path != "" {
			return nil, "", err
		}
		return config.Default(), "", nil
	}
	cfg, err := config.Load(found)
	if err != nil {
		return nil, "", err
	}
	return cfg, found, nil
}

func runCmd(s *settings) *cli.Command {
	var serveMCP bool
	return &cli.Command{
		Name:  "run",
		Usage: "Run the node until interrupted",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "mcp",
				Usage:       "Serve the console commands as MCP tools on stdin/stdout",
				Destination: &serveMCP,
			},
		},
		Action: func(ctx *cli.Context) error {
			if err := s.cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			n, err := buildNode(s.cfg, s.logger)
			if err != nil {
				return err
			}
			defer n.close()
			telemetry.SetBuildInfo(version, s.cfg.Node.ID)

			runCtx, cancel := context.WithCancel(ctx.Context)
			defer cancel()

			errCh := make(chan error, 3)
			running := 1
			go func() { errCh <- n.app.Start(runCtx) }()

			if s.cfg.Console.Listen != "" {
				running++
				console := web.NewConsole(n.app, n.bus, s.logger)
				go func() { errCh <- console.Serve(runCtx, s.cfg.Console.Listen) }()
			}
			if serveMCP {
				running++
				srv := mcp.NewMCPServer(n.app, version, s.logger)
				go func() { errCh <- srv.Run(runCtx, os.Stdin, os.Stdout) }()
			}

			// The first component to stop takes the others down with it.
			var firstErr error
			for i := 0; i < running; i++ {
				err := <-errCh
				if err != nil && !errors.Is(err, context.Canceled) && firstErr == nil {
					firstErr = err
				}
				cancel()
			}
			return firstErr
		},
	}
}

func chirpCmd(s *settings) *cli.Command {
	var (
		node    uint
		status  uint
		battery uint
		uptime  uint64
		number  bool
	)
	return &cli.Command{
		Name:      "chirp",
		Usage:     "Print the topic and document a node would publish",
		ArgsUsage: "<topic> <data>",
		Flags: []cli.Flag{
			&cli.UintFlag{Name: "node", Usage: "Node id; the configured id when unset", Destination: &node},
			&cli.UintFlag{Name: "status", Usage: "Diagnostic status", Destination: &status},
			&cli.UintFlag{Name: "battery", Usage: "Battery percentage", Destination: &battery},
			&cli.Uint64Flag{Name: "uptime", Usage: "Uptime in seconds", Destination: &uptime},
			&cli.BoolFlag{Name: "float", Usage: "Format data as a number with two decimals", Destination: &number},
		},
		Action: func(ctx *cli.Context) error {
			if ctx.NArg() != 2 {
				return errors.New("usage: botnode chirp <topic> <data>")
			}
			if !ctx.IsSet("node") {
				node = uint(s.cfg.Node.ID)
			}
			if node > 0xffff || status > 0xff || battery > 0xff {
				return errors.New("node must fit 16 bits, status and battery 8 bits")
			}

			enc := proto.NewEncoder()
			data := ctx.Args().Get(1)
			if number {
				var v float32
				if _, err := fmt.Sscan(data, &v); err != nil {
					return fmt.Errorf("parse %q as a number: %w", data, err)
				}
				b, err := enc.EncodeFloat(v)
				if err != nil {
					return err
				}
				data = string(b)
			}

			h := proto.Header{Node: uint16(node), Status: uint8(status), Battery: uint8(battery), UptimeSec: uptime}
			topic, body, err := enc.Encode(h, ctx.Args().Get(0), data)
			if err != nil {
				return err
			}
			fmt.Fprintf(ctx.App.Writer, "%s %s\n", topic, body)
			return nil
		},
	}
}

func resolveCmd(s *settings) *cli.Command {
	var (
		mode    string
		timeout time.Duration
	)
	return &cli.Command{
		Name:      "resolve",
		Usage:     "Resolve the broker hostname the way the node would",
		ArgsUsage: "[hostname]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "resolver", Usage: "local, service or global; the configured resolver when unset", Destination: &mode},
			&cli.DurationFlag{Name: "timeout", Usage: "Lookup timeout", Value: netlink.DefaultResolveTimeout, Destination: &timeout},
		},
		Action: func(ctx *cli.Context) error {
			host := s.cfg.Broker.Host
			if ctx.NArg() > 0 {
				host = ctx.Args().First()
			}
			if mode == "" {
				mode = s.cfg.Network.Resolver
			}
			nc := s.cfg.Network
			nc.Resolver = mode
			r, err := newResolver(nc, s.logger)
			if err != nil {
				return err
			}

			lookupCtx, cancel := context.WithTimeout(ctx.Context, timeout)
			defer cancel()
			start := time.Now()
			addr, err := r.Resolve(lookupCtx, host)
			if err != nil {
				return fmt.Errorf("resolve %s (%s): %w", host, mode, err)
			}
			fmt.Fprintf(ctx.App.Writer, "%s %s (%s, %v)\n", host, addr, mode, time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
}
