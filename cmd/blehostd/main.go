package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/rigado/blehost"
	"github.com/rigado/blehost/hci/smp"
	"github.com/urfave/cli"
)

func main() {
	app := cli.NewApp()
	app.Name = "blehostd"
	app.Usage = "BLE host with LE Secure Connections pairing over an H4 transport"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "JSON config file",
		},
		cli.StringFlag{
			Name:  "log-level",
			Usage: "debug, info, warn or error",
		},
		cli.IntFlag{
			Name:  "io-cap",
			Value: -1,
			Usage: "io capability, 0 (display only) to 4 (keyboard display)",
		},
		cli.BoolFlag{
			Name:  "mitm",
			Usage: "require man-in-the-middle protection",
		},
		cli.StringFlag{
			Name:  "bond",
			Usage: "bond file, bonds are kept in memory when empty",
		},
	}
	app.Commands = []cli.Command{
		cli.Command{
			Name:  "run",
			Usage: "Run the host against a controller",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "uart, u",
					Usage: "serial device of the controller",
				},
				cli.UintFlag{
					Name:  "baud, b",
					Usage: "uart baud rate",
				},
				cli.IntFlag{
					Name:  "socket, s",
					Value: -1,
					Usage: "HCI user channel device id, -1 picks the first one",
				},
				cli.StringFlag{
					Name:  "tcp",
					Usage: "host:port of a controller serving H4 over TCP",
				},
			},
			Action: runCommand,
		},
		cli.Command{
			Name:  "loopback",
			Usage: "Pair two in-process hosts over a simulated link",
			Flags: []cli.Flag{
				cli.IntFlag{
					Name:  "peer-io-cap",
					Value: smp.IoCapNoInputNoOutput,
					Usage: "io capability of the peripheral",
				},
			},
			Action: loopbackCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig merges the config file and the global flags.
func loadConfig(c *cli.Context) (blehost.Config, error) {
	cfg := blehost.DefaultConfig()
	if path := c.GlobalString("config"); path != "" {
		var err error
		if cfg, err = blehost.LoadConfig(path); err != nil {
			return cfg, err
		}
	}

	if lvl := c.GlobalString("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}
	if io := c.GlobalInt("io-cap"); io >= 0 {
		cfg.Security.IoCap = uint8(io)
	}
	if c.GlobalBool("mitm") {
		cfg.Security.MITM = true
	}

	if err := cfg.Validate(); err != nil {
		return cfg, errors.Wrap(err, "invalid config")
	}
	if err := blehost.SetLogLevel(cfg.LogLevel); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// withSigHandler cancels the context on SIGINT or SIGTERM.
func withSigHandler(ctx context.Context, cancel func()) context.Context {
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sig)
		select {
		case <-sig:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx
}
