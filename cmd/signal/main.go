package main

import (
	"os"

	"github.com/rs/zerolog/log"

	"github.com/urfave/cli/v2"

	"github.com/isqad/livelook-mesh/internal/config"
	"github.com/isqad/livelook-mesh/internal/ws"
)

func main() {
	app := &cli.App{
		Name:        "livelook-signal",
		Usage:       "Signaling hub for peer-to-peer rooms",
		Description: "",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "path to a yaml, toml or json config file",
			},
			&cli.StringFlag{
				Name:  "env",
				Usage: "environment: either 'development' or 'production'",
			},
			&cli.StringFlag{
				Name:  "address",
				Usage: "listen IP and port, example: ':80' (default value) for listen on 0.0.0.0:80",
			},
			&cli.StringFlag{
				Name:  "upload-root",
				Usage: "directory for uploaded files",
			},
			&cli.StringFlag{
				Name:  "eventbus",
				Usage: "presence feed driver: 'none', 'redis' or 'nats'",
			},
		},
		Action: startSignal,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("")
	}
}

func startSignal(c *cli.Context) error {
	v, err := config.NewViper(c.String("config"))
	if err != nil {
		return err
	}

	overrides := map[string]string{
		"env":         "app.env",
		"address":     "app.address",
		"upload-root": "app.upload_root",
		"eventbus":    "eventbus.driver",
	}
	for flag, key := range overrides {
		if c.IsSet(flag) {
			v.Set(key, c.String(flag))
		}
	}

	conf, err := config.Load(v)
	if err != nil {
		return err
	}

	wsApp, err := ws.New(ws.AppOptions{Config: conf})
	if err != nil {
		return err
	}

	return wsApp.Start()
}
