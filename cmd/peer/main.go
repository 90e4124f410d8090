package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/isqad/livelook-mesh/internal/config"
	"github.com/isqad/livelook-mesh/internal/peer"
)

func main() {
	app := &cli.App{
		Name:        "livelook-peer",
		Usage:       "Headless participant streaming sample media to a room",
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
				Name:  "server",
				Value: "ws://localhost:80/ws",
				Usage: "websocket url of the signaling hub",
			},
			&cli.StringFlag{
				Name:     "room",
				Usage:    "room to join",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "id",
				Usage: "participant id, a random uuid by default",
			},
			&cli.StringFlag{
				Name:  "video",
				Usage: "IVF file played in a loop as the camera",
			},
			&cli.StringFlag{
				Name:  "screen",
				Usage: "IVF file played once as the shared screen",
			},
			&cli.DurationFlag{
				Name:  "screen-share-after",
				Usage: "start sharing the screen file after this delay, 0 disables it",
			},
		},
		Action: startPeer,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("")
	}
}

func startPeer(c *cli.Context) error {
	v, err := config.NewViper(c.String("config"))
	if err != nil {
		return err
	}
	if c.IsSet("env") {
		v.Set("app.env", c.String("env"))
	}

	conf, err := config.Load(v)
	if err != nil {
		return err
	}

	peerApp, err := peer.New(peer.AppOptions{
		Config:           conf,
		ServerURL:        c.String("server"),
		Room:             c.String("room"),
		ParticipantID:    c.String("id"),
		VideoFile:        c.String("video"),
		ScreenFile:       c.String("screen"),
		ScreenShareAfter: c.Duration("screen-share-after"),
	})
	if err != nil {
		return err
	}

	return peerApp.Start()
}
