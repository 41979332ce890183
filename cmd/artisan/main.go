package main

import (
	"os"

	"github.com/jessevdk/go-flags"
	"github.com/sirupsen/logrus"
)

type Options struct {
	Verbose bool `long:"verbose" short:"v" description:"Enable debug logging"`

	Init  InitCommand  `command:"init" description:"Write a default configuration file"`
	Demo  DemoCommand  `command:"demo" description:"Run the reach-grasp-lift sequence"`
	Watch WatchCommand `command:"watch" description:"Live tactile sensor display"`
	Info  InfoCommand  `command:"info" description:"Show servo positions, temperatures and voltages"`
}

var opts Options
var parser = flags.NewParser(&opts, flags.Default)

func main() {
	parser.LongDescription = "Artisan - upper-body manipulator control CLI"
	parser.CommandHandler = func(cmd flags.Commander, args []string) error {
		if opts.Verbose {
			logrus.SetLevel(logrus.DebugLevel)
		}
		return cmd.Execute(args)
	}

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		}
		os.Exit(1)
	}
}
