// wardauth-migrate applies the embedded schema migrations to DATABASE_URL.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/MrEthical07/wardAuth/internal/config"
	"github.com/MrEthical07/wardAuth/internal/db/migrate"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		envFile   string
		direction string
		steps     int
		version   bool
	)
	flagSet := pflag.NewFlagSet("wardauth-migrate", pflag.ContinueOnError)
	flagSet.StringVar(&envFile, "env-file", ".env", "optional env file read before the environment")
	flagSet.StringVarP(&direction, "direction", "d", "up", "migration direction: up or down")
	flagSet.IntVarP(&steps, "steps", "n", 0, "apply at most n migrations (0 = all)")
	flagSet.BoolVar(&version, "version", false, "print the applied schema version and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}

	if version {
		v, dirty, err := migrate.Version(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		fmt.Printf("version %d dirty=%v\n", v, dirty)
		return nil
	}

	if err := migrate.Run(cfg.DatabaseURL, direction, steps); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			fmt.Println("no change")
			return nil
		}
		return err
	}
	fmt.Println("ok")
	return nil
}
