package config

import (
	"flag"
	"os"
	"time"

	"couplesync/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-b string   remote store backend: memory or postgres
//	-d string   postgres DSN of the remote store
//	-f string   path to the local sqlite database
//	-u string   user id of this device's account
//	-i int      online check interval in seconds
//
// The function filters os.Args to only include the flags it knows about,
// using flagx.FilterArgs, to avoid interference with other components.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-b", "-d", "-f", "-u", "-i"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.Backend, "b", cfg.Backend, "remote store backend (memory|postgres)")
	fs.StringVar(&cfg.RemoteDSN, "d", cfg.RemoteDSN, "postgres DSN of the remote store")
	fs.StringVar(&cfg.LocalDBPath, "f", cfg.LocalDBPath, "path to the local database file")
	fs.StringVar(&cfg.UserID, "u", cfg.UserID, "user id of this device's account")
	onlineCheckInterval := fs.Int("i", int(cfg.OnlineCheckInterval.Seconds()), "online check interval (in seconds)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.OnlineCheckInterval = time.Duration(*onlineCheckInterval) * time.Second
}
