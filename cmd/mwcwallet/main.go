package main

import (
	"encoding/json"
	"fmt"
	"os"
	"syscall"

	"github.com/mwcproject/mwcwallet"
	"github.com/mwcproject/mwcwallet/chain"
	"github.com/mwcproject/mwcwallet/session"
	"github.com/urfave/cli"
	"golang.org/x/term"
)

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[mwcwallet] %v\n", err)
	os.Exit(1)
}

// printJSON renders a response value for the terminal.
func printJSON(resp interface{}) {
	b, err := json.MarshalIndent(resp, "", "    ")
	if err != nil {
		fatal(err)
	}
	fmt.Printf("%s\n", b)
}

// openManager assembles the wallet core from the global options. The
// node backend is an in-process stub pinned at the configured height; a
// network client slots in behind the same interface.
func openManager(ctx *cli.Context) (*mwcwallet.WalletManager, func()) {
	cfg := mwcwallet.DefaultConfig()
	if dir := ctx.GlobalString("datadir"); dir != "" {
		cfg.DataDir = dir
	}
	if level := ctx.GlobalString("loglevel"); level != "" {
		cfg.LogLevel = level
	}

	fullCfg, err := mwcwallet.ValidateConfig(cfg)
	if err != nil {
		fatal(err)
	}

	if err := mwcwallet.InitLogging(fullCfg); err != nil {
		fatal(err)
	}

	node := chain.NewMemoryNode(ctx.GlobalUint64("chainheight"))
	mgr, err := mwcwallet.NewWalletManager(fullCfg, node)
	if err != nil {
		fatal(err)
	}
	mgr.Start()

	cleanUp := func() {
		if err := mgr.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "[mwcwallet] shutdown: %v\n",
				err)
		}
		mwcwallet.CloseLogging()
	}

	return mgr, cleanUp
}

// promptPassphrase reads a passphrase from the terminal without echoing
// it, or falls back to the --passphrase flag when one was given.
func promptPassphrase(ctx *cli.Context, prompt string) []byte {
	if pass := ctx.String("passphrase"); pass != "" {
		return []byte(pass)
	}

	fmt.Print(prompt)
	pass, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		fatal(err)
	}

	return pass
}

// login opens a session for the --user flag on the given manager.
func login(ctx *cli.Context, mgr *mwcwallet.WalletManager) session.Token {
	user := ctx.String("user")
	if user == "" {
		fatal(fmt.Errorf("--user is required"))
	}

	token, err := mgr.Login(user, promptPassphrase(ctx, "Passphrase: "))
	if err != nil {
		fatal(err)
	}

	return token
}

func main() {
	app := cli.NewApp()
	app.Name = "mwcwallet"
	app.Version = "0.1.0"
	app.Usage = "control plane for a MimbleWimble wallet"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "datadir",
			Usage: "path to the wallet data directory",
		},
		cli.StringFlag{
			Name:  "loglevel",
			Value: "info",
			Usage: "logging level for all subsystems",
		},
		cli.Uint64Flag{
			Name:  "chainheight",
			Value: 1,
			Usage: "chain height the stub node reports",
		},
	}
	app.Commands = []cli.Command{
		createCommand,
		restoreCommand,
		unlockCommand,
		changePassphraseCommand,
		summaryCommand,
		sendCommand,
		receiveCommand,
		finalizeCommand,
		cancelCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}
