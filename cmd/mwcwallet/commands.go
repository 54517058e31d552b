package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/mwcproject/mwcwallet/outputs"
	"github.com/mwcproject/mwcwallet/slate"
	"github.com/urfave/cli"
)

var (
	userFlag = cli.StringFlag{
		Name:  "user",
		Usage: "wallet username",
	}
	passphraseFlag = cli.StringFlag{
		Name:  "passphrase",
		Usage: "wallet passphrase, prompted for if not set",
	}
	slateFileFlag = cli.StringFlag{
		Name:  "slate",
		Usage: "path of the slate file to read or write",
	}
)

var createCommand = cli.Command{
	Name:  "create",
	Usage: "Create a new wallet.",
	Description: `
	Generates a fresh seed, encrypts it under the passphrase and prints
	the mnemonic backup. Write the mnemonic down; it is shown exactly
	once.`,
	Flags:  []cli.Flag{userFlag, passphraseFlag},
	Action: create,
}

func create(ctx *cli.Context) error {
	mgr, cleanUp := openManager(ctx)
	defer cleanUp()

	user := ctx.String("user")
	if user == "" {
		return fmt.Errorf("--user is required")
	}

	words, token, err := mgr.InitializeNewWallet(
		user, promptPassphrase(ctx, "New passphrase: "),
	)
	if err != nil {
		return err
	}
	defer mgr.Logout(token)

	fmt.Println("Wallet created. Mnemonic backup:")
	fmt.Println()
	fmt.Println(words)

	return nil
}

var restoreCommand = cli.Command{
	Name:  "restore",
	Usage: "Restore a wallet from its mnemonic backup.",
	Flags: []cli.Flag{
		userFlag,
		passphraseFlag,
		cli.StringFlag{
			Name:  "mnemonic",
			Usage: "the space separated mnemonic words",
		},
	},
	Action: restore,
}

func restore(ctx *cli.Context) error {
	mgr, cleanUp := openManager(ctx)
	defer cleanUp()

	user := ctx.String("user")
	words := ctx.String("mnemonic")
	if user == "" || words == "" {
		return fmt.Errorf("--user and --mnemonic are required")
	}

	token, err := mgr.RestoreWallet(
		user, words, promptPassphrase(ctx, "New passphrase: "),
	)
	if err != nil {
		return err
	}
	defer mgr.Logout(token)

	fmt.Printf("Wallet %s restored.\n", user)

	return nil
}

var changePassphraseCommand = cli.Command{
	Name:  "changepassphrase",
	Usage: "Re-encrypt the wallet seed under a new passphrase.",
	Flags: []cli.Flag{
		userFlag,
		cli.StringFlag{
			Name:  "old",
			Usage: "current passphrase",
		},
		cli.StringFlag{
			Name:  "new",
			Usage: "new passphrase",
		},
	},
	Action: changePassphrase,
}

func changePassphrase(ctx *cli.Context) error {
	mgr, cleanUp := openManager(ctx)
	defer cleanUp()

	user := ctx.String("user")
	if user == "" {
		return fmt.Errorf("--user is required")
	}

	err := mgr.ChangePassphrase(
		user, []byte(ctx.String("old")), []byte(ctx.String("new")),
	)
	if err != nil {
		return err
	}

	fmt.Println("Passphrase updated.")

	return nil
}

var unlockCommand = cli.Command{
	Name:  "unlock",
	Usage: "Verify the wallet passphrase by opening a session.",
	Description: `
	Sessions live only as long as the process, so every command opens its
	own. This command exists to check credentials without touching the
	wallet.`,
	Flags:  []cli.Flag{userFlag, passphraseFlag},
	Action: unlock,
}

func unlock(ctx *cli.Context) error {
	mgr, cleanUp := openManager(ctx)
	defer cleanUp()

	token := login(ctx, mgr)
	mgr.Logout(token)

	fmt.Printf("Wallet %s unlocked.\n", ctx.String("user"))

	return nil
}

var summaryCommand = cli.Command{
	Name:  "summary",
	Usage: "Show the wallet balance bucketed by spendability.",
	Flags: []cli.Flag{
		userFlag,
		passphraseFlag,
		cli.Uint64Flag{
			Name:  "minconf",
			Value: 10,
			Usage: "confirmations required to count as spendable",
		},
	},
	Action: summary,
}

func summary(ctx *cli.Context) error {
	mgr, cleanUp := openManager(ctx)
	defer cleanUp()

	token := login(ctx, mgr)
	defer mgr.Logout(token)

	walletSummary, err := mgr.GetWalletSummary(
		token, ctx.Uint64("minconf"),
	)
	if err != nil {
		return err
	}

	printJSON(walletSummary)

	return nil
}

var sendCommand = cli.Command{
	Name:  "send",
	Usage: "Start a transfer and write the slate for the receiver.",
	Flags: []cli.Flag{
		userFlag,
		passphraseFlag,
		slateFileFlag,
		cli.Uint64Flag{
			Name:  "amount",
			Usage: "amount to transfer",
		},
		cli.Uint64Flag{
			Name:  "feebase",
			Usage: "fee per weight unit, 0 for the default",
		},
		cli.StringFlag{
			Name:  "message",
			Usage: "note attached to the slate",
		},
		cli.BoolFlag{
			Name:  "sweep",
			Usage: "spend every coin instead of the fewest",
		},
	},
	Action: send,
}

func send(ctx *cli.Context) error {
	mgr, cleanUp := openManager(ctx)
	defer cleanUp()

	token := login(ctx, mgr)
	defer mgr.Logout(token)

	strategy := outputs.StrategySmallest
	if ctx.Bool("sweep") {
		strategy = outputs.StrategyAll
	}

	s, err := mgr.Send(
		token, ctx.Uint64("amount"), ctx.Uint64("feebase"),
		ctx.String("message"), strategy,
	)
	if err != nil {
		return err
	}

	if err := writeSlate(ctx.String("slate"), s); err != nil {
		return err
	}

	fmt.Printf("Slate %v written, hand it to the receiver.\n", s.ID)

	return nil
}

var receiveCommand = cli.Command{
	Name:  "receive",
	Usage: "Accept an incoming slate and write it back for the sender.",
	Flags: []cli.Flag{
		userFlag,
		passphraseFlag,
		slateFileFlag,
		cli.StringFlag{
			Name:  "message",
			Usage: "note attached to the slate",
		},
	},
	Action: receive,
}

func receive(ctx *cli.Context) error {
	mgr, cleanUp := openManager(ctx)
	defer cleanUp()

	token := login(ctx, mgr)
	defer mgr.Logout(token)

	s, err := readSlate(ctx.String("slate"))
	if err != nil {
		return err
	}

	ok, err := mgr.Receive(token, s, ctx.String("message"))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("slate %v rejected", s.ID)
	}

	if err := writeSlate(ctx.String("slate"), s); err != nil {
		return err
	}

	fmt.Printf("Slate %v accepted, return it to the sender.\n", s.ID)

	return nil
}

var finalizeCommand = cli.Command{
	Name:   "finalize",
	Usage:  "Complete a negotiation and broadcast the transaction.",
	Flags:  []cli.Flag{userFlag, passphraseFlag, slateFileFlag},
	Action: finalize,
}

func finalize(ctx *cli.Context) error {
	mgr, cleanUp := openManager(ctx)
	defer cleanUp()

	token := login(ctx, mgr)
	defer mgr.Logout(token)

	s, err := readSlate(ctx.String("slate"))
	if err != nil {
		return err
	}

	tx, err := mgr.Finalize(token, s)
	if err != nil {
		return err
	}

	if err := mgr.PostTransaction(token, tx); err != nil {
		return err
	}

	fmt.Printf("Transaction for slate %v broadcast: %d inputs, "+
		"%d outputs, fee %d.\n", s.ID, len(tx.Inputs),
		len(tx.Outputs), tx.Kernel.Fee)

	return nil
}

var cancelCommand = cli.Command{
	Name:  "cancel",
	Usage: "Abandon a negotiation and release its locked coins.",
	Flags: []cli.Flag{
		userFlag,
		passphraseFlag,
		cli.StringFlag{
			Name:  "id",
			Usage: "the slate id to cancel",
		},
	},
	Action: cancel,
}

func cancel(ctx *cli.Context) error {
	mgr, cleanUp := openManager(ctx)
	defer cleanUp()

	token := login(ctx, mgr)
	defer mgr.Logout(token)

	slateID, err := uuid.Parse(ctx.String("id"))
	if err != nil {
		return fmt.Errorf("invalid slate id: %w", err)
	}

	if err := mgr.Cancel(token, slateID); err != nil {
		return err
	}

	fmt.Printf("Slate %v canceled.\n", slateID)

	return nil
}

// readSlate loads a slate from the --slate file.
func readSlate(path string) (*slate.Slate, error) {
	if path == "" {
		return nil, fmt.Errorf("--slate is required")
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return slate.Deserialize(f)
}

// writeSlate stores a slate at the --slate file.
func writeSlate(path string, s *slate.Slate) error {
	if path == "" {
		return fmt.Errorf("--slate is required")
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}

	if err := s.Serialize(f); err != nil {
		f.Close()
		return err
	}

	return f.Close()
}
