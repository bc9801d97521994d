package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/mbd888/safetransfer/internal/address"
	"github.com/mbd888/safetransfer/internal/apiclient"
	"github.com/mbd888/safetransfer/internal/escrow"
	"github.com/mbd888/safetransfer/internal/ledger"
	"github.com/mbd888/safetransfer/internal/signing"
)

func (a *app) keygenCmd() *cobra.Command {
	var outFile string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a signing key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := signing.GenerateKey()
			if err != nil {
				return err
			}
			if outFile != "" {
				if err := os.WriteFile(outFile, []byte(key.Hex()+"\n"), 0o600); err != nil {
					return fmt.Errorf("write key file: %w", err)
				}
			}
			out := map[string]string{"address": key.Address().String()}
			if outFile == "" {
				out["privateKey"] = key.Hex()
			} else {
				out["keyFile"] = outFile
			}
			return a.print(out, func() {
				fmt.Fprintf(a.out, "Address: %s\n", out["address"])
				if outFile == "" {
					fmt.Fprintf(a.out, "Private key: %s\n", out["privateKey"])
				} else {
					fmt.Fprintf(a.out, "Key written to %s\n", outFile)
				}
			})
		},
	}
	cmd.Flags().StringVar(&outFile, "out", "", "write the private key to this file (mode 0600)")
	return cmd
}

// tupleFlags registers the escrow identity flags. The party filled in by
// the signing key is skipped.
type tupleFlags struct {
	sender, receiver, asset string
	instanceID              uint64
}

func (f *tupleFlags) register(cmd *cobra.Command, withSender, withReceiver bool) {
	if withSender {
		cmd.Flags().StringVar(&f.sender, "sender", "", "sender address")
		_ = cmd.MarkFlagRequired("sender")
	}
	if withReceiver {
		cmd.Flags().StringVar(&f.receiver, "receiver", "", "receiver address")
		_ = cmd.MarkFlagRequired("receiver")
	}
	cmd.Flags().StringVar(&f.asset, "asset", "", "token asset address")
	_ = cmd.MarkFlagRequired("asset")
	cmd.Flags().Uint64Var(&f.instanceID, "instance-id", 0, "escrow instance id")
}

func (f *tupleFlags) tuple(sender, receiver address.Address) (escrow.Tuple, error) {
	var err error
	if f.sender != "" {
		if sender, err = parseAddress("sender", f.sender); err != nil {
			return escrow.Tuple{}, err
		}
	}
	if f.receiver != "" {
		if receiver, err = parseAddress("receiver", f.receiver); err != nil {
			return escrow.Tuple{}, err
		}
	}
	asset, err := parseAddress("asset", f.asset)
	if err != nil {
		return escrow.Tuple{}, err
	}
	return escrow.Tuple{Sender: sender, Receiver: receiver, Asset: asset, InstanceID: f.instanceID}, nil
}

func (a *app) deriveCmd() *cobra.Command {
	var (
		tf      tupleFlags
		offline bool
	)
	cmd := &cobra.Command{
		Use:   "derive",
		Short: "Show the record and holding addresses of an escrow instance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			t, err := tf.tuple(address.Zero, address.Zero)
			if err != nil {
				return err
			}

			var program address.Address
			var addrs escrow.Addresses
			if offline {
				program = address.ProgramID(a.v.GetString("program"))
				d, err := address.NewDeriver(program, 0)
				if err != nil {
					return err
				}
				addrs, err = escrow.NewService(nil, d).Derive(t)
				if err != nil {
					return err
				}
			} else {
				d, err := a.client().Derive(cmd.Context(), t)
				if err != nil {
					return err
				}
				program, addrs = d.Program, d.Addresses
			}

			return a.print(map[string]any{"program": program, "addresses": addrs}, func() {
				fmt.Fprintf(a.out, "Program: %s\n", program)
				fmt.Fprintf(a.out, "Record:  %s (bump %d)\n", addrs.Record, addrs.RecordBump)
				fmt.Fprintf(a.out, "Holding: %s (bump %d)\n", addrs.Holding, addrs.HoldingBump)
			})
		},
	}
	tf.register(cmd, true, true)
	_ = cmd.MarkFlagRequired("instance-id")
	cmd.Flags().BoolVar(&offline, "offline", false, "derive locally from --program instead of asking the server")
	return cmd
}

func (a *app) initCmd() *cobra.Command {
	var (
		tf     tupleFlags
		amount uint64
		source string
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Lock tokens in a new escrow, signing as the sender",
		Long: `Lock tokens in a new escrow, signing as the sender.

Without --instance-id the current Unix time in milliseconds is used. Picking
an id that is unique per sender, receiver and asset is the caller's job.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, scheme, err := a.signer()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("instance-id") {
				tf.instanceID = uint64(time.Now().UnixMilli())
			}
			t, err := tf.tuple(key.Address(), address.Zero)
			if err != nil {
				return err
			}
			req := escrow.InitializeRequest{Tuple: t, Amount: amount}
			if source != "" {
				if req.SourceAccount, err = parseAddress("source", source); err != nil {
					return err
				}
			}

			client := a.client()
			info, err := client.Info(cmd.Context())
			if err != nil {
				return err
			}
			if err := req.Sign(key, info.Program, scheme); err != nil {
				return err
			}
			res, err := client.Initialize(cmd.Context(), req)
			if err != nil {
				return err
			}
			return a.printEscrow(res)
		},
	}
	tf.register(cmd, false, true)
	cmd.Flags().Uint64Var(&amount, "amount", 0, "amount to lock, in base units")
	_ = cmd.MarkFlagRequired("amount")
	cmd.Flags().StringVar(&source, "source", "", "token account to debit (default: your associated account)")
	return cmd
}

func (a *app) completeCmd() *cobra.Command {
	var (
		tf          tupleFlags
		destination string
	)
	cmd := &cobra.Command{
		Use:   "complete",
		Short: "Release an escrow to yourself, signing as the receiver",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, scheme, err := a.signer()
			if err != nil {
				return err
			}
			t, err := tf.tuple(address.Zero, key.Address())
			if err != nil {
				return err
			}
			req := escrow.CompleteRequest{Tuple: t}
			if destination != "" {
				if req.Destination, err = parseAddress("destination", destination); err != nil {
					return err
				}
			}

			client := a.client()
			info, err := client.Info(cmd.Context())
			if err != nil {
				return err
			}
			if err := req.Sign(key, info.Program, scheme); err != nil {
				return err
			}
			res, err := client.Complete(cmd.Context(), req)
			if err != nil {
				return err
			}
			return a.printEscrow(res)
		},
	}
	tf.register(cmd, true, false)
	_ = cmd.MarkFlagRequired("instance-id")
	cmd.Flags().StringVar(&destination, "destination", "", "token account to credit (default: your associated account)")
	return cmd
}

func (a *app) pullBackCmd() *cobra.Command {
	var (
		tf     tupleFlags
		refund string
	)
	cmd := &cobra.Command{
		Use:   "pull-back",
		Short: "Return an escrow's tokens to yourself, signing as the sender",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, scheme, err := a.signer()
			if err != nil {
				return err
			}
			t, err := tf.tuple(key.Address(), address.Zero)
			if err != nil {
				return err
			}
			req := escrow.PullBackRequest{Tuple: t}
			if refund != "" {
				if req.Refund, err = parseAddress("refund", refund); err != nil {
					return err
				}
			}

			client := a.client()
			info, err := client.Info(cmd.Context())
			if err != nil {
				return err
			}
			if err := req.Sign(key, info.Program, scheme); err != nil {
				return err
			}
			res, err := client.PullBack(cmd.Context(), req)
			if err != nil {
				return err
			}
			return a.printEscrow(res)
		},
	}
	tf.register(cmd, false, true)
	_ = cmd.MarkFlagRequired("instance-id")
	cmd.Flags().StringVar(&refund, "refund", "", "token account to credit (default: your associated account)")
	return cmd
}

func (a *app) showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <record-address>",
		Short: "Print an escrow record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseAddress("record address", args[0])
			if err != nil {
				return err
			}
			res, err := a.client().GetEscrow(cmd.Context(), addr)
			if err != nil {
				return err
			}
			return a.printEscrow(res)
		},
	}
}

func (a *app) balanceCmd() *cobra.Command {
	var owner, asset string
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Print lamports and, with --asset, a token balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ownerAddr, err := a.ownerOrSelf(owner)
			if err != nil {
				return err
			}
			client := a.client()

			out := map[string]any{"owner": ownerAddr}
			var lamports uint64
			acct, err := client.Account(cmd.Context(), ownerAddr)
			switch {
			case err == nil:
				lamports = acct.Lamports
			case isNotFound(err):
			default:
				return err
			}
			out["lamports"] = strconv.FormatUint(lamports, 10)

			var bal *ledger.TokenBalance
			if asset != "" {
				assetAddr, err := parseAddress("asset", asset)
				if err != nil {
					return err
				}
				if bal, err = client.TokenBalance(cmd.Context(), ownerAddr, assetAddr); err != nil {
					return err
				}
				out["token"] = bal
			}

			return a.print(out, func() {
				fmt.Fprintf(a.out, "Owner:    %s\n", ownerAddr)
				fmt.Fprintf(a.out, "Lamports: %d\n", lamports)
				if bal != nil {
					fmt.Fprintf(a.out, "Token account: %s\n", bal.Account)
					fmt.Fprintf(a.out, "Token balance: %d\n", bal.Amount)
				}
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner address (default: your key's address)")
	cmd.Flags().StringVar(&asset, "asset", "", "token asset address")
	return cmd
}

func (a *app) fundCmd() *cobra.Command {
	var (
		owner, asset     string
		lamports, amount uint64
	)
	cmd := &cobra.Command{
		Use:   "fund",
		Short: "Credit lamports and tokens from the server's development faucet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ownerAddr, err := a.ownerOrSelf(owner)
			if err != nil {
				return err
			}
			if lamports == 0 && amount == 0 {
				return fmt.Errorf("nothing to fund: set --lamports and/or --amount")
			}
			client := a.client()
			out := map[string]any{"owner": ownerAddr}

			if lamports > 0 {
				acct, err := client.Airdrop(cmd.Context(), ownerAddr, lamports)
				if err != nil {
					return err
				}
				out["lamports"] = strconv.FormatUint(acct.Lamports, 10)
			}
			if amount > 0 {
				if asset == "" {
					return fmt.Errorf("--asset is required with --amount")
				}
				assetAddr, err := parseAddress("asset", asset)
				if err != nil {
					return err
				}
				bal, err := client.Mint(cmd.Context(), ownerAddr, assetAddr, amount)
				if err != nil {
					return err
				}
				out["token"] = bal
			}

			return a.print(out, func() {
				fmt.Fprintf(a.out, "Funded %s\n", ownerAddr)
				if v, ok := out["lamports"]; ok {
					fmt.Fprintf(a.out, "Lamports: %s\n", v)
				}
				if bal, ok := out["token"].(*ledger.TokenBalance); ok {
					fmt.Fprintf(a.out, "Token balance: %d\n", bal.Amount)
				}
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner address (default: your key's address)")
	cmd.Flags().Uint64Var(&lamports, "lamports", 0, "lamports to airdrop")
	cmd.Flags().StringVar(&asset, "asset", "", "token asset to mint")
	cmd.Flags().Uint64Var(&amount, "amount", 0, "tokens to mint")
	return cmd
}

// --- helpers ---

func (a *app) signer() (*signing.Key, signing.Scheme, error) {
	key, err := a.signingKey()
	if err != nil {
		return nil, 0, err
	}
	scheme, err := a.scheme()
	if err != nil {
		return nil, 0, err
	}
	return key, scheme, nil
}

func (a *app) ownerOrSelf(owner string) (address.Address, error) {
	if owner != "" {
		return parseAddress("owner", owner)
	}
	key, err := a.signingKey()
	if err != nil {
		return address.Zero, fmt.Errorf("--owner not set and %w", err)
	}
	return key.Address(), nil
}

func isNotFound(err error) bool {
	return apiclient.ErrorCode(err) == "not_found"
}

func parseAddress(name, s string) (address.Address, error) {
	a, err := address.Parse(s)
	if err != nil {
		return address.Zero, fmt.Errorf("%s: %w", name, err)
	}
	return a, nil
}

func (a *app) print(v any, text func()) error {
	if a.v.GetString("output") == "json" {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text()
	return nil
}

func (a *app) printEscrow(res *escrow.Result) error {
	return a.print(res, func() {
		fmt.Fprintf(a.out, "Record:   %s\n", res.RecordAddress)
		if rec := res.Record; rec != nil {
			fmt.Fprintf(a.out, "Stage:    %s\n", rec.Stage)
			fmt.Fprintf(a.out, "Instance: %d\n", rec.InstanceID)
			fmt.Fprintf(a.out, "Sender:   %s\n", rec.Sender)
			fmt.Fprintf(a.out, "Receiver: %s\n", rec.Receiver)
			fmt.Fprintf(a.out, "Asset:    %s\n", rec.Asset)
			fmt.Fprintf(a.out, "Amount:   %d\n", rec.Amount)
			fmt.Fprintf(a.out, "Holding:  %s\n", rec.HoldingAddress)
			fmt.Fprintf(a.out, "Created:  %s\n", rec.CreatedAt.Format(time.RFC3339))
			if rec.ResolvedAt != nil {
				fmt.Fprintf(a.out, "Resolved: %s\n", rec.ResolvedAt.Format(time.RFC3339))
			}
		}
		if !res.TokenAccount.IsZero() {
			fmt.Fprintf(a.out, "Token account: %s\n", res.TokenAccount)
		}
	})
}
