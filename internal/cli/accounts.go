package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/aristath/swingbot/internal/domain"
	"github.com/aristath/swingbot/internal/modules/accounts"
)

func (a *app) newAccountsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage brokerage accounts",
	}
	cmd.AddCommand(a.newAccountsAddCmd(), a.newAccountsListCmd())
	return cmd
}

func (a *app) newAccountsAddCmd() *cobra.Command {
	var (
		account     domain.Account
		accountType string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register an active brokerage account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := a.wire(cmd.Context())
			if err != nil {
				return err
			}
			defer container.Close()

			account.Type = domain.AccountType(accountType)
			account.IsActive = true
			id, err := container.AccountRepo.Create(account)
			if err != nil {
				return err
			}
			a.printf("Account %s added with id %d\n", account.Name, id)
			return nil
		},
	}

	cmd.Flags().StringVar(&account.Name, "name", "", "unique account name")
	cmd.Flags().StringVar(&accountType, "type", string(domain.AccountPaper), "paper or live")
	cmd.Flags().StringVar(&account.APIKey, "key", "", "brokerage API key id")
	cmd.Flags().StringVar(&account.APISecret, "secret", "", "brokerage API secret")
	cmd.Flags().StringVar(&account.BaseURL, "base-url", "", "brokerage API base URL (defaults by type)")
	cmd.Flags().BoolVar(&account.AllowShorting, "allow-shorting", false, "open short positions on SELL")
	cmd.Flags().Float64Var(&account.MaxPositionSize, "max-position", accounts.DefaultMaxPositionSize, "fraction of portfolio value per position")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("key")
	_ = cmd.MarkFlagRequired("secret")

	return cmd
}

func (a *app) newAccountsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List brokerage accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := a.wire(cmd.Context())
			if err != nil {
				return err
			}
			defer container.Close()

			list, err := container.AccountRepo.List()
			if err != nil {
				return err
			}
			if len(list) == 0 {
				a.printf("No accounts\n")
				return nil
			}

			w := tabwriter.NewWriter(a.opts.Out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tTYPE\tSHORTING\tMAX POSITION\tACTIVE")
			for _, acc := range list {
				fmt.Fprintf(w, "%d\t%s\t%s\t%t\t%.2f\t%t\n",
					acc.ID, acc.Name, acc.Type, acc.AllowShorting, acc.MaxPositionSize, acc.IsActive)
			}
			return w.Flush()
		},
	}
}
