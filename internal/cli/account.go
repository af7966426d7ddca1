package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/lucidfs/davsync/internal/types"
)

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Manage configured remote accounts",
}

var accountAddCmd = &cobra.Command{
	Use:   "add <base-url> <username>",
	Short: "Register a new account",
	Args:  cobra.ExactArgs(2),
	RunE:  runAccountAdd,
}

var accountAddOAuth2Cmd = &cobra.Command{
	Use:   "add-oauth2 <base-url> <username>",
	Short: "Register a new account authenticated via OAuth2",
	Long: `add-oauth2 registers an account against a WebDAV deployment fronted
by an OAuth2 authorization server rather than HTTP Basic. The first
reconcile or download against this account triggers the interactive PKCE
flow (browser loopback, or manual paste on a headless host).`,
	Args: cobra.ExactArgs(2),
	RunE: runAccountAddOAuth2,
}

var (
	oauth2ClientID     string
	oauth2ClientSecret string
	oauth2AuthURL      string
	oauth2TokenURL     string
	oauth2Scopes       string
)

var accountListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured accounts",
	RunE:  runAccountList,
}

var accountUpdateCmd = &cobra.Command{
	Use:   "update <account-id> <label>",
	Short: "Change an account's display label",
	Args:  cobra.ExactArgs(2),
	RunE:  runAccountUpdate,
}

var accountRemoveCmd = &cobra.Command{
	Use:   "remove <account-id>",
	Short: "Remove an account and its cached state",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccountRemove,
}

func init() {
	accountAddOAuth2Cmd.Flags().StringVar(&oauth2ClientID, "client-id", "", "OAuth2 client ID (required)")
	accountAddOAuth2Cmd.Flags().StringVar(&oauth2ClientSecret, "client-secret", "", "OAuth2 client secret")
	accountAddOAuth2Cmd.Flags().StringVar(&oauth2AuthURL, "auth-url", "", "OAuth2 authorization endpoint URL (required)")
	accountAddOAuth2Cmd.Flags().StringVar(&oauth2TokenURL, "token-url", "", "OAuth2 token endpoint URL (required)")
	accountAddOAuth2Cmd.Flags().StringVar(&oauth2Scopes, "scopes", "", "Comma-separated OAuth2 scopes")
	_ = accountAddOAuth2Cmd.MarkFlagRequired("client-id")
	_ = accountAddOAuth2Cmd.MarkFlagRequired("auth-url")
	_ = accountAddOAuth2Cmd.MarkFlagRequired("token-url")

	accountCmd.AddCommand(accountAddCmd)
	accountCmd.AddCommand(accountAddOAuth2Cmd)
	accountCmd.AddCommand(accountListCmd)
	accountCmd.AddCommand(accountUpdateCmd)
	accountCmd.AddCommand(accountRemoveCmd)
	rootCmd.AddCommand(accountCmd)
}

func runAccountAdd(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	svc, err := getService()
	if err != nil {
		return out.WriteError("account.add", err)
	}

	acct, err := svc.AddAccount(args[0], args[1])
	if err != nil {
		return out.WriteError("account.add", err)
	}
	return out.WriteSuccess("account.add", acct)
}

func runAccountAddOAuth2(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	svc, err := getService()
	if err != nil {
		return out.WriteError("account.addOAuth2", err)
	}

	var scopes []string
	if oauth2Scopes != "" {
		scopes = strings.Split(oauth2Scopes, ",")
	}

	acct, err := svc.AddOAuth2Account(args[0], args[1], types.OAuth2Config{
		ClientID:     oauth2ClientID,
		ClientSecret: oauth2ClientSecret,
		AuthURL:      oauth2AuthURL,
		TokenURL:     oauth2TokenURL,
		Scopes:       scopes,
	})
	if err != nil {
		return out.WriteError("account.addOAuth2", err)
	}
	return out.WriteSuccess("account.addOAuth2", acct)
}

func runAccountList(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	svc, err := getService()
	if err != nil {
		return out.WriteError("account.list", err)
	}

	accounts, err := svc.Accounts()
	if err != nil {
		return out.WriteError("account.list", err)
	}
	return out.WriteSuccess("account.list", accountsTable(accounts))
}

func runAccountUpdate(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	svc, err := getService()
	if err != nil {
		return out.WriteError("account.update", err)
	}

	acct, err := svc.UpdateAccount(args[0], args[1])
	if err != nil {
		return out.WriteError("account.update", err)
	}
	return out.WriteSuccess("account.update", acct)
}

func runAccountRemove(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	svc, err := getService()
	if err != nil {
		return out.WriteError("account.remove", err)
	}

	if err := svc.RemoveAccount(args[0]); err != nil {
		return out.WriteError("account.remove", err)
	}
	return out.WriteSuccess("account.remove", map[string]string{"accountId": args[0]})
}

// accountsTable adapts []types.Account to types.TableRenderer for --output
// table.
type accountsTable []types.Account

var _ types.TableRenderer = accountsTable(nil)

func (a accountsTable) Headers() []string {
	return []string{"ID", "Base URL", "Username", "Label", "Auth"}
}

func (a accountsTable) Rows() [][]string {
	rows := make([][]string, 0, len(a))
	for _, acct := range a {
		scheme := string(acct.AuthScheme)
		if scheme == "" {
			scheme = string(types.AuthSchemeBasic)
		}
		rows = append(rows, []string{acct.ID, acct.BaseURL, acct.Username, acct.Label, scheme})
	}
	return rows
}

func (a accountsTable) EmptyMessage() string { return "No accounts configured." }
