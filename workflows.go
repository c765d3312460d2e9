package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Nehilsa2/linkedin_outreach/account"
	"github.com/Nehilsa2/linkedin_outreach/campaign"
	"github.com/Nehilsa2/linkedin_outreach/profile"
)

const rule = "=================================================="

// accountFlags pick the account a one-shot command runs as.
type accountFlags struct {
	name     string
	handle   string
	cookies  string
	username string
	password string
}

func (f *accountFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.name, "account", "", "account handle from the accounts file")
	cmd.Flags().StringVar(&f.handle, "handle", "", "profile store handle (derived when empty)")
	cmd.Flags().StringVar(&f.cookies, "cookies", "", "JSON cookie file exported from a browser")
	cmd.Flags().StringVar(&f.username, "username", "", "login email (default $LINKEDIN_EMAIL)")
	cmd.Flags().StringVar(&f.password, "password", "", "login password (default $LINKEDIN_PASSWORD)")
}

// resolveAccount builds the account from the accounts file when --account
// is set, otherwise from cookies and credentials.
func (a *app) resolveAccount(f accountFlags) (account.Account, error) {
	if f.name != "" {
		if a.cfg.AccountsFile == "" {
			return account.Account{}, errors.New("--account needs accounts_file in the config")
		}
		accounts, err := account.LoadFile(a.cfg.AccountsFile)
		if err != nil {
			return account.Account{}, err
		}
		acct, ok := accounts[f.name]
		if !ok {
			return account.Account{}, fmt.Errorf("account %q not found or inactive in %s", f.name, a.cfg.AccountsFile)
		}
		return acct, nil
	}

	var cookies []account.Cookie
	if f.cookies != "" {
		var err error
		if cookies, err = account.ReadCookieFile(f.cookies); err != nil {
			return account.Account{}, err
		}
	}
	username, password := f.username, f.password
	if username == "" {
		username = os.Getenv("LINKEDIN_EMAIL")
	}
	if password == "" {
		password = os.Getenv("LINKEDIN_PASSWORD")
	}
	return account.NewBuilder().
		WithHandle(f.handle).
		WithCookies(cookies).
		WithCredentials(username, password).
		WithQuotas(a.cfg.Limits.DailyConnections, a.cfg.Limits.DailyMessages).
		Build()
}

// withClient runs fn against the configured executor, cancelling on
// interrupt.
func (a *app) withClient(cmd *cobra.Command, fn func(ctx context.Context, c *campaign.Client) error) error {
	exec, release, err := a.newExecutor()
	if err != nil {
		return err
	}
	defer release()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return fn(ctx, campaign.NewClient(exec))
}

// readTargets returns the non-empty, non-comment lines of path.
func readTargets(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out, sc.Err()
}

func (a *app) runCmd() *cobra.Command {
	var (
		acct        accountFlags
		targetsFile string
		req         campaign.RunRequest
		mode        string
	)
	cmd := &cobra.Command{
		Use:   "run [profile-url...]",
		Short: "Run a connect or message campaign over profile URLs",
		Long: `Runs one campaign in order over the given profile URLs. Profiles the
account's store already settled are skipped, so rerunning an interrupted
campaign resumes it.

  outreach run --cookies cookies.json https://www.linkedin.com/in/jane-doe
  outreach run --account sales --targets-file leads.txt --note "Hi {first_name}!"
  outreach run --account sales --mode message --message "Thanks for connecting, {first_name}"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			targets := args
			if targetsFile != "" {
				more, err := readTargets(targetsFile)
				if err != nil {
					return fmt.Errorf("read targets: %w", err)
				}
				targets = append(targets, more...)
			}
			acc, err := a.resolveAccount(acct)
			if err != nil {
				return err
			}
			req.Account = acc
			req.Targets = targets
			req.Mode = campaign.Mode(mode)

			return a.withClient(cmd, func(ctx context.Context, c *campaign.Client) error {
				fmt.Fprintln(cmd.OutOrStdout(), rule)
				fmt.Fprintf(cmd.OutOrStdout(), "🔗 CAMPAIGN %s (%d targets, account %s)\n", campaignName(req.CampaignName), len(targets), acc.Handle())
				fmt.Fprintln(cmd.OutOrStdout(), rule)

				res, err := c.RunCampaign(ctx, req)
				if err != nil {
					return err
				}
				printResult(cmd.OutOrStdout(), res)
				if !res.Success {
					return errors.New(res.Message)
				}
				return nil
			})
		},
	}
	acct.register(cmd)
	cmd.Flags().StringVar(&targetsFile, "targets-file", "", "file with one profile URL per line")
	cmd.Flags().StringVar(&req.CampaignName, "campaign", "", "campaign name (default "+campaign.DefaultCampaignName+")")
	cmd.Flags().StringVar(&mode, "mode", string(campaign.ModeConnect), "connect or message")
	cmd.Flags().StringVar(&req.Note, "note", "", "connection note template")
	cmd.Flags().StringVar(&req.Message, "message", "", "message template for --mode message")
	return cmd
}

func campaignName(name string) string {
	if strings.TrimSpace(name) == "" {
		return campaign.DefaultCampaignName
	}
	return name
}

func printResult(w io.Writer, res campaign.Result) {
	for i, p := range res.Profiles {
		icon := "✅"
		switch {
		case p.Resumed:
			icon = "⏭️"
		case p.Error != "":
			icon = "❌"
		case p.State == profile.StateSkipped:
			icon = "⚠️"
		}
		id := p.PublicID
		if id == "" {
			id = p.URL
		}
		line := fmt.Sprintf("[%d/%d] %s %s %s", i+1, res.Total, icon, id, p.State)
		if p.Message != "" {
			line += " message=" + string(p.Message)
		}
		if p.Resumed {
			line += " (already done)"
		}
		if p.Error != "" {
			line += ": " + p.Error
		}
		fmt.Fprintln(w, line)
	}

	fmt.Fprintf(w, "\n📊 %d processed, %d succeeded, %d failed\n", res.Processed, res.Succeeded, res.Failed)
	if res.Stopped {
		fmt.Fprintf(w, "🛑 Stopped early: %s\n", res.StopReason)
	}
	if res.Success {
		fmt.Fprintf(w, "✅ %s\n", res.Message)
	} else {
		fmt.Fprintf(w, "❌ %s\n", res.Message)
	}
}

func (a *app) statusCmd() *cobra.Command {
	var (
		acct accountFlags
		live bool
	)
	cmd := &cobra.Command{
		Use:   "status profile-url...",
		Short: "Show what the profile store knows about profiles",
		Long: `Looks profiles up in the account's profile store. With --live the
profiles are opened in the browser and their relationship state is read from
the page instead.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(cmd, func(ctx context.Context, c *campaign.Client) error {
				var (
					out []campaign.ProfileStatus
					err error
				)
				if live {
					acc, aerr := a.resolveAccount(acct)
					if aerr != nil {
						return aerr
					}
					out, err = c.CheckStatus(ctx, campaign.StatusRequest{Account: acc, URLs: args})
				} else {
					handle := acct.handle
					if handle == "" {
						handle = acct.name
					}
					if handle == "" && acct.username != "" {
						handle = account.HandleFromUsername(acct.username)
					}
					if handle == "" {
						return errors.New("stored status needs --handle, --account or --username")
					}
					out, err = c.StoredStatus(ctx, campaign.StoredStatusRequest{Handle: handle, URLs: args})
				}
				if err != nil {
					return err
				}
				printStatuses(cmd.OutOrStdout(), out)
				return nil
			})
		},
	}
	acct.register(cmd)
	cmd.Flags().BoolVar(&live, "live", false, "read state from the live profile pages")
	return cmd
}

func printStatuses(w io.Writer, statuses []campaign.ProfileStatus) {
	for _, st := range statuses {
		icon := "📌"
		switch st.State {
		case profile.StateConnected:
			icon = "🤝"
		case profile.StatePending:
			icon = "⏳"
		case profile.StateNotFound:
			icon = "❔"
		case profile.StateError:
			icon = "❌"
		}
		fmt.Fprintf(w, "%s %s %s", icon, st.URL, st.State)
		if st.FullName != "" {
			fmt.Fprintf(w, " (%s)", st.FullName)
		}
		if st.LastUpdated != nil {
			fmt.Fprintf(w, " updated %s", st.LastUpdated.Format("2006-01-02 15:04"))
		}
		if st.Message != "" {
			fmt.Fprintf(w, " %s", st.Message)
		}
		fmt.Fprintln(w)
	}
}

func (a *app) messageCmd() *cobra.Command {
	var (
		acct accountFlags
		text string
	)
	cmd := &cobra.Command{
		Use:   "message profile-url",
		Short: "Send one message to a connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			acc, err := a.resolveAccount(acct)
			if err != nil {
				return err
			}
			return a.withClient(cmd, func(ctx context.Context, c *campaign.Client) error {
				res, err := c.SendMessage(ctx, campaign.MessageRequest{Account: acc, URL: args[0], Text: text})
				if err != nil {
					return err
				}
				if res.Success {
					fmt.Fprintf(cmd.OutOrStdout(), "📬 %s: %s\n", res.PublicID, res.Message)
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "⚠️ %s %s: %s\n", args[0], res.Status, res.Message)
				return errors.New(res.Message)
			})
		},
	}
	acct.register(cmd)
	cmd.Flags().StringVar(&text, "text", "", "message template; {name} and {first_name} are filled in")
	cmd.MarkFlagRequired("text")
	return cmd
}

func (a *app) exportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export handle",
		Short: "Dump an account's profile store as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			return a.withClient(cmd, func(ctx context.Context, c *campaign.Client) error {
				return c.Export(ctx, args[0], w)
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write to a file instead of stdout")
	return cmd
}
