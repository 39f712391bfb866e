package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"igcrawler/pkg/auth"
	"igcrawler/pkg/ui"
)

var (
	cookieHeader string
	logoutAll    bool
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage the Instagram sessions used while crawling",
	Long: `Manage stored Instagram session cookies. The crawler installs them
into a launched Chrome so profile pages render as for a logged-in user.

Sessions are kept in the system keychain when available and otherwise in
an encrypted file in the igcrawler config directory. IGCRAWLER_SESSION_ID
and IGCRAWLER_CSRF_TOKEN are honoured as a read-only fallback.`,
}

var loginCmd = &cobra.Command{
	Use:   "login [username]",
	Short: "Store session cookies for an account",
	Example: `  # Interactive, with a guide to copying the cookies
  igcrawler auth login

  # Paste the Cookie request header from the browser's network panel
  igcrawler auth login myaccount --cookie 'sessionid=...; csrftoken=...; ds_user_id=...'`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout [username]",
	Short: "Remove a stored session",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runLogout,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored sessions with masked cookie values",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(loginCmd, logoutCmd, listCmd)

	loginCmd.Flags().StringVar(&cookieHeader, "cookie", "", "Cookie header copied from a logged-in browser")
	logoutCmd.Flags().BoolVar(&logoutAll, "all", false, "remove every stored session")
}

func runLogin(_ *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return err
	}

	var username string
	if len(args) > 0 {
		username = args[0]
	}

	var account *auth.Account
	if cookieHeader != "" {
		if username == "" {
			return errors.New("a username is required with --cookie")
		}
		account, err = auth.ParseCookieHeader(username, cookieHeader)
	} else {
		auth.WriteCookieGuide(os.Stdout)
		in := bufio.NewReader(os.Stdin)
		account, err = promptAccount(in, os.Stdout, secretReader(in), username)
	}
	if err != nil {
		return err
	}
	account.LastModified = time.Now()

	if err := manager.Store(account); err != nil {
		return err
	}
	ui.PrintSuccess("Session stored for " + account.Username)
	fmt.Printf("\nCrawl with it:\n  igcrawler crawl <profile-url> --account %s\n", account.Username)
	return nil
}

// promptAccount asks for the username and cookies. Cookie values are read
// with readSecret so they are not echoed.
func promptAccount(r *bufio.Reader, w io.Writer, readSecret func() (string, error), username string) (*auth.Account, error) {
	if username == "" {
		fmt.Fprint(w, "Instagram username: ")
		line, err := r.ReadString('\n')
		if err != nil && line == "" {
			return nil, fmt.Errorf("read username: %w", err)
		}
		username = strings.TrimSpace(line)
	}

	fmt.Fprint(w, "sessionid: ")
	sessionID, err := readSecret()
	if err != nil {
		return nil, fmt.Errorf("read sessionid: %w", err)
	}
	fmt.Fprint(w, "\ncsrftoken: ")
	csrfToken, err := readSecret()
	if err != nil {
		return nil, fmt.Errorf("read csrftoken: %w", err)
	}

	fmt.Fprint(w, "\nds_user_id (optional): ")
	userID, _ := r.ReadString('\n')
	fmt.Fprint(w, "User agent (optional): ")
	userAgent, _ := r.ReadString('\n')
	fmt.Fprintln(w)

	account := &auth.Account{
		Username:  username,
		SessionID: strings.TrimSpace(sessionID),
		CSRFToken: strings.TrimSpace(csrfToken),
		UserID:    strings.TrimSpace(userID),
		UserAgent: strings.TrimSpace(userAgent),
	}
	if err := account.Validate(); err != nil {
		return nil, err
	}
	return account, nil
}

// secretReader reads without echo from a terminal, falling back to plain
// lines from r when stdin is piped
func secretReader(r *bufio.Reader) func() (string, error) {
	return func() (string, error) {
		fd := int(os.Stdin.Fd())
		if !term.IsTerminal(fd) {
			line, err := r.ReadString('\n')
			if err != nil && line == "" {
				return "", err
			}
			return strings.TrimSpace(line), nil
		}
		b, err := term.ReadPassword(fd)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}

func runLogout(_ *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return err
	}

	var names []string
	switch {
	case logoutAll:
		accounts, err := manager.List()
		if err != nil {
			return err
		}
		for _, a := range accounts {
			names = append(names, a.Username)
		}
	case len(args) == 1:
		names = args
	default:
		return errors.New("name an account or pass --all")
	}

	for _, name := range names {
		if err := manager.Delete(name); err != nil {
			return err
		}
		ui.PrintSuccess("Session removed for " + name)
	}
	if len(names) == 0 {
		ui.PrintInfo("Sessions", "none stored")
	}
	return nil
}

func runList(_ *cobra.Command, _ []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return err
	}
	accounts, err := manager.List()
	if err != nil {
		return err
	}
	writeAccounts(os.Stdout, accounts)
	return nil
}

func writeAccounts(w io.Writer, accounts []*auth.Account) {
	if len(accounts) == 0 {
		fmt.Fprintln(w, "No stored sessions. Use 'igcrawler auth login' to add one.")
		return
	}
	for i, account := range accounts {
		s := auth.SanitizeAccount(account)
		marker := ""
		if i == 0 {
			marker = " (default)"
		}
		fmt.Fprintf(w, "%d. %s%s\n", i+1, s.Username, marker)
		fmt.Fprintf(w, "   sessionid:  %s\n", s.SessionID)
		fmt.Fprintf(w, "   csrftoken:  %s\n", s.CSRFToken)
		if s.UserID != "" {
			fmt.Fprintf(w, "   ds_user_id: %s\n", s.UserID)
		}
		if !s.LastModified.IsZero() {
			fmt.Fprintf(w, "   updated:    %s\n", s.LastModified.Format("2006-01-02 15:04:05"))
		}
	}
}
