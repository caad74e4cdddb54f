package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"uspacecal/internal/session"
)

var (
	headless     bool
	userDataDir  string
	checkSession bool
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in to u:space in a browser window",
	Long:  `Open the u:space portal in Chromium, wait until you are signed in, and store the session cookies locally.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		browser := session.ChromeBrowser{Headless: headless, UserDataDir: userDataDir}
		p := session.NewProvider(a.store, browser, a.directory, a.cfg.PortalURL, a.cfg.LoginTimeout)

		fmt.Fprintln(cmd.OutOrStdout(), "Complete the login in the browser window...")
		sess, err := p.Login(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s (%s)\n", sess.User.Fullname, sess.User.Username)
		if len(sess.Semesters) > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "Semesters: %s\n", strings.Join(sess.Semesters, ", "))
		}
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored session",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		if err := a.sessions.Logout(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the stored session",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}

		var sess *session.Session
		if checkSession {
			sess, err = a.sessions.Validate(cmd.Context())
		} else {
			sess, err = a.sessions.Current()
		}
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "User:      %s (%s)\n", sess.User.Fullname, sess.User.Username)
		if !sess.CreatedAt.IsZero() {
			fmt.Fprintf(out, "Since:     %s\n", sess.CreatedAt.Local().Format(time.DateTime))
		}
		fmt.Fprintf(out, "Cookies:   %d\n", len(sess.Cookies))
		fmt.Fprintf(out, "Semesters: %s\n", strings.Join(sess.Semesters, ", "))
		return nil
	},
}

func init() {
	loginCmd.Flags().BoolVar(&headless, "headless", false, "Run the browser headless (needs an already signed-in profile)")
	loginCmd.Flags().StringVar(&userDataDir, "user-data-dir", "", "Reuse this Chromium profile directory")
	statusCmd.Flags().BoolVar(&checkSession, "check", false, "Validate the session against the portal")

	rootCmd.AddCommand(loginCmd, logoutCmd, statusCmd)
}
