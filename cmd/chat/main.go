// Command chat is the terminal client for the portal chat subsystem.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Gamage-Recruiters/ems-chat/internal/app"
	"github.com/Gamage-Recruiters/ems-chat/internal/config"
	"github.com/Gamage-Recruiters/ems-chat/internal/log"
	"github.com/Gamage-Recruiters/ems-chat/internal/policy"
	"github.com/Gamage-Recruiters/ems-chat/internal/proto"
	"github.com/Gamage-Recruiters/ems-chat/internal/rest"
	"github.com/Gamage-Recruiters/ems-chat/internal/session"
)

var (
	flagConfig   string
	flagLogLevel string

	cfg      config.Config
	logger   *zerolog.Logger
	sessions *session.SQLiteStore
)

func main() {
	root := &cobra.Command{
		Use:           "chat",
		Short:         "Realtime chat client for the employee portal",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			bootstrap := log.New(flagLogLevel)
			var err error
			var path string
			cfg, path, err = config.Load(bootstrap, flagConfig)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if flagLogLevel != "" {
				cfg.LogLevel = flagLogLevel
			}
			logger = log.New(cfg.LogLevel)
			logger.Debug().Str("path", path).Msg("config loaded")

			sessions, err = session.NewSQLiteStore(cfg.SessionPath)
			if err != nil {
				return fmt.Errorf("open session store: %w", err)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if sessions != nil {
				_ = sessions.Close()
			}
		},
	}
	root.PersistentFlags().StringVar(&flagConfig, "config", "", "config file path")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level override")

	root.AddCommand(loginCmd(), logoutCmd(), channelsCmd(), employeesCmd(), chatCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loginCmd() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "login <username>",
		Short: "Authenticate against the portal and persist the session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				fmt.Print("Password: ")
				reader := bufio.NewReader(os.Stdin)
				line, err := reader.ReadString('\n')
				if err != nil {
					return fmt.Errorf("read password: %w", err)
				}
				password = strings.TrimSpace(line)
			}

			token, err := rest.Login(cmd.Context(), cfg.APIBaseURL, args[0], password)
			if err != nil {
				return err
			}

			a := app.New(cfg, sessions, logger)
			if err := a.Login(token); err != nil {
				return err
			}
			sess := a.Session()
			fmt.Printf("Logged in as %s (%s)\n", sess.DisplayName, sess.Role)
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "password (prompted if omitted)")
	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear the persisted session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := sessions.Clear(); err != nil {
				return err
			}
			fmt.Println("Logged out.")
			return nil
		},
	}
}

func channelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "channels",
		Short: "List channels visible to the current session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resumeApp()
			if err != nil {
				return err
			}
			if err := a.Directory().Load(cmd.Context()); err != nil {
				return err
			}
			for _, ch := range a.Directory().Visible(a.Session()) {
				fmt.Printf("%-24s %-8s %s\n", ch.Name, ch.Kind, ch.ID)
			}
			return nil
		},
	}
	cmd.AddCommand(channelCreateCmd(), channelRenameCmd(), channelDeleteCmd())
	return cmd
}

func channelCreateCmd() *cobra.Command {
	var kind string
	var members []string
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a channel (admin and hr only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resumeAdminApp()
			if err != nil {
				return err
			}
			created, err := a.Directory().Create(cmd.Context(), proto.ChannelKind(kind), args[0], members)
			if err != nil {
				return err
			}
			fmt.Printf("Created %s (%s) %s\n", created.Name, created.Kind, created.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "type", string(proto.ChannelRegular), "channel type: regular or notice")
	cmd.Flags().StringSliceVar(&members, "members", nil, "member employee ids (regular channels)")
	return cmd
}

func channelRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <name> <new-name>",
		Short: "Rename a channel (admin and hr only)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resumeAdminApp()
			if err != nil {
				return err
			}
			if err := a.Directory().Load(cmd.Context()); err != nil {
				return err
			}
			ch, ok := channelByName(a, args[0])
			if !ok {
				return fmt.Errorf("no visible channel named %q", args[0])
			}
			updated, err := a.Directory().Update(cmd.Context(), ch.ID, rest.UpdateChannelRequest{Name: &args[1]})
			if err != nil {
				return err
			}
			fmt.Printf("Renamed to %s\n", updated.Name)
			return nil
		},
	}
}

func channelDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a channel (admin and hr only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resumeAdminApp()
			if err != nil {
				return err
			}
			if err := a.Directory().Load(cmd.Context()); err != nil {
				return err
			}
			ch, ok := channelByName(a, args[0])
			if !ok {
				return fmt.Errorf("no visible channel named %q", args[0])
			}
			if err := a.Directory().Remove(cmd.Context(), ch.ID); err != nil {
				return err
			}
			fmt.Printf("Deleted %s\n", ch.Name)
			return nil
		},
	}
}

func employeesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "employees",
		Short: "List employees reachable for private chats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resumeApp()
			if err != nil {
				return err
			}
			employees, err := a.Directory().Employees(cmd.Context())
			if err != nil {
				return err
			}
			for _, e := range employees {
				fmt.Printf("%-24s %-10s %s\n", e.DisplayName, e.Role, e.ID)
			}
			return nil
		},
	}
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat <channel-name>",
		Short: "Open an interactive chat session in a channel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resumeApp()
			if err != nil {
				return err
			}
			return runInteractive(cmd.Context(), a, args[0])
		},
	}
}

func resumeApp() (*app.App, error) {
	a := app.New(cfg, sessions, logger)
	if err := a.Resume(); err != nil {
		return nil, fmt.Errorf("no active session, run `chat login` first: %w", err)
	}
	return a, nil
}

// resumeAdminApp refuses early when the role cannot administer channels; the
// backend enforces the same rule.
func resumeAdminApp() (*app.App, error) {
	a, err := resumeApp()
	if err != nil {
		return nil, err
	}
	if !policy.CanAdminChannels(a.Session()) {
		return nil, fmt.Errorf("channel administration requires an admin or hr role")
	}
	return a, nil
}

func channelByName(a *app.App, name string) (proto.Channel, bool) {
	for _, ch := range a.Directory().Visible(a.Session()) {
		if ch.Name == name {
			return ch, true
		}
	}
	return proto.Channel{}, false
}
