package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/goterm/internal/bridge"
	"github.com/dmitrijs2005/goterm/internal/models"
	"github.com/spf13/cobra"
)

// rootCmd builds the command tree for one REPL line.
func (a *App) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "goterm",
		Short:         "goterm interactive shell",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(a.out)
	root.SetErr(a.out)
	root.CompletionOptions.DisableDefaultCmd = true

	root.AddCommand(
		a.profileCmd(),
		a.credCmd(),
		a.connectCmd(),
		a.disconnectCmd(),
		a.sessionsCmd(),
		a.shellCmd(),
		a.lsCmd(),
		a.mkdirCmd(),
		a.rmCmd(),
		a.mvCmd(),
		a.getCmd(),
		a.putCmd(),
		a.tasksCmd(),
		a.cancelCmd(),
		a.pruneCmd(),
		a.hostkeysCmd(),
		a.trustCmd(),
		a.mysqlCmd(),
		a.statsCmd(),
		&cobra.Command{
			Use:     "exit",
			Aliases: []string{"quit"},
			Short:   "Leave the shell",
			RunE:    func(*cobra.Command, []string) error { return errQuit },
		},
	)
	return root
}

// parseTarget splits user@host[:port].
func parseTarget(s string) (user, host string, port int, err error) {
	at := strings.LastIndex(s, "@")
	if at <= 0 || at == len(s)-1 {
		return "", "", 0, fmt.Errorf("target must look like user@host[:port], got %q", s)
	}
	user, host = s[:at], s[at+1:]
	if i := strings.LastIndex(host, ":"); i > 0 && !strings.Contains(host[:i], ":") {
		p, perr := strconv.Atoi(host[i+1:])
		if perr != nil {
			return "", "", 0, fmt.Errorf("bad port in %q", s)
		}
		host, port = host[:i], p
	}
	return user, host, port, nil
}

func (a *App) profileCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "profile", Short: "Manage SSH profiles"}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List SSH profiles",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			items, err := a.bridge.ProfilesList(c.Context())
			if err != nil {
				return err
			}
			a.printProfiles(items)
			return nil
		},
	})

	var (
		name, group, key, policy string
		agent, noKeyring         bool
	)
	add := &cobra.Command{
		Use:   "add <user@host[:port]>",
		Short: "Save an SSH profile and store its secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			user, host, port, err := parseTarget(args[0])
			if err != nil {
				return err
			}
			p := models.Profile{
				Name: name, Group: group, Host: host, Port: port, Username: user,
				AuthType: models.AuthPassword, UseKeyring: !noKeyring,
				KnownHostsPolicy: models.KnownHostsPolicy(policy),
			}
			switch {
			case agent:
				p.AuthType = models.AuthAgent
			case key != "":
				p.AuthType, p.PrivateKeyPath = models.AuthPrivateKey, key
			}

			saved, err := a.bridge.ProfilesSave(c.Context(), p)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, "saved profile", saved.ID)

			if !saved.UseKeyring || saved.AuthType == models.AuthAgent {
				return nil
			}
			if saved.AuthType == models.AuthPrivateKey {
				return a.storeSecret(c, saved.ID, "Key passphrase (empty for none): ", a.bridge.CredentialsSetPassphrase)
			}
			return a.storeSecret(c, saved.ID, "Password: ", a.bridge.CredentialsSetPassword)
		},
	}
	add.Flags().StringVar(&name, "name", "", "display name")
	add.Flags().StringVar(&group, "group", "", "group label")
	add.Flags().StringVar(&key, "key", "", "private key path")
	add.Flags().BoolVar(&agent, "agent", false, "authenticate with ssh-agent")
	add.Flags().BoolVar(&noKeyring, "no-keyring", false, "do not store a secret")
	add.Flags().StringVar(&policy, "policy", string(models.PolicyStrict), "known hosts policy: strict, acceptNew or insecureIgnore")
	cmd.AddCommand(add)

	cmd.AddCommand(&cobra.Command{
		Use:   "rm <profileId>",
		Short: "Delete an SSH profile and its secrets",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return a.bridge.ProfilesDelete(c.Context(), args[0])
		},
	})
	return cmd
}

func (a *App) credCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "cred", Short: "Manage stored SSH secrets"}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "password <profileId>",
			Short: "Store the login password",
			Args:  cobra.ExactArgs(1),
			RunE: func(c *cobra.Command, args []string) error {
				return a.storeSecret(c, args[0], "Password: ", a.bridge.CredentialsSetPassword)
			},
		},
		&cobra.Command{
			Use:   "passphrase <profileId>",
			Short: "Store the private key passphrase",
			Args:  cobra.ExactArgs(1),
			RunE: func(c *cobra.Command, args []string) error {
				return a.storeSecret(c, args[0], "Key passphrase: ", a.bridge.CredentialsSetPassphrase)
			},
		},
		&cobra.Command{
			Use:   "rm <profileId>",
			Short: "Forget the stored secrets",
			Args:  cobra.ExactArgs(1),
			RunE: func(c *cobra.Command, args []string) error {
				return a.bridge.CredentialsDelete(c.Context(), args[0])
			},
		},
		&cobra.Command{
			Use:   "status <profileId>",
			Short: "Show which secrets are stored",
			Args:  cobra.ExactArgs(1),
			RunE: func(c *cobra.Command, args []string) error {
				st, err := a.bridge.CredentialsStatus(c.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "password: %s\npassphrase: %s\n", yesNo(st.PasswordSet), yesNo(st.PassphraseSet))
				return nil
			},
		},
	)
	return cmd
}

func (a *App) connectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connect <profileId>",
		Short: "Open an SSH session",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			id, err := a.connect(c.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, "session", id)
			return nil
		},
	}
}

func (a *App) disconnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect <sessionId>",
		Short: "Close an SSH session",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return a.bridge.SessionDisconnect(c.Context(), args[0])
		},
	}
}

func (a *App) sessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List sessions",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			items, err := a.bridge.SessionList(c.Context())
			if err != nil {
				return err
			}
			a.printSessions(items)
			return nil
		},
	}
}

func (a *App) shellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell <sessionId>",
		Short: "Attach an interactive terminal (Ctrl-] detaches)",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return a.shell(c.Context(), args[0])
		},
	}
}

func (a *App) lsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls <sessionId> [path]",
		Short: "List a remote directory",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(c *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 2 {
				dir = args[1]
			}
			items, err := a.bridge.FilesList(c.Context(), args[0], dir)
			if err != nil {
				return err
			}
			a.printEntries(items)
			return nil
		},
	}
}

func (a *App) mkdirCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <sessionId> <path>",
		Short: "Create a remote directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			return a.bridge.FilesMkdir(c.Context(), args[0], args[1])
		},
	}
}

func (a *App) rmCmd() *cobra.Command {
	var recursive bool
	cmd := &cobra.Command{
		Use:   "rm <sessionId> <path>",
		Short: "Remove a remote file or directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			return a.bridge.FilesRemove(c.Context(), args[0], args[1], recursive)
		},
	}
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "remove directories and their contents")
	return cmd
}

func (a *App) mvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mv <sessionId> <from> <to>",
		Short: "Rename a remote path",
		Args:  cobra.ExactArgs(3),
		RunE: func(c *cobra.Command, args []string) error {
			return a.bridge.FilesRename(c.Context(), args[0], args[1], args[2])
		},
	}
}

func (a *App) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <sessionId> <remote> <local>",
		Short: "Queue a download",
		Args:  cobra.ExactArgs(3),
		RunE: func(c *cobra.Command, args []string) error {
			id, err := a.bridge.TransferDownload(c.Context(), args[0], args[1], args[2])
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, "task", id)
			return nil
		},
	}
}

func (a *App) putCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <sessionId> <local> <remote>",
		Short: "Queue an upload",
		Args:  cobra.ExactArgs(3),
		RunE: func(c *cobra.Command, args []string) error {
			id, err := a.bridge.TransferUpload(c.Context(), args[0], args[1], args[2])
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, "task", id)
			return nil
		},
	}
}

func (a *App) tasksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tasks",
		Short: "List transfer tasks",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			items, err := a.bridge.TransferListTasks(c.Context())
			if err != nil {
				return err
			}
			a.printTasks(items)
			return nil
		},
	}
}

func (a *App) cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <taskId>",
		Short: "Cancel a transfer",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return a.bridge.TransferCancel(c.Context(), args[0])
		},
	}
}

func (a *App) pruneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Forget finished transfers",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			n, err := a.bridge.TransferPrune(c.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "removed %d task(s)\n", n)
			return nil
		},
	}
}

func (a *App) hostkeysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hostkeys",
		Short: "List host keys waiting for a decision",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			items, err := a.bridge.HostKeyPending(c.Context())
			if err != nil {
				return err
			}
			a.printChallenges(items)
			return nil
		},
	}
}

func (a *App) trustCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "trust <requestId> yes|no",
		Short:     "Answer a pending host key challenge",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"yes", "no"},
		RunE: func(c *cobra.Command, args []string) error {
			var allow bool
			switch strings.ToLower(args[1]) {
			case "yes", "y":
				allow = true
			case "no", "n":
			default:
				return fmt.Errorf("answer must be yes or no")
			}
			return a.bridge.HostKeyRespond(c.Context(), args[0], allow)
		},
	}
}

func (a *App) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show local CPU and memory usage",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			st, err := a.bridge.SystemStats(c.Context())
			if err != nil {
				return err
			}
			a.printStats(st)
			return nil
		},
	}
}

func (a *App) mysqlCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "mysql", Short: "Work with MySQL profiles and connections"}

	cmd.AddCommand(&cobra.Command{
		Use:   "profiles",
		Short: "List MySQL profiles",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			items, err := a.bridge.MySQLProfilesList(c.Context())
			if err != nil {
				return err
			}
			a.printMySQLProfiles(items)
			return nil
		},
	})

	var name, database, tunnel, tlsMode string
	add := &cobra.Command{
		Use:   "add <user@host[:port]>",
		Short: "Save a MySQL profile and store its password",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			user, host, port, err := parseTarget(args[0])
			if err != nil {
				return err
			}
			p := models.MySQLProfile{
				Name: name, Host: host, Port: port, Username: user, Database: database,
				TLS: models.TLSOptions{Mode: models.TLSMode(tlsMode)},
			}
			if tunnel != "" {
				p.ConnectionType, p.SSHProfileID = models.ConnectionSSHTunnel, tunnel
			}
			saved, err := a.bridge.MySQLProfilesSave(c.Context(), p)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, "saved mysql profile", saved.ID)
			return a.storeSecret(c, saved.ID, "MySQL password: ", a.bridge.MySQLCredentialsSetPassword)
		},
	}
	add.Flags().StringVar(&name, "name", "", "display name")
	add.Flags().StringVar(&database, "database", "", "default database")
	add.Flags().StringVar(&tunnel, "tunnel", "", "SSH profile id to tunnel through")
	add.Flags().StringVar(&tlsMode, "tls", "", "disabled, preferred, required or skipVerify")
	cmd.AddCommand(add)

	cmd.AddCommand(
		&cobra.Command{
			Use:   "rm <profileId>",
			Short: "Delete a MySQL profile",
			Args:  cobra.ExactArgs(1),
			RunE: func(c *cobra.Command, args []string) error {
				return a.bridge.MySQLProfilesDelete(c.Context(), args[0])
			},
		},
		&cobra.Command{
			Use:   "connect <profileId>",
			Short: "Open the connection pool",
			Args:  cobra.ExactArgs(1),
			RunE: func(c *cobra.Command, args []string) error {
				st, err := a.bridge.MySQLConnect(c.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(a.out, st.State)
				return nil
			},
		},
		&cobra.Command{
			Use:   "disconnect <profileId>",
			Short: "Close the connection pool",
			Args:  cobra.ExactArgs(1),
			RunE: func(c *cobra.Command, args []string) error {
				return a.bridge.MySQLDisconnect(c.Context(), args[0])
			},
		},
		&cobra.Command{
			Use:   "dbs <profileId>",
			Short: "List databases",
			Args:  cobra.ExactArgs(1),
			RunE: func(c *cobra.Command, args []string) error {
				names, err := a.bridge.MySQLListDatabases(c.Context(), args[0])
				if err != nil {
					return err
				}
				a.printNames(names)
				return nil
			},
		},
		&cobra.Command{
			Use:   "tables <profileId> <database>",
			Short: "List tables",
			Args:  cobra.ExactArgs(2),
			RunE: func(c *cobra.Command, args []string) error {
				names, err := a.bridge.MySQLListTables(c.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				a.printNames(names)
				return nil
			},
		},
		&cobra.Command{
			Use:   "schema <profileId> <database> <table>",
			Short: "Describe a table",
			Args:  cobra.ExactArgs(3),
			RunE: func(c *cobra.Command, args []string) error {
				cols, err := a.bridge.MySQLTableSchema(c.Context(), args[0], args[1], args[2])
				if err != nil {
					return err
				}
				a.printColumns(cols)
				return nil
			},
		},
		a.mysqlPreviewCmd(),
		&cobra.Command{
			Use:                "query <profileId> <database> <sql...>",
			Short:              "Run a statement",
			Args:               cobra.MinimumNArgs(3),
			DisableFlagParsing: true,
			RunE: func(c *cobra.Command, args []string) error {
				res, err := a.bridge.MySQLQuery(c.Context(), args[0], args[1], strings.Join(args[2:], " "))
				if err != nil {
					return err
				}
				a.printQueryResult(res)
				return nil
			},
		},
	)
	return cmd
}

func (a *App) mysqlPreviewCmd() *cobra.Command {
	var req bridge.PreviewRequest
	var desc bool
	cmd := &cobra.Command{
		Use:   "preview <profileId> <database> <table>",
		Short: "Page through table rows",
		Args:  cobra.ExactArgs(3),
		RunE: func(c *cobra.Command, args []string) error {
			req.ProfileID, req.Database, req.Table = args[0], args[1], args[2]
			if desc {
				req.OrderDir = "DESC"
			}
			res, err := a.bridge.MySQLPreviewTable(c.Context(), req)
			if err != nil {
				return err
			}
			a.printRows(res.Columns, res.Rows, res.Truncated)
			return nil
		},
	}
	cmd.Flags().IntVar(&req.Limit, "limit", 50, "rows per page")
	cmd.Flags().IntVar(&req.Offset, "offset", 0, "rows to skip")
	cmd.Flags().StringVar(&req.Filter, "where", "", "filter expression")
	cmd.Flags().StringVar(&req.OrderBy, "order-by", "", "column to sort by")
	cmd.Flags().BoolVar(&desc, "desc", false, "sort descending")
	return cmd
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
