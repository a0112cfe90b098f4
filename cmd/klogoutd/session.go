/*
 * Copyright 2020 Kopano and its licensors
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License, version 3,
 * as published by the Free Software Foundation.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"stash.kopano.io/kc/klogout/session"
	"stash.kopano.io/kc/klogout/session/managers"
)

func commandSession() *cobra.Command {
	sessionCmd := &cobra.Command{
		Use:   "session",
		Short: "Manage sessions of the SQLite session store",
	}
	sessionCmd.PersistentFlags().String("session-db", envOrDefault("SESSION_DB", "klogout.db"), "Path to the SQLite session database")

	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Add a session",
		Run: func(cmd *cobra.Command, args []string) {
			if err := sessionAdd(cmd, args); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		},
	}
	addCmd.Flags().String("sid", "", "Session ID (default: random)")
	addCmd.Flags().String("uid", "", "User ID (required)")
	addCmd.Flags().String("sub", "", "Subject as known by the client (default: user ID)")
	addCmd.Flags().String("client-id", "", "Client ID (required)")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		Run: func(cmd *cobra.Command, args []string) {
			if err := sessionList(cmd, args); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		},
	}

	revokeCmd := &cobra.Command{
		Use:   "revoke <sid>...",
		Short: "Revoke sessions",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if err := sessionRevoke(cmd, args); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		},
	}

	sessionCmd.AddCommand(addCmd, listCmd, revokeCmd)

	return sessionCmd
}

func openSessionDB(ctx context.Context, cmd *cobra.Command) (*managers.SQLiteManager, error) {
	dbPath, _ := cmd.Flags().GetString("session-db")
	return managers.NewSQLiteManager(ctx, dbPath)
}

func sessionAdd(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	s := &session.Session{
		CreatedAt: time.Now(),
	}
	s.ID, _ = cmd.Flags().GetString("sid")
	s.UserID, _ = cmd.Flags().GetString("uid")
	s.Subject, _ = cmd.Flags().GetString("sub")
	s.ClientID, _ = cmd.Flags().GetString("client-id")
	if s.Subject == "" {
		s.Subject = s.UserID
	}

	sm, err := openSessionDB(ctx, cmd)
	if err != nil {
		return err
	}
	defer sm.Close()

	if err = sm.Create(ctx, s); err != nil {
		return fmt.Errorf("failed to add session: %v", err)
	}
	fmt.Println(s.ID)

	return nil
}

func sessionList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	sm, err := openSessionDB(ctx, cmd)
	if err != nil {
		return err
	}
	defer sm.Close()

	sessions, err := sm.List(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SID\tUID\tSUB\tCLIENT\tCREATED\tREVOKED")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%v\n", s.ID, s.UserID, s.Subject, s.ClientID, s.CreatedAt.Format(time.RFC3339), s.Revoked)
	}

	return w.Flush()
}

func sessionRevoke(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	sm, err := openSessionDB(ctx, cmd)
	if err != nil {
		return err
	}
	defer sm.Close()

	for _, sid := range args {
		if err = sm.Revoke(ctx, sid); err != nil {
			return fmt.Errorf("failed to revoke %s: %v", sid, err)
		}
	}

	return nil
}
