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
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"stash.kopano.io/kc/klogout/cmd"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "klogoutd",
		Short: "OpenID Connect session termination service",
	}

	rootCmd.AddCommand(commandServe())
	rootCmd.AddCommand(commandHealthcheck())
	rootCmd.AddCommand(commandSession())
	rootCmd.AddCommand(commandJwkFromPem())
	rootCmd.AddCommand(cmd.CommandVersion())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
