package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Ratio1/couch_sdk_go/pkg/couch"
)

func newInfoCommand(cli *couchCLI) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the server metadata",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			meta, err := cli.client.Metadata(cmd.Context())
			if err != nil {
				return err
			}
			return cli.printJSON(meta)
		},
	}
}

func newDatabaseCommand(cli *couchCLI) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "db",
		Aliases: []string{"database"},
		Short:   "Manage databases",
		Args:    cobra.NoArgs,
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:     "ls",
			Aliases: []string{"list"},
			Short:   "List databases",
			Args:    cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				names, err := cli.client.AllDatabases(cmd.Context())
				if err != nil {
					return err
				}
				for _, name := range names {
					fmt.Fprintln(cli.out, name)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "exists DB",
			Short: "Report whether a database exists",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ok, err := cli.client.DatabaseExists(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cli.out, ok)
				if !ok {
					return fmt.Errorf("database %q does not exist", args[0])
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "info DB",
			Short: "Show database counters",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				info, err := cli.client.DatabaseInfo(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return cli.printJSON(info)
			},
		},
		newDatabaseCreateCommand(cli),
		&cobra.Command{
			Use:     "rm DB",
			Aliases: []string{"remove"},
			Short:   "Delete a database and all its documents",
			Args:    cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := cli.client.DeleteDatabase(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintln(cli.out, args[0])
				return nil
			},
		},
	)
	return cmd
}

func newDatabaseCreateCommand(cli *couchCLI) *cobra.Command {
	var opts couch.CreateDatabaseOptions
	cmd := &cobra.Command{
		Use:   "create DB",
		Short: "Create a database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.client.CreateDatabase(cmd.Context(), args[0], &opts); err != nil {
				return err
			}
			fmt.Fprintln(cli.out, args[0])
			return nil
		},
	}
	flags := cmd.Flags()
	flags.IntVarP(&opts.Shards, "shards", "q", 0, "number of shards")
	flags.IntVarP(&opts.Replicas, "replicas", "n", 0, "number of replicas")
	return cmd
}
