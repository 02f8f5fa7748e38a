package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/docker/go-units"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/tidwall/jsonc"

	"github.com/Ratio1/couch_sdk_go/pkg/couch"
)

// body is the document type of the CLI: any JSON object.
type body = map[string]any

func newDocumentCommand(cli *couchCLI) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "doc",
		Aliases: []string{"document"},
		Short:   "Manage documents",
		Args:    cobra.NoArgs,
	}
	cmd.AddCommand(
		newDocumentGetCommand(cli),
		newDocumentHeadCommand(cli),
		newDocumentPutCommand(cli),
		newDocumentInsertCommand(cli),
		newDocumentRemoveCommand(cli),
		newDocumentCopyCommand(cli),
	)
	return cmd
}

type getOptions struct {
	rev         string
	revs        bool
	conflicts   bool
	attachments bool
	ifNoneMatch string
}

func newDocumentGetCommand(cli *couchCLI) *cobra.Command {
	var opts getOptions
	cmd := &cobra.Command{
		Use:   "get DB ID",
		Short: "Print a document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			get := &couch.GetOptions{Rev: opts.rev, IfNoneMatch: opts.ifNoneMatch}
			if opts.revs {
				get.Revs = couch.Bool(true)
			}
			if opts.conflicts {
				get.Conflicts = couch.Bool(true)
			}
			if opts.attachments {
				get.Attachments = couch.Bool(true)
			}
			res, err := couch.Use[body](cli.client, args[0]).Get(cmd.Context(), args[1], get)
			if err != nil {
				return err
			}
			if res.IsNotModified() {
				fmt.Fprintln(cli.err, "not modified")
				return nil
			}
			return cli.printJSON(res.Value)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.rev, "rev", "", "read a specific revision")
	flags.BoolVar(&opts.revs, "revs", false, "include the revision history")
	flags.BoolVar(&opts.conflicts, "conflicts", false, "include conflicting revisions")
	flags.BoolVar(&opts.attachments, "attachments", false, "inline attachment bodies")
	flags.StringVar(&opts.ifNoneMatch, "if-none-match", "", "only print when the revision differs")
	return cmd
}

func newDocumentHeadCommand(cli *couchCLI) *cobra.Command {
	var ifNoneMatch string
	cmd := &cobra.Command{
		Use:   "head DB ID",
		Short: "Show the current revision and size of a document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := couch.Use[body](cli.client, args[0]).HeadInfo(cmd.Context(), args[1], &couch.HeadOptions{IfNoneMatch: ifNoneMatch})
			if err != nil {
				return err
			}
			switch res.Outcome {
			case couch.Absent:
				return fmt.Errorf("document %q not found", args[1])
			case couch.NotModified:
				fmt.Fprintf(cli.out, "%s\tnot modified\n", res.Value.Revision)
			default:
				fmt.Fprintf(cli.out, "%s\t%s\n", res.Value.Revision, units.HumanSize(float64(res.Value.Size)))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&ifNoneMatch, "if-none-match", "", "revision the caller already holds")
	return cmd
}

type writeOptions struct {
	file       string
	rev        string
	batch      bool
	fullCommit bool
}

func (o *writeOptions) addFlags(cmd *cobra.Command, withRev bool) {
	flags := cmd.Flags()
	flags.StringVarP(&o.file, "file", "f", "-", "read the document from a file or STDIN ('-'); comments are allowed")
	if withRev {
		flags.StringVar(&o.rev, "rev", "", "current revision of the document")
	}
	flags.BoolVar(&o.batch, "batch", false, "let the server acknowledge before committing")
	flags.BoolVar(&o.fullCommit, "full-commit", false, "ask the server to commit to disk before answering")
}

func (o *writeOptions) fullCommitFlag(cmd *cobra.Command) *bool {
	if cmd.Flags().Changed("full-commit") {
		return couch.Bool(o.fullCommit)
	}
	return nil
}

func newDocumentPutCommand(cli *couchCLI) *cobra.Command {
	var opts writeOptions
	cmd := &cobra.Command{
		Use:   "put DB [ID]",
		Short: "Create or update a document under a given id (a new UUID when omitted)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readDocument(cli, opts.file)
			if err != nil {
				return err
			}
			id := uuid.NewString()
			if len(args) == 2 {
				id = args[1]
			}
			res, err := couch.Use[body](cli.client, args[0]).Put(cmd.Context(), id, doc, &couch.PutOptions{
				Revision:   opts.rev,
				Batch:      opts.batch,
				FullCommit: opts.fullCommitFlag(cmd),
			})
			if err != nil {
				return err
			}
			return cli.printJSON(res)
		},
	}
	opts.addFlags(cmd, true)
	return cmd
}

func newDocumentInsertCommand(cli *couchCLI) *cobra.Command {
	var opts writeOptions
	cmd := &cobra.Command{
		Use:   "insert DB",
		Short: "Store a document under a server-assigned id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readDocument(cli, opts.file)
			if err != nil {
				return err
			}
			res, err := couch.Use[body](cli.client, args[0]).Insert(cmd.Context(), doc, &couch.InsertOptions{
				Batch:      opts.batch,
				FullCommit: opts.fullCommitFlag(cmd),
			})
			if err != nil {
				return err
			}
			return cli.printJSON(res)
		},
	}
	opts.addFlags(cmd, false)
	return cmd
}

func newDocumentRemoveCommand(cli *couchCLI) *cobra.Command {
	var rev string
	var batch bool
	cmd := &cobra.Command{
		Use:     "rm DB ID",
		Aliases: []string{"delete"},
		Short:   "Delete a document",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			coll := couch.Use[body](cli.client, args[0])
			if rev == "" {
				head, err := coll.HeadInfo(cmd.Context(), args[1], nil)
				if err != nil {
					return err
				}
				if head.IsAbsent() {
					return fmt.Errorf("document %q not found", args[1])
				}
				rev = head.Value.Revision
			}
			res, err := coll.Delete(cmd.Context(), args[1], rev, &couch.DeleteOptions{Batch: batch})
			if err != nil {
				return err
			}
			return cli.printJSON(res)
		},
	}
	cmd.Flags().StringVar(&rev, "rev", "", "revision to delete (default: the current one)")
	cmd.Flags().BoolVar(&batch, "batch", false, "let the server acknowledge before committing")
	return cmd
}

func newDocumentCopyCommand(cli *couchCLI) *cobra.Command {
	var opts couch.CopyOptions
	cmd := &cobra.Command{
		Use:   "cp DB ID DEST",
		Short: "Copy a document to a new id",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := couch.Use[body](cli.client, args[0]).Copy(cmd.Context(), args[1], args[2], &opts)
			if err != nil {
				return err
			}
			return cli.printJSON(res)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.Revision, "rev", "", "revision of the source to copy")
	flags.StringVar(&opts.DestinationRevision, "dest-rev", "", "current revision of the destination, to overwrite it")
	return cmd
}

// readDocument reads one JSON object, allowing comments and trailing commas.
func readDocument(cli *couchCLI, file string) (body, error) {
	data, err := readInput(cli, file)
	if err != nil {
		return nil, err
	}
	var doc body
	if err := json.Unmarshal(jsonc.ToJSON(data), &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", file, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("%s: document must be a JSON object", file)
	}
	return doc, nil
}

func readInput(cli *couchCLI, file string) ([]byte, error) {
	if file == "" || file == "-" {
		return io.ReadAll(cli.in)
	}
	return os.ReadFile(file)
}
