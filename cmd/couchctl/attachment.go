package main

import (
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/Ratio1/couch_sdk_go/pkg/couch"
)

func newAttachmentCommand(cli *couchCLI) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "att",
		Aliases: []string{"attachment"},
		Short:   "Manage document attachments",
		Args:    cobra.NoArgs,
	}
	cmd.AddCommand(
		newAttachmentPutCommand(cli),
		newAttachmentGetCommand(cli),
		newAttachmentHeadCommand(cli),
		newAttachmentRemoveCommand(cli),
	)
	return cmd
}

func newAttachmentPutCommand(cli *couchCLI) *cobra.Command {
	var file, contentType, rev string
	cmd := &cobra.Command{
		Use:   "put DB ID NAME",
		Short: "Upload an attachment from a file or STDIN",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := &couch.PutAttachmentOptions{ContentType: contentType, Revision: rev}
			if file == "-" {
				opts.Data = cli.in
			} else {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer f.Close()
				if st, err := f.Stat(); err == nil {
					opts.Length = st.Size()
				}
				if opts.ContentType == "" {
					opts.ContentType = mime.TypeByExtension(filepath.Ext(file))
				}
				opts.Data = f
			}
			res, err := couch.Use[body](cli.client, args[0]).PutAttachment(cmd.Context(), args[1], args[2], opts)
			if err != nil {
				return err
			}
			return cli.printJSON(res)
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&file, "file", "f", "-", "file to upload, or STDIN ('-')")
	flags.StringVarP(&contentType, "type", "t", "", "content type (guessed from the file name when omitted)")
	flags.StringVar(&rev, "rev", "", "current revision of the document")
	return cmd
}

func newAttachmentGetCommand(cli *couchCLI) *cobra.Command {
	var output, rev string
	cmd := &cobra.Command{
		Use:   "get DB ID NAME",
		Short: "Download an attachment to a file or STDOUT",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			att, err := couch.Use[body](cli.client, args[0]).GetAttachment(cmd.Context(), args[1], args[2], &couch.AttachmentOptions{Revision: rev})
			if err != nil {
				return err
			}
			defer att.Close()

			var dst io.Writer = cli.out
			if output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				dst = f
			}
			n, err := io.Copy(dst, att.Body)
			if err != nil {
				return err
			}
			if output != "-" {
				fmt.Fprintf(cli.err, "%s written to %s (%s)\n", units.HumanSize(float64(n)), output, att.ContentType)
			}
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&output, "output", "o", "-", "destination file, or STDOUT ('-')")
	flags.StringVar(&rev, "rev", "", "document revision to read from")
	return cmd
}

func newAttachmentHeadCommand(cli *couchCLI) *cobra.Command {
	return &cobra.Command{
		Use:   "head DB ID NAME",
		Short: "Show attachment metadata",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := couch.Use[body](cli.client, args[0]).AttachmentInfo(cmd.Context(), args[1], args[2], nil)
			if err != nil {
				return err
			}
			if res.IsAbsent() {
				return fmt.Errorf("attachment %q of %q not found", args[2], args[1])
			}
			info := res.Value
			fmt.Fprintf(cli.out, "%s\t%s\t%s\n", info.ContentType, units.HumanSize(float64(info.Length)), info.Digest)
			return nil
		},
	}
}

func newAttachmentRemoveCommand(cli *couchCLI) *cobra.Command {
	var rev string
	cmd := &cobra.Command{
		Use:     "rm DB ID NAME",
		Aliases: []string{"delete"},
		Short:   "Delete an attachment",
		Args:    cobra.ExactArgs(3),
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
			res, err := coll.DeleteAttachment(cmd.Context(), args[1], args[2], rev, nil)
			if err != nil {
				return err
			}
			return cli.printJSON(res)
		},
	}
	cmd.Flags().StringVar(&rev, "rev", "", "current revision of the document (default: looked up)")
	return cmd
}
