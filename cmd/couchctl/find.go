package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tidwall/jsonc"

	"github.com/Ratio1/couch_sdk_go/pkg/couch"
)

type findOptions struct {
	file     string
	limit    int
	skip     int
	sort     []string
	fields   []string
	bookmark string
	stats    bool
}

func newFindCommand(cli *couchCLI) *cobra.Command {
	var opts findOptions
	cmd := &cobra.Command{
		Use:   "find DB [SELECTOR]",
		Short: "Query documents with a selector, given inline or with --file",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var raw []byte
			if len(args) == 2 {
				raw = []byte(args[1])
			} else {
				data, err := readInput(cli, opts.file)
				if err != nil {
					return err
				}
				raw = data
			}
			var selector map[string]any
			if err := json.Unmarshal(jsonc.ToJSON(raw), &selector); err != nil {
				return fmt.Errorf("decode selector: %w", err)
			}
			if selector == nil {
				return fmt.Errorf("selector must be a JSON object")
			}

			find := &couch.FindOptions{
				Limit:          opts.limit,
				Skip:           opts.skip,
				Fields:         opts.fields,
				Bookmark:       opts.bookmark,
				ExecutionStats: opts.stats,
			}
			for _, s := range opts.sort {
				find.Sort = append(find.Sort, parseSortFlag(s))
			}
			res, err := couch.Use[body](cli.client, args[0]).Find(cmd.Context(), selector, find)
			if err != nil {
				return err
			}
			if res.Warning != "" {
				fmt.Fprintln(cli.err, "warning:", res.Warning)
			}
			return cli.printJSON(res)
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&opts.file, "file", "f", "-", "read the selector from a file or STDIN ('-')")
	flags.IntVar(&opts.limit, "limit", 0, "maximum number of documents")
	flags.IntVar(&opts.skip, "skip", 0, "number of documents to skip")
	flags.StringSliceVar(&opts.sort, "sort", nil, "sort fields, as field or field:desc")
	flags.StringSliceVar(&opts.fields, "fields", nil, "fields to return")
	flags.StringVar(&opts.bookmark, "bookmark", "", "bookmark of the previous page")
	flags.BoolVar(&opts.stats, "stats", false, "include execution statistics")
	return cmd
}

func parseSortFlag(raw string) couch.SortField {
	field, dir, ok := strings.Cut(raw, ":")
	if !ok {
		return couch.SortField{Field: field}
	}
	return couch.SortField{Field: field, Direction: strings.ToLower(dir)}
}
