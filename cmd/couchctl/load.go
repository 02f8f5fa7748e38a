package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/containerd/log"
	"github.com/docker/go-units"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Ratio1/couch_sdk_go/pkg/couch"
)

type loadOptions struct {
	file        string
	concurrency int
	create      bool
	batch       bool
}

func newLoadCommand(cli *couchCLI) *cobra.Command {
	var opts loadOptions
	cmd := &cobra.Command{
		Use:   "load DB",
		Short: "Insert newline-delimited JSON documents",
		Long: "Insert one document per input line. Lines carrying an _id are stored\n" +
			"under that id, the others get a server-assigned one.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(cmd, cli, args[0], opts)
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&opts.file, "file", "f", "-", "NDJSON input file, or STDIN ('-')")
	flags.IntVarP(&opts.concurrency, "concurrency", "c", 8, "maximum number of requests in flight")
	flags.BoolVar(&opts.create, "create", false, "create the database when missing")
	flags.BoolVar(&opts.batch, "batch", false, "let the server acknowledge before committing")
	return cmd
}

func runLoad(cmd *cobra.Command, cli *couchCLI, db string, opts loadOptions) error {
	ctx := cmd.Context()
	if opts.concurrency <= 0 {
		return fmt.Errorf("--concurrency must be positive")
	}
	if opts.create {
		exists, err := cli.client.DatabaseExists(ctx, db)
		if err != nil {
			return err
		}
		if !exists {
			if err := cli.client.CreateDatabase(ctx, db, nil); err != nil {
				return err
			}
		}
	}

	data, err := readInput(cli, opts.file)
	if err != nil {
		return err
	}

	coll := couch.Use[body](cli.client, db)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.concurrency)

	var stored atomic.Int64
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var doc body
		if err := json.Unmarshal(raw, &doc); err != nil || doc == nil {
			_ = g.Wait()
			return fmt.Errorf("line %d: not a JSON object", line)
		}
		lineNo := line
		g.Go(func() error {
			var err error
			if id, ok := doc["_id"].(string); ok && id != "" {
				delete(doc, "_id")
				_, err = coll.Put(gctx, id, doc, &couch.PutOptions{Batch: opts.batch})
			} else {
				_, err = coll.Insert(gctx, doc, &couch.InsertOptions{Batch: opts.batch})
			}
			if err != nil {
				return fmt.Errorf("line %d: %w", lineNo, err)
			}
			stored.Add(1)
			return nil
		})
	}
	if err := scanner.Err(); err != nil {
		_ = g.Wait()
		return err
	}
	if err := g.Wait(); err != nil {
		return err
	}

	log.G(ctx).WithField("db", db).WithField("documents", stored.Load()).Debug("load finished")
	fmt.Fprintf(cli.out, "%d documents (%s) loaded into %s\n", stored.Load(), units.HumanSize(float64(len(data))), db)
	return nil
}
