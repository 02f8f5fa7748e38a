package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/containerd/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Ratio1/couch_sdk_go/internal/config"
	"github.com/Ratio1/couch_sdk_go/pkg/couch"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

// couchCLI carries the streams and the lazily created client shared by all
// commands.
type couchCLI struct {
	in  io.Reader
	out io.Writer
	err io.Writer

	flags  *config.Flags
	getenv func(string) string
	prompt bool

	client *couch.Client
	mode   string
}

func newCLI(in io.Reader, out, errOut io.Writer) *couchCLI {
	return &couchCLI{in: in, out: out, err: errOut, getenv: os.Getenv}
}

func newRootCommand(cli *couchCLI) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "couchctl",
		Short:         "Inspect and edit documents of a CouchDB-compatible server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return cli.initialize()
		},
	}
	cmd.SetIn(cli.in)
	cmd.SetOut(cli.out)
	cmd.SetErr(cli.err)

	flags := cmd.PersistentFlags()
	cli.flags = config.AddFlags(flags)
	flags.BoolVarP(&cli.prompt, "ask-password", "W", false, "prompt for the basic auth password")

	cmd.AddCommand(
		newInfoCommand(cli),
		newDatabaseCommand(cli),
		newDocumentCommand(cli),
		newAttachmentCommand(cli),
		newFindCommand(cli),
		newLoadCommand(cli),
	)
	return cmd
}

func (cli *couchCLI) initialize() error {
	if cli.client != nil {
		return nil
	}
	cfg, err := cli.flags.Load(cli.getenv)
	if err != nil {
		return err
	}
	if err := log.SetLevel(cfg.LogLevel); err != nil {
		return err
	}
	if cli.prompt {
		password, err := cli.askPassword(cfg.Username)
		if err != nil {
			return err
		}
		cfg.Password = password
	}
	client, mode, err := couch.NewFromConfig(cfg)
	if err != nil {
		return err
	}
	log.L.WithField("mode", mode).WithField("endpoint", client.Endpoint()).Debug("client ready")
	cli.client, cli.mode = client, mode
	return nil
}

func (cli *couchCLI) askPassword(user string) (string, error) {
	f, ok := cli.in.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return "", fmt.Errorf("--ask-password needs an interactive terminal")
	}
	fmt.Fprintf(cli.err, "Password for %s: ", user)
	raw, err := readPassword(int(f.Fd()))
	fmt.Fprintln(cli.err)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(string(raw), "\r\n"), nil
}

func (cli *couchCLI) printJSON(v any) error {
	enc := json.NewEncoder(cli.out)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
