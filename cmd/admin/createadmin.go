package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/dmitrijs2005/authkeeper/internal/server/services"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

type createAdminOptions struct {
	email         string
	passwordStdin bool
}

// NewCreateAdminCmd creates the create-admin subcommand.
func NewCreateAdminCmd(root *rootOptions) *cobra.Command {
	opts := &createAdminOptions{}

	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create a verified admin account",
		Long: `Creates an admin account that can sign in immediately.
The password is read from the terminal without echo, or from the first line
of stdin with --password-stdin.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCreateAdmin(cmd, root, opts)
		},
	}

	cmd.Flags().StringVar(&opts.email, "email", "", "admin e-mail address")
	cmd.Flags().BoolVar(&opts.passwordStdin, "password-stdin", false, "read the password from stdin")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

func runCreateAdmin(cmd *cobra.Command, root *rootOptions, opts *createAdminOptions) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}

	secret, err := promptPassword(cmd, opts.passwordStdin)
	if err != nil {
		return oops.Code("PASSWORD_READ_FAILED").Wrap(err)
	}
	defer common.WipeByteArray(secret)

	ctx, cancel := context.WithTimeout(cmd.Context(), root.timeout)
	defer cancel()

	rm, err := root.open(ctx, cfg)
	if err != nil {
		return err
	}
	defer rm.Close(context.Background())

	svc := services.NewSessionService(rm.Accounts(), cfg, logging.Nop())
	a, err := svc.CreateAdmin(ctx, opts.email, string(secret))
	if err != nil {
		return err
	}

	cmd.Printf("Created admin %s (id %s)\n", a.Email, a.ID)
	return nil
}

// promptPassword reads the password from the terminal, or from stdin when
// fromStdin is set.
func promptPassword(cmd *cobra.Command, fromStdin bool) ([]byte, error) {
	if fromStdin {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return nil, err
		}
		return []byte(strings.TrimRight(line, "\r\n")), nil
	}

	w := cmd.ErrOrStderr()
	if _, err := fmt.Fprint(w, "Enter password: "); err != nil {
		return nil, err
	}
	pw, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(w)
	if err != nil {
		return nil, err
	}
	return pw, nil
}
