// Package admin implements gatekeeper-admin, the command used to provision
// and remove identities without going through the HTTP API (for example to
// create the first administrator).
package admin

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/dmitrijs2005/gatekeeper/internal/common"
	"github.com/dmitrijs2005/gatekeeper/internal/server/services"
)

// ErrUsage is returned for an unknown or missing command.
var ErrUsage = errors.New("usage: gatekeeper-admin [config flags] add|delete [args]")

const usage = `Commands:
  add    -email <email> [-username <name>] [-role admin|editor|viewer] [-password-stdin]
  delete <email or username>
`

// Provisioner creates and deletes identities across all stores.
type Provisioner interface {
	Create(ctx context.Context, req services.CreateRequest) (*services.CreateResult, error)
	Delete(ctx context.Context, identifier string) (*services.DeleteResult, error)
}

type App struct {
	prov Provisioner
	in   *bufio.Reader
	out  io.Writer
}

func NewApp(prov Provisioner, in io.Reader, out io.Writer) *App {
	return &App{prov: prov, in: bufio.NewReader(in), out: out}
}

// Run executes the command found in args. Flags before the command belong
// to the configuration layer and are skipped.
func (a *App) Run(ctx context.Context, args []string) error {
	cmd, rest := SplitCommand(args)

	switch cmd {
	case "add":
		return a.add(ctx, rest)
	case "delete":
		return a.delete(ctx, rest)
	case "help":
		fmt.Fprint(a.out, usage)
		return nil
	default:
		fmt.Fprint(a.out, usage)
		return ErrUsage
	}
}

// SplitCommand returns the first positional argument and everything after
// it. Every flag before it is assumed to take a value unless written as
// -flag=value.
func SplitCommand(args []string) (string, []string) {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if strings.HasPrefix(arg, "-") {
			if !strings.Contains(arg, "=") {
				i++
			}
			continue
		}
		return arg, args[i+1:]
	}
	return "", nil
}

func (a *App) add(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("add", flag.ContinueOnError)
	fs.SetOutput(a.out)
	email := fs.String("email", "", "email address")
	username := fs.String("username", "", "optional login alias")
	role := fs.String("role", common.RoleViewer, "role: admin, editor or viewer")
	fromStdin := fs.Bool("password-stdin", false, "read the password from standard input")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var err error
	if *email == "" {
		if *email, err = ReadLine(a.in, "Email", a.out); err != nil {
			return err
		}
	}

	var password string
	if *fromStdin {
		password, err = a.in.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		password = strings.TrimRight(password, "\r\n")
	} else if password, err = readNewPassword(a.out); err != nil {
		return err
	}

	res, err := a.prov.Create(ctx, services.CreateRequest{
		Email:    *email,
		Username: *username,
		Password: password,
		Role:     *role,
	})
	if err != nil {
		return fmt.Errorf("create %s: %w", *email, err)
	}

	fmt.Fprintf(a.out, "created %s (%s, role %s)\n", res.Identity.Email, res.Identity.ID, res.Identity.Role)
	fmt.Fprintf(a.out, "dn: %s\n", res.DN)
	a.printWarnings(res.Warnings)
	return nil
}

func (a *App) delete(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ContinueOnError)
	fs.SetOutput(a.out)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fmt.Fprint(a.out, usage)
		return ErrUsage
	}
	identifier := fs.Arg(0)

	res, err := a.prov.Delete(ctx, identifier)
	if err != nil {
		return fmt.Errorf("delete %s: %w", identifier, err)
	}

	fmt.Fprintf(a.out, "deleted %s (%s)\n", res.Identity.Email, res.Identity.ID)
	a.printWarnings(res.Warnings)
	return nil
}

func (a *App) printWarnings(warnings []error) {
	for _, w := range warnings {
		fmt.Fprintf(a.out, "warning: %v\n", w)
	}
}
