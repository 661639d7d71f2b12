package cmd

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/urfave/cli"

	"github.com/gepd/gepd/cmd/common"
	"github.com/gepd/gepd/pkg/ndn"
)

// ErrNoReply is returned when an interest sent from the command line times
// out.
var ErrNoReply = errors.New("no reply")

func request(ctx *cli.Context) error {
	certName, err := nameArg(ctx, "certificate name")
	if err != nil {
		return nil
	}
	e, err := loadEnv(ctx, "request")
	if err != nil {
		return err
	}
	defer e.log.Close()
	access, _ := e.cfg.ManagerRuntime()
	i := ndn.NewInterest(access.AccessPrefix.Append(certName))
	i.Lifetime = ctx.Duration("lifetime")
	return e.expressAndPrint(i)
}

func fetch(ctx *cli.Context) error {
	name, err := nameArg(ctx, "name")
	if err != nil {
		return nil
	}
	e, err := loadEnv(ctx, "fetch")
	if err != nil {
		return err
	}
	defer e.log.Close()
	i := ndn.NewInterest(name)
	i.Lifetime = ctx.Duration("lifetime")
	i.CanBePrefix = ctx.Bool("prefix")
	i.MustBeFresh = ctx.Bool("fresh")
	return e.expressAndPrint(i)
}

// nameArg parses the first argument, printing usage when it is missing or
// malformed.
func nameArg(ctx *cli.Context, what string) (ndn.Name, error) {
	arg := ctx.Args().First()
	if arg == "" {
		err := fmt.Errorf("%s is required", what)
		_ = common.PrintErrWithCmdHelp(ctx, err)
		return nil, err
	}
	name, err := ndn.ParseName(arg)
	if err != nil {
		_ = common.PrintErrWithCmdHelp(ctx, err)
		return nil, err
	}
	return name, nil
}

func (e *env) expressAndPrint(i *ndn.Interest) error {
	fmt.Fprintf(common.Out, ">> I: %s\n", i.Name)
	d, err := e.express(context.Background(), i)
	if err != nil {
		return err
	}
	if d == nil {
		fmt.Fprintf(common.Out, "Time out I: %s\n", i.Name)
		return ErrNoReply
	}
	printData(common.Out, d)
	return nil
}

func printData(w io.Writer, d *ndn.Data) {
	fmt.Fprintf(w, "<< D: %s\n", d.Name)
	fmt.Fprintf(w, "Content type: %s\n", contentType(d.MetaInfo.ContentType))
	if d.MetaInfo.FreshnessPeriod > 0 {
		fmt.Fprintf(w, "Freshness: %s\n", d.MetaInfo.FreshnessPeriod)
	}
	if len(d.SignatureInfo.KeyLocator) > 0 {
		fmt.Fprintf(w, "Signed by: %s\n", d.SignatureInfo.KeyLocator)
	}
	fmt.Fprintf(w, "Content (%d bytes):\n", len(d.Content))
	if len(d.Content) > 0 {
		fmt.Fprint(w, hex.Dump(d.Content))
	}
}

func contentType(t uint64) string {
	switch t {
	case ndn.ContentTypeBlob:
		return "blob"
	case ndn.ContentTypeLink:
		return "link"
	case ndn.ContentTypeKey:
		return "key"
	case ndn.ContentTypeNack:
		return "nack"
	}
	return fmt.Sprintf("%d", t)
}
