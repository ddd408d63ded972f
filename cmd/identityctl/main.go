// Command identityctl is the operator CLI for the contact identity store.
//
//	identityctl resolve --email doc@hillvalley.edu --phone 88
//	identityctl import contacts.yaml
//	identityctl lookup 42
//	identityctl token --subject alice --ttl 2h
//	identityctl migrate
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sakif/contact-identity/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCommand(cli.Options{}).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "identityctl:", err)
		stop()
		os.Exit(1)
	}
}
