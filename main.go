package main

import (
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/phillip-england/projectdesk/internal/deskcli"
)

func main() {
	if err := deskcli.Execute(os.Args[1:]); err != nil {
		if errors.Is(err, deskcli.ErrUsage) {
			fmt.Fprintln(os.Stderr, err)
			fmt.Fprintln(os.Stderr, "usage: projectdesk setup --admin-password <password> [--admin-email admin@example.com] [--force]")
			fmt.Fprintln(os.Stderr, "       projectdesk assets build")
			fmt.Fprintln(os.Stderr, "       projectdesk run api|console|all")
			fmt.Fprintln(os.Stderr, "       projectdesk render --entity <name> --in record.json --out file.pdf")
			fmt.Fprintln(os.Stderr, "       projectdesk audit export --email <email> --password <password> [--entity name] --out file.jsonl.xz")
			os.Exit(2)
		}
		log.Fatal(err)
	}
}
