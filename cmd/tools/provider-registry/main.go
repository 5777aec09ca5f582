// cmd/tools/provider-registry/main.go
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"captcha-relay/pkg/registry"
)

func main() {
	if len(os.Args) < 2 {
		help(os.Stdout)
		os.Exit(1)
	}
	if err := run(os.Args[1], os.Args[2:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(command string, args []string, out io.Writer) error {
	switch command {
	case "list":
		fs := flag.NewFlagSet("list", flag.ContinueOnError)
		path := fs.String("path", "", "Path to registry file (empty lists built-in providers)")
		if err := fs.Parse(args); err != nil {
			return err
		}
		return listProviders(*path, out)

	case "add":
		fs := flag.NewFlagSet("add", flag.ContinueOnError)
		path := fs.String("path", "configs/providers.json", "Path to registry file")
		id := fs.String("id", "", "Provider ID (e.g., friendly-captcha)")
		displayName := fs.String("displayName", "", "Display Name")
		description := fs.String("description", "", "Description")
		verifyURL := fs.String("verifyUrl", "", "Siteverify endpoint URL")
		placement := fs.String("placement", string(registry.PlacementForm), "Parameter placement (query or form)")
		remoteIP := fs.Bool("remoteIp", true, "Provider accepts the remoteip parameter")
		tags := fs.String("tags", "", "Comma-separated tags")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if *id == "" || *verifyURL == "" {
			fs.Usage()
			return fmt.Errorf("id and verifyUrl are required for add")
		}
		p := registry.Provider{
			ID:               *id,
			DisplayName:      *displayName,
			Description:      *description,
			VerifyURL:        *verifyURL,
			Placement:        registry.Placement(*placement),
			SupportsRemoteIP: *remoteIP,
			Tags:             splitTags(*tags),
		}
		if err := addProvider(*path, p); err != nil {
			return err
		}
		fmt.Fprintf(out, "Added provider: %s\n", p.ID)
		return nil

	case "validate":
		fs := flag.NewFlagSet("validate", flag.ContinueOnError)
		path := fs.String("path", "configs/providers.json", "Path to registry file")
		if err := fs.Parse(args); err != nil {
			return err
		}
		reg, err := registry.LoadRegistry(*path)
		if err != nil {
			return fmt.Errorf("registry validation failed: %w", err)
		}
		fmt.Fprintf(out, "Registry validation passed. Found %d providers.\n", len(reg.Providers))
		return nil

	case "help":
		help(out)
		return nil

	default:
		help(out)
		return fmt.Errorf("unknown command %q", command)
	}
}

func listProviders(path string, out io.Writer) error {
	reg := registry.Builtin()
	if path != "" {
		loaded, err := registry.LoadRegistry(path)
		if err != nil {
			return fmt.Errorf("failed to load registry: %w", err)
		}
		reg = loaded
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPLACEMENT\tREMOTEIP\tVERIFY URL")
	for _, p := range reg.Providers {
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", p.ID, p.Placement, p.SupportsRemoteIP, p.VerifyURL)
	}
	return tw.Flush()
}

// addProvider appends to the registry at path, seeding a missing file with
// the built-in providers.
func addProvider(path string, p registry.Provider) error {
	reg, err := registry.LoadRegistry(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to load registry: %w", err)
		}
		reg = registry.Builtin()
		reg.LastUpdated = time.Now().UTC().Format(time.RFC3339)
	}

	if err := reg.Add(p); err != nil {
		return err
	}
	return reg.Save(path)
}

func splitTags(raw string) []string {
	var tags []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func help(out io.Writer) {
	fmt.Fprintln(out, `
Usage: provider-registry <command> [flags]

Commands:
  list      List providers (built-in, or from -path)
  add       Add a provider to a registry file
  validate  Validate a registry file
  help      Show this help message

Examples:
  provider-registry list
  provider-registry add -path configs/providers.json -id local-stub -verifyUrl http://127.0.0.1:9000/siteverify -placement form
  provider-registry validate -path configs/providers.json

Use 'provider-registry <command> -h' for more information about a command.`)
}
