package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var rolesYAML bool

var rolesCmd = &cobra.Command{
	Use:   "roles",
	Short: "List the registered worker roles",
	Long: `List the roles in the registry, from roles.file when configured or the
built-in set otherwise. --yaml prints them in the roles file format.`,
	RunE: runRoles,
}

func init() {
	rolesCmd.Flags().BoolVar(&rolesYAML, "yaml", false, "Print as a roles file")
}

func runRoles(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	descs := a.registry.ListAll()
	if rolesYAML {
		data, err := scaffoldRoles(descs)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	}
	listRoles(os.Stdout, a)
	return nil
}

func listRoles(w io.Writer, a *app) {
	source := "built-in"
	if a.cfg.Roles.File != "" {
		source = inRepo(a.repo, a.cfg.Roles.File)
	}
	fmt.Fprintf(w, "%d roles (%s):\n", a.registry.Len(), source)
	for _, d := range a.registry.ListAll() {
		fmt.Fprintf(w, "  %-10s %s\n", d.Name, d.Description)
		if len(d.Capabilities) > 0 {
			fmt.Fprintf(w, "  %-10s capabilities: %s\n", "", strings.Join(d.Capabilities, ", "))
		}
		if d.Model != "" {
			fmt.Fprintf(w, "  %-10s model: %s\n", "", d.Model)
		}
	}
}
