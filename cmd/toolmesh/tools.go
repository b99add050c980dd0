package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolmesh/registry"
	"github.com/effective-security/x/slices"
	"github.com/effective-security/xlog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type toolView struct {
	Provider    string         `yaml:"provider"`
	Name        string         `yaml:"name"`
	Description string         `yaml:"description,omitempty"`
	InputSchema map[string]any `yaml:"input_schema,omitempty"`
}

func newToolsCmd(a *app) *cobra.Command {
	var asYAML bool
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tools of the configured providers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg := startProviders(cmd.Context(), a.cfg, registryOptions...)
			defer func() {
				if err := reg.Close(); err != nil {
					logger.KV(xlog.ERROR, "reason", "close", "err", err.Error())
				}
			}()
			if asYAML {
				return printToolsYAML(cmd, reg)
			}
			return printTools(cmd, reg)
		},
	}
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "print the tools with their input schema as YAML")
	return cmd
}

func printTools(cmd *cobra.Command, reg *registry.Registry) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PROVIDER\tTOOL\tDESCRIPTION")
	for _, t := range reg.Tools() {
		fmt.Fprintf(w, "%s\t%s\t%s\n", t.ProviderID, t.Name, slices.StringUpto(t.Description, 80))
	}
	for _, c := range reg.Collisions() {
		fmt.Fprintf(w, "%s\t%s\t(dropped, served by %s)\n", c.Dropped, c.Name, c.Winner)
	}
	return errors.WithStack(w.Flush())
}

func printToolsYAML(cmd *cobra.Command, reg *registry.Registry) error {
	list := []toolView{}
	for _, t := range reg.Tools() {
		v := toolView{
			Provider:    t.ProviderID,
			Name:        t.Name,
			Description: t.Description,
		}
		if len(t.InputSchema) > 0 {
			if err := json.Unmarshal(t.InputSchema, &v.InputSchema); err != nil {
				return errors.Wrapf(err, "invalid input schema of %s", t.Name)
			}
		}
		list = append(list, v)
	}
	b, err := yaml.Marshal(list)
	if err != nil {
		return errors.WithStack(err)
	}
	_, err = cmd.OutOrStdout().Write(b)
	return errors.WithStack(err)
}
