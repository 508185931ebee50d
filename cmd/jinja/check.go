package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/neurodesk/jinja/pkg/jinja2"
	"github.com/spf13/cobra"
)

var checkCmd = cobra.Command{
	Use:   "check",
	Short: "Check every template in the workspace without rendering",
	Long: `Compile every template from --bundle and --dir, then resolve their imports,
includes, parents, macro calls, filters and tests against each other.
Every problem is printed; the command fails when there is at least one.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := loadWorkspace(nil)
		if err != nil {
			return err
		}
		names := ws.engine.Names()
		err = ws.engine.Check()
		if err == nil {
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d templates\n", len(names))
			return nil
		}
		problems := strings.Split(err.Error(), "\n")
		for _, p := range problems {
			fmt.Fprintln(cmd.OutOrStdout(), p)
		}
		return fmt.Errorf("%d problems in %d templates", len(problems), len(names))
	},
}

var astCmd = cobra.Command{
	Use:   "ast <template>",
	Short: "Print the syntax tree of a template",
	Long: `Print the parsed syntax tree of a registered template, or with --file of a
template file that does not need to be part of the workspace.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetBool("file")
		doc, err := loadDocument(args[0], file)
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(cmd.OutOrStdout(), jinja2.Pretty(doc))
		return err
	},
}

func loadDocument(name string, file bool) (*jinja2.Document, error) {
	if file {
		src, err := os.ReadFile(name)
		if err != nil {
			return nil, err
		}
		doc, err := jinja2.Parse(string(src))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		return doc, nil
	}
	ws, err := loadWorkspace(nil)
	if err != nil {
		return nil, err
	}
	t, ok := ws.engine.Template(name)
	if !ok {
		return nil, fmt.Errorf("no template named %q, use --file for paths", name)
	}
	return t.Doc, nil
}

func init() {
	astCmd.Flags().BoolP("file", "f", false, "Treat the argument as a file path instead of a template name")
}
