package promptscmder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/papercomputeco/quill/cmd/quill/cfgpath"
	"github.com/papercomputeco/quill/pkg/store"
)

const promptsLongDesc string = `Manage the prompt library kept in the local store.

The library is shared with the server's /api/store/prompts endpoint
when both use the same database.`

const promptsShortDesc string = "Manage saved prompts"

const importLongDesc string = `Import prompts from a YAML file.

The file is either a list of prompts or a mapping with a "prompts" key.
Each prompt has a content and an optional title and tags. Prompts that
are already in the library are skipped.

Example file:
  prompts:
    - title: Summarize
      content: Summarize the following text in three sentences.
      tags: [writing]
    - content: Translate to French.

Examples:
  quill prompts import library.yaml
  quill prompts import --db ~/.quill/quill.db library.yaml`

type promptsCommander struct {
	configPath string
	dbPath     string
}

type promptFile struct {
	Prompts []store.Prompt `yaml:"prompts"`
}

func NewPromptsCmd() *cobra.Command {
	cmder := &promptsCommander{}

	cmd := &cobra.Command{
		Use:          "prompts",
		Short:        promptsShortDesc,
		Long:         promptsLongDesc,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&cmder.configPath, "config", "c", "", "Path to quill.toml")
	cmd.PersistentFlags().StringVar(&cmder.dbPath, "db", "", "Path to the SQLite database")

	cmd.AddCommand(&cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Import prompts from a YAML file",
		Long:  importLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.runImport(cmd.Context(), cmd, args[0])
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List saved prompts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.runList(cmd.Context(), cmd)
		},
	})

	return cmd
}

func (c *promptsCommander) openStore() (*store.SQLiteStore, error) {
	cfg, _, err := cfgpath.Load(c.configPath)
	if err != nil {
		return nil, err
	}
	dbPath, err := cfgpath.ResolveDBPath(c.dbPath, cfg)
	if err != nil {
		return nil, err
	}
	return store.NewSQLiteStore(dbPath)
}

func (c *promptsCommander) runImport(ctx context.Context, cmd *cobra.Command, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read prompt file: %w", err)
	}
	prompts, err := parsePrompts(data)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	s, err := c.openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	added, err := store.AppendEntries(ctx, s, store.KeyPrompts, prompts...)
	if err != nil {
		return fmt.Errorf("save prompts: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d prompts (%d already present)\n", added, len(prompts)-added)
	return nil
}

func (c *promptsCommander) runList(ctx context.Context, cmd *cobra.Command) error {
	s, err := c.openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	prompts, err := store.LoadList[store.Prompt](ctx, s, store.KeyPrompts)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(prompts) == 0 {
		fmt.Fprintln(out, "No prompts saved")
		return nil
	}
	for _, p := range prompts {
		id := p.ID
		if len(id) > 8 {
			id = id[:8]
		}
		line := fmt.Sprintf("%s  %s", id, p.Title)
		if len(p.Tags) > 0 {
			line += "  [" + strings.Join(p.Tags, ", ") + "]"
		}
		fmt.Fprintln(out, line)
	}
	return nil
}

// parsePrompts accepts a YAML list of prompts or a mapping with a
// "prompts" key.
func parsePrompts(data []byte) ([]store.Prompt, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if len(doc.Content) == 0 {
		return nil, errors.New("no prompts found")
	}

	var raw []store.Prompt
	switch root := doc.Content[0]; root.Kind {
	case yaml.SequenceNode:
		if err := root.Decode(&raw); err != nil {
			return nil, fmt.Errorf("decode prompts: %w", err)
		}
	case yaml.MappingNode:
		var f promptFile
		if err := root.Decode(&f); err != nil {
			return nil, fmt.Errorf("decode prompts: %w", err)
		}
		raw = f.Prompts
	default:
		return nil, errors.New("expected a list of prompts or a prompts: key")
	}
	if len(raw) == 0 {
		return nil, errors.New("no prompts found")
	}

	prompts := make([]store.Prompt, 0, len(raw))
	for i, r := range raw {
		content := strings.TrimSpace(r.Content)
		if content == "" {
			return nil, fmt.Errorf("prompt %d: content is required", i+1)
		}
		p := store.NewPrompt(strings.TrimSpace(r.Title), content)
		if r.ID != "" {
			p.ID = r.ID
		}
		p.Tags = r.Tags
		prompts = append(prompts, p)
	}
	return prompts, nil
}
