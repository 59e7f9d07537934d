package ocrcmder

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/quill/cmd/quill/cfgpath"
	"github.com/papercomputeco/quill/cmd/quill/cliui"
	"github.com/papercomputeco/quill/pkg/generate"
	"github.com/papercomputeco/quill/pkg/llm"
	"github.com/papercomputeco/quill/pkg/logger"
	"github.com/papercomputeco/quill/pkg/ocr"
)

const ocrLongDesc string = `Extract the text from an image using a vision model.

The image is downscaled to the configured maximum width, sent to the
provider at temperature 0 and the recognized text is printed.

Examples:
  quill ocr receipt.jpg
  quill ocr --provider gemini --model gemini-2.0-flash scan.png`

const ocrShortDesc string = "Extract text from an image"

type ocrCommander struct {
	configPath  string
	provider    string
	model       string
	apiURL      string
	apiKey      string
	instruction string
	maxWidth    int
	debug       bool
}

func NewOCRCmd() *cobra.Command {
	cmder := &ocrCommander{}

	cmd := &cobra.Command{
		Use:          "ocr <file>",
		Short:        ocrShortDesc,
		Long:         ocrLongDesc,
		SilenceUsage: true,
		Args:         cobra.ExactArgs(1),
		RunE:         func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd, args[0])
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&cmder.configPath, "config", "c", "", "Path to quill.toml")
	flags.StringVarP(&cmder.provider, "provider", "p", "", "Provider name")
	flags.StringVarP(&cmder.model, "model", "m", "", "Vision model name")
	flags.StringVar(&cmder.apiURL, "api-url", "", "Provider base URL")
	flags.StringVar(&cmder.apiKey, "api-key", "", "Provider API key")
	flags.StringVar(&cmder.instruction, "instruction", "", "Override the extraction instruction")
	flags.IntVar(&cmder.maxWidth, "max-width", 0, "Downscale images wider than this (0 uses the config)")
	flags.BoolVar(&cmder.debug, "debug", false, "Log requests to stderr")

	return cmd
}

func (c *ocrCommander) run(ctx context.Context, cmd *cobra.Command, path string) error {
	cfg, _, err := cfgpath.Load(c.configPath)
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	gc := cfg.Generation.Defaults()
	if c.provider != "" {
		gc.Provider = llm.Provider(c.provider)
	}
	if c.apiURL != "" {
		gc.APIURL = c.apiURL
	}
	if c.apiKey != "" {
		gc.APIKey = c.apiKey
	}
	if c.model != "" {
		gc.Model = c.model
	}

	opts := []ocr.Option{
		ocr.WithMaxWidth(cfg.OCR.MaxWidth),
		ocr.WithQuality(cfg.OCR.Quality),
		ocr.WithInstruction(cfg.OCR.Instruction),
	}
	if c.maxWidth > 0 {
		opts = append(opts, ocr.WithMaxWidth(c.maxWidth))
	}
	if c.instruction != "" {
		opts = append(opts, ocr.WithInstruction(c.instruction))
	}

	if timeout := cfg.Generation.Timeout.Duration; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	client := generate.New(generate.WithLogger(logger.ForCLI(c.debug)))
	res, err := ocr.Extract(ctx, client, gc, f, opts...)
	if err != nil {
		return err
	}
	if res.Error != "" {
		return cliui.ReportProviderError(cmd.ErrOrStderr(), res.Error)
	}

	out := cmd.OutOrStdout()
	fmt.Fprint(out, res.Text)
	if !strings.HasSuffix(res.Text, "\n") {
		fmt.Fprintln(out)
	}
	return nil
}
