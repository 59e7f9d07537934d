package generatecmder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/quill/cmd/quill/cfgpath"
	"github.com/papercomputeco/quill/cmd/quill/cliui"
	"github.com/papercomputeco/quill/pkg/config"
	"github.com/papercomputeco/quill/pkg/generate"
	"github.com/papercomputeco/quill/pkg/llm"
	"github.com/papercomputeco/quill/pkg/logger"
	"github.com/papercomputeco/quill/pkg/ocr"
)

const generateLongDesc string = `Run a single generation against the configured provider.

The prompt is taken from the arguments, or from stdin when no arguments
are given. Provider settings come from the config file and can be
overridden with flags.

Examples:
  quill generate "Write a haiku about rivers"
  quill generate --provider ollama --model llama3 --stream "Explain TCP"
  quill generate --image chart.png "What does this chart show?"
  echo "Summarize: ..." | quill generate --json`

const generateShortDesc string = "Generate text from a prompt"

type generateCommander struct {
	configPath  string
	provider    string
	model       string
	apiURL      string
	apiKey      string
	system      string
	temperature float64
	stream      bool
	json        bool
	images      []string
	render      bool
	wrap        int
	debug       bool
}

func NewGenerateCmd() *cobra.Command {
	cmder := &generateCommander{}

	cmd := &cobra.Command{
		Use:          "generate [prompt...]",
		Short:        generateShortDesc,
		Long:         generateLongDesc,
		SilenceUsage: true,
		RunE:         func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd, args)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&cmder.configPath, "config", "c", "", "Path to quill.toml")
	flags.StringVarP(&cmder.provider, "provider", "p", "", "Provider name (openai, ollama, gemini or an alias)")
	flags.StringVarP(&cmder.model, "model", "m", "", "Model name")
	flags.StringVar(&cmder.apiURL, "api-url", "", "Provider base URL")
	flags.StringVar(&cmder.apiKey, "api-key", "", "Provider API key")
	flags.StringVarP(&cmder.system, "system", "s", "", "System message")
	flags.Float64VarP(&cmder.temperature, "temperature", "t", llm.DefaultTemperature, "Sampling temperature (0-2)")
	flags.BoolVar(&cmder.stream, "stream", false, "Print text as it arrives")
	flags.BoolVar(&cmder.json, "json", false, "Ask the model for a JSON object")
	flags.StringArrayVarP(&cmder.images, "image", "i", nil, "Attach an image file or URL (repeatable)")
	flags.BoolVar(&cmder.render, "render", false, "Render the reply as markdown (default: on when stdout is a terminal)")
	flags.IntVar(&cmder.wrap, "wrap", 0, "Wrap output at this width (0 disables)")
	flags.BoolVar(&cmder.debug, "debug", false, "Log requests to stderr")

	return cmd
}

func (c *generateCommander) run(ctx context.Context, cmd *cobra.Command, args []string) error {
	cfg, _, err := cfgpath.Load(c.configPath)
	if err != nil {
		return err
	}

	prompt, err := c.prompt(cmd, args)
	if err != nil {
		return err
	}

	msgs := make([]llm.Message, 0, 2)
	if c.system != "" {
		msgs = append(msgs, llm.NewText(llm.RoleSystem, c.system))
	}
	user, err := c.userMessage(prompt, cfg.OCR)
	if err != nil {
		return err
	}
	msgs = append(msgs, user)

	req := llm.Request{
		Config:      c.generationConfig(cfg),
		Messages:    msgs,
		Temperature: cfg.Generation.Temperature,
		Stream:      c.stream,
	}
	if cmd.Flags().Changed("temperature") || req.Temperature == nil {
		req.Temperature = llm.Float64(c.temperature)
	}
	if c.json {
		req.ResponseFormat = &llm.ResponseFormat{Type: llm.ResponseFormatJSONObject}
	}

	if timeout := cfg.Generation.Timeout.Duration; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	client := generate.New(generate.WithLogger(logger.ForCLI(c.debug)))
	out := cmd.OutOrStdout()

	render := c.render
	if !cmd.Flags().Changed("render") {
		render = cliui.IsTerminal(out)
	}

	var res *llm.Result
	if c.stream {
		res, err = c.streamTo(ctx, client, req, out)
	} else {
		res, err = client.Generate(ctx, req)
	}
	if err != nil {
		return err
	}
	if res.Failed() {
		return cliui.ReportProviderError(cmd.ErrOrStderr(), res.Error)
	}

	if !c.stream {
		text, err := cliui.Render(res.Content, render, c.wrap)
		if err != nil {
			return err
		}
		fmt.Fprint(out, text)
		if !strings.HasSuffix(text, "\n") {
			fmt.Fprintln(out)
		}
	}

	for _, img := range res.Images {
		fmt.Fprintf(out, "image: %s\n", displayURL(img.ImageURL.URL))
	}
	return nil
}

// streamTo writes deltas to out as they arrive. Streamed text is printed
// raw; markdown rendering needs the whole reply.
func (c *generateCommander) streamTo(ctx context.Context, client *generate.Client, req llm.Request, out io.Writer) (*llm.Result, error) {
	s, err := client.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	wrote := false
	for s.Next() {
		if delta := s.Snapshot().Delta; delta != "" {
			fmt.Fprint(out, delta)
			wrote = true
		}
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	if wrote {
		fmt.Fprintln(out)
	}
	return s.Result(), nil
}

func (c *generateCommander) prompt(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}

	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && cliui.IsTerminal(f) {
		return "", errors.New("no prompt given: pass it as arguments or on stdin")
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return "", fmt.Errorf("read prompt: %w", err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", errors.New("no prompt given: pass it as arguments or on stdin")
	}
	return prompt, nil
}

func (c *generateCommander) userMessage(prompt string, o config.OCRConfig) (llm.Message, error) {
	if len(c.images) == 0 {
		return llm.NewText(llm.RoleUser, prompt), nil
	}

	parts := []llm.ContentPart{llm.TextPart(prompt)}
	for _, ref := range c.images {
		url, err := imageURL(ref, o)
		if err != nil {
			return llm.Message{}, err
		}
		parts = append(parts, llm.ImagePart(url))
	}
	return llm.NewParts(llm.RoleUser, parts...), nil
}

func (c *generateCommander) generationConfig(cfg *config.Config) llm.GenerationConfig {
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
	return gc
}

// imageURL returns ref unchanged when it is already a URL, and otherwise
// reads it as a local file and inlines it as a data URI.
func imageURL(ref string, o config.OCRConfig) (string, error) {
	if llm.IsDataURI(ref) || strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref, nil
	}
	data, err := os.ReadFile(ref)
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	return ocr.EncodeDataURI(data, o.MaxWidth, o.Quality)
}

func displayURL(url string) string {
	if !llm.IsDataURI(url) {
		return url
	}
	mime, payload, err := llm.ParseDataURI(url)
	if err != nil {
		return "data:..."
	}
	return fmt.Sprintf("data:%s (%d bytes)", mime, len(payload))
}
