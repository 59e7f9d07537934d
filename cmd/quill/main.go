package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/quill/cmd/quill/cliui"
	generatecmder "github.com/papercomputeco/quill/cmd/quill/generate"
	ocrcmder "github.com/papercomputeco/quill/cmd/quill/ocr"
	promptscmder "github.com/papercomputeco/quill/cmd/quill/prompts"
	servecmder "github.com/papercomputeco/quill/cmd/quill/serve"
)

const quillLongDesc string = `quill talks to OpenAI-compatible, Ollama and Gemini models through one
request shape.

Use "quill generate" for one-shot generations, "quill ocr" to read text
from images and "quill serve" to run the HTTP server that keeps provider
keys away from browser clients.`

const quillShortDesc string = "Multi-provider AI generation client and server"

func NewQuillCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "quill",
		Short:         quillShortDesc,
		Long:          quillLongDesc,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(generatecmder.NewGenerateCmd())
	cmd.AddCommand(ocrcmder.NewOCRCmd())
	cmd.AddCommand(promptscmder.NewPromptsCmd())
	cmd.AddCommand(servecmder.NewServeCmd())

	return cmd
}

func main() {
	if err := NewQuillCmd().Execute(); err != nil {
		if !errors.Is(err, cliui.ErrReported) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}
