package config_test

import (
	"context"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/quill/pkg/config"
	"github.com/papercomputeco/quill/pkg/llm"
)

const sample = `
[server]
listen = ":9090"
db_path = "quill.db"
upstream_timeout = "15s"

[generation]
provider = "ollama"
api_url = "http://localhost:11434"
model = "llama3"
temperature = 0.3

[ocr]
max_width = 1600

[[routes]]
name = "search"
upstream = "https://api.search.test/v1"
secret = "${QUILL_TEST_SECRET}"
secret_header = "Authorization"
access_token = "let-me-in"
required_query = ["q"]
rate_limit = 2.5

[[routes]]
name = "weather"
upstream = "https://weather.test"
secret = "w-key"
secret_query = "appid"
`

var _ = Describe("Config", func() {
	Describe("Parse", func() {
		It("decodes every section and applies defaults", func() {
			c, err := config.Parse(sample)
			Expect(err).NotTo(HaveOccurred())

			Expect(c.Server.Listen).To(Equal(":9090"))
			Expect(c.Server.UpstreamTimeout.Duration).To(Equal(15 * time.Second))
			Expect(c.Generation.Defaults()).To(Equal(llm.GenerationConfig{
				Provider: llm.ProviderOllama,
				APIURL:   "http://localhost:11434",
				Model:    "llama3",
			}))
			Expect(*c.Generation.Temperature).To(Equal(0.3))
			Expect(c.Generation.Timeout.Duration).To(Equal(5 * time.Minute))
			Expect(c.OCR.MaxWidth).To(Equal(1600))
			Expect(c.OCR.Quality).To(Equal(85))

			Expect(c.Routes).To(HaveLen(2))
			Expect(c.Routes[0].SecretPrefix).To(Equal("Bearer "))
			Expect(c.Routes[0].Burst).To(Equal(1))
			Expect(c.Routes[0].RequiredQuery).To(Equal([]string{"q"}))
			Expect(c.Routes[1].SecretQuery).To(Equal("appid"))
		})

		It("uses defaults for an empty document", func() {
			c, err := config.Parse("")
			Expect(err).NotTo(HaveOccurred())
			Expect(c).To(Equal(config.Default()))
			Expect(c.Server.Listen).To(Equal(":8080"))
			Expect(c.Generation.Provider).To(Equal(llm.ProviderOpenAI))
		})

		It("rejects unknown keys", func() {
			_, err := config.Parse("[server]\nlisten_addr = \":1\"\n")
			Expect(err).To(MatchError(ContainSubstring("server.listen_addr")))
		})

		It("rejects invalid durations", func() {
			_, err := config.Parse("[server]\nupstream_timeout = \"soon\"\n")
			Expect(err).To(HaveOccurred())
		})

		It("reports every invalid route", func() {
			_, err := config.Parse(`
[[routes]]
name = "a"
upstream = "not a url"

[[routes]]
name = "a"
upstream = "https://ok.test"
secret = "s"
`)
			Expect(err).To(MatchError(ContainSubstring("upstream must be an absolute URL")))
			Expect(err).To(MatchError(ContainSubstring(`duplicate name "a"`)))
			Expect(err).To(MatchError(ContainSubstring("secret needs secret_header or secret_query")))
		})

		It("rejects an unknown provider and an out-of-range temperature", func() {
			_, err := config.Parse("[generation]\nprovider = \"carrier-pigeon\"\ntemperature = 3.0\n")
			Expect(err).To(MatchError(llm.ErrUnknownProvider))
			Expect(err).To(MatchError(ContainSubstring("temperature")))
		})

		It("rejects a NaN temperature", func() {
			_, err := config.Parse("[generation]\ntemperature = nan\n")
			Expect(err).To(MatchError(ContainSubstring("temperature")))
		})
	})

	Describe("Load", func() {
		It("expands environment variables", func() {
			GinkgoT().Setenv("QUILL_TEST_SECRET", "s3cr3t")
			path := filepath.Join(GinkgoT().TempDir(), "quill.toml")
			Expect(os.WriteFile(path, []byte(sample), 0o600)).To(Succeed())

			c, err := config.Load(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(c.Routes[0].Secret).To(Equal("s3cr3t"))
		})

		It("fails for a missing file", func() {
			_, err := config.Load(filepath.Join(GinkgoT().TempDir(), "missing.toml"))
			Expect(err).To(MatchError(ContainSubstring("read config")))
		})
	})

	Describe("Watch", func() {
		It("reloads after the file changes", func() {
			dir := GinkgoT().TempDir()
			path := filepath.Join(dir, "quill.toml")
			Expect(os.WriteFile(path, []byte("[server]\nlisten = \":1\"\n"), 0o600)).To(Succeed())

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			reloaded := make(chan *config.Config, 4)
			done := make(chan error, 1)
			go func() {
				done <- config.Watch(ctx, path, 20*time.Millisecond, nil, func(c *config.Config, err error) {
					if err == nil {
						reloaded <- c
					}
				})
			}()

			// give the watcher time to register before writing
			time.Sleep(100 * time.Millisecond)
			Expect(os.WriteFile(path, []byte("[server]\nlisten = \":2\"\n"), 0o600)).To(Succeed())

			var c *config.Config
			Eventually(reloaded, 2*time.Second).Should(Receive(&c))
			Expect(c.Server.Listen).To(Equal(":2"))

			cancel()
			Eventually(done).Should(Receive(BeNil()))
		})
	})
})
