package store_test

import (
	"context"
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/quill/pkg/store"
)

var _ = Describe("Lists", func() {
	var (
		s   *store.MemoryStore
		ctx context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		s = store.NewMemoryStore()
	})

	It("loads a missing key as an empty list", func() {
		list, err := store.LoadList[store.Prompt](ctx, s, store.KeyPrompts)
		Expect(err).NotTo(HaveOccurred())
		Expect(list).NotTo(BeNil())
		Expect(list).To(BeEmpty())
	})

	It("round trips typed entries", func() {
		prompts := []store.Prompt{store.NewPrompt("Greeting", "Say hello")}
		Expect(store.SaveList(ctx, s, store.KeyPrompts, prompts)).To(Succeed())

		list, err := store.LoadList[store.Prompt](ctx, s, store.KeyPrompts)
		Expect(err).NotTo(HaveOccurred())
		Expect(list).To(Equal(prompts))
	})

	It("saves a nil list as an empty array", func() {
		Expect(store.SaveList[store.Article](ctx, s, store.KeyArticles, nil)).To(Succeed())

		raw, err := s.Get(ctx, store.KeyArticles)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(raw)).To(Equal("[]"))
	})

	It("deduplicates appended entries", func() {
		added, err := store.AppendEntries(ctx, s, store.KeyPrompts, store.NewPrompt("a", "1"), store.NewPrompt("b", "2"))
		Expect(err).NotTo(HaveOccurred())
		Expect(added).To(Equal(2))

		added, err = store.AppendEntries(ctx, s, store.KeyPrompts, store.NewPrompt("a", "1"))
		Expect(err).NotTo(HaveOccurred())
		Expect(added).To(BeZero())

		list, err := store.LoadList[store.Prompt](ctx, s, store.KeyPrompts)
		Expect(err).NotTo(HaveOccurred())
		Expect(list).To(HaveLen(2))
	})

	Describe("legacy upgrades", func() {
		It("upgrades bare prompt strings and writes them back", func() {
			Expect(s.Put(ctx, store.KeyPrompts, []byte(`["Translate to French\nkeep tone", {"id":"x","title":"kept","content":"as is"}]`))).To(Succeed())

			list, err := store.LoadList[store.Prompt](ctx, s, store.KeyPrompts)
			Expect(err).NotTo(HaveOccurred())
			Expect(list).To(HaveLen(2))
			Expect(list[0].Title).To(Equal("Translate to French"))
			Expect(list[0].Content).To(Equal("Translate to French\nkeep tone"))
			Expect(list[0].ID).To(HaveLen(64))
			Expect(list[1]).To(Equal(store.Prompt{ID: "x", Title: "kept", Content: "as is"}))

			raw, err := s.Get(ctx, store.KeyPrompts)
			Expect(err).NotTo(HaveOccurred())
			var stored []map[string]any
			Expect(json.Unmarshal(raw, &stored)).To(Succeed())
			Expect(stored[0]).To(HaveKeyWithValue("title", "Translate to French"))
		})

		It("upgrades bare image URLs", func() {
			Expect(s.Put(ctx, store.KeyImageHistory, []byte(`["https://img/1.png"]`))).To(Succeed())

			list, err := store.LoadList[store.ImageRecord](ctx, s, store.KeyImageHistory)
			Expect(err).NotTo(HaveOccurred())
			Expect(list).To(Equal([]store.ImageRecord{store.NewImageRecord("https://img/1.png", "")}))
		})

		It("renames article bodies to content", func() {
			Expect(s.Put(ctx, store.KeyArticles, []byte(`[{"title":"t","body":"old text"}]`))).To(Succeed())

			list, err := store.LoadList[store.Article](ctx, s, store.KeyArticles)
			Expect(err).NotTo(HaveOccurred())
			Expect(list).To(HaveLen(1))
			Expect(list[0].Content).To(Equal("old text"))
			Expect(list[0].ID).NotTo(BeEmpty())
		})

		It("leaves current values untouched", func() {
			raw := []byte(`[{"id":"x","title":"t","content":"c"}]`)
			out, changed, err := store.Upgrade(store.KeyArticles, raw)
			Expect(err).NotTo(HaveOccurred())
			Expect(changed).To(BeFalse())
			Expect(out).To(Equal(raw))
		})

		It("rejects values that are not arrays", func() {
			_, _, err := store.Upgrade(store.KeyPrompts, []byte(`{"a":1}`))
			Expect(err).To(HaveOccurred())
		})
	})

	It("validates list bodies", func() {
		Expect(store.ValidateList([]byte(`[1,2]`))).To(Succeed())
		Expect(store.ValidateList([]byte(`{"a":1}`))).NotTo(Succeed())
	})
})
