package store_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/quill/pkg/store"
)

func describeDriver(name string, open func() (store.Store, error)) {
	Describe(name, func() {
		var (
			s   store.Store
			ctx context.Context
		)

		BeforeEach(func() {
			ctx = context.Background()
			var err error
			s, err = open()
			Expect(err).NotTo(HaveOccurred())
		})

		AfterEach(func() {
			if s != nil {
				s.Close()
			}
		})

		Describe("Put and Get", func() {
			It("stores and retrieves a value", func() {
				Expect(s.Put(ctx, "prompts", []byte(`["a"]`))).To(Succeed())

				v, err := s.Get(ctx, "prompts")
				Expect(err).NotTo(HaveOccurred())
				Expect(string(v)).To(Equal(`["a"]`))
			})

			It("replaces an existing value", func() {
				Expect(s.Put(ctx, "prompts", []byte(`["a"]`))).To(Succeed())
				Expect(s.Put(ctx, "prompts", []byte(`["b"]`))).To(Succeed())

				v, err := s.Get(ctx, "prompts")
				Expect(err).NotTo(HaveOccurred())
				Expect(string(v)).To(Equal(`["b"]`))

				keys, err := s.Keys(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(keys).To(Equal([]string{"prompts"}))
			})

			It("returns ErrNotFound for a missing key", func() {
				_, err := s.Get(ctx, "nonexistent")
				Expect(err).To(HaveOccurred())

				var notFoundErr store.ErrNotFound
				Expect(err).To(BeAssignableToTypeOf(notFoundErr))
				Expect(err.Error()).To(ContainSubstring("nonexistent"))
			})
		})

		Describe("Update", func() {
			It("reports a missing key and stores the result", func() {
				err := s.Update(ctx, "prompts", func(current []byte, found bool) ([]byte, error) {
					Expect(found).To(BeFalse())
					Expect(current).To(BeEmpty())
					return []byte(`["a"]`), nil
				})
				Expect(err).NotTo(HaveOccurred())

				v, err := s.Get(ctx, "prompts")
				Expect(err).NotTo(HaveOccurred())
				Expect(string(v)).To(Equal(`["a"]`))
			})

			It("passes the current value", func() {
				Expect(s.Put(ctx, "prompts", []byte(`["a"]`))).To(Succeed())

				err := s.Update(ctx, "prompts", func(current []byte, found bool) ([]byte, error) {
					Expect(found).To(BeTrue())
					Expect(string(current)).To(Equal(`["a"]`))
					return []byte(`["a","b"]`), nil
				})
				Expect(err).NotTo(HaveOccurred())

				v, err := s.Get(ctx, "prompts")
				Expect(err).NotTo(HaveOccurred())
				Expect(string(v)).To(Equal(`["a","b"]`))
			})

			It("keeps the value when fn fails", func() {
				Expect(s.Put(ctx, "prompts", []byte(`["a"]`))).To(Succeed())

				boom := errors.New("boom")
				err := s.Update(ctx, "prompts", func([]byte, bool) ([]byte, error) {
					return nil, boom
				})
				Expect(err).To(MatchError(boom))

				v, err := s.Get(ctx, "prompts")
				Expect(err).NotTo(HaveOccurred())
				Expect(string(v)).To(Equal(`["a"]`))
			})

			It("serializes concurrent read-modify-write cycles", func() {
				const writers = 200

				var wg sync.WaitGroup
				for range writers {
					wg.Add(1)
					go func() {
						defer wg.Done()
						defer GinkgoRecover()
						err := s.Update(ctx, "counter", func(current []byte, _ bool) ([]byte, error) {
							n := 0
							if len(current) > 0 {
								var err error
								if n, err = strconv.Atoi(string(current)); err != nil {
									return nil, err
								}
							}
							return []byte(strconv.Itoa(n + 1)), nil
						})
						Expect(err).NotTo(HaveOccurred())
					}()
				}
				wg.Wait()

				v, err := s.Get(ctx, "counter")
				Expect(err).NotTo(HaveOccurred())
				Expect(string(v)).To(Equal(strconv.Itoa(writers)))
			})

			It("keeps every entry appended concurrently", func() {
				const writers = 200

				var wg sync.WaitGroup
				for i := range writers {
					wg.Add(1)
					go func() {
						defer wg.Done()
						defer GinkgoRecover()
						url := fmt.Sprintf("https://img.test/%d.png", i)
						_, err := store.AppendEntries(ctx, s, store.KeyImageHistory, store.NewImageRecord(url, "p"))
						Expect(err).NotTo(HaveOccurred())
					}()
				}
				wg.Wait()

				list, err := store.LoadList[store.ImageRecord](ctx, s, store.KeyImageHistory)
				Expect(err).NotTo(HaveOccurred())
				Expect(list).To(HaveLen(writers))
			})
		})

		Describe("Delete", func() {
			It("removes a key", func() {
				Expect(s.Put(ctx, "articles", []byte(`[]`))).To(Succeed())
				Expect(s.Delete(ctx, "articles")).To(Succeed())

				_, err := s.Get(ctx, "articles")
				Expect(err).To(BeAssignableToTypeOf(store.ErrNotFound{}))
			})

			It("is a no-op for a missing key", func() {
				Expect(s.Delete(ctx, "nonexistent")).To(Succeed())
			})
		})

		Describe("Keys", func() {
			It("returns keys in lexical order", func() {
				for _, k := range []string{"prompts", "articles", "image-history"} {
					Expect(s.Put(ctx, k, []byte(`[]`))).To(Succeed())
				}

				keys, err := s.Keys(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(keys).To(Equal([]string{"articles", "image-history", "prompts"}))
			})

			It("returns an empty slice for an empty store", func() {
				keys, err := s.Keys(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(keys).To(BeEmpty())
			})
		})
	})
}

var _ = Describe("Drivers", func() {
	describeDriver("MemoryStore", func() (store.Store, error) {
		return store.NewMemoryStore(), nil
	})

	describeDriver("SQLiteStore", func() (store.Store, error) {
		return store.NewSQLiteStore(":memory:")
	})

	Describe("NewSQLiteStore", func() {
		It("creates a file database that survives reopening", func() {
			ctx := context.Background()
			dbPath := filepath.Join(GinkgoT().TempDir(), "quill.db")

			s, err := store.NewSQLiteStore(dbPath)
			Expect(err).NotTo(HaveOccurred())
			Expect(s.Put(ctx, "prompts", []byte(`[]`))).To(Succeed())
			Expect(s.Close()).To(Succeed())

			_, err = os.Stat(dbPath)
			Expect(err).NotTo(HaveOccurred())

			s, err = store.NewSQLiteStore(dbPath)
			Expect(err).NotTo(HaveOccurred())
			defer s.Close()

			v, err := s.Get(ctx, "prompts")
			Expect(err).NotTo(HaveOccurred())
			Expect(string(v)).To(Equal(`[]`))
		})

		It("treats an empty path as in-memory", func() {
			s, err := store.NewSQLiteStore("")
			Expect(err).NotTo(HaveOccurred())
			Expect(s.Close()).To(Succeed())
		})
	})

	It("copies values held by the MemoryStore", func() {
		ctx := context.Background()
		s := store.NewMemoryStore()
		value := []byte(`["a"]`)
		Expect(s.Put(ctx, "prompts", value)).To(Succeed())
		value[2] = 'z'

		v, err := s.Get(ctx, "prompts")
		Expect(err).NotTo(HaveOccurred())
		Expect(string(v)).To(Equal(`["a"]`))
	})
})
