package generate_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/quill/pkg/generate"
)

var _ = Describe("Registry", func() {
	var reg *generate.Registry

	BeforeEach(func() {
		reg = generate.NewRegistry()
	})

	It("rejects a second acquire of the same token", func() {
		release, err := reg.Acquire("abc")
		Expect(err).NotTo(HaveOccurred())
		Expect(reg.Len()).To(Equal(1))

		_, err = reg.Acquire("abc")
		Expect(err).To(MatchError(generate.ErrInFlight))

		release()
		release()
		Expect(reg.Len()).To(BeZero())

		_, err = reg.Acquire("abc")
		Expect(err).NotTo(HaveOccurred())
	})

	It("never tracks the empty token", func() {
		for range 3 {
			release, err := reg.Acquire("")
			Expect(err).NotTo(HaveOccurred())
			defer release()
		}
		Expect(reg.Len()).To(BeZero())
	})
})
