package scanning

import (
	"errors"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
)

type mockScanner struct {
	suggestion *Suggestion
	err        error
	calls      int
	closed     bool
}

func (m *mockScanner) ScanReceipt(imageData []byte, contentType string) (*Suggestion, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.suggestion, nil
}

func (m *mockScanner) Close() error {
	m.closed = true
	return nil
}

var _ = Describe("Cache", func() {
	var (
		cache *Cache
		err   error
	)

	BeforeEach(func() {
		cache, err = OpenCache(filepath.Join(GinkgoT().TempDir(), "scan.db"))
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		cache.Close()
	})

	Describe("Key", func() {
		It("should be stable for identical data", func() {
			Expect(Key([]byte("abc"))).To(Equal(Key([]byte("abc"))))
		})

		It("should differ for different data", func() {
			Expect(Key([]byte("abc"))).NotTo(Equal(Key([]byte("abd"))))
		})
	})

	When("the key is unknown", func() {
		It("should report a miss", func() {
			s, ok, err := cache.Get(Key([]byte("nothing")))
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
			Expect(s).To(BeNil())
		})
	})

	When("a suggestion was stored", func() {
		BeforeEach(func() {
			Expect(cache.Put("k", &Suggestion{
				Shop:          "Coolblue",
				PurchaseDate:  "2026-Feb-15",
				Documentation: "Invoice",
				TotalAmount:   decimal.NewNullDecimal(decimal.RequireFromString("12.30")),
			})).To(Succeed())
		})

		It("should return it", func() {
			s, ok, err := cache.Get("k")
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(s.Shop).To(Equal("Coolblue"))
			Expect(s.PurchaseDate).To(Equal("2026-Feb-15"))
			Expect(s.TotalAmount.Decimal.Equal(decimal.RequireFromString("12.3"))).To(BeTrue())
		})
	})
})

var _ = Describe("CachedScanner", func() {
	var (
		next    *mockScanner
		scanner *CachedScanner
	)

	BeforeEach(func() {
		cache, err := OpenCache(filepath.Join(GinkgoT().TempDir(), "scan.db"))
		Expect(err).NotTo(HaveOccurred())
		next = &mockScanner{suggestion: &Suggestion{Shop: "IKEA", PurchaseDate: "2026-Jan-02", Documentation: "N/A"}}
		scanner = NewCachedScanner(next, cache)
	})

	AfterEach(func() {
		scanner.Close()
	})

	It("should scan a file only once", func() {
		first, err := scanner.ScanReceipt([]byte("receipt"), "image/png")
		Expect(err).NotTo(HaveOccurred())
		second, err := scanner.ScanReceipt([]byte("receipt"), "image/png")
		Expect(err).NotTo(HaveOccurred())

		Expect(next.calls).To(Equal(1))
		Expect(second.Shop).To(Equal(first.Shop))
	})

	It("should scan different files separately", func() {
		_, err := scanner.ScanReceipt([]byte("one"), "image/png")
		Expect(err).NotTo(HaveOccurred())
		_, err = scanner.ScanReceipt([]byte("two"), "image/png")
		Expect(err).NotTo(HaveOccurred())
		Expect(next.calls).To(Equal(2))
	})

	When("the scanner fails", func() {
		BeforeEach(func() {
			next.err = errors.New("model unavailable")
		})

		It("should return the error and cache nothing", func() {
			_, err := scanner.ScanReceipt([]byte("receipt"), "image/png")
			Expect(err).To(MatchError("model unavailable"))

			next.err = nil
			_, err = scanner.ScanReceipt([]byte("receipt"), "image/png")
			Expect(err).NotTo(HaveOccurred())
			Expect(next.calls).To(Equal(2))
		})
	})

	It("should close the wrapped scanner", func() {
		Expect(scanner.Close()).To(Succeed())
		Expect(next.closed).To(BeTrue())
	})
})
