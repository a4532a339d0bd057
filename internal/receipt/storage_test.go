package receipt

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LocalStorage", func() {
	var (
		tmpDir  string
		storage *LocalStorage
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		var err error
		storage, err = NewLocalStorage(tmpDir)
		Expect(err).NotTo(HaveOccurred())
	})

	It("should create the shared receipts directory", func() {
		Expect(filepath.Join(tmpDir, SharedDir)).To(BeADirectory())
	})

	Describe("Create", func() {
		var (
			path string
			data []byte
			err  error
		)

		BeforeEach(func() {
			path = "Apple/receipt.pdf"
			data = []byte("test file content")
		})

		JustBeforeEach(func() {
			err = storage.Create(path, data)
		})

		When("the file does not exist", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should create missing directories and write the file", func() {
				content, err := os.ReadFile(filepath.Join(tmpDir, "Apple", "receipt.pdf"))
				Expect(err).NotTo(HaveOccurred())
				Expect(content).To(Equal(data))
			})
		})

		When("the file already exists", func() {
			BeforeEach(func() {
				Expect(storage.Create(path, []byte("original"))).To(Succeed())
			})

			It("should fail with fs.ErrExist", func() {
				Expect(errors.Is(err, fs.ErrExist)).To(BeTrue())
			})

			It("should keep the original content", func() {
				content, err := os.ReadFile(filepath.Join(tmpDir, "Apple", "receipt.pdf"))
				Expect(err).NotTo(HaveOccurred())
				Expect(string(content)).To(Equal("original"))
			})
		})

		When("the path escapes the storage root", func() {
			BeforeEach(func() {
				path = "../outside.pdf"
			})

			It("should return an error", func() {
				Expect(err).To(MatchError(ContainSubstring("outside storage root")))
			})

			It("should not write the file", func() {
				Expect(filepath.Join(filepath.Dir(tmpDir), "outside.pdf")).NotTo(BeAnExistingFile())
			})
		})
	})

	Describe("Get", func() {
		When("the file exists", func() {
			BeforeEach(func() {
				Expect(storage.Create("a.pdf", []byte("content"))).To(Succeed())
			})

			It("should return the file content", func() {
				data, err := storage.Get("a.pdf")
				Expect(err).NotTo(HaveOccurred())
				Expect(string(data)).To(Equal("content"))
			})
		})

		When("the file does not exist", func() {
			It("should return a not-exist error", func() {
				_, err := storage.Get("missing.pdf")
				Expect(errors.Is(err, fs.ErrNotExist)).To(BeTrue())
			})
		})
	})

	Describe("Delete", func() {
		It("should remove the file", func() {
			Expect(storage.Create("a.pdf", []byte("content"))).To(Succeed())
			Expect(storage.Delete("a.pdf")).To(Succeed())
			Expect(filepath.Join(tmpDir, "a.pdf")).NotTo(BeAnExistingFile())
		})

		It("should return an error for a missing file", func() {
			Expect(storage.Delete("missing.pdf")).To(HaveOccurred())
		})
	})

	Describe("Move", func() {
		BeforeEach(func() {
			Expect(storage.Create("Apple/a.pdf", []byte("content"))).To(Succeed())
		})

		It("should move the file into a new directory", func() {
			Expect(storage.Move("Apple/a.pdf", "Samsung/b.pdf")).To(Succeed())
			Expect(filepath.Join(tmpDir, "Apple", "a.pdf")).NotTo(BeAnExistingFile())
			Expect(filepath.Join(tmpDir, "Samsung", "b.pdf")).To(BeAnExistingFile())
		})

		It("should refuse a destination outside the root", func() {
			Expect(storage.Move("Apple/a.pdf", "../../b.pdf")).To(HaveOccurred())
			Expect(filepath.Join(tmpDir, "Apple", "a.pdf")).To(BeAnExistingFile())
		})
	})

	Describe("Exists", func() {
		It("should report a present file", func() {
			Expect(storage.Create("a.pdf", []byte("content"))).To(Succeed())
			exists, err := storage.Exists("a.pdf")
			Expect(err).NotTo(HaveOccurred())
			Expect(exists).To(BeTrue())
		})

		It("should report a missing file", func() {
			exists, err := storage.Exists("missing.pdf")
			Expect(err).NotTo(HaveOccurred())
			Expect(exists).To(BeFalse())
		})

		It("should not count a directory as a file", func() {
			exists, err := storage.Exists(SharedDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(exists).To(BeFalse())
		})
	})

	Describe("RemoveDirIfEmpty", func() {
		It("should remove an empty directory", func() {
			Expect(os.Mkdir(filepath.Join(tmpDir, "Empty"), 0755)).To(Succeed())
			removed, err := storage.RemoveDirIfEmpty("Empty")
			Expect(err).NotTo(HaveOccurred())
			Expect(removed).To(BeTrue())
			Expect(filepath.Join(tmpDir, "Empty")).NotTo(BeADirectory())
		})

		It("should keep a directory with files", func() {
			Expect(storage.Create("Apple/a.pdf", []byte("content"))).To(Succeed())
			removed, err := storage.RemoveDirIfEmpty("Apple")
			Expect(err).NotTo(HaveOccurred())
			Expect(removed).To(BeFalse())
		})

		It("should never remove the shared receipts directory", func() {
			removed, err := storage.RemoveDirIfEmpty(SharedDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(removed).To(BeFalse())
			Expect(filepath.Join(tmpDir, SharedDir)).To(BeADirectory())
		})

		It("should never remove the root", func() {
			removed, err := storage.RemoveDirIfEmpty(".")
			Expect(err).NotTo(HaveOccurred())
			Expect(removed).To(BeFalse())
		})

		It("should ignore a missing directory", func() {
			removed, err := storage.RemoveDirIfEmpty("Nope")
			Expect(err).NotTo(HaveOccurred())
			Expect(removed).To(BeFalse())
		})
	})
})
