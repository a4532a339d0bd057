package receipt

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Store", func() {
	var (
		dir       string
		path      string
		backupDir string
		clock     *mockTimeSource
		store     *Store
	)

	openStore := func(keep int) (*Store, error) {
		return NewStoreWithDeps(path, backupDir, keep, clock, &mockIDGenerator{})
	}

	addItem := func(s *Store, brand string) {
		err := s.Update(func(tx *Tx) error {
			doc := tx.Document()
			r := &Receipt{GroupID: doc.NextReceiptGroupID(), PlacementMode: PlacementIndividual}
			if err := doc.AddReceipt(r); err != nil {
				return err
			}
			return doc.AddItem(&Item{ID: doc.AllocateID(), GroupID: r.GroupID, Brand: brand, Users: []string{}, GuaranteeUnit: "days"})
		})
		Expect(err).NotTo(HaveOccurred())
	}

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		path = filepath.Join(dir, "database", "data.json")
		backupDir = filepath.Join(dir, "database", "backups")
		clock = &mockTimeSource{now: time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)}
	})

	Describe("NewStore", func() {
		When("the document does not exist", func() {
			It("should start with an empty document", func() {
				var err error
				store, err = openStore(DefaultBackupKeep)
				Expect(err).NotTo(HaveOccurred())
				doc := store.Snapshot()
				Expect(doc.Receipts).To(BeEmpty())
				Expect(doc.Items).To(BeEmpty())
				Expect(doc.NextID).To(Equal(1))
			})

			It("should create the directories", func() {
				_, err := openStore(DefaultBackupKeep)
				Expect(err).NotTo(HaveOccurred())
				Expect(filepath.Dir(path)).To(BeADirectory())
				Expect(backupDir).To(BeADirectory())
			})
		})

		When("the document is not valid JSON", func() {
			BeforeEach(func() {
				Expect(os.MkdirAll(filepath.Dir(path), 0755)).To(Succeed())
				Expect(os.WriteFile(path, []byte("{broken"), 0644)).To(Succeed())
			})

			It("should return a corrupt store error", func() {
				_, err := openStore(DefaultBackupKeep)
				Expect(IsKind(err, KindCorruptStore)).To(BeTrue())
			})

			It("should leave the file untouched", func() {
				_, _ = openStore(DefaultBackupKeep)
				content, err := os.ReadFile(path)
				Expect(err).NotTo(HaveOccurred())
				Expect(string(content)).To(Equal("{broken"))
			})
		})

		When("the document does not match the schema", func() {
			BeforeEach(func() {
				Expect(os.MkdirAll(filepath.Dir(path), 0755)).To(Succeed())
				Expect(os.WriteFile(path, []byte(`{"receipts": []}`), 0644)).To(Succeed())
			})

			It("should return a corrupt store error", func() {
				_, err := openStore(DefaultBackupKeep)
				Expect(IsKind(err, KindCorruptStore)).To(BeTrue())
			})
		})

		When("the document was written by an older version", func() {
			BeforeEach(func() {
				Expect(os.MkdirAll(filepath.Dir(path), 0755)).To(Succeed())
				Expect(os.WriteFile(path, []byte(`{
					"receipts": [
						{"receipt_group_id": "RG-0001", "receipt_relative_path": "_Receipts/a.pdf"},
						{"receipt_group_id": "RG-0002", "receipt_relative_path": "Apple/b.pdf"}
					],
					"items": [
						{"id": 4, "receipt_group_id": "RG-0001"},
						{"id": 9, "receipt_group_id": "RG-0002"}
					]
				}`), 0644)).To(Succeed())
			})

			It("should derive next_id and placement modes", func() {
				var err error
				store, err = openStore(DefaultBackupKeep)
				Expect(err).NotTo(HaveOccurred())
				doc := store.Snapshot()
				Expect(doc.NextID).To(Equal(10))
				Expect(doc.Receipts[0].PlacementMode).To(Equal(PlacementShared))
				Expect(doc.Receipts[1].PlacementMode).To(Equal(PlacementIndividual))
				Expect(doc.Items[0].Users).NotTo(BeNil())
				Expect(doc.Items[0].GuaranteeUnit).To(Equal("days"))
			})
		})
	})

	Describe("Update", func() {
		BeforeEach(func() {
			var err error
			store, err = openStore(DefaultBackupKeep)
			Expect(err).NotTo(HaveOccurred())
		})

		When("the mutation succeeds", func() {
			It("should persist the document", func() {
				addItem(store, "Apple")

				reopened, err := openStore(DefaultBackupKeep)
				Expect(err).NotTo(HaveOccurred())
				Expect(reopened.Snapshot().Items).To(HaveLen(1))
				Expect(reopened.Snapshot().NextID).To(Equal(2))
			})

			It("should run commit hooks after saving", func() {
				var sawFile bool
				err := store.Update(func(tx *Tx) error {
					tx.OnCommit(func() {
						_, err := os.Stat(path)
						sawFile = err == nil
					})
					return nil
				})
				Expect(err).NotTo(HaveOccurred())
				Expect(sawFile).To(BeTrue())
			})

			It("should not leave temporary files behind", func() {
				addItem(store, "Apple")
				matches, err := filepath.Glob(path + ".tmp.*")
				Expect(err).NotTo(HaveOccurred())
				Expect(matches).To(BeEmpty())
			})
		})

		When("the mutation fails", func() {
			var (
				order     []string
				committed bool
				err       error
			)

			BeforeEach(func() {
				order = nil
				committed = false
				err = store.Update(func(tx *Tx) error {
					tx.Document().NextID = 42
					tx.OnRollback(func() error {
						order = append(order, "first")
						return nil
					})
					tx.OnRollback(func() error {
						order = append(order, "second")
						return nil
					})
					tx.OnCommit(func() { committed = true })
					return errors.New("boom")
				})
			})

			It("should return the error", func() {
				Expect(err).To(MatchError("boom"))
			})

			It("should run rollback hooks in reverse order", func() {
				Expect(order).To(Equal([]string{"second", "first"}))
			})

			It("should not run commit hooks", func() {
				Expect(committed).To(BeFalse())
			})

			It("should keep the previous document", func() {
				Expect(store.Snapshot().NextID).To(Equal(1))
				Expect(path).NotTo(BeAnExistingFile())
			})
		})

		When("the save fails", func() {
			It("should roll back and keep the previous document", func() {
				Expect(os.MkdirAll(filepath.Join(path, "blocker"), 0755)).To(Succeed())

				rolledBack := false
				err := store.Update(func(tx *Tx) error {
					tx.Document().NextID = 42
					tx.OnRollback(func() error {
						rolledBack = true
						return nil
					})
					return nil
				})
				Expect(IsKind(err, KindStorage)).To(BeTrue())
				Expect(rolledBack).To(BeTrue())
				Expect(store.Snapshot().NextID).To(Equal(1))
			})
		})
	})

	Describe("backups", func() {
		BeforeEach(func() {
			var err error
			store, err = openStore(3)
			Expect(err).NotTo(HaveOccurred())
		})

		It("should name backups after the save time", func() {
			addItem(store, "Apple")
			backups, err := store.Backups()
			Expect(err).NotTo(HaveOccurred())
			Expect(backups).To(HaveLen(1))
			Expect(filepath.Base(backups[0])).To(Equal("data_backup_20260301_120000.json"))
		})

		It("should skip a backup when the content is unchanged", func() {
			addItem(store, "Apple")
			clock.now = clock.now.Add(time.Minute)
			Expect(store.Save(store.Snapshot())).To(Succeed())

			backups, err := store.Backups()
			Expect(err).NotTo(HaveOccurred())
			Expect(backups).To(HaveLen(1))
		})

		It("should ignore integrity issues when comparing content", func() {
			addItem(store, "Apple")
			clock.now = clock.now.Add(time.Minute)
			err := store.Update(func(tx *Tx) error {
				tx.Document().IntegrityIssues = []IntegrityIssue{{ItemID: 1, ExpectedPath: "a.pdf", DetectedAt: clock.now}}
				return nil
			})
			Expect(err).NotTo(HaveOccurred())

			backups, err := store.Backups()
			Expect(err).NotTo(HaveOccurred())
			Expect(backups).To(HaveLen(1))
		})

		It("should not overwrite a backup taken in the same second", func() {
			addItem(store, "Apple")
			addItem(store, "Samsung")
			addItem(store, "Philips")

			backups, err := store.Backups()
			Expect(err).NotTo(HaveOccurred())
			Expect(backups).To(HaveLen(3))
			Expect(filepath.Base(backups[0])).To(Equal("data_backup_20260301_120000.json"))
			Expect(filepath.Base(backups[1])).To(Equal("data_backup_20260301_120000_001.json"))
			Expect(filepath.Base(backups[2])).To(Equal("data_backup_20260301_120000_002.json"))

			first, err := os.ReadFile(backups[0])
			Expect(err).NotTo(HaveOccurred())
			Expect(string(first)).NotTo(ContainSubstring("Samsung"))
			last, err := os.ReadFile(backups[2])
			Expect(err).NotTo(HaveOccurred())
			Expect(string(last)).To(ContainSubstring("Philips"))
		})

		It("should keep only the newest backups", func() {
			for _, brand := range []string{"A", "B", "C", "D", "E"} {
				clock.now = clock.now.Add(time.Minute)
				addItem(store, brand)
			}

			backups, err := store.Backups()
			Expect(err).NotTo(HaveOccurred())
			Expect(backups).To(HaveLen(3))
			Expect(filepath.Base(backups[2])).To(Equal("data_backup_20260301_120500.json"))
			Expect(filepath.Base(backups[0])).To(Equal("data_backup_20260301_120300.json"))
		})
	})

	Describe("Replace", func() {
		BeforeEach(func() {
			var err error
			store, err = openStore(DefaultBackupKeep)
			Expect(err).NotTo(HaveOccurred())
			addItem(store, "Apple")
		})

		It("should swap in the new document", func() {
			clock.now = clock.now.Add(time.Hour)
			Expect(store.Replace(NewDocument())).To(Succeed())
			Expect(store.Snapshot().Items).To(BeEmpty())

			reopened, err := openStore(DefaultBackupKeep)
			Expect(err).NotTo(HaveOccurred())
			Expect(reopened.Snapshot().Items).To(BeEmpty())
		})

		It("should keep the outgoing document when importing in the same second as the last save", func() {
			Expect(store.Replace(NewDocument())).To(Succeed())

			backups, err := store.Backups()
			Expect(err).NotTo(HaveOccurred())
			Expect(backups).To(HaveLen(2))
			content, err := os.ReadFile(backups[0])
			Expect(err).NotTo(HaveOccurred())
			Expect(string(content)).To(ContainSubstring(`"brand": "Apple"`))
			content, err = os.ReadFile(backups[1])
			Expect(err).NotTo(HaveOccurred())
			Expect(string(content)).NotTo(ContainSubstring(`"brand": "Apple"`))
		})

		It("should keep a backup of the outgoing document", func() {
			clock.now = clock.now.Add(time.Hour)
			Expect(store.Replace(NewDocument())).To(Succeed())

			backups, err := store.Backups()
			Expect(err).NotTo(HaveOccurred())
			Expect(backups).To(HaveLen(2))
			content, err := os.ReadFile(backups[0])
			Expect(err).NotTo(HaveOccurred())
			Expect(string(content)).To(ContainSubstring(`"brand": "Apple"`))
		})
	})

	Describe("sameContent", func() {
		It("should ignore integrity issues", func() {
			a := []byte(`{"items": [], "integrity_issues": []}`)
			b := []byte(`{"items": [], "integrity_issues": [{"item_id": 1}]}`)
			Expect(sameContent(a, b)).To(BeTrue())
		})

		It("should detect other differences", func() {
			Expect(sameContent([]byte(`{"next_id": 1}`), []byte(`{"next_id": 2}`))).To(BeFalse())
		})

		It("should treat invalid JSON as different", func() {
			Expect(sameContent([]byte(`{`), []byte(`{`))).To(BeFalse())
		})
	})
})
