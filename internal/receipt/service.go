package receipt

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/zombor/warranty-tracker/internal/guarantee"
	"github.com/zombor/warranty-tracker/internal/scanning"
)

// IDGenerator generates unique tokens for temporary file names
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// defaultIDGenerator generates random UUIDs
type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return uuid.NewString()
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// UploadRequest is the metadata accompanying an uploaded receipt file
type UploadRequest struct {
	Shop          string      `json:"shop"`
	PurchaseDate  string      `json:"purchase_date"`
	Documentation string      `json:"documentation"`
	Quantity      int         `json:"quantity" validate:"min=0"`
	Items         []ItemInput `json:"items" validate:"required,min=1,dive"`
}

// ItemInput is the metadata of one uploaded item
type ItemInput struct {
	Brand             string   `json:"brand"`
	Model             string   `json:"model"`
	Location          string   `json:"location"`
	Users             []string `json:"users" validate:"max=8,unique,dive,required"`
	Project           string   `json:"project"`
	GuaranteeDuration int      `json:"guarantee_duration" validate:"min=0,max=36600"`
	GuaranteeUnit     string   `json:"guarantee_unit" validate:"oneof=days months years"`
}

// Suggestions are the distinct values in use per free-text field
type Suggestions struct {
	Shops         []string `json:"shops"`
	Brands        []string `json:"brands"`
	Models        []string `json:"models"`
	Locations     []string `json:"locations"`
	Documentation []string `json:"documentation"`
	Projects      []string `json:"projects"`
	Users         []string `json:"users"`
}

// Service handles receipt operations
type Service struct {
	store      *Store
	storage    Storage
	placement  *Placement
	scanner    scanning.Scanner
	validate   *validator.Validate
	timeSource TimeSource
}

// NewService creates a new Service with default ID generator and time source.
// scanner may be nil when OCR is disabled.
func NewService(store *Store, storage Storage, scanner scanning.Scanner) *Service {
	return NewServiceWithDeps(store, storage, scanner, &defaultIDGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(store *Store, storage Storage, scanner scanning.Scanner, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		store:      store,
		storage:    storage,
		placement:  NewPlacement(storage, NewPathBuilder(), idGen),
		scanner:    scanner,
		validate:   validator.New(),
		timeSource: timeSrc,
	}
}

// orNA trims s and substitutes the N/A sentinel for blanks
func orNA(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return NotAvailable
	}
	return s
}

// cleanUsers trims user tags and drops blanks, keeping order
func cleanUsers(users []string) []string {
	out := make([]string, 0, len(users))
	for _, u := range users {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, u)
		}
	}
	return out
}

// normalizeUnit canonicalizes a guarantee unit; blank means days. Unknown
// units are returned trimmed so validation can reject them.
func normalizeUnit(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return string(guarantee.Days)
	}
	if u, err := guarantee.ParseUnit(raw); err == nil {
		return string(u)
	}
	return raw
}

func (s *Service) validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return newError(KindValidation, err, "invalid request")
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return newError(KindValidation, err, "%s", strings.Join(msgs, "; "))
}

// purchaseDate normalizes a purchase date; blank means today
func (s *Service) purchaseDate(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return guarantee.Format(s.timeSource.Now()), nil
	}
	normalized, err := guarantee.Normalize(raw)
	if err != nil {
		return "", dateError("purchase_date", err)
	}
	return normalized, nil
}

// expandItems applies the quantity rules: 0 means one item per entry, a single
// entry is replicated up to quantity, otherwise one entry per unit is required.
func expandItems(quantity int, items []ItemInput) ([]ItemInput, int, error) {
	if quantity == 0 {
		quantity = max(1, len(items))
	}
	if len(items) == 1 && quantity > 1 {
		expanded := make([]ItemInput, quantity)
		for i := range expanded {
			expanded[i] = items[0]
			expanded[i].Users = slices.Clone(items[0].Users)
		}
		return expanded, quantity, nil
	}
	if len(items) != quantity {
		return nil, 0, newError(KindValidation, nil, "quantity %d does not match %d items", quantity, len(items))
	}
	return items, quantity, nil
}

// Upload validates and stores a receipt file with its metadata. Either the
// file and every record are stored, or nothing is.
func (s *Service) Upload(filename string, data []byte, req UploadRequest) (*Receipt, []*Item, error) {
	for i := range req.Items {
		req.Items[i].Users = cleanUsers(req.Items[i].Users)
		req.Items[i].GuaranteeUnit = normalizeUnit(req.Items[i].GuaranteeUnit)
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, nil, s.validationError(err)
	}

	fileType, err := ValidateUpload(data, filename)
	if err != nil {
		return nil, nil, err
	}

	purchase, err := s.purchaseDate(req.PurchaseDate)
	if err != nil {
		return nil, nil, err
	}

	inputs, quantity, err := expandItems(req.Quantity, req.Items)
	if err != nil {
		return nil, nil, err
	}

	r := &Receipt{
		Shop:          orNA(req.Shop),
		PurchaseDate:  purchase,
		Documentation: orNA(req.Documentation),
		PlacementMode: ModeForQuantity(quantity),
	}
	items := make([]*Item, 0, len(inputs))
	for _, in := range inputs {
		end, err := guarantee.EndDate(purchase, in.GuaranteeDuration, guarantee.Unit(in.GuaranteeUnit))
		if err != nil {
			return nil, nil, dateError("guarantee", err)
		}
		items = append(items, &Item{
			Brand:             orNA(in.Brand),
			Model:             orNA(in.Model),
			Location:          orNA(in.Location),
			Users:             in.Users,
			Project:           orNA(in.Project),
			GuaranteeDuration: in.GuaranteeDuration,
			GuaranteeUnit:     in.GuaranteeUnit,
			GuaranteeEndDate:  end,
		})
	}

	err = s.store.Update(func(tx *Tx) error {
		var err error
		r, items, err = s.placement.PlaceUpload(tx, data, fileType.Ext, r, items)
		return err
	})
	if err != nil {
		slog.Error("Failed to store upload", "filename", filename, "file_size", len(data), "error", err)
		return nil, nil, err
	}
	return r, items, nil
}

// normalizeChanges trims edited fields and fills sentinels the same way uploads do
func (s *Service) normalizeChanges(c ItemChanges) (ItemChanges, error) {
	for _, field := range []**string{&c.Brand, &c.Model, &c.Location, &c.Project, &c.Shop, &c.Documentation} {
		if *field != nil {
			v := orNA(**field)
			*field = &v
		}
	}
	if c.Users != nil {
		users := cleanUsers(*c.Users)
		c.Users = &users
	}
	if c.GuaranteeUnit != nil {
		if strings.TrimSpace(*c.GuaranteeUnit) == "" {
			c.GuaranteeUnit = nil
		} else {
			unit := normalizeUnit(*c.GuaranteeUnit)
			c.GuaranteeUnit = &unit
		}
	}
	if c.PurchaseDate != nil {
		if strings.TrimSpace(*c.PurchaseDate) == "" {
			return c, newError(KindValidation, nil, "purchase_date must not be empty")
		}
		normalized, err := s.purchaseDate(*c.PurchaseDate)
		if err != nil {
			return c, err
		}
		c.PurchaseDate = &normalized
	}
	return c, nil
}

// EditItem applies a partial edit. Items with an outstanding integrity issue
// are read-only until the issue is resolved.
func (s *Service) EditItem(id int, changes ItemChanges) (*Item, error) {
	changes, err := s.normalizeChanges(changes)
	if err != nil {
		return nil, err
	}
	if err := s.validate.Struct(changes); err != nil {
		return nil, s.validationError(err)
	}

	var edited *Item
	err = s.store.Update(func(tx *Tx) error {
		if tx.Document().HasIntegrityIssue(id) {
			return newError(KindReadOnly, nil, "item %d has a missing receipt file and cannot be edited", id)
		}
		var err error
		edited, err = s.placement.ApplyEdit(tx, id, changes)
		return err
	})
	if err != nil {
		return nil, err
	}
	return edited.clone(), nil
}

// DeleteItem removes an item, and its receipt file when no other item uses it
func (s *Service) DeleteItem(id int) error {
	err := s.store.Update(func(tx *Tx) error {
		return s.placement.DeleteItem(tx, id)
	})
	if err != nil {
		return err
	}
	slog.Info("Item deleted", "item_id", id)
	return nil
}

// Document returns a copy of the current document
func (s *Service) Document() *Document {
	return s.store.Snapshot()
}

// Suggestions lists the distinct values of every free-text field, sorted, without N/A
func (s *Service) Suggestions() Suggestions {
	doc := s.store.Snapshot()

	var shops, brands, models, locations, docs, projects, users []string
	for _, r := range doc.Receipts {
		shops = append(shops, r.Shop)
		docs = append(docs, r.Documentation)
	}
	for _, it := range doc.Items {
		brands = append(brands, it.Brand)
		models = append(models, it.Model)
		locations = append(locations, it.Location)
		projects = append(projects, it.Project)
		users = append(users, it.Users...)
	}

	return Suggestions{
		Shops:         distinct(shops),
		Brands:        distinct(brands),
		Models:        distinct(models),
		Locations:     distinct(locations),
		Documentation: distinct(docs),
		Projects:      distinct(projects),
		Users:         distinct(users),
	}
}

func distinct(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" && v != NotAvailable {
			out = append(out, v)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// ImportJSON replaces the document with an exported one. The outgoing
// document is backed up first.
func (s *Service) ImportJSON(data []byte) (*Document, error) {
	doc, err := decodeDocument(data)
	if err != nil {
		return nil, newError(KindValidation, err, "invalid document")
	}
	if err := s.store.Replace(doc); err != nil {
		return nil, err
	}
	slog.Info("Document imported", "receipts", len(doc.Receipts), "items", len(doc.Items))
	return doc, nil
}

// ReceiptFile returns a stored receipt file referenced by the document
func (s *Service) ReceiptFile(rel string) ([]byte, string, error) {
	rel = strings.TrimPrefix(strings.TrimSpace(rel), "/")
	if rel == "" {
		return nil, "", newError(KindValidation, nil, "path is required")
	}

	err := s.store.View(func(doc *Document) error {
		if !slices.ContainsFunc(doc.Receipts, func(r *Receipt) bool { return r.RelativePath == rel }) {
			return newError(KindNotFound, nil, "file %s not found", rel)
		}
		return nil
	})
	if err != nil {
		return nil, "", err
	}

	data, err := s.storage.Get(rel)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, "", newError(KindNotFound, err, "file %s not found", rel)
	}
	if err != nil {
		return nil, "", newError(KindStorage, err, "reading %s", rel)
	}
	return data, ContentTypeForPath(rel), nil
}

// Scan asks the OCR collaborator for a best-effort guess of the receipt
// fields. Nothing is stored.
func (s *Service) Scan(filename string, data []byte) (*scanning.Suggestion, error) {
	if s.scanner == nil {
		return nil, newError(KindValidation, nil, "scanning is disabled")
	}
	fileType, err := ValidateUpload(data, filename)
	if err != nil {
		return nil, err
	}

	suggestion, err := s.scanner.ScanReceipt(data, fileType.ContentType)
	if err != nil {
		slog.Error("Failed to scan receipt",
			"filename", filename,
			"content_type", fileType.ContentType,
			"file_size", len(data),
			"error", err,
		)
		return nil, fmt.Errorf("scanning receipt: %w", err)
	}
	return suggestion, nil
}
