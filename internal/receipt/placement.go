package receipt

import (
	"errors"
	"io/fs"
	"log/slog"
	"path"
	"slices"

	"github.com/zombor/warranty-tracker/internal/guarantee"
)

// Placement keeps the storage tree consistent with document mutations. Its
// methods run inside Store.Update so file work happens under the store guard.
type Placement struct {
	storage     Storage
	paths       *PathBuilder
	idGenerator IDGenerator
}

// NewPlacement creates a Placement
func NewPlacement(storage Storage, paths *PathBuilder, idGen IDGenerator) *Placement {
	return &Placement{
		storage:     storage,
		paths:       paths,
		idGenerator: idGen,
	}
}

// PlaceUpload writes the receipt file once for the whole group, then records
// the receipt and its items in tx. r.PlacementMode must already be set; group
// id, item ids and paths are assigned here.
func (p *Placement) PlaceUpload(tx *Tx, data []byte, ext string, r *Receipt, items []*Item) (*Receipt, []*Item, error) {
	if len(items) == 0 {
		return nil, nil, newError(KindValidation, nil, "at least one item is required")
	}
	doc := tx.Document()
	r.GroupID = doc.NextReceiptGroupID()

	target := p.paths.Build(r, items[0], ext)
	if target.Truncated {
		slog.Warn("Receipt file name truncated", "receipt_group_id", r.GroupID, "path", target.RelativePath())
	}

	placed, err := p.paths.Candidates(target, func(c Target) (bool, error) {
		err := p.storage.Create(c.RelativePath(), data)
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		if err != nil {
			return false, newError(KindStorage, err, "writing %s", c.RelativePath())
		}
		return true, nil
	})
	if err != nil {
		return nil, nil, err
	}

	rel := placed.RelativePath()
	tx.OnRollback(func() error {
		return p.storage.Delete(rel)
	})

	r.Filename = placed.Filename()
	r.RelativePath = rel
	if err := doc.AddReceipt(r); err != nil {
		return nil, nil, newError(KindValidation, err, "adding receipt")
	}
	for _, it := range items {
		it.ID = doc.AllocateID()
		it.GroupID = r.GroupID
		it.RelativePath = rel
		if err := doc.AddItem(it); err != nil {
			return nil, nil, newError(KindValidation, err, "adding item")
		}
	}

	slog.Info("Receipt stored", "receipt_group_id", r.GroupID, "path", rel, "items", len(items))
	return r, items, nil
}

// ItemChanges is a partial edit of an item. Nil fields are left untouched.
// Shop, PurchaseDate and Documentation belong to the receipt and therefore
// affect every item sharing it.
type ItemChanges struct {
	Brand             *string   `json:"brand,omitempty"`
	Model             *string   `json:"model,omitempty"`
	Location          *string   `json:"location,omitempty"`
	Users             *[]string `json:"users,omitempty" validate:"omitempty,max=8,unique,dive,required"`
	Project           *string   `json:"project,omitempty"`
	GuaranteeDuration *int      `json:"guarantee_duration,omitempty" validate:"omitempty,min=0,max=36600"`
	GuaranteeUnit     *string   `json:"guarantee_unit,omitempty" validate:"omitempty,oneof=days months years"`
	Shop              *string   `json:"shop,omitempty"`
	PurchaseDate      *string   `json:"purchase_date,omitempty"`
	Documentation     *string   `json:"documentation,omitempty"`
}

// setString updates *dst when v is set and differs
func setString(dst *string, v *string) bool {
	if v == nil || *dst == *v {
		return false
	}
	*dst = *v
	return true
}

// apply copies the changes onto item and r and reports which kinds of fields changed
func (c ItemChanges) apply(item *Item, r *Receipt) (pathChanged, receiptChanged, guaranteeChanged bool) {
	for _, changed := range []bool{
		setString(&item.Brand, c.Brand),
		setString(&item.Model, c.Model),
		setString(&item.Location, c.Location),
		setString(&item.Project, c.Project),
	} {
		pathChanged = pathChanged || changed
	}
	if c.Users != nil && !slices.Equal(item.Users, *c.Users) {
		item.Users = slices.Clone(*c.Users)
		pathChanged = true
	}

	for _, changed := range []bool{
		setString(&r.Shop, c.Shop),
		setString(&r.PurchaseDate, c.PurchaseDate),
		setString(&r.Documentation, c.Documentation),
	} {
		receiptChanged = receiptChanged || changed
	}

	if c.GuaranteeDuration != nil && item.GuaranteeDuration != *c.GuaranteeDuration {
		item.GuaranteeDuration = *c.GuaranteeDuration
		guaranteeChanged = true
	}
	if setString(&item.GuaranteeUnit, c.GuaranteeUnit) {
		guaranteeChanged = true
	}
	return pathChanged || receiptChanged, receiptChanged, guaranteeChanged
}

// ApplyEdit applies changes to an item. Individual receipts follow their item
// to the new canonical path; shared receipts never move.
func (p *Placement) ApplyEdit(tx *Tx, itemID int, changes ItemChanges) (*Item, error) {
	doc := tx.Document()
	item, ok := doc.Item(itemID)
	if !ok {
		return nil, newError(KindNotFound, nil, "item %d not found", itemID)
	}
	r, ok := doc.Receipt(item.GroupID)
	if !ok {
		return nil, newError(KindNotFound, nil, "receipt %s of item %d not found", item.GroupID, itemID)
	}

	pathChanged, receiptChanged, guaranteeChanged := changes.apply(item, r)

	recompute := []*Item{}
	switch {
	case receiptChanged:
		recompute = doc.ItemsForReceipt(r.GroupID)
	case guaranteeChanged:
		recompute = []*Item{item}
	}
	for _, it := range recompute {
		end, err := guarantee.EndDate(r.PurchaseDate, it.GuaranteeDuration, guarantee.Unit(it.GuaranteeUnit))
		if err != nil {
			return nil, dateError("purchase_date", err)
		}
		it.GuaranteeEndDate = end
	}

	if pathChanged && r.PlacementMode == PlacementIndividual {
		if err := p.relocate(tx, r, item); err != nil {
			return nil, err
		}
	}
	return item, nil
}

// relocate moves an individual receipt to the canonical path for item
func (p *Placement) relocate(tx *Tx, r *Receipt, item *Item) error {
	from := r.RelativePath
	target := p.paths.Build(r, item, path.Ext(r.Filename))
	if target.RelativePath() == from {
		return nil
	}
	if target.Truncated {
		slog.Warn("Receipt file name truncated", "receipt_group_id", r.GroupID, "path", target.RelativePath())
	}

	placed, err := p.paths.Candidates(target, func(c Target) (bool, error) {
		if c.RelativePath() == from {
			return true, nil
		}
		exists, err := p.storage.Exists(c.RelativePath())
		if err != nil {
			return false, newError(KindStorage, err, "checking %s", c.RelativePath())
		}
		return !exists, nil
	})
	if err != nil {
		return err
	}
	to := placed.RelativePath()
	if to == from {
		return nil
	}

	move := relocation{placement: p, from: from, to: to}
	if err := move.apply(tx); err != nil {
		return err
	}

	r.Filename = placed.Filename()
	r.RelativePath = to
	for _, it := range tx.Document().ItemsForReceipt(r.GroupID) {
		it.RelativePath = to
	}
	slog.Info("Receipt moved", "receipt_group_id", r.GroupID, "from", from, "to", to)
	return nil
}

// relocation is one file move bound to a transaction: the rename happens now,
// is reverted if the document cannot be saved, and the emptied source
// directory is cleaned up once the save succeeds.
type relocation struct {
	placement *Placement
	from      string
	to        string
}

func (m relocation) apply(tx *Tx) error {
	if err := m.placement.storage.Move(m.from, m.to); err != nil {
		return newError(KindStorage, err, "moving %s to %s", m.from, m.to)
	}
	tx.OnRollback(func() error {
		return m.placement.storage.Move(m.to, m.from)
	})
	tx.OnCommit(func() {
		m.placement.removeEmptyDir(path.Dir(m.from))
	})
	return nil
}

// DeleteItem removes an item. The receipt and its file go with the last item
// referencing them; a file that is already missing does not block deletion.
func (p *Placement) DeleteItem(tx *Tx, itemID int) error {
	doc := tx.Document()
	item, ok := doc.Item(itemID)
	if !ok {
		return newError(KindNotFound, nil, "item %d not found", itemID)
	}
	if err := doc.DeleteItem(itemID); err != nil {
		return newError(KindNotFound, err, "deleting item %d", itemID)
	}
	doc.IntegrityIssues = slices.DeleteFunc(doc.IntegrityIssues, func(issue IntegrityIssue) bool {
		return issue.ItemID == itemID
	})

	if remaining := len(doc.ItemsForReceipt(item.GroupID)); remaining > 0 {
		slog.Info("Receipt kept for remaining items", "receipt_group_id", item.GroupID, "remaining", remaining)
		return nil
	}

	r, ok := doc.Receipt(item.GroupID)
	if !ok {
		return nil
	}
	if err := doc.DeleteReceipt(r.GroupID); err != nil {
		return newError(KindNotFound, err, "deleting receipt %s", r.GroupID)
	}
	if r.RelativePath == "" {
		return nil
	}

	exists, err := p.storage.Exists(r.RelativePath)
	if err != nil {
		return newError(KindStorage, err, "checking %s", r.RelativePath)
	}
	if !exists {
		slog.Warn("Receipt file already missing", "receipt_group_id", r.GroupID, "path", r.RelativePath)
		return nil
	}

	return p.trash(tx, r.RelativePath)
}

// trash hides rel under a temporary sibling name until the transaction commits
func (p *Placement) trash(tx *Tx, rel string) error {
	hidden := path.Join(path.Dir(rel), ".deleting-"+p.idGenerator.Generate()+"-"+path.Base(rel))
	if err := p.storage.Move(rel, hidden); err != nil {
		return newError(KindStorage, err, "deleting %s", rel)
	}
	tx.OnRollback(func() error {
		return p.storage.Move(hidden, rel)
	})
	tx.OnCommit(func() {
		if err := p.storage.Delete(hidden); err != nil {
			slog.Error("Failed to delete receipt file", "path", hidden, "error", err)
			return
		}
		p.removeEmptyDir(path.Dir(rel))
	})
	return nil
}

func (p *Placement) removeEmptyDir(dir string) {
	if dir == "." || dir == "" || dir == SharedDir {
		return
	}
	removed, err := p.storage.RemoveDirIfEmpty(dir)
	if err != nil {
		slog.Warn("Failed to remove directory", "dir", dir, "error", err)
		return
	}
	if removed {
		slog.Info("Removed empty directory", "dir", dir)
	}
}
