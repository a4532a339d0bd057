package receipt

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
)

// NotAvailable is the sentinel stored for blank free-text fields
const NotAvailable = "N/A"

// MaxUsers is the maximum number of user tags on an item
const MaxUsers = 8

// PlacementMode records where a receipt file lives; it is fixed when the receipt is created
type PlacementMode string

const (
	// PlacementShared receipts cover several items and live in the shared directory; they are never renamed.
	PlacementShared PlacementMode = "shared"
	// PlacementIndividual receipts cover one item and follow that item's metadata on edit.
	PlacementIndividual PlacementMode = "individual"
)

// ModeForQuantity classifies an upload by its declared quantity
func ModeForQuantity(quantity int) PlacementMode {
	if quantity > 1 {
		return PlacementShared
	}
	return PlacementIndividual
}

// Receipt represents one physical receipt document
type Receipt struct {
	GroupID       string        `json:"receipt_group_id"`
	Shop          string        `json:"shop"`
	PurchaseDate  string        `json:"purchase_date"`
	Documentation string        `json:"documentation"`
	Filename      string        `json:"receipt_filename"`
	RelativePath  string        `json:"receipt_relative_path"`
	PlacementMode PlacementMode `json:"placement_mode"`
}

// Item represents one warrantied good covered by a receipt
type Item struct {
	ID                int      `json:"id"`
	GroupID           string   `json:"receipt_group_id"`
	Brand             string   `json:"brand"`
	Model             string   `json:"model"`
	Location          string   `json:"location"`
	Users             []string `json:"users"`
	Project           string   `json:"project"`
	GuaranteeDuration int      `json:"guarantee_duration"`
	GuaranteeUnit     string   `json:"guarantee_unit"`
	GuaranteeEndDate  string   `json:"guarantee_end_date"`
	RelativePath      string   `json:"receipt_relative_path"`
}

// IntegrityIssue reports an item whose receipt file is missing
type IntegrityIssue struct {
	ItemID       int       `json:"item_id"`
	GroupID      string    `json:"receipt_group_id,omitempty"`
	ExpectedPath string    `json:"expected_path"`
	DetectedAt   time.Time `json:"detected_at"`
}

// Document is the root aggregate persisted as data.json
type Document struct {
	Receipts        []*Receipt       `json:"receipts"`
	Items           []*Item          `json:"items"`
	NextID          int              `json:"next_id"`
	IntegrityIssues []IntegrityIssue `json:"integrity_issues"`
}

// NewDocument returns an empty document
func NewDocument() *Document {
	return &Document{
		Receipts:        []*Receipt{},
		Items:           []*Item{},
		NextID:          1,
		IntegrityIssues: []IntegrityIssue{},
	}
}

// Clone returns a deep copy of the document
func (d *Document) Clone() *Document {
	c := &Document{
		Receipts:        make([]*Receipt, 0, len(d.Receipts)),
		Items:           make([]*Item, 0, len(d.Items)),
		NextID:          d.NextID,
		IntegrityIssues: slices.Clone(d.IntegrityIssues),
	}
	if c.IntegrityIssues == nil {
		c.IntegrityIssues = []IntegrityIssue{}
	}
	for _, r := range d.Receipts {
		cp := *r
		c.Receipts = append(c.Receipts, &cp)
	}
	for _, it := range d.Items {
		c.Items = append(c.Items, it.clone())
	}
	return c
}

func (it *Item) clone() *Item {
	cp := *it
	cp.Users = slices.Clone(it.Users)
	if cp.Users == nil {
		cp.Users = []string{}
	}
	return &cp
}

// AllocateID returns the next item id and advances the counter
func (d *Document) AllocateID() int {
	id := d.NextID
	d.NextID++
	return id
}

var groupIDPattern = regexp.MustCompile(`^RG-(\d+)$`)

// NextReceiptGroupID returns the group id following the highest one in use
func (d *Document) NextReceiptGroupID() string {
	highest := 0
	for _, r := range d.Receipts {
		m := groupIDPattern.FindStringSubmatch(r.GroupID)
		if m == nil {
			continue
		}
		if n, err := strconv.Atoi(m[1]); err == nil && n > highest {
			highest = n
		}
	}
	return fmt.Sprintf("RG-%04d", highest+1)
}

// Receipt finds a receipt by group id
func (d *Document) Receipt(groupID string) (*Receipt, bool) {
	for _, r := range d.Receipts {
		if r.GroupID == groupID {
			return r, true
		}
	}
	return nil, false
}

// Item finds an item by id
func (d *Document) Item(id int) (*Item, bool) {
	for _, it := range d.Items {
		if it.ID == id {
			return it, true
		}
	}
	return nil, false
}

// ItemsForReceipt returns the items referencing a receipt group
func (d *Document) ItemsForReceipt(groupID string) []*Item {
	var items []*Item
	for _, it := range d.Items {
		if it.GroupID == groupID {
			items = append(items, it)
		}
	}
	return items
}

// AddReceipt appends a receipt
func (d *Document) AddReceipt(r *Receipt) error {
	if _, ok := d.Receipt(r.GroupID); ok {
		return fmt.Errorf("receipt %s already exists", r.GroupID)
	}
	d.Receipts = append(d.Receipts, r)
	return nil
}

// AddItem appends an item whose receipt must already be present
func (d *Document) AddItem(it *Item) error {
	if _, ok := d.Receipt(it.GroupID); !ok {
		return fmt.Errorf("item %d references unknown receipt %s", it.ID, it.GroupID)
	}
	if _, ok := d.Item(it.ID); ok {
		return fmt.Errorf("item %d already exists", it.ID)
	}
	if it.ID >= d.NextID {
		d.NextID = it.ID + 1
	}
	d.Items = append(d.Items, it)
	return nil
}

// DeleteItem removes an item
func (d *Document) DeleteItem(id int) error {
	for i, it := range d.Items {
		if it.ID == id {
			d.Items = slices.Delete(d.Items, i, i+1)
			return nil
		}
	}
	return fmt.Errorf("item not found: %d", id)
}

// DeleteReceipt removes a receipt
func (d *Document) DeleteReceipt(groupID string) error {
	for i, r := range d.Receipts {
		if r.GroupID == groupID {
			d.Receipts = slices.Delete(d.Receipts, i, i+1)
			return nil
		}
	}
	return fmt.Errorf("receipt not found: %s", groupID)
}

// HasIntegrityIssue reports whether an item is flagged by the last integrity pass
func (d *Document) HasIntegrityIssue(itemID int) bool {
	for _, issue := range d.IntegrityIssues {
		if issue.ItemID == itemID {
			return true
		}
	}
	return false
}

// Validate checks the structural invariants of the document
func (d *Document) Validate() error {
	groups := make(map[string]bool, len(d.Receipts))
	for _, r := range d.Receipts {
		if r.GroupID == "" {
			return fmt.Errorf("receipt without receipt_group_id")
		}
		if groups[r.GroupID] {
			return fmt.Errorf("duplicate receipt_group_id %s", r.GroupID)
		}
		groups[r.GroupID] = true
	}

	ids := make(map[int]bool, len(d.Items))
	for _, it := range d.Items {
		if ids[it.ID] {
			return fmt.Errorf("duplicate item id %d", it.ID)
		}
		ids[it.ID] = true
		if !groups[it.GroupID] {
			return fmt.Errorf("item %d references unknown receipt %s", it.ID, it.GroupID)
		}
		if len(it.Users) > MaxUsers {
			return fmt.Errorf("item %d has %d users, maximum is %d", it.ID, len(it.Users), MaxUsers)
		}
	}
	return nil
}

// normalize fills defaults for documents written by older versions: missing
// next_id, nil slices, blank guarantee units and the placement mode of each receipt.
func (d *Document) normalize() {
	if d.Receipts == nil {
		d.Receipts = []*Receipt{}
	}
	if d.Items == nil {
		d.Items = []*Item{}
	}
	if d.IntegrityIssues == nil {
		d.IntegrityIssues = []IntegrityIssue{}
	}

	highest := 0
	for _, it := range d.Items {
		if it.Users == nil {
			it.Users = []string{}
		}
		if it.GuaranteeUnit == "" {
			it.GuaranteeUnit = "days"
		}
		if it.ID > highest {
			highest = it.ID
		}
	}
	if d.NextID <= highest {
		d.NextID = highest + 1
	}

	for _, r := range d.Receipts {
		if r.PlacementMode != "" {
			continue
		}
		if strings.HasPrefix(r.RelativePath, SharedDir+"/") {
			r.PlacementMode = PlacementShared
		} else {
			r.PlacementMode = PlacementIndividual
		}
	}
}
