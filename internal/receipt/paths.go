package receipt

import (
	"fmt"
	"path"
	"strings"

	"github.com/zombor/warranty-tracker/internal/guarantee"
)

// SharedDir holds the files of receipts covering several items
const SharedDir = "_Receipts"

// maxCollisionAttempts bounds the -2, -3, ... disambiguation loop
const maxCollisionAttempts = 1000

const (
	dirSegmentLength     = 50
	sharedSegmentLength  = 40
	productSegmentLength = 30
	detailSegmentLength  = 20
	userSegmentLength    = 15
)

// Target is a storage location relative to the storage root
type Target struct {
	Dir       string
	Base      string
	Ext       string
	Truncated bool
}

// Filename returns the base name with its extension
func (t Target) Filename() string {
	return t.Base + t.Ext
}

// RelativePath returns the slash-separated path stored in the document
func (t Target) RelativePath() string {
	return path.Join(t.Dir, t.Filename())
}

// PathBuilder derives canonical storage locations from receipt and item metadata
type PathBuilder struct {
	maxLength   int
	maxAttempts int
}

// NewPathBuilder creates a PathBuilder with the default limits
func NewPathBuilder() *PathBuilder {
	return &PathBuilder{
		maxLength:   DefaultMaxLength,
		maxAttempts: maxCollisionAttempts,
	}
}

// segmenter sanitizes parts and remembers whether any was truncated
type segmenter struct {
	truncated bool
}

func (s *segmenter) part(text string, maxLength int) string {
	out, truncated := Sanitize(text, maxLength)
	s.truncated = s.truncated || truncated
	return out
}

// Build computes the canonical target for a receipt. Shared receipts ignore item.
func (b *PathBuilder) Build(r *Receipt, item *Item, ext string) Target {
	if r.PlacementMode == PlacementShared {
		return b.sharedTarget(r, ext)
	}
	if item == nil {
		item = &Item{}
	}
	return b.individualTarget(r, item, ext)
}

func (b *PathBuilder) sharedTarget(r *Receipt, ext string) Target {
	var seg segmenter
	groupID := seg.part(r.GroupID, detailSegmentLength)
	prefix := strings.Join([]string{
		seg.part(r.Shop, sharedSegmentLength),
		seg.part(guarantee.Compact(r.PurchaseDate), detailSegmentLength),
		seg.part(r.Documentation, sharedSegmentLength),
	}, "-")

	// the group id keeps shared names unique, so it survives truncation
	if allowed := b.maxLength - len(ext) - len(groupID) - 1; len(prefix) > allowed {
		prefix = trimSegment(truncateBytes(prefix, allowed))
		seg.truncated = true
	}

	return Target{
		Dir:       SharedDir,
		Base:      prefix + "-" + groupID,
		Ext:       ext,
		Truncated: seg.truncated,
	}
}

func (b *PathBuilder) individualTarget(r *Receipt, item *Item, ext string) Target {
	var seg segmenter

	dir := item.Brand
	if project := strings.TrimSpace(item.Project); project != "" && project != NotAvailable {
		dir = project
	}

	users := "NoUser"
	if len(item.Users) > 0 {
		parts := make([]string, 0, len(item.Users))
		for _, u := range item.Users {
			parts = append(parts, seg.part(u, userSegmentLength))
		}
		users = strings.Join(parts, "-")
	}

	base := strings.Join([]string{
		seg.part(item.Brand, productSegmentLength),
		seg.part(item.Model, productSegmentLength),
		seg.part(guarantee.Compact(r.PurchaseDate), detailSegmentLength),
		seg.part(r.Shop, detailSegmentLength),
		seg.part(item.Location, detailSegmentLength),
		users,
		seg.part(r.Documentation, detailSegmentLength),
	}, "-")

	if allowed := b.maxLength - len(ext); len(base) > allowed {
		base = trimSegment(truncateBytes(base, allowed))
		seg.truncated = true
	}

	return Target{
		Dir:       seg.part(dir, dirSegmentLength),
		Base:      base,
		Ext:       ext,
		Truncated: seg.truncated,
	}
}

// withSuffix returns the n-th disambiguated variant of t (n >= 2)
func (b *PathBuilder) withSuffix(t Target, n int) Target {
	suffix := fmt.Sprintf("-%d", n)
	base := t.Base
	if allowed := b.maxLength - len(t.Ext) - len(suffix); len(base) > allowed {
		base = trimSegment(truncateBytes(base, allowed))
		t.Truncated = true
	}
	t.Base = base + suffix
	return t
}

// Candidates calls try with t and then its -2, -3, ... variants until try
// reports the candidate as used (true) or fails. It returns the accepted
// candidate, or a collision_exhausted error after maxAttempts tries.
func (b *PathBuilder) Candidates(t Target, try func(Target) (bool, error)) (Target, error) {
	for n := 1; n <= b.maxAttempts; n++ {
		candidate := t
		if n > 1 {
			candidate = b.withSuffix(t, n)
		}
		ok, err := try(candidate)
		if err != nil {
			return Target{}, err
		}
		if ok {
			return candidate, nil
		}
	}
	return Target{}, newError(KindCollisionExhausted, nil,
		"no free name for %s after %d attempts", t.RelativePath(), b.maxAttempts)
}
