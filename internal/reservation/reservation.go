// Package reservation implements the guest-side reservation toggle.
package reservation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/vyrodovalexey/wishlist-sync/internal/model"
	"github.com/vyrodovalexey/wishlist-sync/internal/store"
)

// Mode selects how a toggle is written.
type Mode string

const (
	// ModeConditional writes the toggle only if the item still has the state
	// the guest saw. Concurrent reservations of a free item cannot both win.
	ModeConditional Mode = "conditional"

	// ModeLastWriteWins writes the toggle unconditionally; of two guests
	// reserving the same free item, the later write wins and the earlier
	// guest is silently overridden.
	ModeLastWriteWins Mode = "last-write-wins"
)

// ErrUnknownMode is returned by ParseMode.
var ErrUnknownMode = errors.New("unknown reservation mode")

// ParseMode parses a mode name. An empty string selects ModeConditional.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeConditional:
		return ModeConditional, nil
	case ModeLastWriteWins:
		return ModeLastWriteWins, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

// Writer persists reservation patches.
type Writer interface {
	WriteReservation(ctx context.Context, itemID string, patch store.ReservationPatch) error
}

// CanToggle reports whether actor may change the reservation of item: a free
// item may be reserved by anyone, a reserved one released only by its
// reserver.
func CanToggle(item model.WishItem, actor string) bool {
	return !item.IsReserved || item.IsReservedBy(actor)
}

// Next returns item with its reservation flipped on behalf of actor.
func Next(item model.WishItem, actor string) model.WishItem {
	next := item
	if item.IsReserved {
		next.IsReserved = false
		next.ReservedBy = nil
	} else {
		next.IsReserved = true
		next.ReservedBy = model.StringPtr(actor)
	}
	return next
}

// Protocol applies toggles through a Writer.
type Protocol struct {
	writes Writer
	mode   Mode
	logger *zap.Logger
}

// New creates a Protocol.
func New(writes Writer, mode Mode, logger *zap.Logger) *Protocol {
	if mode == "" {
		mode = ModeConditional
	}
	return &Protocol{
		writes: writes,
		mode:   mode,
		logger: logger,
	}
}

// Mode returns the write mode.
func (p *Protocol) Mode() Mode {
	return p.mode
}

// Toggle reserves a free item for actor or releases actor's own reservation.
// It returns the expected new state immediately; the write itself completes
// in the background and, in conditional mode, may be rejected if the item
// changed in the meantime.
func (p *Protocol) Toggle(ctx context.Context, item model.WishItem, actor string) (model.WishItem, error) {
	if strings.TrimSpace(item.ID) == "" || strings.TrimSpace(actor) == "" {
		return item, model.ErrInvalidReference
	}

	if !CanToggle(item, actor) {
		return item, model.ErrNotPermitted
	}

	next := Next(item, actor)
	patch := store.ReservationPatch{Reservation: next.Reservation()}
	if p.mode == ModeConditional {
		prior := item.Reservation()
		patch.Expect = &prior
	}

	if err := p.writes.WriteReservation(ctx, item.ID, patch); err != nil {
		return item, err
	}

	p.logger.Debug("reservation toggled",
		zap.String("item_id", item.ID),
		zap.Bool("reserved", next.IsReserved),
		zap.String("mode", string(p.mode)),
	)

	return next, nil
}
