package sharing

import "github.com/vyrodovalexey/wishlist-sync/internal/model"

// Mode is how the current user sees a list.
type Mode int

// View modes.
const (
	ModeNone Mode = iota
	ModeOwner
	ModeGuest
)

func (m Mode) String() string {
	switch m {
	case ModeOwner:
		return "owner"
	case ModeGuest:
		return "guest"
	default:
		return "none"
	}
}

// ModeFor returns the view mode of me on list. A nil list has no mode.
func ModeFor(list *model.WishList, me string) Mode {
	switch {
	case list == nil || me == "":
		return ModeNone
	case list.IsOwnedBy(me):
		return ModeOwner
	default:
		return ModeGuest
	}
}

// Permissions lists the actions available in a view.
type Permissions struct {
	AddItems          bool
	EditItems         bool
	DeleteItems       bool
	DeleteList        bool
	ShareList         bool
	ToggleReservation bool
	Unfollow          bool
}

// Permissions returns the actions allowed in mode m.
func (m Mode) Permissions() Permissions {
	switch m {
	case ModeOwner:
		return Permissions{
			AddItems:    true,
			EditItems:   true,
			DeleteItems: true,
			DeleteList:  true,
			ShareList:   true,
		}
	case ModeGuest:
		return Permissions{
			ToggleReservation: true,
			Unfollow:          true,
		}
	default:
		return Permissions{}
	}
}

// Status is the reservation state of an item as a guest sees it.
type Status string

// Guest statuses.
const (
	StatusAvailable       Status = "available"
	StatusReservedByYou   Status = "reserved_by_you"
	StatusReservedByOther Status = "reserved_by_other"
)

// Label is the text shown for s.
func (s Status) Label() string {
	switch s {
	case StatusAvailable:
		return "Available"
	case StatusReservedByYou:
		return "Reserved by you"
	case StatusReservedByOther:
		return "Already reserved"
	default:
		return ""
	}
}

// ItemView is an item filtered for one viewer. It never carries the reserver.
type ItemView struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Link      string `json:"link,omitempty"`
	Reserved  bool   `json:"reserved"`
	Status    Status `json:"status,omitempty"`
	CanToggle bool   `json:"canToggle"`
}

// ProjectItems filters items for me in mode. Owners see whether an item is
// reserved but not by whom; guests additionally get their own status and
// whether they may toggle it.
func ProjectItems(mode Mode, items []model.WishItem, me string) []ItemView {
	views := make([]ItemView, 0, len(items))
	for i := range items {
		item := &items[i]
		view := ItemView{
			ID:       item.ID,
			Name:     item.Name,
			Link:     item.Link,
			Reserved: item.IsReserved,
		}

		if mode == ModeGuest {
			switch {
			case !item.IsReserved:
				view.Status = StatusAvailable
				view.CanToggle = true
			case item.IsReservedBy(me):
				view.Status = StatusReservedByYou
				view.CanToggle = true
			default:
				view.Status = StatusReservedByOther
			}
		}

		views = append(views, view)
	}
	return views
}

// ToggleFeedback is the confirmation shown after a toggle produced next.
func ToggleFeedback(next model.WishItem) string {
	if next.IsReserved {
		return "Reserved!"
	}
	return "Reservation cancelled"
}
