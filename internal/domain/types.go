package domain

// Identity names a principal (organizer, owner, buyer) or a payment asset.
type Identity string

func (i Identity) String() string { return string(i) }

// Registry is the marketplace-wide configuration. Organizer and Asset are set
// once at initialization; TicketCount only grows.
type Registry struct {
	Organizer   Identity `json:"organizer"`
	Asset       Identity `json:"asset"`
	TicketCount uint32   `json:"ticket_count"`
}

type Ticket struct {
	ID       uint32   `json:"id"`
	EventID  uint32   `json:"event_id"`
	Owner    Identity `json:"owner"`
	Price    int64    `json:"price"`
	ForSale  bool     `json:"for_sale"`
	IsResale bool     `json:"is_resale"`
}

// Listed reports whether the ticket can currently be purchased.
func (t Ticket) Listed() bool {
	return t.ForSale
}

type TransferKind string

const (
	TransferPrimary    TransferKind = "primary"
	TransferCommission TransferKind = "commission"
	TransferSeller     TransferKind = "seller"
)

// Transfer is a single movement of the payment asset between two identities.
type Transfer struct {
	Kind   TransferKind `json:"kind"`
	From   Identity     `json:"from"`
	To     Identity     `json:"to"`
	Amount int64        `json:"amount"`
}

// Receipt describes a completed purchase.
type Receipt struct {
	Ticket    Ticket     `json:"ticket"`
	Seller    Identity   `json:"seller"`
	Asset     Identity   `json:"asset"`
	Transfers []Transfer `json:"transfers"`
}
