package httpgin

import "github.com/kirinyoku/tixledger/internal/domain"

type InitializeRequest struct {
	Organizer string `json:"organizer" binding:"required"`
	Asset     string `json:"asset" binding:"required"`
}

// Pointer fields let zero values pass the required check.
type MintRequest struct {
	EventID *uint32 `json:"event_id" binding:"required"`
	Price   *int64  `json:"price" binding:"required"`
}

type ListForResaleRequest struct {
	Price *int64 `json:"price" binding:"required"`
}

// PurchaseRequest names the buyer. An empty buyer defaults to the
// authenticated principal.
type PurchaseRequest struct {
	Buyer string `json:"buyer"`
}

type DepositRequest struct {
	Asset   string `json:"asset"`
	Account string `json:"account" binding:"required"`
	Amount  int64  `json:"amount" binding:"required"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type MintResponse struct {
	ID uint32 `json:"id"`
}

type OwnerResponse struct {
	TicketID uint32          `json:"ticket_id"`
	Owner    domain.Identity `json:"owner"`
}

type BalanceResponse struct {
	Asset   domain.Identity `json:"asset"`
	Account domain.Identity `json:"account"`
	Amount  int64           `json:"amount"`
}
