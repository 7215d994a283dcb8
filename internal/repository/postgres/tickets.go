package postgresrepo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/kirinyoku/tixledger/internal/domain"
	"github.com/kirinyoku/tixledger/internal/repository"
)

const ticketColumns = `id, event_id, owner, price, for_sale, is_resale`

type TicketRepo struct {
	db DB
}

func (r *TicketRepo) Get(ctx context.Context, id uint32) (*domain.Ticket, error) {
	const op = "postgresrepo.TicketRepo.Get"

	rows, err := r.db.Query(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE id = $1`,
		id,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	t, err := pgx.CollectExactlyOneRow(rows, scanTicket)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return &t, nil
}

func (r *TicketRepo) Create(ctx context.Context, t domain.Ticket) error {
	const op = "postgresrepo.TicketRepo.Create"

	_, err := r.db.Exec(ctx,
		`INSERT INTO tickets(`+ticketColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		t.ID, t.EventID, string(t.Owner), t.Price, t.ForSale, t.IsResale,
	)

	return wrapDBErr(op, err)
}

func (r *TicketRepo) Update(ctx context.Context, t domain.Ticket) error {
	const op = "postgresrepo.TicketRepo.Update"

	tag, err := r.db.Exec(ctx,
		`UPDATE tickets
		 SET owner = $2, price = $3, for_sale = $4, is_resale = $5, updated_at = now()
		 WHERE id = $1`,
		t.ID, string(t.Owner), t.Price, t.ForSale, t.IsResale,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, repository.ErrNotFound)
	}

	return nil
}

func (r *TicketRepo) ListResale(ctx context.Context) ([]domain.Ticket, error) {
	const op = "postgresrepo.TicketRepo.ListResale"

	return r.list(ctx, op,
		`SELECT `+ticketColumns+`
		 FROM tickets
		 WHERE for_sale AND is_resale
		   AND id < (SELECT ticket_count FROM registry WHERE id = 1)
		 ORDER BY id`,
	)
}

func (r *TicketRepo) ListByEvent(ctx context.Context, eventID uint32) ([]domain.Ticket, error) {
	const op = "postgresrepo.TicketRepo.ListByEvent"

	return r.list(ctx, op,
		`SELECT `+ticketColumns+`
		 FROM tickets
		 WHERE event_id = $1
		   AND id < (SELECT ticket_count FROM registry WHERE id = 1)
		 ORDER BY id`,
		eventID,
	)
}

func (r *TicketRepo) list(ctx context.Context, op, sql string, args ...any) ([]domain.Ticket, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	tickets, err := pgx.CollectRows(rows, scanTicket)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	if tickets == nil {
		tickets = []domain.Ticket{}
	}

	return tickets, nil
}

func scanTicket(row pgx.CollectableRow) (domain.Ticket, error) {
	var (
		t     domain.Ticket
		owner string
	)
	err := row.Scan(&t.ID, &t.EventID, &owner, &t.Price, &t.ForSale, &t.IsResale)
	t.Owner = domain.Identity(owner)

	return t, err
}
