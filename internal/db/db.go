package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xtrntr/factoring/internal/apperr"
	"github.com/xtrntr/factoring/internal/models"
)

const (
	userColumns    = "id, name, company_name, role, status, avatar_url, budget, appeal_point, registered_at"
	invoiceColumns = "id, seller_id, amount, due_date, industry, company_size, company_credit, requested_amount, " +
		"evidence_url, evidence_name, status, version, created_at, updated_at"
	dealColumns    = "id, invoice_id, buyer_id, seller_id, status, initial_offer_amount, current_amount, started_at, last_activity_at"
	messageColumns = "id, deal_id, sender_id, receiver_id, content, created_at"
)

// querier is satisfied by both the pool and an open transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// DB wraps a PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
	q    querier
	inTx bool
}

var _ Store = (*DB)(nil)

// NewDB initializes a new database connection pool
func NewDB(ctx context.Context, connString string) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStoreUnavailable, "failed to create connection pool", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, apperr.Wrap(apperr.KindStoreUnavailable, "failed to reach database", err)
	}

	return &DB{Pool: pool, q: pool}, nil
}

// Close closes the database connection pool
func (db *DB) Close() {
	db.Pool.Close()
}

// Tx runs fn inside a single database transaction.
func (db *DB) Tx(ctx context.Context, fn func(tx Store) error) error {
	if db.inTx {
		return fn(db)
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return apperr.Wrap(apperr.KindStoreUnavailable, "failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&DB{Pool: db.Pool, q: tx, inTx: true}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return translate(err, "failed to commit transaction")
	}
	return nil
}

// CreateUser inserts a new user
func (db *DB) CreateUser(ctx context.Context, user *models.User) error {
	prepareUser(user)
	_, err := db.q.Exec(ctx,
		"INSERT INTO users ("+userColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)",
		user.ID, user.Name, user.CompanyName, user.Role, user.Status, user.AvatarURL, user.Budget, user.AppealPoint, user.RegisteredAt)
	if err != nil {
		return translate(err, "failed to create user")
	}
	return nil
}

// GetUser retrieves a user by id
func (db *DB) GetUser(ctx context.Context, id string) (*models.User, error) {
	user, err := scanUser(db.q.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1", id))
	if err != nil {
		return nil, notFoundOr(err, "user", id, "failed to get user")
	}
	return user, nil
}

// ListUsers returns every user ordered by registration
func (db *DB) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := db.q.Query(ctx, "SELECT "+userColumns+" FROM users ORDER BY registered_at ASC, id ASC")
	if err != nil {
		return nil, translate(err, "failed to list users")
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, translate(err, "failed to scan user")
		}
		users = append(users, *user)
	}
	if err := rows.Err(); err != nil {
		return nil, translate(err, "failed to list users")
	}
	return users, nil
}

// UpdateUserProfile rewrites the editable profile fields
func (db *DB) UpdateUserProfile(ctx context.Context, user *models.User) error {
	tag, err := db.q.Exec(ctx,
		"UPDATE users SET name = $1, company_name = $2, avatar_url = $3, budget = $4, appeal_point = $5 WHERE id = $6",
		user.Name, user.CompanyName, user.AvatarURL, user.Budget, user.AppealPoint, user.ID)
	if err != nil {
		return translate(err, "failed to update user")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("user", user.ID)
	}
	return nil
}

// UpdateUserStatus sets a user's operational status
func (db *DB) UpdateUserStatus(ctx context.Context, id string, status models.UserStatus) error {
	tag, err := db.q.Exec(ctx, "UPDATE users SET status = $1 WHERE id = $2", status, id)
	if err != nil {
		return translate(err, "failed to update user status")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("user", id)
	}
	return nil
}

// CountUsers counts users with the given status, or all users when status is empty
func (db *DB) CountUsers(ctx context.Context, status models.UserStatus) (int, error) {
	var n int
	err := db.q.QueryRow(ctx,
		"SELECT count(*) FROM users WHERE $1 = '' OR status = $1", string(status)).Scan(&n)
	if err != nil {
		return 0, translate(err, "failed to count users")
	}
	return n, nil
}

// CreateInvoice inserts a new invoice
func (db *DB) CreateInvoice(ctx context.Context, inv *models.Invoice) error {
	prepareInvoice(inv)
	_, err := db.q.Exec(ctx,
		"INSERT INTO invoices ("+invoiceColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)",
		inv.ID, inv.SellerID, inv.Amount, inv.DueDate, inv.Industry, inv.CompanySize, inv.CompanyCredit,
		inv.RequestedAmount, inv.EvidenceURL, inv.EvidenceName, inv.Status, inv.Version, inv.CreatedAt, inv.UpdatedAt)
	if err != nil {
		return translate(err, "failed to create invoice")
	}
	return nil
}

// GetInvoice retrieves an invoice by id
func (db *DB) GetInvoice(ctx context.Context, id string) (*models.Invoice, error) {
	inv, err := scanInvoice(db.q.QueryRow(ctx, "SELECT "+invoiceColumns+" FROM invoices WHERE id = $1", id))
	if err != nil {
		return nil, notFoundOr(err, "invoice", id, "failed to get invoice")
	}
	return inv, nil
}

// LockInvoice reads an invoice and holds a row lock until the transaction ends
func (db *DB) LockInvoice(ctx context.Context, id string, mode LockMode) (*models.Invoice, error) {
	inv, err := scanInvoice(db.q.QueryRow(ctx,
		"SELECT "+invoiceColumns+" FROM invoices WHERE id = $1 "+lockClause(mode), id))
	if err != nil {
		return nil, notFoundOr(err, "invoice", id, "failed to lock invoice")
	}
	return inv, nil
}

// ListInvoices returns invoices newest first
func (db *DB) ListInvoices(ctx context.Context, filter InvoiceFilter) ([]models.Invoice, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.SellerID != "" {
		args = append(args, filter.SellerID)
		where = append(where, fmt.Sprintf("seller_id = $%d", len(args)))
	}

	query := "SELECT " + invoiceColumns + " FROM invoices"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := db.q.Query(ctx, query, args...)
	if err != nil {
		return nil, translate(err, "failed to list invoices")
	}
	defer rows.Close()

	var invoices []models.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, translate(err, "failed to scan invoice")
		}
		invoices = append(invoices, *inv)
	}
	if err := rows.Err(); err != nil {
		return nil, translate(err, "failed to list invoices")
	}
	return invoices, nil
}

// UpdateInvoice rewrites the listing attributes of an open invoice whose
// version still matches inv.Version. On success inv.Version is bumped.
func (db *DB) UpdateInvoice(ctx context.Context, inv *models.Invoice) error {
	updatedAt := Now()
	var version int
	err := db.q.QueryRow(ctx, `
		UPDATE invoices
		SET amount = $1, due_date = $2, industry = $3, company_size = $4, company_credit = $5,
		    requested_amount = $6, evidence_url = $7, evidence_name = $8,
		    version = version + 1, updated_at = $9
		WHERE id = $10 AND version = $11 AND status = 'open'
		RETURNING version`,
		inv.Amount, inv.DueDate, inv.Industry, inv.CompanySize, inv.CompanyCredit,
		inv.RequestedAmount, inv.EvidenceURL, inv.EvidenceName, updatedAt, inv.ID, inv.Version).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return db.missingOrConflict(ctx, "invoices", "invoice", inv.ID)
	}
	if err != nil {
		return translate(err, "failed to update invoice")
	}

	inv.Version = version
	inv.UpdatedAt = updatedAt
	return nil
}

// UpdateInvoiceStatus moves an invoice from one status to another
func (db *DB) UpdateInvoiceStatus(ctx context.Context, id string, from, to models.InvoiceStatus) error {
	tag, err := db.q.Exec(ctx,
		"UPDATE invoices SET status = $1, version = version + 1, updated_at = $2 WHERE id = $3 AND status = $4",
		to, Now(), id, from)
	if err != nil {
		return translate(err, "failed to update invoice status")
	}
	if tag.RowsAffected() == 0 {
		return db.missingOrConflict(ctx, "invoices", "invoice", id)
	}
	return nil
}

// CreateDeal inserts a new deal
func (db *DB) CreateDeal(ctx context.Context, deal *models.Deal) error {
	prepareDeal(deal)
	_, err := db.q.Exec(ctx,
		"INSERT INTO deals ("+dealColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)",
		deal.ID, deal.InvoiceID, deal.BuyerID, deal.SellerID, deal.Status,
		deal.InitialOfferAmount, deal.CurrentAmount, deal.StartedAt, deal.LastActivityAt)
	if err != nil {
		if constraintOf(err) == "deals_invoice_buyer_live_idx" {
			return apperr.Wrap(apperr.KindDuplicateOffer, "buyer already has an offer on this invoice", err)
		}
		return translate(err, "failed to create deal")
	}
	return nil
}

// GetDeal retrieves a deal by id
func (db *DB) GetDeal(ctx context.Context, id string) (*models.Deal, error) {
	deal, err := scanDeal(db.q.QueryRow(ctx, "SELECT "+dealColumns+" FROM deals WHERE id = $1", id))
	if err != nil {
		return nil, notFoundOr(err, "deal", id, "failed to get deal")
	}
	return deal, nil
}

// LockDeal reads a deal and holds it for update until the transaction ends
func (db *DB) LockDeal(ctx context.Context, id string) (*models.Deal, error) {
	deal, err := scanDeal(db.q.QueryRow(ctx,
		"SELECT "+dealColumns+" FROM deals WHERE id = $1 "+lockClause(LockUpdate), id))
	if err != nil {
		return nil, notFoundOr(err, "deal", id, "failed to lock deal")
	}
	return deal, nil
}

// ListDeals returns deals oldest first
func (db *DB) ListDeals(ctx context.Context, filter DealFilter) ([]models.Deal, error) {
	var (
		where []string
		args  []any
	)
	add := func(column string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if filter.InvoiceID != "" {
		add("invoice_id", filter.InvoiceID)
	}
	if filter.BuyerID != "" {
		add("buyer_id", filter.BuyerID)
	}
	if filter.SellerID != "" {
		add("seller_id", filter.SellerID)
	}
	if filter.Status != "" {
		add("status", filter.Status)
	}

	query := "SELECT " + dealColumns + " FROM deals"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at ASC, id ASC"

	rows, err := db.q.Query(ctx, query, args...)
	if err != nil {
		return nil, translate(err, "failed to list deals")
	}
	defer rows.Close()

	var deals []models.Deal
	for rows.Next() {
		deal, err := scanDeal(rows)
		if err != nil {
			return nil, translate(err, "failed to scan deal")
		}
		deals = append(deals, *deal)
	}
	if err := rows.Err(); err != nil {
		return nil, translate(err, "failed to list deals")
	}
	return deals, nil
}

// UpdateDealStatus moves a deal from one status to another
func (db *DB) UpdateDealStatus(ctx context.Context, id string, from, to models.DealStatus, at time.Time) error {
	tag, err := db.q.Exec(ctx,
		"UPDATE deals SET status = $1, last_activity_at = GREATEST(last_activity_at, $2) WHERE id = $3 AND status = $4",
		to, at, id, from)
	if err != nil {
		return translate(err, "failed to update deal status")
	}
	if tag.RowsAffected() == 0 {
		return db.missingOrConflict(ctx, "deals", "deal", id)
	}
	return nil
}

// TouchDeal advances a deal's last activity time
func (db *DB) TouchDeal(ctx context.Context, id string, at time.Time) error {
	tag, err := db.q.Exec(ctx,
		"UPDATE deals SET last_activity_at = GREATEST(last_activity_at, $1) WHERE id = $2", at, id)
	if err != nil {
		return translate(err, "failed to touch deal")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("deal", id)
	}
	return nil
}

// CreateMessage inserts a new message
func (db *DB) CreateMessage(ctx context.Context, msg *models.Message) error {
	prepareMessage(msg)
	_, err := db.q.Exec(ctx,
		"INSERT INTO messages ("+messageColumns+") VALUES ($1, $2, $3, $4, $5, $6)",
		msg.ID, msg.DealID, msg.SenderID, msg.ReceiverID, msg.Content, msg.Timestamp)
	if err != nil {
		if constraintOf(err) == "messages_deal_id_fkey" {
			return apperr.NotFound("deal", msg.DealID)
		}
		return translate(err, "failed to create message")
	}
	return nil
}

// ListMessages returns a deal's messages in timestamp order
func (db *DB) ListMessages(ctx context.Context, dealID string) ([]models.Message, error) {
	rows, err := db.q.Query(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE deal_id = $1 ORDER BY created_at ASC, id ASC", dealID)
	if err != nil {
		return nil, translate(err, "failed to list messages")
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.DealID, &m.SenderID, &m.ReceiverID, &m.Content, &m.Timestamp); err != nil {
			return nil, translate(err, "failed to scan message")
		}
		m.Timestamp = m.Timestamp.UTC()
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, translate(err, "failed to list messages")
	}
	return msgs, nil
}

// missingOrConflict tells a missing row apart from one in an unexpected state
// after a conditional write touched nothing.
func (db *DB) missingOrConflict(ctx context.Context, table, entity, id string) error {
	var exists bool
	err := db.q.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM "+table+" WHERE id = $1)", id).Scan(&exists)
	if err != nil {
		return translate(err, "failed to check "+entity+" existence")
	}
	if !exists {
		return apperr.NotFound(entity, id)
	}
	return apperr.Newf(apperr.KindConflict, "%s %s changed concurrently", entity, id)
}

func lockClause(mode LockMode) string {
	if mode == LockShare {
		return "FOR SHARE"
	}
	return "FOR UPDATE"
}

func scanUser(row scanner) (*models.User, error) {
	u := &models.User{}
	err := row.Scan(&u.ID, &u.Name, &u.CompanyName, &u.Role, &u.Status, &u.AvatarURL, &u.Budget, &u.AppealPoint, &u.RegisteredAt)
	if err != nil {
		return nil, err
	}
	u.RegisteredAt = u.RegisteredAt.UTC()
	return u, nil
}

func scanInvoice(row scanner) (*models.Invoice, error) {
	inv := &models.Invoice{}
	err := row.Scan(&inv.ID, &inv.SellerID, &inv.Amount, &inv.DueDate, &inv.Industry, &inv.CompanySize, &inv.CompanyCredit,
		&inv.RequestedAmount, &inv.EvidenceURL, &inv.EvidenceName, &inv.Status, &inv.Version, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return nil, err
	}
	inv.CreatedAt = inv.CreatedAt.UTC()
	inv.UpdatedAt = inv.UpdatedAt.UTC()
	return inv, nil
}

func scanDeal(row scanner) (*models.Deal, error) {
	d := &models.Deal{}
	err := row.Scan(&d.ID, &d.InvoiceID, &d.BuyerID, &d.SellerID, &d.Status,
		&d.InitialOfferAmount, &d.CurrentAmount, &d.StartedAt, &d.LastActivityAt)
	if err != nil {
		return nil, err
	}
	d.StartedAt = d.StartedAt.UTC()
	d.LastActivityAt = d.LastActivityAt.UTC()
	return d, nil
}

func notFoundOr(err error, entity, id, message string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound(entity, id)
	}
	return translate(err, message)
}

func constraintOf(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName
	}
	return ""
}

// translate maps driver errors onto the core's error kinds.
func translate(err error, message string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505", "40001", "40P01":
			// unique violation, serialization failure, deadlock
			return apperr.Wrap(apperr.KindConflict, message, err)
		case "23503":
			return apperr.Wrap(apperr.KindNotFound, message, err)
		case "23514", "22P02":
			return apperr.Wrap(apperr.KindValidation, message, err)
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return apperr.Wrap(apperr.KindStoreUnavailable, message, err)
}
