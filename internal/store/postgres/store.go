package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vyrodovalexey/wishlist-sync/internal/changefeed"
	"github.com/vyrodovalexey/wishlist-sync/internal/model"
	"github.com/vyrodovalexey/wishlist-sync/internal/store"
)

// Table names.
const (
	tableLists = "wish_lists"
	tableItems = "wish_items"
)

// PostgreSQL error codes mapped to store errors.
const (
	codeUniqueViolation = "23505"
	codeCheckViolation  = "23514"
)

var (
	listColumns = []string{"id", "owner_id", "title", "created_at", "updated_at"}
	itemColumns = []string{"id", "list_id", "name", "link", "is_reserved", "reserved_by", "created_at", "updated_at"}

	psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
)

// Querier is the subset of pgxpool.Pool used by Store.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements store.Store on PostgreSQL. It does not publish on its
// feed itself; a Listener forwards the trigger notifications.
type Store struct {
	q    Querier
	feed *changefeed.Hub
}

// New creates a Store. feed is the hub a Listener publishes to.
func New(q Querier, feed *changefeed.Hub) *Store {
	return &Store{q: q, feed: feed}
}

// NewID allocates a new document id.
func (s *Store) NewID() string {
	return store.NewID()
}

// Feed returns the change feed.
func (s *Store) Feed() *changefeed.Hub {
	return s.feed
}

// CreateList inserts a list.
func (s *Store) CreateList(ctx context.Context, list *model.WishList) (*model.WishList, error) {
	if list == nil {
		return nil, fmt.Errorf("create list: %w", store.ErrNilDocument)
	}
	if err := list.Validate(); err != nil {
		return nil, fmt.Errorf("create list: %w", err)
	}

	id := list.ID
	if id == "" {
		id = store.NewID()
	}

	query := psql.Insert(tableLists).
		Columns("id", "owner_id", "title").
		Values(id, list.OwnerID, list.Title).
		Suffix("RETURNING " + strings.Join(listColumns, ", "))

	created, err := s.queryList(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("create list: %w", err)
	}
	return created, nil
}

// GetList fetches a list by id.
func (s *Store) GetList(ctx context.Context, id string) (*model.WishList, error) {
	if strings.TrimSpace(id) == "" {
		return nil, store.ErrInvalidID
	}

	query := psql.Select(listColumns...).
		From(tableLists).
		Where(squirrel.Eq{"id": id})

	list, err := s.queryList(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("get list: %w", err)
	}
	return list, nil
}

// QueryLists returns the lists matching q ordered by id.
func (s *Store) QueryLists(ctx context.Context, q store.ListQuery) ([]model.WishList, error) {
	if q.IsEmpty() {
		return nil, store.ErrEmptyQuery
	}

	query := psql.Select(listColumns...).From(tableLists).OrderBy("id")
	if q.OwnerID != "" {
		query = query.Where(squirrel.Eq{"owner_id": q.OwnerID})
	}
	if len(q.IDs) > 0 {
		query = query.Where(squirrel.Eq{"id": q.IDs})
	}

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.q.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query lists: %w", mapError(err))
	}
	defer rows.Close()

	lists := make([]model.WishList, 0)
	for rows.Next() {
		var l model.WishList
		if err := rows.Scan(&l.ID, &l.OwnerID, &l.Title, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan list: %w", err)
		}
		lists = append(lists, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lists: %w", mapError(err))
	}

	return lists, nil
}

// UpdateListTitle renames a list.
func (s *Store) UpdateListTitle(ctx context.Context, id, title string) (*model.WishList, error) {
	if strings.TrimSpace(id) == "" {
		return nil, store.ErrInvalidID
	}
	if err := model.ValidateTitle(title); err != nil {
		return nil, fmt.Errorf("update list: %w", err)
	}

	query := psql.Update(tableLists).
		Set("title", title).
		Set("updated_at", squirrel.Expr("now()")).
		Where(squirrel.Eq{"id": id}).
		Suffix("RETURNING " + strings.Join(listColumns, ", "))

	list, err := s.queryList(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("update list: %w", err)
	}
	return list, nil
}

// DeleteList removes a list row only.
func (s *Store) DeleteList(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return store.ErrInvalidID
	}
	return s.delete(ctx, tableLists, id)
}

// CreateItem inserts an unreserved item. The insert selects from the list
// row, so it fails with store.ErrListNotFound when the list is missing.
func (s *Store) CreateItem(ctx context.Context, item *model.WishItem) (*model.WishItem, error) {
	if item == nil {
		return nil, fmt.Errorf("create item: %w", store.ErrNilDocument)
	}
	if strings.TrimSpace(item.ListID) == "" {
		return nil, fmt.Errorf("create item: %w", store.ErrInvalidID)
	}
	if err := item.Validate(); err != nil {
		return nil, fmt.Errorf("create item: %w", err)
	}

	id := item.ID
	if id == "" {
		id = store.NewID()
	}

	source := squirrel.Select().
		Column("?", id).
		Column("id").
		Column("?", item.Name).
		Column("?", item.Link).
		From(tableLists).
		Where(squirrel.Eq{"id": item.ListID})

	query := psql.Insert(tableItems).
		Columns("id", "list_id", "name", "link").
		Select(source).
		Suffix("RETURNING " + strings.Join(itemColumns, ", "))

	created, err := s.queryItem(ctx, query)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("create item in %s: %w", item.ListID, store.ErrListNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("create item: %w", err)
	}
	return created, nil
}

// GetItem fetches an item by id.
func (s *Store) GetItem(ctx context.Context, id string) (*model.WishItem, error) {
	if strings.TrimSpace(id) == "" {
		return nil, store.ErrInvalidID
	}

	query := psql.Select(itemColumns...).
		From(tableItems).
		Where(squirrel.Eq{"id": id})

	item, err := s.queryItem(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

// QueryItems returns the items of a list ordered by id.
func (s *Store) QueryItems(ctx context.Context, q store.ItemQuery) ([]model.WishItem, error) {
	if strings.TrimSpace(q.ListID) == "" {
		return nil, store.ErrInvalidID
	}

	sqlStr, args, err := psql.Select(itemColumns...).
		From(tableItems).
		Where(squirrel.Eq{"list_id": q.ListID}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.q.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", mapError(err))
	}
	defer rows.Close()

	items := make([]model.WishItem, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", mapError(err))
	}

	return items, nil
}

// UpdateItemDetails changes name and link only.
func (s *Store) UpdateItemDetails(ctx context.Context, id, name, link string) (*model.WishItem, error) {
	if strings.TrimSpace(id) == "" {
		return nil, store.ErrInvalidID
	}
	candidate := model.WishItem{Name: name, Link: link}
	if err := candidate.Validate(); err != nil {
		return nil, fmt.Errorf("update item: %w", err)
	}

	query := psql.Update(tableItems).
		Set("name", name).
		Set("link", link).
		Set("updated_at", squirrel.Expr("now()")).
		Where(squirrel.Eq{"id": id}).
		Suffix("RETURNING " + strings.Join(itemColumns, ", "))

	item, err := s.queryItem(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("update item: %w", err)
	}
	return item, nil
}

// PatchReservation updates is_reserved and reserved_by in one statement.
// A conditional patch adds the expected state to the WHERE clause; when no
// row matches, the item is re-read to tell a conflict from a missing item.
func (s *Store) PatchReservation(ctx context.Context, id string, patch store.ReservationPatch) (*model.WishItem, error) {
	if strings.TrimSpace(id) == "" {
		return nil, store.ErrInvalidID
	}
	if err := patch.Validate(); err != nil {
		return nil, fmt.Errorf("patch reservation: %w: %w", store.ErrInvalidState, err)
	}

	query := psql.Update(tableItems).
		Set("is_reserved", patch.IsReserved).
		Set("reserved_by", patch.ReservedBy).
		Set("updated_at", squirrel.Expr("now()")).
		Where(squirrel.Eq{"id": id}).
		Suffix("RETURNING " + strings.Join(itemColumns, ", "))

	if patch.IsConditional() {
		query = query.Where(squirrel.Eq{"is_reserved": patch.Expect.IsReserved})
		if patch.Expect.ReservedBy == nil {
			query = query.Where(squirrel.Eq{"reserved_by": nil})
		} else {
			query = query.Where(squirrel.Eq{"reserved_by": *patch.Expect.ReservedBy})
		}
	}

	item, err := s.queryItem(ctx, query)
	if err == nil {
		return item, nil
	}

	if patch.IsConditional() && errors.Is(err, store.ErrNotFound) {
		if _, getErr := s.GetItem(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("patch reservation %s: %w", id, store.ErrConflict)
	}

	return nil, fmt.Errorf("patch reservation: %w", err)
}

// DeleteItem removes an item.
func (s *Store) DeleteItem(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return store.ErrInvalidID
	}
	return s.delete(ctx, tableItems, id)
}

func (s *Store) delete(ctx context.Context, table, id string) error {
	sqlStr, args, err := psql.Delete(table).Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	tag, err := s.q.Exec(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("delete from %s: %w", table, mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) queryList(ctx context.Context, query squirrel.Sqlizer) (*model.WishList, error) {
	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var l model.WishList
	err = s.q.QueryRow(ctx, sqlStr, args...).Scan(&l.ID, &l.OwnerID, &l.Title, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &l, nil
}

func (s *Store) queryItem(ctx context.Context, query squirrel.Sqlizer) (*model.WishItem, error) {
	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	item, err := scanItem(s.q.QueryRow(ctx, sqlStr, args...))
	if err != nil {
		return nil, mapError(err)
	}
	return item, nil
}

func scanItem(row pgx.Row) (*model.WishItem, error) {
	var item model.WishItem
	err := row.Scan(
		&item.ID,
		&item.ListID,
		&item.Name,
		&item.Link,
		&item.IsReserved,
		&item.ReservedBy,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// mapError translates driver errors into store errors.
func mapError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return fmt.Errorf("%w: %s", store.ErrAlreadyExists, pgErr.ConstraintName)
		case codeCheckViolation:
			return fmt.Errorf("%w: %s", store.ErrInvalidState, pgErr.ConstraintName)
		}
	}

	return err
}
