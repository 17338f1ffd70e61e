package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"guest_reviews/internal/domain"
)

// approvalStatesChunk bounds the IN (...) list of one ApprovalStates query.
const approvalStatesChunk = 500

func valStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
func valStrPtr(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}
func valTime(p *time.Time) any {
	if p == nil {
		return nil
	}
	return p.UTC()
}
func valBool(p *bool) any {
	if p == nil {
		return nil
	}
	return *p
}
func valJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

type Repo struct{ db *sql.DB }

func New(db *sql.DB) *Repo { return &Repo{db: db} }

func (r *Repo) Ping(ctx context.Context) error { return r.db.PingContext(ctx) }

// runInTx commits when fn succeeds and rolls back on error or panic.
func (r *Repo) runInTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %w (original error: %v)", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (r *Repo) UpsertListing(ctx context.Context, l domain.Listing) error {
	_, err := r.db.ExecContext(ctx, upsertListingSQL, l.ID, l.ExternalID, l.Name, l.Slug)
	return err
}

// UpsertReviews writes reviews and replaces their category rows in one
// transaction. Approval state already in the store is kept.
func (r *Repo) UpsertReviews(ctx context.Context, rs []domain.Review) error {
	if len(rs) == 0 {
		return nil
	}
	values := make([]string, 0, len(rs))
	args := make([]any, 0, len(rs)*20) // 20 params per row
	ids := make([]any, 0, len(rs))
	var catValues []string
	var catArgs []any
	for _, rv := range rs {
		values = append(values, "(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)")
		args = append(args,
			rv.ID, rv.SourceID, rv.ListingID, valStr(rv.ListingName),
			rv.GuestName, rv.Comment, valStr(rv.Language), rv.Rating,
			string(rv.Type), string(rv.Channel),
			rv.CreatedAt.UTC(), rv.UpdatedAt.UTC(), rv.SubmittedAt.UTC(),
			valTime(rv.CheckIn), valTime(rv.CheckOut),
			valBool(rv.Approved), valStrPtr(rv.HostResponse), valTime(rv.RespondedAt),
			rv.Source, valJSON(rv.RawJSON),
		)
		ids = append(ids, rv.ID)
		for cat, v := range rv.Categories {
			catValues = append(catValues, "(?,?,?)")
			catArgs = append(catArgs, rv.ID, cat, v)
		}
	}

	return r.runInTx(ctx, func(tx *sql.Tx) error {
		q := insertReviewsPrefix + strings.Join(values, ",") + insertReviewsOnDup
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("upsert reviews: %w", err)
		}
		del := "DELETE FROM review_categories WHERE review_id IN (" + placeholders(len(ids)) + ")"
		if _, err := tx.ExecContext(ctx, del, ids...); err != nil {
			return fmt.Errorf("clear categories: %w", err)
		}
		if len(catValues) > 0 {
			if _, err := tx.ExecContext(ctx, insertCategoriesPrefix+strings.Join(catValues, ","), catArgs...); err != nil {
				return fmt.Errorf("insert categories: %w", err)
			}
		}
		return nil
	})
}

// ApplyApproval locks the review, lets fn compute the transition, then
// appends the audit entry and updates the review in the same transaction.
// The audit INSERT always precedes the UPDATE.
func (r *Repo) ApplyApproval(ctx context.Context, reviewID string, fn domain.ApprovalFunc) (domain.Review, error) {
	var out domain.Review
	err := r.runInTx(ctx, func(tx *sql.Tx) error {
		cur, err := scanReview(tx.QueryRowContext(ctx, getReviewForUpdateSQL, reviewID))
		if errors.Is(err, sql.ErrNoRows) {
			return &domain.NotFoundError{Entity: "review", ID: reviewID}
		}
		if err != nil {
			return err
		}
		if cur.Categories, err = loadCategories(ctx, tx, reviewID); err != nil {
			return err
		}

		next, entry, err := fn(cur)
		if err != nil {
			return err
		}
		if err := insertAudit(ctx, tx, entry); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, updateApprovalSQL,
			valBool(next.Approved), valStrPtr(next.HostResponse), valTime(next.RespondedAt),
			next.UpdatedAt.UTC(), reviewID,
		); err != nil {
			return fmt.Errorf("update approval: %w", err)
		}
		out = next
		return nil
	})
	return out, err
}

func insertAudit(ctx context.Context, tx *sql.Tx, e domain.AuditEntry) error {
	prev, err := json.Marshal(e.Previous)
	if err != nil {
		return err
	}
	next, err := json.Marshal(e.New)
	if err != nil {
		return err
	}
	var meta any
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return err
		}
		meta = string(b)
	}
	_, err = tx.ExecContext(ctx, insertAuditSQL,
		e.ID, e.ReviewID, string(e.Action), string(prev), string(next), e.ActorID, meta, e.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (r *Repo) GetListing(ctx context.Context, id int64) (domain.Listing, error) {
	var l domain.Listing
	err := r.db.QueryRowContext(ctx, getListingSQL, id).Scan(&l.ID, &l.ExternalID, &l.Name, &l.Slug)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Listing{}, &domain.NotFoundError{Entity: "listing", ID: strconv.FormatInt(id, 10)}
	}
	return l, err
}

func (r *Repo) GetReview(ctx context.Context, id string) (domain.Review, error) {
	rv, err := scanReview(r.db.QueryRowContext(ctx, getReviewSQL, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Review{}, &domain.NotFoundError{Entity: "review", ID: id}
	}
	if err != nil {
		return domain.Review{}, err
	}
	rv.Categories, err = loadCategories(ctx, r.db, id)
	return rv, err
}

func (r *Repo) ListReviews(ctx context.Context, listingID *int64) ([]domain.Review, error) {
	var lid any
	if listingID != nil {
		lid = *listingID
	}
	rows, err := r.db.QueryContext(ctx, listReviewsSQL, lid, lid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Review
	index := map[string]int{}
	for rows.Next() {
		rv, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		rv.Categories = domain.Categories{}
		index[rv.ID] = len(out)
		out = append(out, rv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	crows, err := r.db.QueryContext(ctx, listCategoriesSQL, lid, lid)
	if err != nil {
		return nil, err
	}
	defer crows.Close()
	for crows.Next() {
		var (
			id, cat string
			v       float64
		)
		if err := crows.Scan(&id, &cat, &v); err != nil {
			return nil, err
		}
		if i, ok := index[id]; ok {
			out[i].Categories[cat] = v
		}
	}
	return out, crows.Err()
}

func (r *Repo) ApprovalStates(ctx context.Context, ids []string) (map[string]domain.ApprovalSnapshot, error) {
	out := make(map[string]domain.ApprovalSnapshot, len(ids))
	for start := 0; start < len(ids); start += approvalStatesChunk {
		chunk := ids[start:min(start+approvalStatesChunk, len(ids))]
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		q := "SELECT id, approved, host_response, responded_at FROM reviews WHERE id IN (" + placeholders(len(chunk)) + ")"
		rows, err := r.db.QueryContext(ctx, q, args...)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var (
				id       string
				approved sql.NullBool
				resp     sql.NullString
				at       sql.NullTime
			)
			if err := rows.Scan(&id, &approved, &resp, &at); err != nil {
				rows.Close()
				return nil, err
			}
			out[id] = domain.ApprovalSnapshot{
				Approved:     nullBool(approved),
				HostResponse: nullString(resp),
				RespondedAt:  nullTime(at),
			}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *Repo) ListAudit(ctx context.Context, reviewID string) ([]domain.AuditEntry, error) {
	rows, err := r.db.QueryContext(ctx, listAuditSQL, reviewID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.AuditEntry{}
	for rows.Next() {
		var (
			e          domain.AuditEntry
			action     string
			prev, next []byte
			meta       []byte
		)
		if err := rows.Scan(&e.ID, &e.ReviewID, &action, &prev, &next, &e.ActorID, &meta, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Action = domain.AuditAction(action)
		if err := json.Unmarshal(prev, &e.Previous); err != nil {
			return nil, fmt.Errorf("decode audit %s: %w", e.ID, err)
		}
		if err := json.Unmarshal(next, &e.New); err != nil {
			return nil, fmt.Errorf("decode audit %s: %w", e.ID, err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Metadata); err != nil {
				return nil, fmt.Errorf("decode audit %s metadata: %w", e.ID, err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ---- scanning ----

type rowScanner interface {
	Scan(dest ...any) error
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func scanReview(row rowScanner) (domain.Review, error) {
	var (
		rv                    domain.Review
		listingName, language sql.NullString
		typ, channel          string
		checkIn, checkOut, at sql.NullTime
		approved              sql.NullBool
		resp                  sql.NullString
		raw                   []byte
	)
	if err := row.Scan(
		&rv.ID, &rv.SourceID, &rv.ListingID, &listingName, &rv.GuestName, &rv.Comment, &language,
		&rv.Rating, &typ, &channel, &rv.CreatedAt, &rv.UpdatedAt, &rv.SubmittedAt,
		&checkIn, &checkOut, &approved, &resp, &at, &rv.Source, &raw,
	); err != nil {
		return domain.Review{}, err
	}
	rv.ListingName = listingName.String
	rv.Language = language.String
	rv.Type = domain.ReviewType(typ)
	rv.Channel = domain.Channel(channel)
	rv.CheckIn = nullTime(checkIn)
	rv.CheckOut = nullTime(checkOut)
	rv.Approved = nullBool(approved)
	rv.HostResponse = nullString(resp)
	rv.RespondedAt = nullTime(at)
	if len(raw) > 0 {
		rv.RawJSON = raw
	}
	return rv, nil
}

func loadCategories(ctx context.Context, q queryer, reviewID string) (domain.Categories, error) {
	rows, err := q.QueryContext(ctx, reviewCategoriesSQL, reviewID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := domain.Categories{}
	for rows.Next() {
		var (
			cat string
			v   float64
		)
		if err := rows.Scan(&cat, &v); err != nil {
			return nil, err
		}
		out[cat] = v
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func nullBool(v sql.NullBool) *bool {
	if !v.Valid {
		return nil
	}
	b := v.Bool
	return &b
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}
