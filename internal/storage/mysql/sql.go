package mysql

const upsertListingSQL = `
INSERT INTO listings (id, external_id, name, slug)
VALUES (?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
  external_id = VALUES(external_id),
  name        = VALUES(name),
  slug        = VALUES(slug),
  updated_at  = CURRENT_TIMESTAMP
`

const insertReviewsPrefix = "INSERT INTO reviews\n" +
	"  (id, source_id, listing_id, listing_name, guest_name, comment, language, rating, type, channel,\n" +
	"   created_at, updated_at, submitted_at, check_in, check_out, approved, host_response, responded_at, source, raw)\nVALUES "

// Approval columns are owned by the approval workflow: a re-sync never
// overwrites them, and an upstream host response only fills an empty one.
const insertReviewsOnDup = " ON DUPLICATE KEY UPDATE\n" +
	"  listing_id    = VALUES(listing_id),\n" +
	"  listing_name  = COALESCE(VALUES(listing_name), reviews.listing_name),\n" +
	"  guest_name    = VALUES(guest_name),\n" +
	"  comment       = VALUES(comment),\n" +
	"  language      = COALESCE(VALUES(language), reviews.language),\n" +
	"  rating        = VALUES(rating),\n" +
	"  type          = VALUES(type),\n" +
	"  updated_at    = VALUES(updated_at),\n" +
	"  submitted_at  = VALUES(submitted_at),\n" +
	"  check_in      = COALESCE(VALUES(check_in), reviews.check_in),\n" +
	"  check_out     = COALESCE(VALUES(check_out), reviews.check_out),\n" +
	"  host_response = COALESCE(reviews.host_response, VALUES(host_response)),\n" +
	"  responded_at  = COALESCE(reviews.responded_at, VALUES(responded_at)),\n" +
	"  source        = VALUES(source),\n" +
	"  raw           = COALESCE(VALUES(raw), reviews.raw)\n"

const insertCategoriesPrefix = "INSERT INTO review_categories (review_id, category, rating) VALUES "

const insertAuditSQL = `
INSERT INTO audit_entries
  (id, review_id, action, previous_state, new_state, actor_id, metadata, created_at)
VALUES
  (?, ?, ?, ?, ?, ?, ?, ?)
`

const updateApprovalSQL = `
UPDATE reviews
SET approved = ?, host_response = ?, responded_at = ?, updated_at = ?
WHERE id = ?
`

// -----------------------------------------------------------------------------
// READ QUERIES
// -----------------------------------------------------------------------------

const reviewColumns = `
  r.id, r.source_id, r.listing_id, r.listing_name, r.guest_name, r.comment, r.language,
  r.rating, r.type, r.channel, r.created_at, r.updated_at, r.submitted_at,
  r.check_in, r.check_out, r.approved, r.host_response, r.responded_at, r.source, r.raw`

const getReviewSQL = `SELECT` + reviewColumns + `
FROM reviews r
WHERE r.id = ?`

// Locks the row for the read-modify-write of an approval.
const getReviewForUpdateSQL = getReviewSQL + `
FOR UPDATE`

// A NULL listing id selects every review.
const listReviewsSQL = `SELECT` + reviewColumns + `
FROM reviews r
WHERE (? IS NULL OR r.listing_id = ?)
ORDER BY r.submitted_at DESC, r.id`

const listCategoriesSQL = `
SELECT rc.review_id, rc.category, rc.rating
FROM review_categories rc
JOIN reviews r ON r.id = rc.review_id
WHERE (? IS NULL OR r.listing_id = ?)`

const reviewCategoriesSQL = `
SELECT category, rating FROM review_categories WHERE review_id = ?`

const getListingSQL = `
SELECT id, external_id, name, slug FROM listings WHERE id = ?`

const listAuditSQL = `
SELECT id, review_id, action, previous_state, new_state, actor_id, metadata, created_at
FROM audit_entries
WHERE review_id = ?
ORDER BY seq`
