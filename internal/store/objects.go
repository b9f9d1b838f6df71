package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"gitea.jw6.us/james/calsched/internal/ical"
	"gitea.jw6.us/james/calsched/internal/itip"
)

// CalendarObjects persists calendar object resources as iCalendar text.
// It implements itip.CalendarStore, itip.CalendarMutator and
// itip.ConflictChecker.
type CalendarObjects struct {
	pool PgxPool
}

var (
	_ itip.CalendarStore   = (*CalendarObjects)(nil)
	_ itip.CalendarMutator = (*CalendarObjects)(nil)
	_ itip.ConflictChecker = (*CalendarObjects)(nil)
)

const objectColumns = `id, calendar_id, etag, ical`

// FindByUID returns every resource of owner carrying uid, across calendars.
func (r *CalendarObjects) FindByUID(ctx context.Context, owner, uid string) ([]itip.Resource, error) {
	defer observeDB(ctx, "db.find_by_uid")()
	rows, err := r.pool.Query(ctx, `SELECT `+objectColumns+` FROM calendar_objects WHERE owner=$1 AND uid=$2 ORDER BY id`, owner, uid)
	if err != nil {
		return nil, fmt.Errorf("find by uid: %w", err)
	}
	return scanResources(rows)
}

// FindRelated returns resources of owner whose master names uid in
// RELATED-TO, or whose own UID is uid.
func (r *CalendarObjects) FindRelated(ctx context.Context, owner, uid string) ([]itip.Resource, error) {
	defer observeDB(ctx, "db.find_related")()
	rows, err := r.pool.Query(ctx, `SELECT `+objectColumns+` FROM calendar_objects
WHERE owner=$1 AND (uid=$2 OR related_to=$2) ORDER BY id`, owner, uid)
	if err != nil {
		return nil, fmt.Errorf("find related: %w", err)
	}
	return scanResources(rows)
}

// Create inserts a new resource. A resource already stored under the same
// UID in the calendar means another writer got there first.
func (r *CalendarObjects) Create(ctx context.Context, owner string, res itip.Resource) (itip.Resource, error) {
	defer observeDB(ctx, "db.create_object")()
	data := ical.EncodeResource(res)
	etag := computeETag(data)
	row := objectRowFor(res)

	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO calendar_objects
(owner, calendar_id, uid, etag, ical, summary, dtstart, dtend, transparent, related_to)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (owner, calendar_id, uid) DO NOTHING
RETURNING id`,
		owner, res.CalendarID, res.UID, etag, string(data),
		row.summary, row.start, row.end, row.transparent, row.relatedTo,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return itip.Resource{}, fmt.Errorf("create %s: %w", res.UID, itip.ErrConcurrentModification)
	}
	if err != nil {
		return itip.Resource{}, fmt.Errorf("create %s: %w", res.UID, err)
	}

	res.ID = strconv.FormatInt(id, 10)
	res.ETag = etag
	return res, nil
}

// Update replaces the stored resource when its etag still matches.
func (r *CalendarObjects) Update(ctx context.Context, owner string, res itip.Resource, expectedETag string) (itip.Resource, error) {
	defer observeDB(ctx, "db.update_object")()
	id, err := parseObjectID(res.ID)
	if err != nil {
		return itip.Resource{}, err
	}
	data := ical.EncodeResource(res)
	etag := computeETag(data)
	row := objectRowFor(res)

	tag, err := r.pool.Exec(ctx, `UPDATE calendar_objects
SET uid=$3, etag=$4, ical=$5, summary=$6, dtstart=$7, dtend=$8, transparent=$9, related_to=$10, last_modified=NOW()
WHERE id=$1 AND owner=$2 AND etag=$11`,
		id, owner, res.UID, etag, string(data),
		row.summary, row.start, row.end, row.transparent, row.relatedTo, expectedETag,
	)
	if err != nil {
		return itip.Resource{}, fmt.Errorf("update %s: %w", res.UID, err)
	}
	if tag.RowsAffected() == 0 {
		return itip.Resource{}, fmt.Errorf("update %s: %w", res.UID, itip.ErrConcurrentModification)
	}
	res.ETag = etag
	return res, nil
}

// Delete removes the stored resource when its etag still matches.
func (r *CalendarObjects) Delete(ctx context.Context, owner string, res itip.Resource, expectedETag string) error {
	defer observeDB(ctx, "db.delete_object")()
	id, err := parseObjectID(res.ID)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `DELETE FROM calendar_objects WHERE id=$1 AND owner=$2 AND etag=$3`, id, owner, expectedETag)
	if err != nil {
		return fmt.Errorf("delete %s: %w", res.UID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete %s: %w", res.UID, itip.ErrConcurrentModification)
	}
	return nil
}

// ConflictsFor lists opaque events of owner overlapping ev's span. Events
// sharing ev's UID never conflict with it.
func (r *CalendarObjects) ConflictsFor(ctx context.Context, owner string, ev *itip.Event) ([]itip.Conflict, error) {
	if ev == nil || ev.Start.IsZero() {
		return nil, nil
	}
	defer observeDB(ctx, "db.conflicts")()
	end := ev.End
	if end.IsZero() || !end.After(ev.Start) {
		end = ev.Start.Add(time.Minute)
	}
	rows, err := r.pool.Query(ctx, `SELECT uid, summary, dtstart, dtend FROM calendar_objects
WHERE owner=$1 AND uid<>$2 AND NOT transparent AND dtstart < $4 AND dtend > $3
ORDER BY dtstart, uid`, owner, ev.UID, ev.Start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("conflicts: %w", err)
	}
	defer rows.Close()

	var out []itip.Conflict
	for rows.Next() {
		var c itip.Conflict
		if err := rows.Scan(&c.UID, &c.Summary, &c.Start, &c.End); err != nil {
			return nil, fmt.Errorf("scan conflict: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conflicts: %w", err)
	}
	return out, nil
}

type objectRow struct {
	summary     string
	start       *time.Time
	end         *time.Time
	transparent bool
	relatedTo   *string
}

// objectRowFor derives the indexed columns from the resource's master, or
// its first exception for an orphaned instance.
func objectRowFor(res itip.Resource) objectRow {
	events := res.Events()
	if len(events) == 0 {
		return objectRow{}
	}
	ev := events[0]
	row := objectRow{summary: ev.Summary, transparent: ev.IsTransparent()}
	if !ev.Start.IsZero() {
		start := ev.Start.UTC()
		end := start
		if ev.End.After(ev.Start) {
			end = ev.End.UTC()
		}
		row.start, row.end = &start, &end
	}
	if ev.RelatedTo != "" && ev.RelatedTo != ev.UID {
		related := ev.RelatedTo
		row.relatedTo = &related
	}
	return row
}

func scanResources(rows pgx.Rows) ([]itip.Resource, error) {
	defer rows.Close()
	var out []itip.Resource
	for rows.Next() {
		var (
			id         int64
			calendarID string
			etag       string
			data       string
		)
		if err := rows.Scan(&id, &calendarID, &etag, &data); err != nil {
			return nil, fmt.Errorf("scan calendar object: %w", err)
		}
		res, err := ical.ParseResource([]byte(data))
		if err != nil {
			return nil, fmt.Errorf("calendar object %d: %w", id, err)
		}
		res.ID = strconv.FormatInt(id, 10)
		res.CalendarID = calendarID
		res.ETag = etag
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate calendar objects: %w", err)
	}
	return out, nil
}

func parseObjectID(id string) (int64, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid object id %q", ErrNotFound, id)
	}
	return n, nil
}

func computeETag(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
