package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alfredjeanlab/sitegate/internal/idgen"
	"github.com/alfredjeanlab/sitegate/internal/model"
	"github.com/alfredjeanlab/sitegate/internal/store"
)

const (
	privilegeColumns = `id, email, role, created_at`
	statusColumns    = `id, maintenance_mode, message, version, updated_at`
	contentColumns   = `id, page_name, section_key, content_type, content_value,
	display_order, created_at, updated_at`
	auditColumns = `id, action, details, performed_by, created_at`
)

// executor is *sql.DB or *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries holds every store statement. Store runs them on the pool and
// txStore inside one transaction.
type queries struct {
	db executor
}

// --- privileges ---

func (q queries) GetPrivilege(ctx context.Context, identityRef string) (*model.PrivilegeRecord, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+privilegeColumns+` FROM user_roles WHERE id = $1`, identityRef)
	rec, err := scanPrivilege(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get privilege %s: %w", identityRef, err)
	}
	return rec, nil
}

func (q queries) SetPrivilege(ctx context.Context, rec *model.PrivilegeRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO user_roles (id, email, role, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email, role = EXCLUDED.role`,
		rec.IdentityRef,
		nullString(rec.Email),
		string(rec.Tier),
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("set privilege %s: %w", rec.IdentityRef, err)
	}
	return nil
}

func (q queries) DeletePrivilege(ctx context.Context, identityRef string) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM user_roles WHERE id = $1`, identityRef)
	if err != nil {
		return fmt.Errorf("delete privilege %s: %w", identityRef, err)
	}
	return requireAffected(res, store.ErrNotFound)
}

func (q queries) ListPrivileges(ctx context.Context) ([]*model.PrivilegeRecord, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+privilegeColumns+` FROM user_roles ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list privileges: %w", err)
	}
	defer rows.Close()
	return scanPrivileges(rows)
}

// --- site status singleton ---

// queryGetSingleton reads at most two rows so a duplicated singleton is
// reported instead of silently picking one.
func (q queries) GetSingleton(ctx context.Context) (*model.SiteStatus, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+statusColumns+` FROM site_status ORDER BY id LIMIT 2`)
	if err != nil {
		return nil, fmt.Errorf("get site status: %w", err)
	}
	defer rows.Close()

	statuses, err := scanStatuses(rows)
	if err != nil {
		return nil, fmt.Errorf("scan site status: %w", err)
	}
	switch len(statuses) {
	case 0:
		return nil, store.ErrSingletonMissing
	case 1:
		return statuses[0], nil
	default:
		return nil, store.ErrSingletonDuplicate
	}
}

func (q queries) UpdateSingleton(ctx context.Context, id string, fields model.StatusFields) (*model.SiteStatus, error) {
	row := q.db.QueryRowContext(ctx, `
		UPDATE site_status
		SET maintenance_mode = $2, message = $3,
		    version = version + 1, updated_at = clock_timestamp()
		WHERE id = $1
		RETURNING `+statusColumns,
		id,
		fields.Unavailable,
		nullStringPtr(fields.Message),
	)
	st, err := scanStatus(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrSingletonMissing
	}
	if err != nil {
		return nil, fmt.Errorf("update site status: %w", err)
	}
	return st, nil
}

// --- page content ---

// queryListContent returns entries ordered by display order. An empty
// pageName lists every page.
func (q queries) ListContent(ctx context.Context, pageName string) ([]*model.ContentEntry, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if pageName == "" {
		rows, err = q.db.QueryContext(ctx,
			`SELECT `+contentColumns+` FROM page_content ORDER BY display_order ASC, id`)
	} else {
		rows, err = q.db.QueryContext(ctx,
			`SELECT `+contentColumns+` FROM page_content WHERE page_name = $1 ORDER BY display_order ASC, id`,
			pageName)
	}
	if err != nil {
		return nil, fmt.Errorf("list content: %w", err)
	}
	defer rows.Close()
	return scanContents(rows)
}

func (q queries) GetContent(ctx context.Context, id string) (*model.ContentEntry, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+contentColumns+` FROM page_content WHERE id = $1`, id)
	e, err := scanContent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get content %s: %w", id, err)
	}
	return e, nil
}

func (q queries) UpdateContent(ctx context.Context, id, value string) (*model.ContentEntry, error) {
	row := q.db.QueryRowContext(ctx, `
		UPDATE page_content SET content_value = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+contentColumns, id, value)
	e, err := scanContent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update content %s: %w", id, err)
	}
	return e, nil
}

func (q queries) UpsertContent(ctx context.Context, e *model.ContentEntry) error {
	if e.ID == "" {
		id, err := idgen.New(idgen.KindContent)
		if err != nil {
			return err
		}
		e.ID = id
	}
	if e.ContentType == "" {
		e.ContentType = "text"
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO page_content (id, page_name, section_key, content_type, content_value, display_order)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (page_name, section_key) DO UPDATE SET
			content_type = EXCLUDED.content_type,
			content_value = EXCLUDED.content_value,
			display_order = EXCLUDED.display_order,
			updated_at = now()`,
		e.ID, e.PageName, e.SectionKey, e.ContentType, e.Value, e.Order,
	)
	if err != nil {
		return fmt.Errorf("upsert content %s/%s: %w", e.PageName, e.SectionKey, err)
	}
	return nil
}

// --- audit log ---

func (q queries) RecordAudit(ctx context.Context, a *model.AuditEntry) error {
	if a.ID == "" {
		id, err := idgen.New(idgen.KindAudit)
		if err != nil {
			return err
		}
		a.ID = id
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO admin_logs (id, action, details, performed_by, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		a.ID, a.Action, jsonbBytes(a.Details), nullString(a.PerformedBy), a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record audit %s: %w", a.Action, err)
	}
	return nil
}

func (q queries) ListAudit(ctx context.Context, limit int) ([]*model.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+auditColumns+` FROM admin_logs ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()
	return scanAudits(rows)
}

// --- revoked sessions ---

func (q queries) RevokeSession(ctx context.Context, sessionID string, expiresAt time.Time) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO revoked_sessions (session_id, expires_at) VALUES ($1, $2)
		ON CONFLICT (session_id) DO NOTHING`, sessionID, expiresAt)
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

func (q queries) IsSessionRevoked(ctx context.Context, sessionID string) (bool, error) {
	var revoked bool
	err := q.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM revoked_sessions WHERE session_id = $1)`, sessionID).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check session revocation: %w", err)
	}
	return revoked, nil
}

// requireAffected returns notFound when res reports zero affected rows.
func requireAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
