package postgres

import (
	"database/sql"
	"encoding/json"

	"github.com/alfredjeanlab/sitegate/internal/model"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

func scanPrivilege(row scannable) (*model.PrivilegeRecord, error) {
	var (
		r     model.PrivilegeRecord
		email sql.NullString
		role  string
	)
	if err := row.Scan(&r.IdentityRef, &email, &role, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.Email = email.String
	r.Tier = model.Tier(role)
	return &r, nil
}

func scanPrivileges(rows *sql.Rows) ([]*model.PrivilegeRecord, error) {
	var out []*model.PrivilegeRecord
	for rows.Next() {
		r, err := scanPrivilege(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// scanStatus maps a site_status row; a NULL message stays nil.
func scanStatus(row scannable) (*model.SiteStatus, error) {
	var (
		st  model.SiteStatus
		msg sql.NullString
	)
	if err := row.Scan(&st.ID, &st.Unavailable, &msg, &st.Version, &st.LastUpdated); err != nil {
		return nil, err
	}
	if msg.Valid {
		m := msg.String
		st.Message = &m
	}
	return &st, nil
}

func scanStatuses(rows *sql.Rows) ([]*model.SiteStatus, error) {
	var out []*model.SiteStatus
	for rows.Next() {
		st, err := scanStatus(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func scanContent(row scannable) (*model.ContentEntry, error) {
	var e model.ContentEntry
	err := row.Scan(
		&e.ID,
		&e.PageName,
		&e.SectionKey,
		&e.ContentType,
		&e.Value,
		&e.Order,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func scanContents(rows *sql.Rows) ([]*model.ContentEntry, error) {
	var out []*model.ContentEntry
	for rows.Next() {
		e, err := scanContent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanAudit(row scannable) (*model.AuditEntry, error) {
	var (
		a           model.AuditEntry
		details     []byte
		performedBy sql.NullString
	)
	if err := row.Scan(&a.ID, &a.Action, &details, &performedBy, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.PerformedBy = performedBy.String
	if len(details) > 0 {
		a.Details = json.RawMessage(details)
	}
	return &a, nil
}

func scanAudits(rows *sql.Rows) ([]*model.AuditEntry, error) {
	var out []*model.AuditEntry
	for rows.Next() {
		a, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// nullString converts a string to sql.NullString; empty string is null.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringPtr maps a nil pointer to NULL and keeps "" as a value.
func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// jsonbBytes converts json.RawMessage to a []byte suitable for JSONB columns.
func jsonbBytes(m json.RawMessage) []byte {
	if len(m) == 0 {
		return nil
	}
	return []byte(m)
}
