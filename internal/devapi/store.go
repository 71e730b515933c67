package devapi

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/phillip-england/projectdesk/internal/records"
	"github.com/phillip-england/projectdesk/internal/security"
	"github.com/phillip-england/projectdesk/internal/sqlitedb"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var errNotFound = errors.New("not found")

type userRecord struct {
	ID         string
	Email      string
	Name       string
	Role       string
	IsAdmin    bool
	CanApprove bool
	CanDelete  bool
}

func (u userRecord) claims() security.UserClaims {
	return security.UserClaims{
		UserID:     u.ID,
		Email:      u.Email,
		Name:       u.Name,
		Role:       u.Role,
		IsAdmin:    u.IsAdmin,
		CanApprove: u.CanApprove,
		CanDelete:  u.CanDelete,
	}
}

func (u userRecord) json() map[string]any {
	return map[string]any{
		"id":         u.ID,
		"email":      u.Email,
		"name":       u.Name,
		"role":       u.Role,
		"isAdmin":    u.IsAdmin,
		"canApprove": u.CanApprove,
		"canDelete":  u.CanDelete,
	}
}

type attachment struct {
	ID        string    `json:"id"`
	FileName  string    `json:"fileName"`
	FileMime  string    `json:"fileMime"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
}

type auditRecord struct {
	EntityType string
	EntityID   string
	Action     string
	User       userRecord
	Summary    string
	Before     records.Record
	After      records.Record
}

type sqliteStore struct {
	db  *sql.DB
	now func() time.Time
}

func openStore(path string) (*sqliteStore, error) {
	db, err := sqlitedb.Open(path, migrationsFS, "migrations")
	if err != nil {
		return nil, err
	}
	return &sqliteStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *sqliteStore) schemaVersion() (int, error) {
	return sqlitedb.Version(s.db)
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}

// ensureAdminUser creates the admin or resets its password and flags.
func (s *sqliteStore) ensureAdminUser(ctx context.Context, email, name, password string) error {
	hash, err := security.HashPassword(password)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, name, password_hash, role, is_admin, can_approve, can_delete, created_at)
		VALUES (@id, @email, @name, @password_hash, 'admin', 1, 1, 1, @created_at)
		ON CONFLICT(email)
		DO UPDATE SET password_hash = excluded.password_hash, name = excluded.name, role = 'admin', is_admin = 1, can_approve = 1, can_delete = 1;
	`,
		sql.Named("id", uuid.NewString()),
		sql.Named("email", strings.ToLower(email)),
		sql.Named("name", name),
		sql.Named("password_hash", hash),
		sql.Named("created_at", s.now().Unix()),
	)
	return err
}

// createUser adds a non-admin user with the given flags.
func (s *sqliteStore) createUser(ctx context.Context, u userRecord, password string) (userRecord, error) {
	hash, err := security.HashPassword(password)
	if err != nil {
		return userRecord{}, err
	}
	u.ID = uuid.NewString()
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if u.Role == "" {
		u.Role = "staff"
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, name, password_hash, role, is_admin, can_approve, can_delete, created_at)
		VALUES (@id, @email, @name, @password_hash, @role, @is_admin, @can_approve, @can_delete, @created_at);
	`,
		sql.Named("id", u.ID),
		sql.Named("email", u.Email),
		sql.Named("name", u.Name),
		sql.Named("password_hash", hash),
		sql.Named("role", u.Role),
		sql.Named("is_admin", u.IsAdmin),
		sql.Named("can_approve", u.CanApprove),
		sql.Named("can_delete", u.CanDelete),
		sql.Named("created_at", s.now().Unix()),
	)
	return u, err
}

func (s *sqliteStore) lookupUserByEmail(ctx context.Context, email string) (userRecord, string, error) {
	var (
		u    userRecord
		hash string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, name, password_hash, role, is_admin, can_approve, can_delete
		FROM users
		WHERE email = @email
		LIMIT 1;
	`, sql.Named("email", strings.ToLower(strings.TrimSpace(email)))).
		Scan(&u.ID, &u.Email, &u.Name, &hash, &u.Role, &u.IsAdmin, &u.CanApprove, &u.CanDelete)
	if errors.Is(err, sql.ErrNoRows) {
		return userRecord{}, "", errNotFound
	}
	return u, hash, err
}

func (s *sqliteStore) getUser(ctx context.Context, id string) (userRecord, error) {
	var u userRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, name, role, is_admin, can_approve, can_delete
		FROM users
		WHERE id = @id;
	`, sql.Named("id", id)).Scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.IsAdmin, &u.CanApprove, &u.CanDelete)
	if errors.Is(err, sql.ErrNoRows) {
		return userRecord{}, errNotFound
	}
	return u, err
}

// listDocuments returns every document in collection. Filtering and paging
// happen in memory; a development database stays small.
func (s *sqliteStore) listDocuments(ctx context.Context, collection string) ([]records.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT body FROM documents WHERE collection = @collection ORDER BY created_at, id;
	`, sql.Named("collection", collection))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []records.Record{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var rec records.Record
		if err := json.Unmarshal([]byte(body), &rec); err != nil {
			return nil, fmt.Errorf("decode %s document: %w", collection, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *sqliteStore) getDocument(ctx context.Context, collection, id string) (records.Record, error) {
	return getDocument(ctx, s.db, collection, id)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getDocument(ctx context.Context, q queryRower, collection, id string) (records.Record, error) {
	var body string
	err := q.QueryRowContext(ctx, `
		SELECT body FROM documents WHERE collection = @collection AND id = @id;
	`, sql.Named("collection", collection), sql.Named("id", id)).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec records.Record
	if err := json.Unmarshal([]byte(body), &rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// createDocument stores rec with a new id, an auto number when the collection
// has a prefix and none was given, and timestamps. The audit entry is written in
// the same transaction.
func (s *sqliteStore) createDocument(ctx context.Context, collection string, rec records.Record, user userRecord) (records.Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now()
	rec = rec.Clone()
	if rec == nil {
		rec = records.Record{}
	}
	delete(rec, "_id")
	rec["id"] = uuid.NewString()
	if prefix, ok := records.NumberPrefixes[collection]; ok && strings.TrimSpace(rec.String("number")) == "" {
		n, err := nextNumber(ctx, tx, collection)
		if err != nil {
			return nil, err
		}
		rec["number"] = records.FormatNumberCode(prefix, n)
	}
	rec["createdAt"] = now.Format(time.RFC3339)
	rec["updatedAt"] = now.Format(time.RFC3339)
	rec["createdBy"] = user.Name

	if err := putDocument(ctx, tx, collection, rec, now, true); err != nil {
		return nil, err
	}
	if err := s.insertAudit(ctx, tx, auditRecord{
		EntityType: collection, EntityID: rec.ID(), Action: "create", User: user,
		Summary: "Created " + describe(collection, rec), After: rec,
	}); err != nil {
		return nil, err
	}
	return rec, tx.Commit()
}

// updateDocument replaces (or with merge, patches) a document. Keys the store
// owns are kept from the stored copy.
func (s *sqliteStore) updateDocument(ctx context.Context, collection, id string, patch records.Record, merge bool, user userRecord) (records.Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	before, err := getDocument(ctx, tx, collection, id)
	if err != nil {
		return nil, err
	}
	var after records.Record
	if merge {
		after = before.Clone()
		for k, v := range patch {
			after[k] = v
		}
	} else {
		after = patch.Clone()
		if after == nil {
			after = records.Record{}
		}
	}
	for _, k := range []string{"id", "number", "createdAt", "createdBy"} {
		if v, ok := before[k]; ok {
			after[k] = v
		}
	}
	delete(after, "_id")
	now := s.now()
	after["updatedAt"] = now.Format(time.RFC3339)

	if err := putDocument(ctx, tx, collection, after, now, false); err != nil {
		return nil, err
	}
	action := "update"
	summary := "Updated " + describe(collection, after)
	if status := after.String("status"); status != "" && status != before.String("status") {
		action = "status_change"
		summary = fmt.Sprintf("%s status %s → %s", describe(collection, after), orDash(before.String("status")), status)
	}
	if err := s.insertAudit(ctx, tx, auditRecord{
		EntityType: collection, EntityID: id, Action: action, User: user,
		Summary: summary, Before: before, After: after,
	}); err != nil {
		return nil, err
	}
	return after, tx.Commit()
}

func (s *sqliteStore) deleteDocument(ctx context.Context, collection, id string, user userRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	before, err := getDocument(ctx, tx, collection, id)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM documents WHERE collection = @collection AND id = @id;
	`, sql.Named("collection", collection), sql.Named("id", id)); err != nil {
		return err
	}
	if err := s.insertAudit(ctx, tx, auditRecord{
		EntityType: collection, EntityID: id, Action: "delete", User: user,
		Summary: "Deleted " + describe(collection, before), Before: before,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func putDocument(ctx context.Context, tx *sql.Tx, collection string, rec records.Record, now time.Time, insert bool) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if insert {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO documents (collection, id, body, created_at, updated_at)
			VALUES (@collection, @id, @body, @now, @now);
		`, sql.Named("collection", collection), sql.Named("id", rec.ID()), sql.Named("body", string(body)), sql.Named("now", now.UnixMilli()))
		return err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE documents SET body = @body, updated_at = @now
		WHERE collection = @collection AND id = @id;
	`, sql.Named("collection", collection), sql.Named("id", rec.ID()), sql.Named("body", string(body)), sql.Named("now", now.UnixMilli()))
	return err
}

func nextNumber(ctx context.Context, tx *sql.Tx, collection string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `
		INSERT INTO counters (collection, value) VALUES (@collection, 1)
		ON CONFLICT(collection) DO UPDATE SET value = value + 1
		RETURNING value;
	`, sql.Named("collection", collection)).Scan(&n)
	return n, err
}

func (s *sqliteStore) insertAudit(ctx context.Context, tx *sql.Tx, a auditRecord) error {
	encode := func(rec records.Record) (any, error) {
		if rec == nil {
			return nil, nil
		}
		raw, err := json.Marshal(rec)
		return string(raw), err
	}
	before, err := encode(a.Before)
	if err != nil {
		return err
	}
	after, err := encode(a.After)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO audit_logs (id, entity_type, entity_id, action, user_id, user_name, user_email, description, before_json, after_json, created_at)
		VALUES (@id, @entity_type, @entity_id, @action, @user_id, @user_name, @user_email, @description, @before_json, @after_json, @created_at);
	`,
		sql.Named("id", uuid.NewString()),
		sql.Named("entity_type", a.EntityType),
		sql.Named("entity_id", a.EntityID),
		sql.Named("action", a.Action),
		sql.Named("user_id", a.User.ID),
		sql.Named("user_name", a.User.Name),
		sql.Named("user_email", a.User.Email),
		sql.Named("description", a.Summary),
		sql.Named("before_json", before),
		sql.Named("after_json", after),
		sql.Named("created_at", s.now().UnixMilli()),
	)
	return err
}

// listAudit returns audit rows newest first as backend-shaped records.
func (s *sqliteStore) listAudit(ctx context.Context) ([]records.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entity_type, entity_id, action, user_id, user_name, user_email, description, before_json, after_json, created_at
		FROM audit_logs
		ORDER BY created_at DESC, rowid DESC;
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []records.Record{}
	for rows.Next() {
		var (
			id, entityType, entityID, action, userID, userName, userEmail, description string
			before, after                                                              sql.NullString
			createdAt                                                                  int64
		)
		if err := rows.Scan(&id, &entityType, &entityID, &action, &userID, &userName, &userEmail, &description, &before, &after, &createdAt); err != nil {
			return nil, err
		}
		rec := records.Record{
			"id":          id,
			"entityType":  entityType,
			"entityId":    entityID,
			"action":      action,
			"userId":      userID,
			"userName":    userName,
			"userEmail":   userEmail,
			"description": description,
			"createdAt":   time.UnixMilli(createdAt).UTC().Format(time.RFC3339),
		}
		for key, raw := range map[string]sql.NullString{"before": before, "after": after} {
			if !raw.Valid {
				continue
			}
			var snap records.Record
			if err := json.Unmarshal([]byte(raw.String), &snap); err == nil {
				rec[key] = map[string]any(snap)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *sqliteStore) getAudit(ctx context.Context, id string) (records.Record, error) {
	all, err := s.listAudit(ctx)
	if err != nil {
		return nil, err
	}
	for _, rec := range all {
		if rec.ID() == id {
			return rec, nil
		}
	}
	return nil, errNotFound
}

func (s *sqliteStore) addAttachment(ctx context.Context, collection, docID string, a attachment, data []byte, user userRecord) (attachment, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return attachment{}, err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := getDocument(ctx, tx, collection, docID); err != nil {
		return attachment{}, err
	}
	a.ID = uuid.NewString()
	a.Size = int64(len(data))
	a.CreatedAt = s.now()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO attachments (id, collection, document_id, file_name, file_mime, size, data, created_at)
		VALUES (@id, @collection, @document_id, @file_name, @file_mime, @size, @data, @created_at);
	`,
		sql.Named("id", a.ID),
		sql.Named("collection", collection),
		sql.Named("document_id", docID),
		sql.Named("file_name", a.FileName),
		sql.Named("file_mime", a.FileMime),
		sql.Named("size", a.Size),
		sql.Named("data", data),
		sql.Named("created_at", a.CreatedAt.UnixMilli()),
	); err != nil {
		return attachment{}, err
	}
	if err := s.insertAudit(ctx, tx, auditRecord{
		EntityType: collection, EntityID: docID, Action: "attach", User: user,
		Summary: "Attached " + a.FileName,
	}); err != nil {
		return attachment{}, err
	}
	return a, tx.Commit()
}

func (s *sqliteStore) listAttachments(ctx context.Context, collection, docID string) ([]attachment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, file_name, file_mime, size, created_at
		FROM attachments
		WHERE collection = @collection AND document_id = @document_id
		ORDER BY created_at, id;
	`, sql.Named("collection", collection), sql.Named("document_id", docID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []attachment{}
	for rows.Next() {
		var (
			a       attachment
			created int64
		)
		if err := rows.Scan(&a.ID, &a.FileName, &a.FileMime, &a.Size, &created); err != nil {
			return nil, err
		}
		a.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *sqliteStore) getAttachment(ctx context.Context, collection, docID, id string) (attachment, []byte, error) {
	var (
		a       attachment
		data    []byte
		created int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, file_name, file_mime, size, data, created_at
		FROM attachments
		WHERE collection = @collection AND document_id = @document_id AND id = @id;
	`, sql.Named("collection", collection), sql.Named("document_id", docID), sql.Named("id", id)).
		Scan(&a.ID, &a.FileName, &a.FileMime, &a.Size, &data, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return attachment{}, nil, errNotFound
	}
	a.CreatedAt = time.UnixMilli(created).UTC()
	return a, data, err
}

func (s *sqliteStore) deleteAttachment(ctx context.Context, collection, docID, id string, user userRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	var name string
	err = tx.QueryRowContext(ctx, `
		DELETE FROM attachments
		WHERE collection = @collection AND document_id = @document_id AND id = @id
		RETURNING file_name;
	`, sql.Named("collection", collection), sql.Named("document_id", docID), sql.Named("id", id)).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return errNotFound
	}
	if err != nil {
		return err
	}
	if err := s.insertAudit(ctx, tx, auditRecord{
		EntityType: collection, EntityID: docID, Action: "detach", User: user,
		Summary: "Removed attachment " + name,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func describe(collection string, rec records.Record) string {
	if s, ok := records.Lookup(collection); ok {
		return s.Singular + " " + s.Title(rec)
	}
	return collection + " " + rec.ID()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
