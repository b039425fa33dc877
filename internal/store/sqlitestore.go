package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// migrations holds the ordered schema statements. Each is applied exactly
// once; the applied version is tracked in the schema_migrations table. To
// add a migration, append a new string here - never edit or reorder
// existing entries.
var migrations = []string{
	`CREATE TABLE users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		email TEXT NOT NULL DEFAULT '',
		verifier_hash BLOB NOT NULL,
		verifier_salt BLOB NOT NULL,
		verifier_params TEXT NOT NULL,
		role TEXT NOT NULL,
		created_at INTEGER NOT NULL
	)`,
	`CREATE UNIQUE INDEX idx_users_email ON users(email) WHERE email != ''`,
	`CREATE TABLE rooms (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		topic TEXT NOT NULL DEFAULT '',
		creator_id TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		private INTEGER NOT NULL DEFAULT 0,
		max_members INTEGER
	)`,
	`CREATE TABLE memberships (
		room_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		joined_at INTEGER NOT NULL,
		role TEXT NOT NULL,
		PRIMARY KEY (room_id, user_id)
	)`,
	`CREATE INDEX idx_memberships_room ON memberships(room_id)`,
	`CREATE TABLE messages (
		target_key TEXT NOT NULL,
		seq INTEGER NOT NULL,
		author_id TEXT NOT NULL,
		target_kind INTEGER NOT NULL,
		room_id TEXT NOT NULL DEFAULT '',
		peer_a TEXT NOT NULL DEFAULT '',
		peer_b TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		body TEXT NOT NULL,
		PRIMARY KEY (target_key, seq)
	)`,
	`CREATE TABLE message_counters (
		target_key TEXT PRIMARY KEY,
		next_seq INTEGER NOT NULL
	)`,
	`CREATE TABLE sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		issued_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL,
		last_seen INTEGER NOT NULL,
		fingerprint TEXT NOT NULL DEFAULT '',
		superseded INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX idx_sessions_user ON sessions(user_id)`,
	`CREATE TABLE invitations (
		id TEXT PRIMARY KEY,
		room_id TEXT NOT NULL,
		inviter TEXT NOT NULL,
		invitee TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	)`,
	`CREATE INDEX idx_invitations_invitee ON invitations(invitee, status)`,
	`PRAGMA journal_mode=WAL`,
}

// SQLiteStore is the production Store implementation backed by an embedded
// SQLite database, mirroring the teacher's `store` package: ordered
// migrations tracked in schema_migrations, WAL mode, and a bounded
// connection pool sized for single-process embedded use.
type SQLiteStore struct {
	db *sql.DB
}

// DefaultPoolSize is the default SQLite connection pool size, matching the
// persistence layer's configurable-but-16-by-default resource bound.
const DefaultPoolSize = 16

// Open creates or upgrades the database at path and returns a ready Store.
func Open(path string) (*SQLiteStore, error) {
	return OpenPool(path, DefaultPoolSize)
}

// OpenPool opens the store with an explicit connection pool size, for
// callers that need to override the default (e.g. a constrained
// deployment or a test harness wanting a single connection).
func OpenPool(path string, poolSize int) (*SQLiteStore, error) {
	if poolSize <= 0 {
		poolSize = DefaultPoolSize
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	db.SetMaxOpenConns(poolSize)
	db.SetMaxIdleConns(poolSize)

	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: busy_timeout: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.seedGeneralRoom(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("store: create schema_migrations: %w", err)
	}

	var applied int
	row := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`)
	if err := row.Scan(&applied); err != nil {
		return fmt.Errorf("store: read schema version: %w", err)
	}

	for i := applied; i < len(migrations); i++ {
		if _, err := s.db.Exec(migrations[i]); err != nil {
			return fmt.Errorf("store: apply migration %d: %w", i+1, err)
		}
		if _, err := s.db.Exec(`INSERT INTO schema_migrations(version) VALUES (?)`, i+1); err != nil {
			return fmt.Errorf("store: record migration %d: %w", i+1, err)
		}
	}
	return nil
}

func (s *SQLiteStore) seedGeneralRoom() error {
	var exists int
	row := s.db.QueryRow(`SELECT COUNT(1) FROM rooms WHERE name = ?`, ReservedRoomName)
	if err := row.Scan(&exists); err != nil {
		return fmt.Errorf("store: check general room: %w", err)
	}
	if exists > 0 {
		return nil
	}
	id := uuid.New()
	_, err := s.db.Exec(
		`INSERT INTO rooms(id, name, topic, creator_id, created_at, private, max_members) VALUES (?, ?, '', ?, ?, 0, NULL)`,
		id.String(), ReservedRoomName, uuid.Nil.String(), time.Now().UTC().UnixMicro(),
	)
	return err
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// --- Users ---

func (s *SQLiteStore) CreateUser(ctx context.Context, u User) (User, error) {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	u.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(id, username, email, verifier_hash, verifier_salt, verifier_params, role, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID.String(), u.Username, u.Email, u.VerifierHash, u.VerifierSalt, u.VerifierParams, string(u.Role), u.CreatedAt.UnixMicro(),
	)
	if isUniqueViolation(err) {
		return User{}, ErrAlreadyExists
	}
	if err != nil {
		return User{}, fmt.Errorf("store: create user: %w", err)
	}
	return u, nil
}

func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, username, email, verifier_hash, verifier_salt, verifier_params, role, created_at FROM users WHERE username = ?`, username))
}

func (s *SQLiteStore) GetUserByID(ctx context.Context, id uuid.UUID) (User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, username, email, verifier_hash, verifier_salt, verifier_params, role, created_at FROM users WHERE id = ?`, id.String()))
}

func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, username, email, verifier_hash, verifier_salt, verifier_params, role, created_at FROM users WHERE email = ?`, email))
}

func (s *SQLiteStore) scanUser(row *sql.Row) (User, error) {
	var u User
	var id string
	var role string
	var createdAt int64
	err := row.Scan(&id, &u.Username, &u.Email, &u.VerifierHash, &u.VerifierSalt, &u.VerifierParams, &role, &createdAt)
	if err == sql.ErrNoRows {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("store: scan user: %w", err)
	}
	u.ID, err = uuid.Parse(id)
	if err != nil {
		return User{}, fmt.Errorf("store: parse user id: %w", err)
	}
	u.Role = Role(role)
	u.CreatedAt = time.UnixMicro(createdAt).UTC()
	return u, nil
}

// --- Rooms & memberships ---

func (s *SQLiteStore) CreateRoom(ctx context.Context, r Room) (Room, error) {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	r.CreatedAt = time.Now().UTC()
	var maxMembers sql.NullInt64
	if r.MaxMembers != nil {
		maxMembers = sql.NullInt64{Int64: int64(*r.MaxMembers), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rooms(id, name, topic, creator_id, created_at, private, max_members) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID.String(), r.Name, r.Topic, r.CreatorID.String(), r.CreatedAt.UnixMicro(), boolToInt(r.Private), maxMembers,
	)
	if isUniqueViolation(err) {
		return Room{}, ErrAlreadyExists
	}
	if err != nil {
		return Room{}, fmt.Errorf("store: create room: %w", err)
	}
	memberRole := MemberRoleOwner
	if err := s.AddMember(ctx, r.ID, r.CreatorID, memberRole); err != nil {
		return Room{}, err
	}
	return r, nil
}

func (s *SQLiteStore) ListRooms(ctx context.Context) ([]Room, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, topic, creator_id, created_at, private, max_members FROM rooms ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("store: list rooms: %w", err)
	}
	defer rows.Close()
	var out []Room
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetRoomByName(ctx context.Context, name string) (Room, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, topic, creator_id, created_at, private, max_members FROM rooms WHERE name = ?`, name)
	if err != nil {
		return Room{}, fmt.Errorf("store: get room: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return Room{}, ErrNotFound
	}
	return scanRoom(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoom(row rowScanner) (Room, error) {
	var r Room
	var id, creatorID string
	var createdAt int64
	var private int
	var maxMembers sql.NullInt64
	if err := row.Scan(&id, &r.Name, &r.Topic, &creatorID, &createdAt, &private, &maxMembers); err != nil {
		return Room{}, fmt.Errorf("store: scan room: %w", err)
	}
	var err error
	r.ID, err = uuid.Parse(id)
	if err != nil {
		return Room{}, fmt.Errorf("store: parse room id: %w", err)
	}
	r.CreatorID, err = uuid.Parse(creatorID)
	if err != nil {
		return Room{}, fmt.Errorf("store: parse creator id: %w", err)
	}
	r.CreatedAt = time.UnixMicro(createdAt).UTC()
	r.Private = private != 0
	if maxMembers.Valid {
		v := int(maxMembers.Int64)
		r.MaxMembers = &v
	}
	return r, nil
}

func (s *SQLiteStore) AddMember(ctx context.Context, roomID, userID uuid.UUID, role MemberRole) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memberships(room_id, user_id, joined_at, role) VALUES (?, ?, ?, ?)
		 ON CONFLICT(room_id, user_id) DO NOTHING`,
		roomID.String(), userID.String(), time.Now().UTC().UnixMicro(), string(role),
	)
	if err != nil {
		return fmt.Errorf("store: add member: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RemoveMember(ctx context.Context, roomID, userID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM memberships WHERE room_id = ? AND user_id = ?`, roomID.String(), userID.String())
	if err != nil {
		return fmt.Errorf("store: remove member: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListMembers(ctx context.Context, roomID uuid.UUID) ([]Membership, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT room_id, user_id, joined_at, role FROM memberships WHERE room_id = ? ORDER BY joined_at`, roomID.String())
	if err != nil {
		return nil, fmt.Errorf("store: list members: %w", err)
	}
	defer rows.Close()
	var out []Membership
	for rows.Next() {
		var m Membership
		var rid, uid string
		var joinedAt int64
		var role string
		if err := rows.Scan(&rid, &uid, &joinedAt, &role); err != nil {
			return nil, fmt.Errorf("store: scan membership: %w", err)
		}
		m.RoomID, _ = uuid.Parse(rid)
		m.UserID, _ = uuid.Parse(uid)
		m.JoinedAt = time.UnixMicro(joinedAt).UTC()
		m.Role = MemberRole(role)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) IsMember(ctx context.Context, roomID, userID uuid.UUID) (bool, error) {
	var count int
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM memberships WHERE room_id = ? AND user_id = ?`, roomID.String(), userID.String())
	if err := row.Scan(&count); err != nil {
		return false, fmt.Errorf("store: is member: %w", err)
	}
	return count > 0, nil
}

func (s *SQLiteStore) UpdateMemberRole(ctx context.Context, roomID, userID uuid.UUID, role MemberRole) error {
	res, err := s.db.ExecContext(ctx, `UPDATE memberships SET role = ? WHERE room_id = ? AND user_id = ?`, string(role), roomID.String(), userID.String())
	if err != nil {
		return fmt.Errorf("store: update member role: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: update member role: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Messages ---

// AppendMessage allocates the next sequence number for target inside a
// transaction, so concurrent appends to the same target never collide.
func (s *SQLiteStore) AppendMessage(ctx context.Context, target MessageTarget, authorID uuid.UUID, body string) (Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Message{}, fmt.Errorf("store: append message: %w", err)
	}
	defer tx.Rollback()

	k := target.key()
	var seq int64
	row := tx.QueryRowContext(ctx, `SELECT next_seq FROM message_counters WHERE target_key = ?`, k)
	err = row.Scan(&seq)
	switch {
	case err == sql.ErrNoRows:
		seq = 1
		if _, err := tx.ExecContext(ctx, `INSERT INTO message_counters(target_key, next_seq) VALUES (?, ?)`, k, seq+1); err != nil {
			return Message{}, fmt.Errorf("store: init message counter: %w", err)
		}
	case err != nil:
		return Message{}, fmt.Errorf("store: read message counter: %w", err)
	default:
		if _, err := tx.ExecContext(ctx, `UPDATE message_counters SET next_seq = ? WHERE target_key = ?`, seq+1, k); err != nil {
			return Message{}, fmt.Errorf("store: bump message counter: %w", err)
		}
	}

	msg := Message{
		ID:        uint64(seq),
		AuthorID:  authorID,
		Target:    target,
		CreatedAt: time.Now().UTC(),
		Body:      body,
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages(target_key, seq, author_id, target_kind, room_id, peer_a, peer_b, created_at, body)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		k, seq, authorID.String(), int(target.Kind), target.RoomID.String(), target.PeerA.String(), target.PeerB.String(),
		msg.CreatedAt.UnixMicro(), body,
	)
	if err != nil {
		return Message{}, fmt.Errorf("store: insert message: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Message{}, fmt.Errorf("store: commit message: %w", err)
	}
	return msg, nil
}

func (s *SQLiteStore) LoadHistory(ctx context.Context, target MessageTarget, before *uint64, limit int) ([]Message, bool, error) {
	k := target.key()
	upper := uint64(1) << 62
	if before != nil {
		upper = *before
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, author_id, created_at, body FROM messages WHERE target_key = ? AND seq < ? ORDER BY seq DESC LIMIT ?`,
		k, upper, limit+1,
	)
	if err != nil {
		return nil, false, fmt.Errorf("store: load history: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var seq int64
		var authorID string
		var createdAt int64
		var body string
		if err := rows.Scan(&seq, &authorID, &createdAt, &body); err != nil {
			return nil, false, fmt.Errorf("store: scan message: %w", err)
		}
		author, _ := uuid.Parse(authorID)
		out = append(out, Message{
			ID:        uint64(seq),
			AuthorID:  author,
			Target:    target,
			CreatedAt: time.UnixMicro(createdAt).UTC(),
			Body:      body,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	hasMore := len(out) > limit
	if hasMore {
		out = out[:limit]
	}
	return out, hasMore, nil
}

// --- Sessions ---

func (s *SQLiteStore) CreateSession(ctx context.Context, sess Session) (Session, error) {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(id, user_id, issued_at, expires_at, last_seen, fingerprint, superseded) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.UserID.String(), sess.IssuedAt.UnixMicro(), sess.ExpiresAt.UnixMicro(), sess.LastSeen.UnixMicro(), sess.Fingerprint, boolToInt(sess.Superseded),
	)
	if err != nil {
		return Session{}, fmt.Errorf("store: create session: %w", err)
	}
	return sess, nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, issued_at, expires_at, last_seen, fingerprint, superseded FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

func scanSession(row *sql.Row) (Session, error) {
	var sess Session
	var userID string
	var issuedAt, expiresAt, lastSeen int64
	var superseded int
	err := row.Scan(&sess.ID, &userID, &issuedAt, &expiresAt, &lastSeen, &sess.Fingerprint, &superseded)
	if err == sql.ErrNoRows {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("store: scan session: %w", err)
	}
	sess.UserID, _ = uuid.Parse(userID)
	sess.IssuedAt = time.UnixMicro(issuedAt).UTC()
	sess.ExpiresAt = time.UnixMicro(expiresAt).UTC()
	sess.LastSeen = time.UnixMicro(lastSeen).UTC()
	sess.Superseded = superseded != 0
	return sess, nil
}

func (s *SQLiteStore) TouchSession(ctx context.Context, id string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET last_seen = ? WHERE id = ?`, now.UnixMicro(), id)
	if err != nil {
		return fmt.Errorf("store: touch session: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) RevokeSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: revoke session: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) SupersedeSession(ctx context.Context, oldID string, newSession Session) (Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Session{}, fmt.Errorf("store: supersede session: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET superseded = 1 WHERE id = ?`, oldID); err != nil {
		return Session{}, fmt.Errorf("store: mark superseded: %w", err)
	}
	if newSession.ID == "" {
		newSession.ID = uuid.NewString()
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions(id, user_id, issued_at, expires_at, last_seen, fingerprint, superseded) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		newSession.ID, newSession.UserID.String(), newSession.IssuedAt.UnixMicro(), newSession.ExpiresAt.UnixMicro(),
		newSession.LastSeen.UnixMicro(), newSession.Fingerprint, boolToInt(newSession.Superseded),
	)
	if err != nil {
		return Session{}, fmt.Errorf("store: insert new session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Session{}, fmt.Errorf("store: commit supersede: %w", err)
	}
	return newSession, nil
}

// --- Invitations ---

func (s *SQLiteStore) CreateInvitation(ctx context.Context, inv Invitation) (Invitation, error) {
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO invitations(id, room_id, inviter, invitee, status, created_at, expires_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		inv.ID.String(), inv.RoomID.String(), inv.Inviter.String(), inv.Invitee.String(), string(inv.Status),
		inv.CreatedAt.UnixMicro(), inv.ExpiresAt.UnixMicro(),
	)
	if err != nil {
		return Invitation{}, fmt.Errorf("store: create invitation: %w", err)
	}
	return inv, nil
}

func (s *SQLiteStore) UpdateInvitation(ctx context.Context, id uuid.UUID, status InvitationStatus) (Invitation, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE invitations SET status = ? WHERE id = ?`, string(status), id.String())
	if err != nil {
		return Invitation{}, fmt.Errorf("store: update invitation: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return Invitation{}, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, room_id, inviter, invitee, status, created_at, expires_at FROM invitations WHERE id = ?`, id.String())
	return scanInvitation(row)
}

func scanInvitation(row *sql.Row) (Invitation, error) {
	var inv Invitation
	var id, roomID, inviter, invitee, status string
	var createdAt, expiresAt int64
	err := row.Scan(&id, &roomID, &inviter, &invitee, &status, &createdAt, &expiresAt)
	if err == sql.ErrNoRows {
		return Invitation{}, ErrNotFound
	}
	if err != nil {
		return Invitation{}, fmt.Errorf("store: scan invitation: %w", err)
	}
	inv.ID, _ = uuid.Parse(id)
	inv.RoomID, _ = uuid.Parse(roomID)
	inv.Inviter, _ = uuid.Parse(inviter)
	inv.Invitee, _ = uuid.Parse(invitee)
	inv.Status = InvitationStatus(status)
	inv.CreatedAt = time.UnixMicro(createdAt).UTC()
	inv.ExpiresAt = time.UnixMicro(expiresAt).UTC()
	return inv, nil
}

func (s *SQLiteStore) ListPendingInvitations(ctx context.Context, userID uuid.UUID) ([]Invitation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, room_id, inviter, invitee, status, created_at, expires_at FROM invitations WHERE invitee = ? AND status = ?`,
		userID.String(), string(InvitationPending),
	)
	if err != nil {
		return nil, fmt.Errorf("store: list pending invitations: %w", err)
	}
	defer rows.Close()
	var out []Invitation
	for rows.Next() {
		var inv Invitation
		var id, roomID, inviter, invitee, status string
		var createdAt, expiresAt int64
		if err := rows.Scan(&id, &roomID, &inviter, &invitee, &status, &createdAt, &expiresAt); err != nil {
			return nil, fmt.Errorf("store: scan invitation: %w", err)
		}
		inv.ID, _ = uuid.Parse(id)
		inv.RoomID, _ = uuid.Parse(roomID)
		inv.Inviter, _ = uuid.Parse(inviter)
		inv.Invitee, _ = uuid.Parse(invitee)
		inv.Status = InvitationStatus(status)
		inv.CreatedAt = time.UnixMicro(createdAt).UTC()
		inv.ExpiresAt = time.UnixMicro(expiresAt).UTC()
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetAcceptedInvitation(ctx context.Context, roomID, userID uuid.UUID) (Invitation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, room_id, inviter, invitee, status, created_at, expires_at FROM invitations
		 WHERE room_id = ? AND invitee = ? AND status = ? LIMIT 1`,
		roomID.String(), userID.String(), string(InvitationAccepted),
	)
	return scanInvitation(row)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueViolation reports whether err came from a UNIQUE constraint.
// modernc.org/sqlite wraps the underlying SQLITE_CONSTRAINT_UNIQUE error
// inside an *sqlite.Error; we match its message rather than importing the
// driver's internal error type.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return containsAny(msg, "UNIQUE constraint failed", "constraint failed: UNIQUE")
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if len(s) >= len(sub) {
			for i := 0; i+len(sub) <= len(s); i++ {
				if s[i:i+len(sub)] == sub {
					return true
				}
			}
		}
	}
	return false
}
