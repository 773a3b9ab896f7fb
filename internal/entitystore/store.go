// Package entitystore provides structured storage for the entities the
// rest of the system reasons about: accounts, projects, and people, plus
// the link tables that tie them to meetings and to each other.
package entitystore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	accountColumns = "id, name, domain, stage, arr, health, contract_end, summary, details, last_contact, created_at, updated_at, parent_id, is_internal, archived, keywords"
	projectColumns = "id, account_id, name, status, summary, last_contact, created_at, updated_at"
	personColumns  = "id, name, email, title, company, account_id, phone, summary, last_contact, created_at, updated_at, relationship, aliases, meeting_count, first_seen, last_seen, linkedin_url, twitter_handle, bio, photo_url, last_enriched_at"
	activeFilter   = "deleted_at IS NULL"
)

// Account is a customer or prospect organization.
type Account struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Domain      string    `json:"domain,omitempty"`
	Stage       string    `json:"stage,omitempty"` // lifecycle: prospect, customer, churned
	ARR         float64   `json:"arr,omitempty"`
	Health      string    `json:"health,omitempty"` // green, yellow, red
	ContractEnd time.Time `json:"contract_end,omitempty"`
	Summary     string    `json:"summary,omitempty"`
	Details     string    `json:"details,omitempty"`
	LastContact time.Time `json:"last_contact,omitempty"`
	ParentID    string    `json:"parent_id,omitempty"`
	IsInternal  bool      `json:"is_internal,omitempty"`
	Archived    bool      `json:"archived,omitempty"`
	Keywords    []string  `json:"keywords,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Project is a named initiative or deal scoped under an account.
type Project struct {
	ID          string    `json:"id"`
	AccountID   string    `json:"account_id"`
	Name        string    `json:"name"`
	Status      string    `json:"status,omitempty"` // active, stalled, closed_won, closed_lost
	Summary     string    `json:"summary,omitempty"`
	LastContact time.Time `json:"last_contact,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Person is an individual the system tracks, optionally tied to an account.
type Person struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Email          string    `json:"email,omitempty"`
	Aliases        []string  `json:"aliases,omitempty"`
	Title          string    `json:"title,omitempty"`
	Company        string    `json:"company,omitempty"`
	AccountID      string    `json:"account_id,omitempty"`
	Phone          string    `json:"phone,omitempty"`
	Summary        string    `json:"summary,omitempty"`
	Relationship   string    `json:"relationship,omitempty"` // internal, external, unknown
	MeetingCount   int       `json:"meeting_count,omitempty"`
	FirstSeen      time.Time `json:"first_seen,omitempty"`
	LastSeen       time.Time `json:"last_seen,omitempty"`
	LinkedinURL    string    `json:"linkedin_url,omitempty"`
	TwitterHandle  string    `json:"twitter_handle,omitempty"`
	Bio            string    `json:"bio,omitempty"`
	PhotoURL       string    `json:"photo_url,omitempty"`
	LastEnrichedAt time.Time `json:"last_enriched_at,omitempty"`
	LastContact    time.Time `json:"last_contact,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Store manages entity persistence in SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore creates an entity store wrapping an existing database
// connection. The schema is created or migrated in place.
func NewStore(db *sql.DB, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate entity store: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS accounts (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			domain TEXT,
			stage TEXT,
			arr REAL,
			health TEXT,
			contract_end TEXT,
			summary TEXT,
			details TEXT,
			last_contact TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			deleted_at TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_accounts_domain ON accounts(domain);
		CREATE INDEX IF NOT EXISTS idx_accounts_deleted ON accounts(deleted_at);

		CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL REFERENCES accounts(id),
			name TEXT NOT NULL,
			status TEXT,
			summary TEXT,
			last_contact TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			deleted_at TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_projects_account ON projects(account_id);

		CREATE TABLE IF NOT EXISTS people (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT,
			title TEXT,
			company TEXT,
			account_id TEXT REFERENCES accounts(id),
			phone TEXT,
			summary TEXT,
			last_contact TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			deleted_at TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_people_email ON people(email);
		CREATE INDEX IF NOT EXISTS idx_people_account ON people(account_id);

		CREATE TABLE IF NOT EXISTS account_parent (
			child_id TEXT NOT NULL REFERENCES accounts(id),
			parent_id TEXT NOT NULL REFERENCES accounts(id),
			PRIMARY KEY (child_id, parent_id)
		);

		CREATE TABLE IF NOT EXISTS meeting_entity (
			meeting_id TEXT NOT NULL,
			entity_kind TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			linked_at TEXT NOT NULL,
			PRIMARY KEY (meeting_id, entity_kind, entity_id)
		);
		CREATE INDEX IF NOT EXISTS idx_meeting_entity_entity ON meeting_entity(entity_kind, entity_id);
	`)
	if err != nil {
		return err
	}

	// Additive migrations: new columns appended after initial release tolerate
	// "duplicate column name" on repeated runs.
	for _, stmt := range []string{
		`ALTER TABLE accounts ADD COLUMN champion_person_id TEXT`,
		`ALTER TABLE accounts ADD COLUMN meeting_count INTEGER NOT NULL DEFAULT 0`,
		`ALTER TABLE accounts ADD COLUMN parent_id TEXT`,
		`ALTER TABLE accounts ADD COLUMN is_internal INTEGER NOT NULL DEFAULT 0`,
		`ALTER TABLE accounts ADD COLUMN archived INTEGER NOT NULL DEFAULT 0`,
		`ALTER TABLE accounts ADD COLUMN keywords TEXT`,
	} {
		if _, err := s.db.Exec(stmt); err != nil && !strings.Contains(err.Error(), "duplicate column") {
			s.logger.Warn("entity store migration step failed", "stmt", stmt, "error", err)
		}
	}

	s.migratePersonColumns()
	if err := s.migrateAccountEvents(); err != nil {
		return fmt.Errorf("migrate account events: %w", err)
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS account_domains (
			account_id TEXT NOT NULL REFERENCES accounts(id),
			domain TEXT NOT NULL,
			PRIMARY KEY (account_id, domain)
		);
		CREATE INDEX IF NOT EXISTS idx_account_domains_domain ON account_domains(domain);

		CREATE TABLE IF NOT EXISTS person_entity (
			person_id TEXT NOT NULL REFERENCES people(id),
			entity_kind TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			relationship TEXT,
			linked_at TEXT NOT NULL,
			PRIMARY KEY (person_id, entity_kind, entity_id)
		);
		CREATE INDEX IF NOT EXISTS idx_person_entity_entity ON person_entity(entity_kind, entity_id);
	`)
	if err != nil {
		return fmt.Errorf("migrate entity store link tables: %w", err)
	}

	return nil
}

// UpsertAccount creates or updates an account. A blank ID assigns a new one.
func (s *Store) UpsertAccount(a *Account) (*Account, error) {
	now := time.Now().UTC()
	if a.ID == "" {
		a.ID = "acct-" + uuid.NewString()
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	keywordsJSON, err := marshalKeywords(a.Keywords)
	if err != nil {
		return nil, fmt.Errorf("marshal account keywords: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO accounts (id, name, domain, stage, arr, health, contract_end, summary, details, last_contact, created_at, updated_at, parent_id, is_internal, archived, keywords)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, domain = excluded.domain, stage = excluded.stage,
			arr = excluded.arr, health = excluded.health, contract_end = excluded.contract_end,
			summary = excluded.summary, details = excluded.details, last_contact = excluded.last_contact,
			updated_at = excluded.updated_at, parent_id = excluded.parent_id,
			is_internal = excluded.is_internal, archived = excluded.archived, keywords = excluded.keywords,
			deleted_at = NULL
	`, a.ID, a.Name, nullStr(a.Domain), nullStr(a.Stage), a.ARR, nullStr(a.Health),
		nullTime(a.ContractEnd), nullStr(a.Summary), nullStr(a.Details), nullTime(a.LastContact),
		formatOrNow(a.CreatedAt, now), now.Format(time.RFC3339),
		nullStr(a.ParentID), boolInt(a.IsInternal), boolInt(a.Archived), nullStr(keywordsJSON))
	if err != nil {
		return nil, fmt.Errorf("upsert account: %w", err)
	}

	if a.Domain != "" {
		if err := s.addAccountDomain(a.ID, a.Domain); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// AddAccountDomain records an additional domain under which an account is
// reachable, used for multi-brand or acquired organizations where email
// traffic arrives from more than one domain.
func (s *Store) AddAccountDomain(accountID, domain string) error {
	return s.addAccountDomain(accountID, domain)
}

func (s *Store) addAccountDomain(accountID, domain string) error {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return nil
	}
	_, err := s.db.Exec(`
		INSERT INTO account_domains (account_id, domain) VALUES (?, ?)
		ON CONFLICT(account_id, domain) DO NOTHING
	`, accountID, domain)
	if err != nil {
		return fmt.Errorf("add account domain: %w", err)
	}
	return nil
}

// AccountDomains lists every domain registered under an account, including
// its primary Domain field.
func (s *Store) AccountDomains(accountID string) ([]string, error) {
	rows, err := s.db.Query(`SELECT domain FROM account_domains WHERE account_id = ? ORDER BY domain`, accountID)
	if err != nil {
		return nil, fmt.Errorf("query account domains: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan account domain: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// LookupAccountsByAnyDomain is LookupAccountsByDomain extended to also
// match secondary domains recorded via AddAccountDomain.
func (s *Store) LookupAccountsByAnyDomain(domain string) ([]*Account, error) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return nil, nil
	}
	direct, err := s.LookupAccountsByDomain(domain)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(`
		SELECT `+accountColumns+` FROM accounts
		WHERE `+activeFilter+` AND id IN (SELECT account_id FROM account_domains WHERE domain = ?)
	`, domain)
	if err != nil {
		return nil, fmt.Errorf("query accounts by secondary domain: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]bool, len(direct))
	out := direct
	for _, a := range direct {
		seen[a.ID] = true
	}
	for rows.Next() {
		a, err := scanAccountRow(rows)
		if err != nil {
			return nil, err
		}
		if seen[a.ID] {
			continue
		}
		seen[a.ID] = true
		out = append(out, a)
	}
	return out, rows.Err()
}

// AccountHierarchy returns the parent (if any) and direct children of an
// account, used to present rolled-up views across a named-account family.
func (s *Store) AccountHierarchy(accountID string) (parent *Account, children []*Account, err error) {
	acct, err := s.GetAccount(accountID)
	if err != nil {
		return nil, nil, err
	}
	if acct.ParentID != "" {
		parent, err = s.GetAccount(acct.ParentID)
		if err != nil && err != sql.ErrNoRows {
			return nil, nil, err
		}
	}
	rows, err := s.db.Query(`SELECT `+accountColumns+` FROM accounts WHERE `+activeFilter+` AND parent_id = ? ORDER BY name`, accountID)
	if err != nil {
		return nil, nil, fmt.Errorf("query account children: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		c, err := scanAccountRow(rows)
		if err != nil {
			return nil, nil, err
		}
		children = append(children, c)
	}
	return parent, children, rows.Err()
}

func marshalKeywords(keywords []string) (string, error) {
	if len(keywords) == 0 {
		return "", nil
	}
	b, err := json.Marshal(keywords)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalKeywords(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// GetAccount retrieves an active account by ID.
func (s *Store) GetAccount(id string) (*Account, error) {
	return scanAccount(s.db.QueryRow(
		`SELECT `+accountColumns+` FROM accounts WHERE `+activeFilter+` AND id = ?`, id))
}

// LookupAccountsByDomain returns active accounts whose domain matches,
// used by the resolver's attendee-email producer to find the owning
// account for an email address's domain.
func (s *Store) LookupAccountsByDomain(domain string) ([]*Account, error) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return nil, nil
	}
	rows, err := s.db.Query(
		`SELECT `+accountColumns+` FROM accounts WHERE `+activeFilter+` AND LOWER(domain) = ?`, domain)
	if err != nil {
		return nil, fmt.Errorf("query accounts by domain: %w", err)
	}
	defer rows.Close()

	var out []*Account
	for rows.Next() {
		a, err := scanAccountRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpsertPerson creates or updates a person. A blank ID assigns a new one.
func (s *Store) UpsertPerson(p *Person) (*Person, error) {
	now := time.Now().UTC()
	if p.ID == "" {
		p.ID = "person-" + uuid.NewString()
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	if p.Relationship == "" {
		p.Relationship = RelationshipUnknown
	}
	_, err := s.db.Exec(`
		INSERT INTO people (id, name, email, title, company, account_id, phone, summary, last_contact, created_at, updated_at, relationship)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, email = excluded.email, title = excluded.title,
			company = excluded.company, account_id = excluded.account_id, phone = excluded.phone,
			summary = excluded.summary, last_contact = excluded.last_contact,
			updated_at = excluded.updated_at, relationship = excluded.relationship,
			deleted_at = NULL
	`, p.ID, p.Name, nullStr(p.Email), nullStr(p.Title), nullStr(p.Company), nullStr(p.AccountID),
		nullStr(p.Phone), nullStr(p.Summary), nullTime(p.LastContact),
		formatOrNow(p.CreatedAt, now), now.Format(time.RFC3339), p.Relationship)
	if err != nil {
		return nil, fmt.Errorf("upsert person: %w", err)
	}
	return p, nil
}

// GetPerson retrieves an active person by ID.
func (s *Store) GetPerson(id string) (*Person, error) {
	return scanPerson(s.db.QueryRow(
		`SELECT `+personColumns+` FROM people WHERE `+activeFilter+` AND id = ?`, id))
}

// FindPersonByEmail returns the active person with a case-insensitive
// email match, or sql.ErrNoRows if none exists.
func (s *Store) FindPersonByEmail(email string) (*Person, error) {
	return scanPerson(s.db.QueryRow(
		`SELECT `+personColumns+` FROM people WHERE `+activeFilter+` AND LOWER(email) = LOWER(?)`, email))
}

// UpsertProject creates or updates a project. A blank ID assigns a new one.
func (s *Store) UpsertProject(p *Project) (*Project, error) {
	now := time.Now().UTC()
	if p.ID == "" {
		p.ID = "proj-" + uuid.NewString()
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	_, err := s.db.Exec(`
		INSERT INTO projects (id, account_id, name, status, summary, last_contact, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			account_id = excluded.account_id, name = excluded.name, status = excluded.status,
			summary = excluded.summary, last_contact = excluded.last_contact,
			updated_at = excluded.updated_at, deleted_at = NULL
	`, p.ID, p.AccountID, p.Name, nullStr(p.Status), nullStr(p.Summary), nullTime(p.LastContact),
		formatOrNow(p.CreatedAt, now), now.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("upsert project: %w", err)
	}
	return p, nil
}

// GetProject retrieves an active project by ID.
func (s *Store) GetProject(id string) (*Project, error) {
	return scanProject(s.db.QueryRow(
		`SELECT `+projectColumns+` FROM projects WHERE `+activeFilter+` AND id = ?`, id))
}

// ListProjectsByAccount returns all active projects under an account.
func (s *Store) ListProjectsByAccount(accountID string) ([]*Project, error) {
	rows, err := s.db.Query(
		`SELECT `+projectColumns+` FROM projects WHERE `+activeFilter+` AND account_id = ? ORDER BY name`, accountID)
	if err != nil {
		return nil, fmt.Errorf("query projects: %w", err)
	}
	defer rows.Close()

	var out []*Project
	for rows.Next() {
		p, err := scanProjectRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// TouchLastContact bumps last_contact for an entity (account, project, or
// person) to the given time if it is more recent than what's stored. Every
// mutation that implies human contact (a resolved meeting link, an inbound
// email) should call this so prep priority and hygiene staleness checks
// stay accurate.
func (s *Store) TouchLastContact(kind EntityKind, id string, at time.Time) error {
	table, ok := tableForKind(kind)
	if !ok {
		return fmt.Errorf("unknown entity kind: %s", kind)
	}
	_, err := s.db.Exec(
		fmt.Sprintf(`UPDATE %s SET last_contact = ?, updated_at = ? WHERE (id = ? COLLATE NOCASE OR name = ? COLLATE NOCASE) AND (last_contact IS NULL OR last_contact < ?)`, table),
		at.UTC().Format(time.RFC3339), time.Now().UTC().Format(time.RFC3339), id, id, at.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("touch last contact: %w", err)
	}
	return nil
}

// LinkMeeting records that a meeting touched an entity, used by the
// resolver to build the meeting_count used in hygiene's recomputation
// pass and by relevance's entity-linkage dimension.
func (s *Store) LinkMeeting(meetingID string, kind EntityKind, entityID string) error {
	_, err := s.db.Exec(`
		INSERT INTO meeting_entity (meeting_id, entity_kind, entity_id, linked_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(meeting_id, entity_kind, entity_id) DO NOTHING
	`, meetingID, kind, entityID, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("link meeting: %w", err)
	}
	return nil
}

// UnlinkMeeting removes a meeting/entity link, used when the user
// corrects a resolution.
func (s *Store) UnlinkMeeting(meetingID string, kind EntityKind, entityID string) error {
	_, err := s.db.Exec(`
		DELETE FROM meeting_entity WHERE meeting_id = ? AND entity_kind = ? AND entity_id = ?
	`, meetingID, kind, entityID)
	if err != nil {
		return fmt.Errorf("unlink meeting: %w", err)
	}
	return nil
}

// MeetingEntities returns the entities linked to a meeting.
func (s *Store) MeetingEntities(meetingID string) ([]EntityRef, error) {
	rows, err := s.db.Query(
		`SELECT entity_kind, entity_id FROM meeting_entity WHERE meeting_id = ?`, meetingID)
	if err != nil {
		return nil, fmt.Errorf("query meeting entities: %w", err)
	}
	defer rows.Close()

	var out []EntityRef
	for rows.Next() {
		var ref EntityRef
		if err := rows.Scan(&ref.Kind, &ref.ID); err != nil {
			return nil, fmt.Errorf("scan entity ref: %w", err)
		}
		out = append(out, ref)
	}
	return out, rows.Err()
}

// RecomputeMeetingCounts recalculates accounts.meeting_count from the
// meeting_entity link table, correcting drift from direct writes that
// bypassed LinkMeeting (the hygiene meeting-count-mismatch repair).
func (s *Store) RecomputeMeetingCounts() (int, error) {
	result, err := s.db.Exec(`
		UPDATE accounts SET meeting_count = (
			SELECT COUNT(*) FROM meeting_entity
			WHERE meeting_entity.entity_kind = 'account' AND meeting_entity.entity_id = accounts.id
		)
		WHERE meeting_count != (
			SELECT COUNT(*) FROM meeting_entity
			WHERE meeting_entity.entity_kind = 'account' AND meeting_entity.entity_id = accounts.id
		)
	`)
	if err != nil {
		return 0, fmt.Errorf("recompute meeting counts: %w", err)
	}
	affected, _ := result.RowsAffected()
	return int(affected), nil
}

// LinkPersonEntity records a relationship between a person and another
// entity (e.g. "champion" on an account, "stakeholder" on a project),
// distinct from meeting_entity which tracks meeting attendance rather than
// a standing relationship.
func (s *Store) LinkPersonEntity(personID string, kind EntityKind, entityID, relationship string) error {
	_, err := s.db.Exec(`
		INSERT INTO person_entity (person_id, entity_kind, entity_id, relationship, linked_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(person_id, entity_kind, entity_id) DO UPDATE SET relationship = excluded.relationship
	`, personID, kind, entityID, nullStr(relationship), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("link person entity: %w", err)
	}
	return nil
}

// UnlinkPersonEntity removes a person/entity relationship.
func (s *Store) UnlinkPersonEntity(personID string, kind EntityKind, entityID string) error {
	_, err := s.db.Exec(`
		DELETE FROM person_entity WHERE person_id = ? AND entity_kind = ? AND entity_id = ?
	`, personID, kind, entityID)
	if err != nil {
		return fmt.Errorf("unlink person entity: %w", err)
	}
	return nil
}

// PersonEntities returns the entities a person is linked to, alongside the
// recorded relationship label.
func (s *Store) PersonEntities(personID string) ([]EntityRef, error) {
	rows, err := s.db.Query(
		`SELECT entity_kind, entity_id, relationship FROM person_entity WHERE person_id = ?`, personID)
	if err != nil {
		return nil, fmt.Errorf("query person entities: %w", err)
	}
	defer rows.Close()

	var out []EntityRef
	for rows.Next() {
		var ref EntityRef
		var rel sql.NullString
		if err := rows.Scan(&ref.Kind, &ref.ID, &rel); err != nil {
			return nil, fmt.Errorf("scan person entity: %w", err)
		}
		ref.Relationship = rel.String
		out = append(out, ref)
	}
	return out, rows.Err()
}

// EntitiesForPerson returns the people linked to a given entity (the
// inverse of PersonEntities), e.g. every known stakeholder on an account.
func (s *Store) EntitiesForPerson(kind EntityKind, entityID string) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT person_id FROM person_entity WHERE entity_kind = ? AND entity_id = ?`, kind, entityID)
	if err != nil {
		return nil, fmt.Errorf("query people for entity: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan person id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// EntityRef identifies an entity by kind and ID, optionally carrying the
// relationship label recorded in person_entity.
type EntityRef struct {
	Kind         EntityKind
	ID           string
	Relationship string
}

// EntityKind identifies which table an entity reference resolves against.
type EntityKind string

const (
	KindAccount EntityKind = "account"
	KindProject EntityKind = "project"
	KindPerson  EntityKind = "person"
)

func tableForKind(kind EntityKind) (string, bool) {
	switch kind {
	case KindAccount:
		return "accounts", true
	case KindProject:
		return "projects", true
	case KindPerson:
		return "people", true
	default:
		return "", false
	}
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

func formatOrNow(t, now time.Time) string {
	if t.IsZero() {
		return now.Format(time.RFC3339)
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
