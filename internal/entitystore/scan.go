package entitystore

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// rowScanner abstracts *sql.Row/*sql.Rows so the scan helpers below work
// for both a single-row Get and a multi-row List query.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*Account, error) {
	a := &Account{}
	var domain, stage, health, contractEnd, summary, details, lastContact sql.NullString
	var arr sql.NullFloat64
	var createdAt, updatedAt string
	var parentID, keywords sql.NullString
	var isInternal, archived int
	if err := row.Scan(&a.ID, &a.Name, &domain, &stage, &arr, &health, &contractEnd,
		&summary, &details, &lastContact, &createdAt, &updatedAt,
		&parentID, &isInternal, &archived, &keywords); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}
	a.Domain = domain.String
	a.Stage = stage.String
	a.ARR = arr.Float64
	a.Health = health.String
	a.ContractEnd = parseTime(contractEnd.String)
	a.Summary = summary.String
	a.Details = details.String
	a.LastContact = parseTime(lastContact.String)
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)
	a.ParentID = parentID.String
	a.IsInternal = isInternal != 0
	a.Archived = archived != 0
	a.Keywords = unmarshalKeywords(keywords.String)
	return a, nil
}

func scanAccountRow(rows *sql.Rows) (*Account, error) {
	return scanAccount(rows)
}

func scanPerson(row rowScanner) (*Person, error) {
	p := &Person{}
	var email, title, company, accountID, phone, summary, lastContact sql.NullString
	var aliases, firstSeen, lastSeen, linkedinURL, twitterHandle, bio, photoURL, lastEnrichedAt sql.NullString
	var createdAt, updatedAt, relationship string
	if err := row.Scan(&p.ID, &p.Name, &email, &title, &company, &accountID, &phone,
		&summary, &lastContact, &createdAt, &updatedAt,
		&relationship, &aliases, &p.MeetingCount, &firstSeen, &lastSeen,
		&linkedinURL, &twitterHandle, &bio, &photoURL, &lastEnrichedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan person: %w", err)
	}
	p.Email = email.String
	p.Title = title.String
	p.Company = company.String
	p.AccountID = accountID.String
	p.Phone = phone.String
	p.Summary = summary.String
	p.Relationship = relationship
	p.LastContact = parseTime(lastContact.String)
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	if aliases.String != "" {
		if err := json.Unmarshal([]byte(aliases.String), &p.Aliases); err != nil {
			p.Aliases = nil
		}
	}
	p.FirstSeen = parseTime(firstSeen.String)
	p.LastSeen = parseTime(lastSeen.String)
	p.LinkedinURL = linkedinURL.String
	p.TwitterHandle = twitterHandle.String
	p.Bio = bio.String
	p.PhotoURL = photoURL.String
	p.LastEnrichedAt = parseTime(lastEnrichedAt.String)
	return p, nil
}

func scanProject(row rowScanner) (*Project, error) {
	pr := &Project{}
	var status, summary, lastContact sql.NullString
	var createdAt, updatedAt string
	if err := row.Scan(&pr.ID, &pr.AccountID, &pr.Name, &status, &summary, &lastContact,
		&createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan project: %w", err)
	}
	pr.Status = status.String
	pr.Summary = summary.String
	pr.LastContact = parseTime(lastContact.String)
	pr.CreatedAt = parseTime(createdAt)
	pr.UpdatedAt = parseTime(updatedAt)
	return pr, nil
}

func scanProjectRow(rows *sql.Rows) (*Project, error) {
	return scanProject(rows)
}
