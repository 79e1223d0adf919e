package store

import (
	"context"
	"errors"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/leadscout/internal/model"
)

const leadColumns = `id, task_id, name, category, phone, website, domain, address,
	city, state, rating, review_count,
	rating_status, rating_label, rating_suggestion, rating_reasoning, rating_error,
	enrich_status, enrich_error,
	crm_sync_status, crm_id, crm_sync_error, crm_synced_at,
	created_at, updated_at`

// InsertLead persists a freshly scraped lead with all axes pending.
func (s *PostgresStore) InsertLead(ctx context.Context, lead *model.Lead) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO leads (id, task_id, name, category, phone, website, domain,
			address, city, state, rating, review_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		lead.ID, lead.TaskID, lead.Name, lead.Category, lead.Phone, lead.Website,
		lead.Domain, lead.Address, lead.City, lead.State, lead.Rating, lead.ReviewCount)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert lead %s", lead.ID)
	}
	return nil
}

// GetLead fetches a lead by id.
func (s *PostgresStore) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = $1`, id)
	return scanLead(row)
}

// ListLeads returns leads matching the filter, newest first.
func (s *PostgresStore) ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE 1=1`
	var args []any

	if filter.TaskID != "" {
		args = append(args, filter.TaskID)
		query += ` AND task_id = $` + strconv.Itoa(len(args))
	}
	if filter.RatingStatus != "" {
		args = append(args, string(filter.RatingStatus))
		query += ` AND rating_status = $` + strconv.Itoa(len(args))
	}
	if filter.EnrichStatus != "" {
		args = append(args, string(filter.EnrichStatus))
		query += ` AND enrich_status = $` + strconv.Itoa(len(args))
	}
	if filter.CRMSyncStatus != "" {
		args = append(args, string(filter.CRMSyncStatus))
		query += ` AND crm_sync_status = $` + strconv.Itoa(len(args))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += ` ORDER BY created_at DESC LIMIT $` + strconv.Itoa(len(args))
	args = append(args, filter.Offset)
	query += ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list leads")
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		leads = append(leads, *l)
	}
	return leads, rows.Err()
}

// ClaimLeadForRating transitions rating_status pending to processing, so two
// workers holding the same queue message cannot both rate the lead.
func (s *PostgresStore) ClaimLeadForRating(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE leads SET rating_status = 'processing', updated_at = now()
		WHERE id = $1 AND rating_status = 'pending'`, id)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: claim lead %s for rating", id)
	}
	return tag.RowsAffected() == 1, nil
}

// SetRatingResult records a successful rating and completes the rating axis.
func (s *PostgresStore) SetRatingResult(ctx context.Context, id, label, suggestion, reasoning string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE leads SET rating_status = 'completed', rating_label = $2,
			rating_suggestion = $3, rating_reasoning = $4, rating_error = '', updated_at = now()
		WHERE id = $1`, id, label, suggestion, reasoning)
	if err != nil {
		return eris.Wrapf(err, "postgres: set rating result for lead %s", id)
	}
	return nil
}

// SetRatingStatus sets the rating axis status and error message.
func (s *PostgresStore) SetRatingStatus(ctx context.Context, id string, status model.RatingStatus, errMsg string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE leads SET rating_status = $2, rating_error = $3, updated_at = now()
		WHERE id = $1`, id, string(status), errMsg)
	if err != nil {
		return eris.Wrapf(err, "postgres: set rating status for lead %s", id)
	}
	return nil
}

// SetLeadDomain records the domain resolved during enrichment.
func (s *PostgresStore) SetLeadDomain(ctx context.Context, id, domain string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE leads SET domain = $2, updated_at = now() WHERE id = $1`, id, domain)
	if err != nil {
		return eris.Wrapf(err, "postgres: set domain for lead %s", id)
	}
	return nil
}

// SetEnrichStatus sets the enrichment axis status and error message.
func (s *PostgresStore) SetEnrichStatus(ctx context.Context, id string, status model.EnrichStatus, errMsg string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE leads SET enrich_status = $2, enrich_error = $3, updated_at = now()
		WHERE id = $1`, id, string(status), errMsg)
	if err != nil {
		return eris.Wrapf(err, "postgres: set enrich status for lead %s", id)
	}
	return nil
}

// AddContacts appends discovered contacts to a lead. Contacts are append-only.
func (s *PostgresStore) AddContacts(ctx context.Context, leadID string, contacts []model.Contact) error {
	for _, c := range contacts {
		if c.ID == "" {
			c.ID = uuid.New().String()
		}
		_, err := s.pool.Exec(ctx,
			`INSERT INTO contacts (id, lead_id, first_name, last_name, email, position, source)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			c.ID, leadID, c.FirstName, c.LastName, c.Email, c.Position, c.Source)
		if err != nil {
			return eris.Wrapf(err, "postgres: add contact to lead %s", leadID)
		}
	}
	return nil
}

// ListContacts returns a lead's contacts in insertion order.
func (s *PostgresStore) ListContacts(ctx context.Context, leadID string) ([]model.Contact, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, lead_id, first_name, last_name, email, position, source, created_at
		FROM contacts WHERE lead_id = $1 ORDER BY created_at`, leadID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list contacts for lead %s", leadID)
	}
	defer rows.Close()

	var contacts []model.Contact
	for rows.Next() {
		var c model.Contact
		if err := rows.Scan(&c.ID, &c.LeadID, &c.FirstName, &c.LastName,
			&c.Email, &c.Position, &c.Source, &c.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan contact")
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// ClaimLeadForCRM transitions crm_sync_status pending to processing.
func (s *PostgresStore) ClaimLeadForCRM(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE leads SET crm_sync_status = 'processing', updated_at = now()
		WHERE id = $1 AND crm_sync_status = 'pending'`, id)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: claim lead %s for crm sync", id)
	}
	return tag.RowsAffected() == 1, nil
}

// SetCRMSynced records a successful CRM push with the remote record id.
func (s *PostgresStore) SetCRMSynced(ctx context.Context, id, crmID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE leads SET crm_sync_status = 'synced', crm_id = $2, crm_sync_error = '',
			crm_synced_at = now(), updated_at = now()
		WHERE id = $1`, id, crmID)
	if err != nil {
		return eris.Wrapf(err, "postgres: set crm synced for lead %s", id)
	}
	return nil
}

// SetCRMStatus sets the CRM axis status and error message.
func (s *PostgresStore) SetCRMStatus(ctx context.Context, id string, status model.CRMSyncStatus, errMsg string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE leads SET crm_sync_status = $2, crm_sync_error = $3, updated_at = now()
		WHERE id = $1`, id, string(status), errMsg)
	if err != nil {
		return eris.Wrapf(err, "postgres: set crm status for lead %s", id)
	}
	return nil
}

// RearmLeads moves failed leads (and pending_config ones for the rating
// stage) back to pending and returns their ids for re-enqueueing.
func (s *PostgresStore) RearmLeads(ctx context.Context, stage model.Stage, ids []string) ([]string, error) {
	var query string
	switch stage {
	case model.StageRating:
		query = `UPDATE leads SET rating_status = 'pending', rating_error = '', updated_at = now()
			WHERE rating_status IN ('failed', 'pending_config')`
	case model.StageEnrich:
		query = `UPDATE leads SET enrich_status = 'pending', enrich_error = '', updated_at = now()
			WHERE enrich_status = 'failed'`
	case model.StageCRMSync:
		query = `UPDATE leads SET crm_sync_status = 'pending', crm_sync_error = '', updated_at = now()
			WHERE crm_sync_status = 'failed'`
	default:
		return nil, eris.Errorf("store: unknown stage %q", stage)
	}

	var args []any
	if len(ids) > 0 {
		query += ` AND id = ANY($1)`
		args = append(args, ids)
	}
	query += ` RETURNING id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: rearm %s leads", stage)
	}
	defer rows.Close()

	var rearmed []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "postgres: scan rearmed lead id")
		}
		rearmed = append(rearmed, id)
	}
	return rearmed, rows.Err()
}

func scanLead(row pgx.Row) (*model.Lead, error) {
	var l model.Lead
	var ratingStatus, enrichStatus, crmStatus string
	err := row.Scan(&l.ID, &l.TaskID, &l.Name, &l.Category, &l.Phone, &l.Website,
		&l.Domain, &l.Address, &l.City, &l.State, &l.Rating, &l.ReviewCount,
		&ratingStatus, &l.RatingLabel, &l.RatingSuggestion, &l.RatingReasoning, &l.RatingError,
		&enrichStatus, &l.EnrichError,
		&crmStatus, &l.CRMID, &l.CRMSyncError, &l.CRMSyncedAt,
		&l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan lead")
	}
	l.RatingStatus = model.RatingStatus(ratingStatus)
	l.EnrichStatus = model.EnrichStatus(enrichStatus)
	l.CRMSyncStatus = model.CRMSyncStatus(crmStatus)
	return &l, nil
}
