package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"caredrop/internal/donation/models"
	id "caredrop/pkg/domain"
	"caredrop/pkg/platform/sentinel"
)

const claimColumns = `id, campaign_id, recipient_id, status, token_digest, claimed_at, redeemed_at, expires_at, created_at`

const campaignColumns = `id, business_id, business_name, item_name, quantity, agency_id, redemption_end_date, created_at`

// PostgresStore persists donation state in PostgreSQL.
// This store is pure I/O; ordering rules beyond SQL ORDER BY belong in the services.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed donation store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) CreateAgency(ctx context.Context, agency *models.Agency) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO agencies (id, name) VALUES ($1, $2)`,
		uuid.UUID(agency.ID), agency.Name)
	if err != nil {
		return translate("create agency", err)
	}
	return nil
}

func (s *PostgresStore) FindAgency(ctx context.Context, agencyID id.AgencyID) (*models.Agency, error) {
	var agency models.Agency
	var rawID uuid.UUID
	err := s.db.QueryRowContext(ctx, `SELECT id, name FROM agencies WHERE id = $1`, uuid.UUID(agencyID)).
		Scan(&rawID, &agency.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find agency: %w", err)
	}
	agency.ID = id.AgencyID(rawID)
	return &agency, nil
}

func (s *PostgresStore) ListAgencies(ctx context.Context) ([]*models.Agency, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM agencies ORDER BY name COLLATE "C", id`)
	if err != nil {
		return nil, fmt.Errorf("list agencies: %w", err)
	}
	defer rows.Close()

	var out []*models.Agency
	for rows.Next() {
		var agency models.Agency
		var rawID uuid.UUID
		if err := rows.Scan(&rawID, &agency.Name); err != nil {
			return nil, fmt.Errorf("scan agency: %w", err)
		}
		agency.ID = id.AgencyID(rawID)
		out = append(out, &agency)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agencies: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) CreateRosterEntry(ctx context.Context, entry *models.RosterEntry) error {
	query := `
		INSERT INTO roster_entries (id, agency_id, full_name, normalized_name, contact)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.UUID(entry.ID), uuid.UUID(entry.AgencyID), entry.FullName, models.NormalizeName(entry.FullName), entry.Contact)
	if err != nil {
		return translate("create roster entry", err)
	}
	return nil
}

func (s *PostgresStore) FindRosterEntry(ctx context.Context, agencyID id.AgencyID, fullName string) (*models.RosterEntry, error) {
	query := `
		SELECT id, agency_id, full_name, contact
		FROM roster_entries
		WHERE agency_id = $1 AND normalized_name = $2
		ORDER BY id
		LIMIT 1
	`
	var entry models.RosterEntry
	var rawID, rawAgency uuid.UUID
	err := s.db.QueryRowContext(ctx, query, uuid.UUID(agencyID), models.NormalizeName(fullName)).
		Scan(&rawID, &rawAgency, &entry.FullName, &entry.Contact)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find roster entry: %w", err)
	}
	entry.ID = id.RosterEntryID(rawID)
	entry.AgencyID = id.AgencyID(rawAgency)
	return &entry, nil
}

func (s *PostgresStore) CreateRecipient(ctx context.Context, recipient *models.Recipient) error {
	query := `
		INSERT INTO recipients (id, roster_entry_id, agency_id, full_name, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.UUID(recipient.ID), uuid.UUID(recipient.RosterEntryID), uuid.UUID(recipient.AgencyID),
		recipient.FullName, recipient.CreatedAt)
	if err != nil {
		return translate("create recipient", err)
	}
	return nil
}

func (s *PostgresStore) FindRecipient(ctx context.Context, recipientID id.RecipientID) (*models.Recipient, error) {
	query := `SELECT id, roster_entry_id, agency_id, full_name, created_at FROM recipients WHERE id = $1`
	var recipient models.Recipient
	var rawID, rawEntry, rawAgency uuid.UUID
	err := s.db.QueryRowContext(ctx, query, uuid.UUID(recipientID)).
		Scan(&rawID, &rawEntry, &rawAgency, &recipient.FullName, &recipient.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find recipient: %w", err)
	}
	recipient.ID = id.RecipientID(rawID)
	recipient.RosterEntryID = id.RosterEntryID(rawEntry)
	recipient.AgencyID = id.AgencyID(rawAgency)
	return &recipient, nil
}

func (s *PostgresStore) ListEligibleRecipients(ctx context.Context, agencyID id.AgencyID) ([]models.EligibleRecipient, error) {
	query := `
		SELECT r.id, r.created_at, MAX(c.created_at)
		FROM recipients r
		LEFT JOIN claims c ON c.recipient_id = r.id
		WHERE r.agency_id = $1
		GROUP BY r.id, r.created_at
	`
	rows, err := s.db.QueryContext(ctx, query, uuid.UUID(agencyID))
	if err != nil {
		return nil, fmt.Errorf("list eligible recipients: %w", err)
	}
	defer rows.Close()

	var out []models.EligibleRecipient
	for rows.Next() {
		var rawID uuid.UUID
		var row models.EligibleRecipient
		var last sql.NullTime
		if err := rows.Scan(&rawID, &row.EnrolledAt, &last); err != nil {
			return nil, fmt.Errorf("scan eligible recipient: %w", err)
		}
		row.RecipientID = id.RecipientID(rawID)
		if last.Valid {
			t := last.Time
			row.LastClaimAt = &t
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate eligible recipients: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) CreateCampaign(ctx context.Context, campaign *models.Campaign) error {
	query := `INSERT INTO campaigns (` + campaignColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := s.db.ExecContext(ctx, query,
		uuid.UUID(campaign.ID), uuid.UUID(campaign.BusinessID), campaign.BusinessName, campaign.ItemName,
		campaign.Quantity, nullAgency(campaign.AgencyID), campaign.RedemptionEndDate, campaign.CreatedAt)
	if err != nil {
		return translate("create campaign", err)
	}
	return nil
}

func (s *PostgresStore) FindCampaign(ctx context.Context, campaignID id.CampaignID) (*models.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = $1`
	campaign, err := scanCampaign(s.db.QueryRowContext(ctx, query, uuid.UUID(campaignID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find campaign: %w", err)
	}
	return campaign, nil
}

func (s *PostgresStore) ListCampaignsByBusiness(ctx context.Context, businessID id.BusinessID) ([]*models.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE business_id = $1 ORDER BY created_at DESC, id DESC`
	return s.queryCampaigns(ctx, "list business campaigns", query, uuid.UUID(businessID))
}

func (s *PostgresStore) ListOpenCampaignsForAgency(ctx context.Context, agencyID id.AgencyID, now time.Time) ([]*models.Campaign, error) {
	query := `
		SELECT ` + campaignColumns + `
		FROM campaigns
		WHERE agency_id = $1 AND redemption_end_date >= $2::date
		ORDER BY created_at, id
	`
	return s.queryCampaigns(ctx, "list open agency campaigns", query, uuid.UUID(agencyID), models.DateOf(now))
}

func (s *PostgresStore) queryCampaigns(ctx context.Context, op, query string, args ...any) ([]*models.Campaign, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []*models.Campaign
	for rows.Next() {
		campaign, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, campaign)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

// InsertClaim locks the campaign row so concurrent inserts for one campaign
// count and write in turn.
func (s *PostgresStore) InsertClaim(ctx context.Context, claim *models.Claim) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("insert claim: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var quantity, existing int
	err = tx.QueryRowContext(ctx, `SELECT quantity FROM campaigns WHERE id = $1 FOR UPDATE`, uuid.UUID(claim.CampaignID)).
		Scan(&quantity)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("insert claim: campaign: %w", sentinel.ErrNotFound)
		}
		return fmt.Errorf("insert claim: lock campaign: %w", err)
	}
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM claims WHERE campaign_id = $1`, uuid.UUID(claim.CampaignID)).
		Scan(&existing)
	if err != nil {
		return fmt.Errorf("insert claim: count: %w", err)
	}
	if existing >= quantity {
		return fmt.Errorf("insert claim: campaign %s is full: %w", claim.CampaignID, sentinel.ErrCapacityExhausted)
	}

	query := `INSERT INTO claims (` + claimColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err = tx.ExecContext(ctx, query,
		uuid.UUID(claim.ID), uuid.UUID(claim.CampaignID), uuid.UUID(claim.RecipientID), string(claim.Status),
		claim.TokenDigest, nullTime(claim.ClaimedAt), nullTime(claim.RedeemedAt), claim.ExpiresAt, claim.CreatedAt)
	if err != nil {
		return translate("insert claim", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("insert claim: commit: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindClaim(ctx context.Context, claimID id.ClaimID) (*models.Claim, error) {
	return s.findClaim(ctx, "find claim", `SELECT `+claimColumns+` FROM claims WHERE id = $1`, uuid.UUID(claimID))
}

func (s *PostgresStore) FindClaimByTokenDigest(ctx context.Context, digest string) (*models.Claim, error) {
	return s.findClaim(ctx, "find claim by token", `SELECT `+claimColumns+` FROM claims WHERE token_digest = $1`, digest)
}

func (s *PostgresStore) FindActiveClaim(ctx context.Context, recipientID id.RecipientID) (*models.Claim, error) {
	return s.findClaim(ctx, "find active claim",
		`SELECT `+claimColumns+` FROM claims WHERE recipient_id = $1 AND status = 'claimed'`, uuid.UUID(recipientID))
}

func (s *PostgresStore) findClaim(ctx context.Context, op, query string, args ...any) (*models.Claim, error) {
	claim, err := scanClaim(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return claim, nil
}

func (s *PostgresStore) ListClaimViews(ctx context.Context, recipientID id.RecipientID) ([]*models.ClaimView, error) {
	query := `
		SELECT c.id, c.campaign_id, c.recipient_id, c.status, c.token_digest, c.claimed_at, c.redeemed_at,
			c.expires_at, c.created_at, p.item_name, p.business_name, p.redemption_end_date
		FROM claims c
		JOIN campaigns p ON p.id = c.campaign_id
		WHERE c.recipient_id = $1
		ORDER BY c.created_at DESC, c.id DESC
	`
	rows, err := s.db.QueryContext(ctx, query, uuid.UUID(recipientID))
	if err != nil {
		return nil, fmt.Errorf("list claim views: %w", err)
	}
	defer rows.Close()

	var out []*models.ClaimView
	for rows.Next() {
		var view models.ClaimView
		var row claimRow
		dest := append(row.dest(), &view.ItemName, &view.BusinessName, &view.RedemptionEndDate)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan claim view: %w", err)
		}
		view.Claim = *row.claim()
		out = append(out, &view)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claim views: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) CountClaims(ctx context.Context, campaignID id.CampaignID) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM claims WHERE campaign_id = $1`, uuid.UUID(campaignID)).
		Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count claims: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) CountClaimsByCampaign(ctx context.Context, campaignIDs []id.CampaignID) (map[id.CampaignID]models.ClaimCounts, error) {
	out := make(map[id.CampaignID]models.ClaimCounts, len(campaignIDs))
	if len(campaignIDs) == 0 {
		return out, nil
	}
	keys := make([]string, 0, len(campaignIDs))
	for _, campaignID := range campaignIDs {
		out[campaignID] = models.ClaimCounts{}
		keys = append(keys, campaignID.String())
	}
	query := `
		SELECT campaign_id,
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'claimed'),
			COUNT(*) FILTER (WHERE status = 'redeemed'),
			COUNT(*) FILTER (WHERE status = 'expired')
		FROM claims
		WHERE campaign_id = ANY($1::uuid[])
		GROUP BY campaign_id
	`
	rows, err := s.db.QueryContext(ctx, query, pq.Array(keys))
	if err != nil {
		return nil, fmt.Errorf("count claims by campaign: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rawID uuid.UUID
		var counts models.ClaimCounts
		if err := rows.Scan(&rawID, &counts.Allocated, &counts.Claimed, &counts.Redeemed, &counts.Expired); err != nil {
			return nil, fmt.Errorf("scan claim counts: %w", err)
		}
		out[id.CampaignID(rawID)] = counts
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claim counts: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) RecipientsWithClaim(ctx context.Context, campaignID id.CampaignID, recipientIDs []id.RecipientID) (map[id.RecipientID]struct{}, error) {
	out := make(map[id.RecipientID]struct{})
	if len(recipientIDs) == 0 {
		return out, nil
	}
	keys := make([]string, 0, len(recipientIDs))
	for _, recipientID := range recipientIDs {
		keys = append(keys, recipientID.String())
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT recipient_id FROM claims WHERE campaign_id = $1 AND recipient_id = ANY($2::uuid[])`,
		uuid.UUID(campaignID), pq.Array(keys))
	if err != nil {
		return nil, fmt.Errorf("recipients with claim: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rawID uuid.UUID
		if err := rows.Scan(&rawID); err != nil {
			return nil, fmt.Errorf("scan recipient id: %w", err)
		}
		out[id.RecipientID(rawID)] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recipient ids: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) MarkClaimed(ctx context.Context, claimID id.ClaimID, recipientID id.RecipientID, digest string, now time.Time) (*models.Claim, error) {
	query := `
		UPDATE claims
		SET status = 'claimed', claimed_at = $3, token_digest = $4
		WHERE id = $1 AND recipient_id = $2 AND status = 'pending' AND expires_at > $3
		RETURNING ` + claimColumns
	return s.transition(ctx, "mark claim claimed", query, uuid.UUID(claimID), uuid.UUID(recipientID), now, digest)
}

func (s *PostgresStore) MarkExpired(ctx context.Context, claimID id.ClaimID, now time.Time) (*models.Claim, error) {
	query := `
		UPDATE claims
		SET status = 'expired'
		WHERE id = $1 AND status = 'pending' AND expires_at <= $2
		RETURNING ` + claimColumns
	return s.transition(ctx, "mark claim expired", query, uuid.UUID(claimID), now)
}

func (s *PostgresStore) MarkRedeemed(ctx context.Context, claimID id.ClaimID, now time.Time) (*models.Claim, error) {
	query := `
		UPDATE claims
		SET status = 'redeemed', redeemed_at = $2
		WHERE id = $1 AND status = 'claimed'
		RETURNING ` + claimColumns
	return s.transition(ctx, "mark claim redeemed", query, uuid.UUID(claimID), now)
}

// transition runs a conditional status update. Zero matched rows means the
// claim was not in the expected state and yields ErrInvalidState.
func (s *PostgresStore) transition(ctx context.Context, op, query string, args ...any) (*models.Claim, error) {
	claim, err := scanClaim(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, sentinel.ErrInvalidState)
		}
		return nil, translate(op, err)
	}
	return claim, nil
}

func (s *PostgresStore) ExpirePending(ctx context.Context, now time.Time) ([]*models.Claim, error) {
	query := `
		UPDATE claims
		SET status = 'expired'
		WHERE status = 'pending' AND expires_at <= $1
		RETURNING ` + claimColumns
	rows, err := s.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("expire pending claims: %w", err)
	}
	defer rows.Close()

	var out []*models.Claim
	for rows.Next() {
		claim, err := scanClaim(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expired claim: %w", err)
		}
		out = append(out, claim)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired claims: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

type claimRow struct {
	id, campaignID, recipientID uuid.UUID
	status, digest              string
	claimedAt, redeemedAt       sql.NullTime
	expiresAt, createdAt        time.Time
}

func (r *claimRow) dest() []any {
	return []any{&r.id, &r.campaignID, &r.recipientID, &r.status, &r.digest,
		&r.claimedAt, &r.redeemedAt, &r.expiresAt, &r.createdAt}
}

func (r *claimRow) claim() *models.Claim {
	claim := &models.Claim{
		ID:          id.ClaimID(r.id),
		CampaignID:  id.CampaignID(r.campaignID),
		RecipientID: id.RecipientID(r.recipientID),
		Status:      models.ClaimStatus(r.status),
		TokenDigest: r.digest,
		ExpiresAt:   r.expiresAt,
		CreatedAt:   r.createdAt,
	}
	if r.claimedAt.Valid {
		t := r.claimedAt.Time
		claim.ClaimedAt = &t
	}
	if r.redeemedAt.Valid {
		t := r.redeemedAt.Time
		claim.RedeemedAt = &t
	}
	return claim
}

func scanClaim(row rowScanner) (*models.Claim, error) {
	var r claimRow
	if err := row.Scan(r.dest()...); err != nil {
		return nil, err
	}
	return r.claim(), nil
}

func scanCampaign(row rowScanner) (*models.Campaign, error) {
	var campaign models.Campaign
	var rawID, rawBusiness uuid.UUID
	var rawAgency uuid.NullUUID
	err := row.Scan(&rawID, &rawBusiness, &campaign.BusinessName, &campaign.ItemName, &campaign.Quantity,
		&rawAgency, &campaign.RedemptionEndDate, &campaign.CreatedAt)
	if err != nil {
		return nil, err
	}
	campaign.ID = id.CampaignID(rawID)
	campaign.BusinessID = id.BusinessID(rawBusiness)
	if rawAgency.Valid {
		agencyID := id.AgencyID(rawAgency.UUID)
		campaign.AgencyID = &agencyID
	}
	campaign.RedemptionEndDate = models.DateOf(campaign.RedemptionEndDate)
	return &campaign, nil
}

func nullAgency(agencyID *id.AgencyID) uuid.NullUUID {
	if agencyID == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: uuid.UUID(*agencyID), Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
