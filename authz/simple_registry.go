package authz

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/lib/pq"
)

// SimpleMembershipRegistry implements MembershipRegistry with direct SQL
// against the organization_members table.
type SimpleMembershipRegistry struct {
	db *sql.DB
}

// NewSimpleMembershipRegistry creates a new SimpleMembershipRegistry
func NewSimpleMembershipRegistry(db *sql.DB) *SimpleMembershipRegistry {
	return &SimpleMembershipRegistry{db: db}
}

var _ MembershipRegistry = (*SimpleMembershipRegistry)(nil)

// ActiveMemberships returns all active memberships for a user, joined with
// organization details. Ordered by membership created_at so the first row is
// the deterministic default organization.
func (r *SimpleMembershipRegistry) ActiveMemberships(ctx context.Context, userID string) ([]Membership, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT m.organization_id, m.user_id, m.access_level, m.status,
		       m.can_invite_members, m.can_manage_roles, m.permissions,
		       m.created_at, m.updated_at,
		       o.id, o.name, COALESCE(o.description, ''), COALESCE(o.logo_url, ''), o.created_at, o.updated_at
		FROM organization_members m
		JOIN organizations o ON o.id = m.organization_id
		WHERE m.user_id = $1 AND m.status = 'active'
		ORDER BY m.created_at, m.organization_id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load memberships: %w", err)
	}
	defer rows.Close()

	memberships := make([]Membership, 0)
	for rows.Next() {
		var m Membership
		var perms []byte
		if err := rows.Scan(
			&m.OrganizationID, &m.UserID, &m.AccessLevel, &m.Status,
			&m.CanInviteMembers, &m.CanManageRoles, &perms,
			&m.CreatedAt, &m.UpdatedAt,
			&m.Organization.ID, &m.Organization.Name, &m.Organization.Description,
			&m.Organization.LogoURL, &m.Organization.CreatedAt, &m.Organization.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		if err := unmarshalPermissions(perms, &m.Permissions); err != nil {
			return nil, err
		}
		memberships = append(memberships, m)
	}
	return memberships, rows.Err()
}

// Membership returns one membership row
func (r *SimpleMembershipRegistry) Membership(ctx context.Context, userID, orgID string) (*Membership, error) {
	var m Membership
	var perms []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT organization_id, user_id, access_level, status,
		       can_invite_members, can_manage_roles, permissions, created_at, updated_at
		FROM organization_members
		WHERE user_id = $1 AND organization_id = $2
	`, userID, orgID).Scan(
		&m.OrganizationID, &m.UserID, &m.AccessLevel, &m.Status,
		&m.CanInviteMembers, &m.CanManageRoles, &perms, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	if err := unmarshalPermissions(perms, &m.Permissions); err != nil {
		return nil, err
	}
	return &m, nil
}

// Add inserts a membership row. The unique constraint on
// (organization_id, user_id) guarantees at-most-one membership per pair even
// under concurrent inserts; a violation surfaces as ErrAlreadyMember.
func (r *SimpleMembershipRegistry) Add(ctx context.Context, m Membership) error {
	if m.Status == "" {
		m.Status = MembershipActive
	}
	now := time.Now()
	perms, err := json.Marshal(m.Permissions)
	if err != nil {
		return fmt.Errorf("failed to encode permissions: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO organization_members
			(organization_id, user_id, access_level, status, can_invite_members, can_manage_roles, permissions, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, m.OrganizationID, m.UserID, m.AccessLevel, m.Status, m.CanInviteMembers, m.CanManageRoles, perms, now, now)

	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrAlreadyMember
		}
		return fmt.Errorf("failed to add membership: %w", err)
	}
	return nil
}

// UpdateAccess changes level, flags, and the derived permissions map together
// so the stored map never diverges from the level.
func (r *SimpleMembershipRegistry) UpdateAccess(ctx context.Context, orgID, userID string, level AccessLevel, canInvite, canManage bool) error {
	perms, err := json.Marshal(PermissionsForLevel(level))
	if err != nil {
		return fmt.Errorf("failed to encode permissions: %w", err)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE organization_members
		SET access_level = $1, can_invite_members = $2, can_manage_roles = $3, permissions = $4, updated_at = $5
		WHERE organization_id = $6 AND user_id = $7
	`, level, canInvite, canManage, perms, time.Now(), orgID, userID)
	if err != nil {
		return fmt.Errorf("failed to update membership: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Remove deletes a membership row
func (r *SimpleMembershipRegistry) Remove(ctx context.Context, orgID, userID string) error {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM organization_members
		WHERE organization_id = $1 AND user_id = $2
	`, orgID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove membership: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// OrgMembers returns all members of an organization with profile details,
// highest access level first.
func (r *SimpleMembershipRegistry) OrgMembers(ctx context.Context, orgID string) ([]Membership, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT m.organization_id, m.user_id, m.access_level, m.status,
		       m.can_invite_members, m.can_manage_roles, m.permissions,
		       m.created_at, m.updated_at,
		       COALESCE(p.name, ''), COALESCE(p.email, '')
		FROM organization_members m
		LEFT JOIN profiles p ON p.id = m.user_id
		WHERE m.organization_id = $1
		ORDER BY m.access_level DESC, m.created_at
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to get members: %w", err)
	}
	defer rows.Close()

	members := make([]Membership, 0)
	for rows.Next() {
		var m Membership
		var perms []byte
		if err := rows.Scan(
			&m.OrganizationID, &m.UserID, &m.AccessLevel, &m.Status,
			&m.CanInviteMembers, &m.CanManageRoles, &perms,
			&m.CreatedAt, &m.UpdatedAt, &m.Name, &m.Email,
		); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		if err := unmarshalPermissions(perms, &m.Permissions); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// CountAdmins returns the number of active level-3 memberships in an org
func (r *SimpleMembershipRegistry) CountAdmins(ctx context.Context, orgID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM organization_members
		WHERE organization_id = $1 AND status = 'active' AND access_level = 3
	`, orgID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count admins: %w", err)
	}
	return n, nil
}

func unmarshalPermissions(raw []byte, p *Permissions) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, p); err != nil {
		return fmt.Errorf("failed to decode permissions: %w", err)
	}
	return nil
}

// ============================================================================
// SimpleRoleChecker - has_role() backed global role checks
// ============================================================================

// SimpleRoleChecker implements RoleChecker through the has_role procedure.
type SimpleRoleChecker struct {
	db *sql.DB
}

// NewSimpleRoleChecker creates a new SimpleRoleChecker
func NewSimpleRoleChecker(db *sql.DB) *SimpleRoleChecker {
	return &SimpleRoleChecker{db: db}
}

var _ RoleChecker = (*SimpleRoleChecker)(nil)

// IsGlobalAdmin reports whether the user holds the system-wide admin role.
func (c *SimpleRoleChecker) IsGlobalAdmin(ctx context.Context, userID string) (bool, error) {
	var ok bool
	err := c.db.QueryRowContext(ctx, `SELECT has_role($1, 'admin')`, userID).Scan(&ok)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("failed to check admin role: %w", err)
	}
	return ok, nil
}

// AssignAdminRole grants the system-wide admin role via the assign_admin_role
// procedure.
func (c *SimpleRoleChecker) AssignAdminRole(ctx context.Context, userID string) error {
	if _, err := c.db.ExecContext(ctx, `SELECT assign_admin_role($1)`, userID); err != nil {
		return fmt.Errorf("failed to assign admin role: %w", err)
	}
	return nil
}

// ============================================================================
// SimpleOrgRepository - SQL implementation of OrgRepository
// ============================================================================

// SimpleOrgRepository implements OrgRepository using SQL
type SimpleOrgRepository struct {
	db *sql.DB
}

// NewSimpleOrgRepository creates a new SimpleOrgRepository
func NewSimpleOrgRepository(db *sql.DB) *SimpleOrgRepository {
	return &SimpleOrgRepository{db: db}
}

var _ OrgRepository = (*SimpleOrgRepository)(nil)

// Create creates a new organization
func (r *SimpleOrgRepository) Create(ctx context.Context, org *Organization) error {
	now := time.Now()
	org.CreatedAt = now
	org.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO organizations (id, name, description, logo_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, org.ID, org.Name, org.Description, org.LogoURL, org.CreatedAt, org.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create organization: %w", err)
	}
	return nil
}

// Get retrieves an organization by ID
func (r *SimpleOrgRepository) Get(ctx context.Context, id string) (*Organization, error) {
	var org Organization
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, COALESCE(description, ''), COALESCE(logo_url, ''), created_at, updated_at
		FROM organizations
		WHERE id = $1
	`, id).Scan(&org.ID, &org.Name, &org.Description, &org.LogoURL, &org.CreatedAt, &org.UpdatedAt)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return &org, nil
}

// Update updates an organization
func (r *SimpleOrgRepository) Update(ctx context.Context, org *Organization) error {
	org.UpdatedAt = time.Now()

	result, err := r.db.ExecContext(ctx, `
		UPDATE organizations
		SET name = $2, description = $3, logo_url = $4, updated_at = $5
		WHERE id = $1
	`, org.ID, org.Name, org.Description, org.LogoURL, org.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update organization: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete deletes an organization. Memberships and invitations cascade via
// foreign keys.
func (r *SimpleOrgRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM organizations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete organization: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Exists checks if an organization exists
func (r *SimpleOrgRepository) Exists(ctx context.Context, id string) bool {
	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM organizations WHERE id = $1)`, id).Scan(&exists); err != nil {
		log.Printf("Error checking organization existence: %v", err)
		return false
	}
	return exists
}

// ============================================================================
// SimpleInvitationRepository - SQL implementation of InvitationRepository
// ============================================================================

// SimpleInvitationRepository implements InvitationRepository using SQL
type SimpleInvitationRepository struct {
	db *sql.DB
}

// NewSimpleInvitationRepository creates a new SimpleInvitationRepository
func NewSimpleInvitationRepository(db *sql.DB) *SimpleInvitationRepository {
	return &SimpleInvitationRepository{db: db}
}

var _ InvitationRepository = (*SimpleInvitationRepository)(nil)

const invitationColumns = `id, organization_id, email, access_level, permissions, invitation_token,
	status, can_invite_members, can_manage_roles, COALESCE(invited_by, ''), created_at, expires_at`

// Create inserts a new invitation row
func (r *SimpleInvitationRepository) Create(ctx context.Context, inv *Invitation) error {
	inv.CreatedAt = time.Now()
	perms, err := json.Marshal(inv.Permissions)
	if err != nil {
		return fmt.Errorf("failed to encode permissions: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO member_invitations
			(id, organization_id, email, access_level, permissions, invitation_token,
			 status, can_invite_members, can_manage_roles, invited_by, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, inv.ID, inv.OrganizationID, inv.Email, inv.AccessLevel, perms, inv.Token,
		inv.Status, inv.CanInviteMembers, inv.CanManageRoles, inv.InvitedBy, inv.CreatedAt, inv.ExpiresAt)

	if err != nil {
		return fmt.Errorf("failed to create invitation: %w", err)
	}
	return nil
}

// Get retrieves an invitation by ID
func (r *SimpleInvitationRepository) Get(ctx context.Context, id string) (*Invitation, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+invitationColumns+`
		FROM member_invitations
		WHERE id = $1
	`, id)
	return scanInvitation(row)
}

// GetByToken retrieves an invitation by its token
func (r *SimpleInvitationRepository) GetByToken(ctx context.Context, token string) (*Invitation, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+invitationColumns+`
		FROM member_invitations
		WHERE invitation_token = $1
	`, token)
	return scanInvitation(row)
}

// ListByOrg returns all invitations for an organization, newest first.
func (r *SimpleInvitationRepository) ListByOrg(ctx context.Context, orgID string) ([]Invitation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+invitationColumns+`
		FROM member_invitations
		WHERE organization_id = $1
		ORDER BY created_at DESC
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	defer rows.Close()

	invitations := make([]Invitation, 0)
	for rows.Next() {
		inv, err := scanInvitationRow(rows)
		if err != nil {
			return nil, err
		}
		invitations = append(invitations, *inv)
	}
	return invitations, rows.Err()
}

// MarkRevoked sets status revoked. No rows-affected check: revoking an
// already revoked invitation is a no-op by design of the lifecycle.
func (r *SimpleInvitationRepository) MarkRevoked(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE member_invitations SET status = 'revoked'
		WHERE id = $1 AND status IN ('pending', 'revoked', 'expired')
	`, id)
	if err != nil {
		return fmt.Errorf("failed to revoke invitation: %w", err)
	}
	return nil
}

// MarkAccepted flips pending -> accepted. The status guard in the WHERE clause
// makes concurrent accepts of the same token lose cleanly.
func (r *SimpleInvitationRepository) MarkAccepted(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE member_invitations SET status = 'accepted'
		WHERE id = $1 AND status = 'pending'
	`, id)
	if err != nil {
		return fmt.Errorf("failed to accept invitation: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrInviteNotPending
	}
	return nil
}

// Renew resets the row to pending with a new expiry
func (r *SimpleInvitationRepository) Renew(ctx context.Context, id string, expiresAt time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE member_invitations SET status = 'pending', expires_at = $2
		WHERE id = $1
	`, id, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to renew invitation: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// NewToken asks the database for a fresh token. Tokens are generated
// server-side so clients never see the randomness source.
func (r *SimpleInvitationRepository) NewToken(ctx context.Context) (string, error) {
	var token string
	if err := r.db.QueryRowContext(ctx, `SELECT generate_invitation_token()`).Scan(&token); err != nil {
		return "", fmt.Errorf("failed to generate invitation token: %w", err)
	}
	return token, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanInvitation(row *sql.Row) (*Invitation, error) {
	inv, err := scanInvitationRow(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return inv, err
}

func scanInvitationRow(row rowScanner) (*Invitation, error) {
	var inv Invitation
	var perms []byte
	err := row.Scan(
		&inv.ID, &inv.OrganizationID, &inv.Email, &inv.AccessLevel, &perms, &inv.Token,
		&inv.Status, &inv.CanInviteMembers, &inv.CanManageRoles, &inv.InvitedBy,
		&inv.CreatedAt, &inv.ExpiresAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan invitation: %w", err)
	}
	if err := unmarshalPermissions(perms, &inv.Permissions); err != nil {
		return nil, err
	}
	return &inv, nil
}

// ============================================================================
// Factory function for convenience
// ============================================================================

// NewSimpleBackend creates all simple implementations at once.
// Returns: MembershipRegistry, RoleChecker, OrgRepository, InvitationRepository
func NewSimpleBackend(db *sql.DB) (MembershipRegistry, RoleChecker, OrgRepository, InvitationRepository) {
	return NewSimpleMembershipRegistry(db),
		NewSimpleRoleChecker(db),
		NewSimpleOrgRepository(db),
		NewSimpleInvitationRepository(db)
}
