package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/vault-ai/control-plane/internal/domain"
)

func (s *Store) CreateLdapGroupMapping(ctx context.Context, m domain.LdapGroupMapping) (domain.LdapGroupMapping, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ldap_group_mappings (id, directory_group_identifier, role, priority)
		VALUES ($1,$2,$3,$4)
	`, m.ID, m.DirectoryGroupIdentifier, m.Role, m.Priority)
	if err != nil {
		return domain.LdapGroupMapping{}, err
	}
	return m, nil
}

func (s *Store) UpdateLdapGroupMapping(ctx context.Context, m domain.LdapGroupMapping) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE ldap_group_mappings SET directory_group_identifier = $2, role = $3, priority = $4 WHERE id = $1
	`, m.ID, m.DirectoryGroupIdentifier, m.Role, m.Priority)
	if err != nil {
		return err
	}
	return rowsAffectedOrNotFound(result)
}

func (s *Store) DeleteLdapGroupMapping(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM ldap_group_mappings WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return rowsAffectedOrNotFound(result)
}

// ListLdapGroupMappings returns every mapping, ordered by descending
// priority, feeding domain.ResolveRole directly.
func (s *Store) ListLdapGroupMappings(ctx context.Context) ([]domain.LdapGroupMapping, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, directory_group_identifier, role, priority
		FROM ldap_group_mappings ORDER BY priority DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.LdapGroupMapping
	for rows.Next() {
		var m domain.LdapGroupMapping
		if err := rows.Scan(&m.ID, &m.DirectoryGroupIdentifier, &m.Role, &m.Priority); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
