package salesforce

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
)

// UpdateAccount updates an Account record with the given fields.
func UpdateAccount(ctx context.Context, c Client, accountID string, fields map[string]any) error {
	if accountID == "" {
		return eris.New("sf: account id is required")
	}
	if len(fields) == 0 {
		return eris.New("sf: no fields to update")
	}
	if err := c.UpdateOne(ctx, "Account", accountID, fields); err != nil {
		return eris.Wrap(err, fmt.Sprintf("sf: update account %s", accountID))
	}
	return nil
}

// CreateAccount creates a new Account record and returns the new Salesforce ID.
func CreateAccount(ctx context.Context, c Client, fields map[string]any) (string, error) {
	if fields["Name"] == nil || fields["Name"] == "" {
		return "", eris.New("sf: account Name is required")
	}
	id, err := c.InsertOne(ctx, "Account", fields)
	if err != nil {
		return "", eris.Wrap(err, "sf: create account")
	}
	return id, nil
}

// CreateContacts inserts Contact records linked to the given Account in one
// collection call and returns the per-record results.
func CreateContacts(ctx context.Context, c Client, accountID string, contacts []map[string]any) ([]CollectionResult, error) {
	if accountID == "" {
		return nil, eris.New("sf: account id is required for contacts")
	}
	if len(contacts) == 0 {
		return nil, nil
	}
	records := make([]map[string]any, len(contacts))
	for i, fields := range contacts {
		m := make(map[string]any, len(fields)+1)
		for k, v := range fields {
			m[k] = v
		}
		m["AccountId"] = accountID
		records[i] = m
	}
	results, err := c.InsertCollection(ctx, "Contact", records)
	if err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("sf: create contacts for account %s", accountID))
	}
	return results, nil
}
