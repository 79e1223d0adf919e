// Package crm pushes finished leads into Salesforce as Accounts with their
// discovered Contacts.
package crm

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadscout/internal/model"
	"github.com/sells-group/leadscout/internal/resilience"
	"github.com/sells-group/leadscout/pkg/salesforce"
)

// Syncer writes leads to Salesforce. Matching is by website first, then by
// exact name and phone, so re-running a sync updates rather than duplicates.
type Syncer struct {
	client salesforce.Client
	log    *zap.Logger
}

// New creates a Syncer.
func New(client salesforce.Client) *Syncer {
	return &Syncer{
		client: client,
		log:    zap.L().With(zap.String("component", "crm")),
	}
}

// SyncLead upserts the lead's Account and appends its contacts. Returns the
// Salesforce Account ID. Contact insert failures are logged, not fatal: the
// Account is already durable in the CRM.
func (s *Syncer) SyncLead(ctx context.Context, lead *model.Lead, contacts []model.Contact) (string, error) {
	if lead.Name == "" {
		return "", resilience.NewPermanentError(eris.New("crm: lead has no name"))
	}

	existing, err := s.findExisting(ctx, lead)
	if err != nil {
		return "", resilience.NewTransientError(err, 0)
	}

	fields := accountFields(lead)

	var accountID string
	if existing != nil {
		accountID = existing.ID
		if err := salesforce.UpdateAccount(ctx, s.client, accountID, fields); err != nil {
			return "", resilience.NewTransientError(err, 0)
		}
		s.log.Debug("account updated",
			zap.String("lead_id", lead.ID),
			zap.String("account_id", accountID))
	} else {
		accountID, err = salesforce.CreateAccount(ctx, s.client, fields)
		if err != nil {
			return "", resilience.NewTransientError(err, 0)
		}
		s.log.Debug("account created",
			zap.String("lead_id", lead.ID),
			zap.String("account_id", accountID))
	}

	if len(contacts) > 0 {
		records := make([]map[string]any, 0, len(contacts))
		for _, c := range contacts {
			records = append(records, contactFields(c))
		}
		results, err := salesforce.CreateContacts(ctx, s.client, accountID, records)
		if err != nil {
			s.log.Warn("contact insert failed",
				zap.String("account_id", accountID),
				zap.Error(err))
		} else {
			for i, r := range results {
				if !r.Success {
					s.log.Warn("contact rejected",
						zap.String("account_id", accountID),
						zap.String("email", contacts[i].Email),
						zap.Strings("errors", r.Errors))
				}
			}
		}
	}

	return accountID, nil
}

func (s *Syncer) findExisting(ctx context.Context, lead *model.Lead) (*salesforce.Account, error) {
	if lead.Domain != "" {
		acct, err := salesforce.FindAccountByWebsite(ctx, s.client, lead.Domain)
		if err != nil || acct != nil {
			return acct, err
		}
	}
	if lead.Phone != "" {
		return salesforce.FindAccountByNameAndPhone(ctx, s.client, lead.Name, lead.Phone)
	}
	return nil, nil
}

func accountFields(lead *model.Lead) map[string]any {
	fields := map[string]any{
		"Name": lead.Name,
	}
	if lead.Phone != "" {
		fields["Phone"] = lead.Phone
	}
	if lead.Website != "" {
		fields["Website"] = lead.Website
	} else if lead.Domain != "" {
		fields["Website"] = "https://" + lead.Domain
	}
	if lead.Category != "" {
		fields["Industry"] = lead.Category
	}
	if lead.City != "" {
		fields["BillingCity"] = lead.City
	}
	if lead.State != "" {
		fields["BillingState"] = lead.State
	}
	if lead.RatingLabel != "" {
		fields["Description"] = ratingDescription(lead)
	}
	return fields
}

// ratingDescription folds the rating outcome into the Account description so
// reps see the assessment without a custom field.
func ratingDescription(lead *model.Lead) string {
	var sb strings.Builder
	sb.WriteString("Lead rating: " + lead.RatingLabel)
	if lead.RatingSuggestion != "" {
		sb.WriteString("\nSuggestion: " + lead.RatingSuggestion)
	}
	if lead.RatingReasoning != "" {
		sb.WriteString("\nReasoning: " + lead.RatingReasoning)
	}
	return sb.String()
}

func contactFields(c model.Contact) map[string]any {
	fields := map[string]any{}
	if c.Email != "" {
		fields["Email"] = c.Email
	}
	if c.FirstName != "" {
		fields["FirstName"] = c.FirstName
	}
	// Salesforce requires LastName on Contact.
	lastName := c.LastName
	if lastName == "" {
		lastName = "Unknown"
	}
	fields["LastName"] = lastName
	if c.Position != "" {
		fields["Title"] = c.Position
	}
	if c.Source != "" {
		fields["LeadSource"] = c.Source
	}
	return fields
}
