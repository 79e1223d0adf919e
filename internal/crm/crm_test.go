package crm

import (
	"context"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadscout/internal/model"
	"github.com/sells-group/leadscout/internal/resilience"
	"github.com/sells-group/leadscout/pkg/salesforce"
)

type fakeSFClient struct {
	accounts      []salesforce.Account
	queryErr      error
	soql          []string
	insertID      string
	insertErr     error
	inserted      map[string]any
	collRecords   []map[string]any
	collErr       error
	updatedID     string
	updatedFields map[string]any
}

func (f *fakeSFClient) Query(_ context.Context, soql string, out any) error {
	f.soql = append(f.soql, soql)
	if f.queryErr != nil {
		return f.queryErr
	}
	// Only return matches for website lookups so the name+phone fallback is
	// observable in tests.
	if strings.Contains(soql, "Website LIKE") {
		*(out.(*[]salesforce.Account)) = f.accounts
	}
	return nil
}

func (f *fakeSFClient) InsertOne(_ context.Context, _ string, record map[string]any) (string, error) {
	f.inserted = record
	return f.insertID, f.insertErr
}

func (f *fakeSFClient) InsertCollection(_ context.Context, _ string, records []map[string]any) ([]salesforce.CollectionResult, error) {
	f.collRecords = records
	if f.collErr != nil {
		return nil, f.collErr
	}
	results := make([]salesforce.CollectionResult, len(records))
	for i := range records {
		results[i] = salesforce.CollectionResult{ID: "003xx", Success: true}
	}
	return results, nil
}

func (f *fakeSFClient) UpdateOne(_ context.Context, _ string, id string, fields map[string]any) error {
	f.updatedID = id
	f.updatedFields = fields
	return nil
}

func ratedLead() *model.Lead {
	return &model.Lead{
		ID:          "lead-1",
		Name:        "Ace Plumbing",
		Category:    "plumber",
		Phone:       "(512) 555-0134",
		Domain:      "aceplumbing.example.com",
		City:        "Austin",
		State:       "TX",
		RatingLabel: "hot",
	}
}

func TestSyncLead_CreatesAccountAndContacts(t *testing.T) {
	client := &fakeSFClient{insertID: "001xx0001"}
	s := New(client)

	id, err := s.SyncLead(context.Background(), ratedLead(), []model.Contact{
		{Email: "info@aceplumbing.example.com", Source: "website"},
	})
	require.NoError(t, err)
	assert.Equal(t, "001xx0001", id)

	assert.Equal(t, "Ace Plumbing", client.inserted["Name"])
	assert.Equal(t, "plumber", client.inserted["Industry"])
	assert.Equal(t, "https://aceplumbing.example.com", client.inserted["Website"])
	assert.Contains(t, client.inserted["Description"], "hot")

	require.Len(t, client.collRecords, 1)
	assert.Equal(t, "001xx0001", client.collRecords[0]["AccountId"])
	assert.Equal(t, "Unknown", client.collRecords[0]["LastName"])
	assert.Equal(t, "website", client.collRecords[0]["LeadSource"])
}

func TestSyncLead_UpdatesExistingAccount(t *testing.T) {
	client := &fakeSFClient{
		accounts: []salesforce.Account{{ID: "001existing", Name: "Ace Plumbing"}},
	}
	s := New(client)

	id, err := s.SyncLead(context.Background(), ratedLead(), nil)
	require.NoError(t, err)
	assert.Equal(t, "001existing", id)
	assert.Equal(t, "001existing", client.updatedID)
	assert.Nil(t, client.inserted)
}

func TestSyncLead_NameAndPhoneFallback(t *testing.T) {
	client := &fakeSFClient{insertID: "001xx0002"}
	s := New(client)

	lead := ratedLead()
	lead.Domain = ""
	_, err := s.SyncLead(context.Background(), lead, nil)
	require.NoError(t, err)

	require.Len(t, client.soql, 1)
	assert.Contains(t, client.soql[0], "Name = 'Ace Plumbing'")
	assert.Contains(t, client.soql[0], "Phone = '(512) 555-0134'")
}

func TestSyncLead_QueryError_IsTransient(t *testing.T) {
	client := &fakeSFClient{queryErr: eris.New("timeout")}
	s := New(client)

	_, err := s.SyncLead(context.Background(), ratedLead(), nil)
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestSyncLead_NoName_IsPermanent(t *testing.T) {
	s := New(&fakeSFClient{})

	_, err := s.SyncLead(context.Background(), &model.Lead{ID: "lead-1"}, nil)
	require.Error(t, err)
	assert.True(t, resilience.IsPermanent(err))
}

func TestSyncLead_ContactFailureNotFatal(t *testing.T) {
	client := &fakeSFClient{insertID: "001xx0003", collErr: eris.New("bad contact")}
	s := New(client)

	id, err := s.SyncLead(context.Background(), ratedLead(), []model.Contact{{Email: "x@y.example.com"}})
	require.NoError(t, err)
	assert.Equal(t, "001xx0003", id)
}
