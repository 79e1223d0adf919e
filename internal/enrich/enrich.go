// Package enrich resolves lead domains and discovers contacts through the
// Jina reader and search APIs.
package enrich

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/leadscout/internal/model"
	"github.com/sells-group/leadscout/pkg/jina"
)

// DefaultBlocklist lists directory and social hosts that are never a lead's
// own domain.
var DefaultBlocklist = []string{
	"yelp.com",
	"facebook.com",
	"instagram.com",
	"linkedin.com",
	"twitter.com",
	"x.com",
	"youtube.com",
	"yellowpages.com",
	"bbb.org",
	"mapquest.com",
	"angi.com",
	"tripadvisor.com",
	"google.com",
	"wikipedia.org",
}

// Config tunes the enricher.
type Config struct {
	// Blocklist replaces DefaultBlocklist when non-empty.
	Blocklist []string `yaml:"blocklist" mapstructure:"blocklist"`

	// MaxContacts caps how many contacts a single lead collects.
	MaxContacts int `yaml:"max_contacts" mapstructure:"max_contacts"`
}

// Enricher finds a lead's web domain and scrapes contact addresses from it.
type Enricher struct {
	reader      jina.Client
	blocklist   []string
	maxContacts int
	log         *zap.Logger
}

// New creates an Enricher backed by the given Jina client.
func New(reader jina.Client, cfg Config) *Enricher {
	blocklist := cfg.Blocklist
	if len(blocklist) == 0 {
		blocklist = DefaultBlocklist
	}
	maxContacts := cfg.MaxContacts
	if maxContacts <= 0 {
		maxContacts = 10
	}
	return &Enricher{
		reader:      reader,
		blocklist:   blocklist,
		maxContacts: maxContacts,
		log:         zap.L().With(zap.String("component", "enrich")),
	}
}

// ResolveDomain returns the lead's own domain, preferring the website the
// crawl already captured and falling back to a web search. An empty result
// with a nil error means nothing suitable was found.
func (e *Enricher) ResolveDomain(ctx context.Context, lead *model.Lead) (string, error) {
	if d := e.usableDomain(lead.Website); d != "" {
		return d, nil
	}

	query := strings.TrimSpace(strings.Join([]string{lead.Name, lead.City, lead.State}, " "))
	resp, err := e.reader.Search(ctx, query)
	if err != nil {
		return "", err
	}

	for _, r := range resp.Data {
		if d := e.usableDomain(r.URL); d != "" {
			e.log.Debug("domain resolved via search",
				zap.String("lead_id", lead.ID),
				zap.String("domain", d))
			return d, nil
		}
	}
	return "", nil
}

// FindContacts reads the domain's home and contact pages and extracts email
// addresses. Pages beyond the first are best effort.
func (e *Enricher) FindContacts(ctx context.Context, domain string) ([]model.Contact, error) {
	home, err := e.reader.Read(ctx, "https://"+domain)
	if err != nil {
		return nil, err
	}
	content := home.Data.Content

	if contact, err := e.reader.Read(ctx, "https://"+domain+"/contact"); err == nil {
		content += "\n" + contact.Data.Content
	}

	emails := extractEmails(content, domain)
	if len(emails) > e.maxContacts {
		emails = emails[:e.maxContacts]
	}

	contacts := make([]model.Contact, 0, len(emails))
	for _, email := range emails {
		contacts = append(contacts, model.Contact{
			Email:  email,
			Source: "website",
		})
	}
	return contacts, nil
}

func (e *Enricher) usableDomain(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")
	if host == "" || e.blocked(host) {
		return ""
	}
	return host
}

func (e *Enricher) blocked(host string) bool {
	for _, b := range e.blocklist {
		b = strings.ToLower(b)
		if host == b || strings.HasSuffix(host, "."+b) {
			return true
		}
	}
	return false
}

var emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

// junkLocalParts are mailbox names that never identify a person or sales
// channel worth keeping.
var junkLocalParts = map[string]bool{
	"noreply":       true,
	"no-reply":      true,
	"donotreply":    true,
	"example":       true,
	"postmaster":    true,
	"mailer-daemon": true,
}

// extractEmails returns unique lowercased addresses found in content,
// preferring addresses on the lead's own domain first.
func extractEmails(content, domain string) []string {
	seen := make(map[string]bool)
	var own, other []string
	for _, m := range emailRe.FindAllString(content, -1) {
		email := strings.ToLower(m)
		if seen[email] {
			continue
		}
		seen[email] = true

		at := strings.LastIndex(email, "@")
		local, host := email[:at], email[at+1:]
		if junkLocalParts[local] {
			continue
		}
		// Markdown images often look like name@2x.png.
		if strings.HasSuffix(host, ".png") || strings.HasSuffix(host, ".jpg") || strings.HasSuffix(host, ".webp") {
			continue
		}

		if host == domain || strings.HasSuffix(host, "."+domain) {
			own = append(own, email)
		} else {
			other = append(other, email)
		}
	}
	return append(own, other...)
}
