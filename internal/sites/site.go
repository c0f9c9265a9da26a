package sites

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// SiteNotFoundError represents an error when a site is not found
type SiteNotFoundError struct {
	Domain string
}

func (e *SiteNotFoundError) Error() string {
	return fmt.Sprintf("site not found for domain: %s", e.Domain)
}

// NewSiteNotFoundError creates a new SiteNotFoundError
func NewSiteNotFoundError(domain string) *SiteNotFoundError {
	return &SiteNotFoundError{Domain: domain}
}

// Site represents a tracked website
type Site struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Domain    string    `gorm:"unique;not null" json:"domain"` // Base domain, e.g. "example.com"
	Timezone  string    `gorm:"default:'UTC'" json:"timezone"`
	Currency  string    `gorm:"default:'USD'" json:"currency"`
	CreatedAt time.Time `json:"created_at"`
}

// GetSiteByDomain retrieves a Site entry by exact domain match.
func GetSiteByDomain(tx *gorm.DB, domain string) (*Site, error) {
	var site Site
	if err := tx.Where("domain = ?", domain).First(&site).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewSiteNotFoundError(domain)
		}
		return nil, fmt.Errorf("unexpected error querying site: %w", err)
	}
	return &site, nil
}

// GetSiteOrNotFound retrieves a Site ID for a hostname, falling back to the
// base domain so subdomains resolve to their registered site.
func GetSiteOrNotFound(tx *gorm.DB, host string) (uint, error) {
	site, err := GetSiteByDomain(tx, host)
	if err == nil {
		return site.ID, nil
	}

	var notFound *SiteNotFoundError
	if !errors.As(err, &notFound) {
		return 0, err
	}

	base := BaseDomainForHost(host)
	if base == host {
		return 0, err
	}

	site, baseErr := GetSiteByDomain(tx, base)
	if baseErr != nil {
		return 0, NewSiteNotFoundError(host)
	}
	return site.ID, nil
}

// GetSiteByID retrieves a site by its primary key.
func GetSiteByID(tx *gorm.DB, id uint) (*Site, error) {
	var site Site
	if err := tx.First(&site, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewSiteNotFoundError(fmt.Sprintf("id=%d", id))
		}
		return nil, fmt.Errorf("unexpected error querying site: %w", err)
	}
	return &site, nil
}

// CreateSite persists a new site
func CreateSite(tx *gorm.DB, site *Site) error {
	site.Domain = strings.ToLower(strings.TrimSpace(site.Domain))
	if site.Domain == "" {
		return fmt.Errorf("site domain is required")
	}
	if site.CreatedAt.IsZero() {
		site.CreatedAt = time.Now().UTC()
	}
	return tx.Create(site).Error
}

// BaseDomainForHost strips a single subdomain level, e.g. "blog.example.com"
// becomes "example.com". Two-label hosts are returned as-is; this is not a
// full public-suffix lookup.
func BaseDomainForHost(host string) string {
	parts := strings.Split(host, ".")
	if len(parts) <= 2 {
		return host
	}
	return strings.Join(parts[len(parts)-2:], ".")
}

// IsSelfReferral reports whether the referrer hostname belongs to the site's
// own domain (same host or a subdomain of it).
func IsSelfReferral(referrerHost, siteDomain string) bool {
	if referrerHost == "" || siteDomain == "" {
		return false
	}
	referrerHost = strings.ToLower(referrerHost)
	siteDomain = strings.ToLower(siteDomain)
	return referrerHost == siteDomain || strings.HasSuffix(referrerHost, "."+siteDomain)
}
