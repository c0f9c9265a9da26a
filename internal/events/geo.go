package events

import (
	"net"

	"github.com/pariz/gountries"

	"sitepulse/internal/pkg/geoip"
)

const unknownCountry = "Unknown"

var countryQuery = gountries.New()

// GetCountryFromIP resolves an IP address to a country name. Lookup is
// best-effort: a missing GeoIP database, a private address, or an unknown
// ISO code all resolve to "Unknown".
func GetCountryFromIP(ipAddress string) string {
	db := geoip.GetGeoDB()
	if db == nil {
		return unknownCountry
	}

	ip := net.ParseIP(ipAddress)
	if ip == nil {
		return unknownCountry
	}

	record, err := db.Country(ip)
	if err != nil || record.Country.IsoCode == "" {
		return unknownCountry
	}

	country, err := countryQuery.FindCountryByAlpha(record.Country.IsoCode)
	if err != nil {
		return unknownCountry
	}
	return country.Name.Common
}
