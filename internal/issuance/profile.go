package issuance

import (
	"github.com/tusharbhayani/paradym-wallet/internal/domain"
	"github.com/tusharbhayani/paradym-wallet/pkg/config"
)

// Profile describes one supported issuance variant: which offer to resolve,
// how the wallet identifies itself to the authorization server, and which
// credential formats it will accept from the issuer. Flows are composed
// around a profile rather than subclassed per variant.
type Profile struct {
	// Name identifies the profile ("pid-c" for the authorization-code
	// PID flow).
	Name string

	// OfferURI is the credential offer this profile resolves.
	OfferURI string

	// ClientID and RedirectURI are presented during the OAuth exchange.
	ClientID    string
	RedirectURI string

	// AcceptedFormats restricts what the issuer may deliver. A credential
	// in any other format fails the flow.
	AcceptedFormats []domain.CredentialFormat

	// CredentialConfigurationIDs overrides the offer's configuration ids
	// when non-empty.
	CredentialConfigurationIDs []string

	// TrustedSchemes restricts the issuer URL schemes credentials may be
	// retrieved from.
	TrustedSchemes []string
}

// Accepts reports whether the profile admits the given credential format
func (p Profile) Accepts(format domain.CredentialFormat) bool {
	for _, f := range p.AcceptedFormats {
		if f == format {
			return true
		}
	}
	return false
}

// ProfileFromConfig builds the configured issuance profile. Formats default
// to the two PID representations when the config names none.
func ProfileFromConfig(cfg config.IssuanceConfig) Profile {
	return Profile{
		Name:            cfg.ProfileName,
		OfferURI:        cfg.OfferURI,
		ClientID:        cfg.ClientID,
		RedirectURI:     cfg.RedirectURI,
		AcceptedFormats: []domain.CredentialFormat{domain.FormatSDJWTVC, domain.FormatMSOMdoc},
		TrustedSchemes:  cfg.TrustedSchemes,
	}
}
