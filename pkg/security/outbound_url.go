package security

import (
	"net/netip"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrInvalidURL       = errors.New("invalid backend URL")
	ErrSchemeNotAllowed = errors.New("URL scheme is not allowed")
	ErrLocalNetwork     = errors.New("local network targets are not allowed")
)

// OutboundURLOptions configures backend URL validation.
type OutboundURLOptions struct {
	// AllowHTTP permits plain HTTP URLs. HTTPS is always allowed.
	AllowHTTP bool
	// AllowLocalNetworks permits loopback/private/link-local IP targets and localhost hostnames.
	AllowLocalNetworks bool
}

// ValidateOutboundURL checks that a URL is safe to send dialogs and
// credentials to. It rejects unsafe schemes and local-network targets unless
// explicitly allowed. IP literals are checked without DNS lookups.
func ValidateOutboundURL(rawURL string, opts OutboundURLOptions) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.Wrap(ErrInvalidURL, err.Error())
	}

	switch parsed.Scheme {
	case "https":
	case "http":
		if !opts.AllowHTTP {
			return errors.Wrap(ErrSchemeNotAllowed, "http")
		}
	default:
		return errors.Wrapf(ErrSchemeNotAllowed, "%q", parsed.Scheme)
	}

	if parsed.User != nil {
		return errors.Wrap(ErrInvalidURL, "URL must not carry user info")
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return errors.Wrap(ErrInvalidURL, "URL host is required")
	}

	if !opts.AllowLocalNetworks {
		if host == "localhost" || strings.HasSuffix(host, ".localhost") || strings.HasSuffix(host, ".local") {
			return errors.Wrapf(ErrLocalNetwork, "hostname %q", host)
		}
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if addr.Zone() != "" && !opts.AllowLocalNetworks {
			return errors.Wrapf(ErrLocalNetwork, "zoned IP address %q", host)
		}
		addr = addr.Unmap()

		if addr.IsUnspecified() || addr.IsMulticast() {
			return errors.Wrapf(ErrInvalidURL, "disallowed IP address %q", host)
		}

		if !opts.AllowLocalNetworks {
			if addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast() {
				return errors.Wrapf(ErrLocalNetwork, "IP %q", host)
			}
		}
	}

	return nil
}

// NormalizeBaseURL validates rawURL and returns it without query, fragment
// and trailing slash, ready to have endpoint paths appended.
func NormalizeBaseURL(rawURL string, opts OutboundURLOptions) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if err := ValidateOutboundURL(rawURL, opts); err != nil {
		return "", err
	}
	parsed, _ := url.Parse(rawURL)
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return strings.TrimRight(parsed.String(), "/"), nil
}
