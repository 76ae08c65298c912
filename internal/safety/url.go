package safety

import (
	"net"
	"net/netip"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// metadataEndpoints are well-known cloud metadata hosts that must never be
// reachable from agent-initiated HTTP requests.
var metadataEndpoints = []string{
	"169.254.169.254",
	"metadata.google.internal",
	"[fd00:ec2::254]",
	"fd00:ec2::254",
	"100.100.100.200",
}

var linkLocalPrefix = "169.254."

// hexIPRe / decimalIPRe / octalIPRe detect encoded-IP bypasses for the
// 169.254.169.254 metadata address specifically (the common SSRF payload),
// e.g. "http://0xa9fea9fe/" or "http://2852039166/" or octal-dotted forms.
var (
	hexIPRe     = regexp.MustCompile(`(?i)0x[a-f0-9]{6,8}`)
	decimalIPRe = regexp.MustCompile(`\b(\d{8,10})\b`)
)

// ValidateURL implements the URL/SSRF family: reject plaintext and encoded
// references to metadata endpoints first (cheap string checks), then parse
// and resolve the hostname, rejecting private/loopback/link-local targets.
// On success it returns the pinned IP the caller's HTTP client should dial
// directly, closing the DNS-rebinding TOCTOU gap.
func (v *Validator) ValidateURL(raw string) (netip.Addr, error) {
	lower := strings.ToLower(raw)

	for _, host := range metadataEndpoints {
		if strings.Contains(lower, strings.ToLower(host)) {
			return netip.Addr{}, NewError(KindBlockedPath, "URL references a cloud metadata endpoint (%s)", host)
		}
	}
	if strings.Contains(lower, linkLocalPrefix) {
		return netip.Addr{}, NewError(KindBlockedPath, "URL contains the link-local address prefix %s", linkLocalPrefix)
	}
	if decodesToMetadataIP(lower) {
		return netip.Addr{}, NewError(KindBlockedPath, "URL contains an encoded reference to a metadata endpoint")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return netip.Addr{}, NewError(KindBlockedPath, "URL could not be parsed: %v", err)
	}
	host := u.Hostname()
	if host == "" {
		return netip.Addr{}, NewError(KindBlockedPath, "URL has no host")
	}

	if ip, err := netip.ParseAddr(strings.Trim(host, "[]")); err == nil {
		if err := rejectUnsafeAddr(ip); err != nil {
			return netip.Addr{}, err
		}
		return ip, nil
	}

	ips, err := net.LookupHost(host)
	if err != nil {
		return netip.Addr{}, NewError(KindBlockedPath, "could not resolve host %q: %v", host, err)
	}
	for _, s := range ips {
		ip, err := netip.ParseAddr(s)
		if err != nil {
			continue
		}
		if err := rejectUnsafeAddr(ip); err != nil {
			return netip.Addr{}, err
		}
	}
	first, err := netip.ParseAddr(ips[0])
	if err != nil {
		return netip.Addr{}, NewError(KindBlockedPath, "resolved address %q is invalid", ips[0])
	}
	return first, nil
}

func rejectUnsafeAddr(ip netip.Addr) error {
	if ip.IsLoopback() {
		return NewError(KindBlockedPath, "resolved address %s is loopback", ip)
	}
	if ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return NewError(KindBlockedPath, "resolved address %s is link-local", ip)
	}
	if ip.Is4() && isPrivateRFC1918(ip) {
		return NewError(KindBlockedPath, "resolved address %s is within RFC1918 private space", ip)
	}
	if ip.Is6() && ip.IsPrivate() {
		return NewError(KindBlockedPath, "resolved address %s is within IPv6 unique-local space", ip)
	}
	return nil
}

func isPrivateRFC1918(ip netip.Addr) bool {
	for _, cidr := range []string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"} {
		prefix := netip.MustParsePrefix(cidr)
		if prefix.Contains(ip) {
			return true
		}
	}
	return false
}

// decodesToMetadataIP checks hex/decimal encodings of 169.254.169.254
// (0xA9FEA9FE == 2852039166) embedded anywhere in the URL string.
func decodesToMetadataIP(s string) bool {
	const metadataHex = "a9fea9fe"
	const metadataDecimal = "2852039166"

	for _, m := range hexIPRe.FindAllString(s, -1) {
		if strings.Contains(strings.ToLower(strings.TrimPrefix(m, "0x")), metadataHex) {
			return true
		}
	}
	for _, m := range decimalIPRe.FindAllString(s, -1) {
		if m == metadataDecimal {
			return true
		}
		if n, err := strconv.ParseUint(m, 10, 64); err == nil && n == 2852039166 {
			return true
		}
	}
	return false
}

// ValidateBrowserEval implements the browser-eval family: reject code that
// combines a network primitive with access to cookies/localStorage, the
// classic exfiltration pattern for an in-page script.
func (v *Validator) ValidateBrowserEval(code string) error {
	hasNetwork := strings.Contains(code, "fetch(") || strings.Contains(code, "XMLHttpRequest")
	hasStorage := strings.Contains(code, "document.cookie") || strings.Contains(code, "localStorage")
	if hasNetwork && hasStorage {
		return NewError(KindBlockedCommand, "script combines network access with cookie/localStorage access")
	}
	return nil
}
