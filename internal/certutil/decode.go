// Package certutil implements the certificate decoder: turning a raw PEM
// blob into zero or more canonical certificate tuples.
package certutil

import (
	"crypto/sha1" //nolint:gosec // identity hash, not a trust primitive.
	"crypto/x509"
	"encoding/pem"
	"time"
)

// Fingerprint is the SHA-1 digest of a leaf or intermediate certificate's
// DER bytes. It is deliberately SHA-1: an identity key for deduplication
// across sources, not a trust decision, and fixed so fingerprints computed
// by different backends remain comparable. Do not widen this to SHA-256
// without a data-format migration plan — fingerprints are exposed over the
// HTTP API as each cache item's hex fingerprint and its fingerprint filter.
type Fingerprint [sha1.Size]byte

// Cert is one decoded certificate tuple.
type Cert struct {
	Fingerprint Fingerprint
	Subject     string
	NotAfter    time.Time
}

// Decode parses a PEM blob that may contain multiple blocks. It returns one
// Cert per CERTIFICATE block that parses successfully; the first block is
// the "leaf", but every block in the blob is emitted — intermediates
// shipped alongside a leaf can themselves expire and are tracked as
// independent records. Blocks of any other PEM type (private keys, CSRs)
// are silently skipped. A block that claims to be a certificate but fails
// to parse is counted in skipped and otherwise ignored; it does not abort
// the rest of the blob.
func Decode(blob []byte) (certs []Cert, skipped int) {
	rest := blob
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return certs, skipped
		}
		if block.Type != "CERTIFICATE" {
			continue
		}

		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			skipped++
			continue
		}

		certs = append(certs, Cert{
			Fingerprint: sha1.Sum(block.Bytes), //nolint:gosec
			Subject:     subjectOf(cert),
			NotAfter:    cert.NotAfter.UTC(),
		})
	}
}

// subjectOf returns the printable form of a certificate's subject DN, or
// falls back to its first SAN, or finally a fixed placeholder.
func subjectOf(cert *x509.Certificate) string {
	if s := cert.Subject.String(); s != "" {
		return s
	}
	if len(cert.DNSNames) > 0 {
		return cert.DNSNames[0]
	}
	if len(cert.IPAddresses) > 0 {
		return cert.IPAddresses[0].String()
	}
	if len(cert.EmailAddresses) > 0 {
		return cert.EmailAddresses[0]
	}
	return "<no subject>"
}
