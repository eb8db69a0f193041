// Package seal encrypts small secrets (persisted tokens) at rest.
//
// A passphrase is stretched with Argon2id and the derived key seals the
// plaintext with NaCl secretbox (XSalsa20-Poly1305). The encoded form carries
// the KDF parameters and salt, so a sealed blob can be opened with nothing but
// the passphrase:
//
//	$seal$v=1$m=<mem>,t=<iter>,p=<par>$<salt_b64>$<nonce+box_b64>
package seal
