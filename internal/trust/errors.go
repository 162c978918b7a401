package trust

import "errors"

var (
	// ErrMissingFile means the keyring archive or its signature does not exist.
	ErrMissingFile = errors.New("keyring file missing")
	// ErrMalformedKeyring means the archive lacks a descriptor, names an
	// unknown type, or carries no key material.
	ErrMalformedKeyring = errors.New("malformed keyring")
	// ErrKeyringExpired means the descriptor's expiry is in the past.
	ErrKeyringExpired = errors.New("keyring expired")
	// ErrKeyringAlreadyLoaded means a keyring of this type is already in the
	// store. Callers treat it as an idempotent no-op, not a run failure.
	ErrKeyringAlreadyLoaded = errors.New("keyring already loaded")
	// ErrKeyRevoked means the loaded blacklist keyring verified the
	// signature, so the signing key has been revoked.
	ErrKeyRevoked = errors.New("key revoked by blacklist")
	// ErrSignerNotLoaded means the hierarchy-required signer keyring has not
	// been installed yet.
	ErrSignerNotLoaded = errors.New("required signer keyring not loaded")
	// ErrInvalidSignature means the signature did not verify against the
	// required signer. Fatal on update payloads, non-fatal on keyring loads.
	ErrInvalidSignature = errors.New("invalid signature")
)
