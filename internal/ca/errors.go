package ca

import "errors"

// ErrCryptoFailure is returned when the CA cannot be loaded from disk AND a
// fresh CA cannot be generated/persisted either. Fatal at startup per
// spec.md §7 (CryptoError).
var ErrCryptoFailure = errors.New("ca: failed to load or generate root certificate authority")
