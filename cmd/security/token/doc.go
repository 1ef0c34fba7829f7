// Package token provides the opaque token primitives used by gridlink.
//
// It is the single source of truth for:
//   - session token generation (32 random bytes, base64url, no padding)
//   - token fingerprints used in logs and audit rows (never the raw token)
//
// Environment:
//   - GRIDLINK_TOKEN_HMAC_KEY: when set, fingerprints use HMAC-SHA256 with this key.
//
// Policy:
//   - If RequireTokenHMAC=true, callers MUST enforce a minimum key size (>= 32 bytes)
//     and MUST use HMAC (no SHA fallback).
package token
