// Package identity is the execution substrate's caller attribution layer.
//
// It provides:
//   - KeyManager: creates/loads the RSA signing key on disk
//   - CallerTokenIssuer: issues and verifies RS256 caller tokens
//   - JWKSProvider: serves the signing key as a JWK set
//   - RequireCaller: Gin middleware attributing a request to a ledger identity
//   - RequireAdminSecret: Gin middleware guarding token minting with a bcrypt secret
package identity
