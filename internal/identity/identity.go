// Package identity authenticates callers of the treasury API.
//
// It provides:
//   - TokenIssuer:   issues and verifies HS256 caller tokens
//   - Credentials:   bcrypt-hashed principal secrets exchanged for tokens
//   - RequireCaller: Gin middleware that resolves the calling principal
package identity
