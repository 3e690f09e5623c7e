// Package auth issues and validates the bearer tokens that guard the
// fpcore HTTP API.
//
// Tokens are HS256 JWTs signed with security.jwt.secret. Two roles exist:
// operators drive readers and enrollment, admins additionally manage
// subjects. Role permissions are a static table.
package auth
