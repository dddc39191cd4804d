// Package auth implements AuthMgr: user accounts with
// argon2id-hashed passwords, role-to-permission assignment, and
// bearer tokens issued as signed JWTs and tracked server-side as
// sessions so that logout and expiry both take effect immediately.
package auth
