// Package password hashes passwords with Argon2id, verifies legacy bcrypt
// hashes, and enforces the strength policy.
//
// Hashes are PHC strings:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// NeedsUpgrade reports bcrypt hashes and weaker Argon2id parameters so the
// caller can rehash after the next successful login.
package password
