// Package password implements password hashing and verification with Argon2id defaults.
//
// # Output format
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Argon2.Verify] also accepts bcrypt hashes ($2a$, $2b$, $2y$) carried over
// from older account tables. [Argon2.NeedsUpgrade] reports true for those and
// for argon2id hashes produced with weaker parameters, so the caller can
// re-hash on the next successful login.
//
// # Architecture boundaries
//
// This package owns hashing, verification and the byte-length policy.
// Deciding when to rehash or reject a request is up to the Engine.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords. Callers supply plaintext and receive hashes.
//   - Import any other marketauth package.
//   - Log plaintext passwords or hash parameters at runtime.
package password
