// Package password verifies stored credential hashes.
//
// New hashes are argon2id PHC strings. Verification also accepts bcrypt
// hashes so accounts imported from older systems keep working; NeedsRehash
// flags them for replacement after the next successful login.
//
// This package never stores or logs passwords.
package password
