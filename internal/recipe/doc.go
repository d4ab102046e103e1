// Package recipe installs a formula's payload from a verified source archive.
//
// An install runs in fixed order:
//
//  1. The archive checksum (and signature, when the formula declares one)
//     is checked. Nothing is written before this passes.
//  2. Every declared member is looked up in the archive.
//  3. Bin members are copied into the bin directory, then lib members into
//     the lib directory, one at a time in declaration order.
//  4. A receipt of the installed files is saved. Files recorded by a
//     previous install that are no longer part of the payload are removed.
//  5. The formula's smoke test runs from the bin directory.
//
// Failures are reported as *IntegrityError, *FilesystemError or
// *VerificationError. The bin and lib directories belong to the caller and
// must exist before Install is called.
package recipe
