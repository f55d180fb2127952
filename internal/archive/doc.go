// Package archive relocates aged entries from the primary collection to
// the archive collection.
//
// Relocation copies each entry into the archive with an upsert by id and
// then deletes it from the primary. The two steps are not atomic, but a
// pass interrupted between them converges when rerun: the upsert replaces
// the archived copy and the delete completes. Signed bytes are never
// altered, so archived entries keep verifying.
package archive
