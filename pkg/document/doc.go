// Package document implements Authly's document compiler (spec §4.5): a
// strictly two-phase compiler over a YAML-tabular source format that seeds
// an explicit namespace table, resolves every label reference against it,
// and emits a storage.DirectorySnapshot plus the policy bytecode cache for
// every declared policy.
//
// Compilation is all-or-nothing: any DocError collected during either
// phase means Compile returns no snapshot at all, matching the teacher's
// apply-or-reject posture for a single YAML resource.
package document
