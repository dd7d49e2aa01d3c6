// Package clock provides the tie-break key that totally orders operations:
// a hybrid logical timestamp paired with the originating node identifier.
//
// Every replica owns one HLC. Local operations are stamped with Now, and
// every remote operation is folded in with Observe before it is applied, so
// a later local edit always dominates anything the replica has already seen.
package clock
