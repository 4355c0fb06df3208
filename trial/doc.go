// Package trial provides reference core.Trial implementations. The
// free-electron single determinant fills the lowest eigenvectors of the
// system's one-body matrix per spin sector and precomputes its own Green's
// function, which doubles as the mean-field reference for the propagator's
// force-bias shift.
package trial
