// Package artifact defines the disk-backed store that holds compiled bundle
// outputs under <OutDir>/<name>. Writes go through a temp file + rename so a
// running server never observes a half-written asset, and reads surface file
// info (size, modtime) so responders can stream outputs with correct headers.
// The bundler writes through this package and production asset responders read
// from it.
package artifact
