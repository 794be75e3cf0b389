// Package discovery turns command-line paths and list files into the stream of
// input files a run processes, and maps each input to its place in the output
// tree.
//
// Directories are walked recursively. Every file is yielded once, keyed by
// absolute path. When symlinks are followed, each real directory is walked at
// most once so link cycles terminate.
package discovery
