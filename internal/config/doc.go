// Package config loads the campaign configuration document.
//
// A configuration is a YAML mapping from block name to block. Entry blocks
// (class production, campaign, step, group, workflow) say how an entry of
// that level names its collections, which scripts it runs and which children
// it spawns. Script and job blocks (class script, job) say how one executable
// unit is built, run, checked and rolled back.
//
// Parse checks a document in three passes: the embedded CUE schema, strict
// YAML decoding into Go types, then cross-block references.
package config
