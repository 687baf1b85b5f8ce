// Package engine runs the publish lifecycle of posts: one-shot delayed
// publish jobs, a recovery sweeper that re-arms scheduled posts after a
// restart, and per-post engagement tracking loops.
//
// The engine keeps no durable state of its own. Posts live in the store;
// the in-memory job registry holds only cancel handles and is rebuilt from
// the store by the sweeper after every start.
package engine
