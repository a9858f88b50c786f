// Package router picks which inference model serves a request. Selection
// works over a static table of model performance profiles plus a
// precomputed best-model-per-task table from offline benchmarking; the live
// part is only the list of currently available model names supplied per
// call. A lightweight keyword classifier maps free text onto task types.
//
// Selection is deterministic: identical inputs always produce the same
// model.
package router
