// Package harvest drives a resumable crawl over a range of listing pages.
//
// Each page is fetched with retries, its items are resolved to names (from
// anchor text in fast mode, or by visiting every detail page in detail mode),
// and the run's accumulated set is checkpointed through the state store
// before the next page starts. A run seeded from existing state and
// re-invoked over the same range never loses names.
package harvest
